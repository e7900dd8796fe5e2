// Package sampler holds the two periodic duties: the minutely sampler is
// woken once per wall-clock minute and records which opers are on duty;
// the reconciliator runs once after oper-up and records k-lines the
// server no longer holds but the store still thinks are active.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.sr.ht/~kline/solaudit/internal/store"
	"git.sr.ht/~kline/solaudit/irc"
)

// IRCSession is the subset of *irc.Conn the sampler and reconciliator need,
// narrowed to an interface so tests can stub the server round trips without
// a live connection. *irc.Conn satisfies this directly.
type IRCSession interface {
	StatsP(ctx context.Context) ([]irc.OperLine, error)
	Whois(ctx context.Context, nick string) (account string, ok bool, err error)
	StatsKG(ctx context.Context) (masks map[string]struct{}, privOK bool, err error)
	SessionRLock()
	SessionRUnlock()
}

// Sampler drives the minutely on-duty tick.
type Sampler struct {
	irc   IRCSession
	store *store.Store
	log   *slog.Logger

	// now is overridable in tests; New sets it to time.Now.
	now func() time.Time
}

// New builds a Sampler.
func New(irc IRCSession, st *store.Store, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{irc: irc, store: st, log: log, now: time.Now}
}

// Run blocks, firing Tick once per wall-clock minute boundary until ctx
// is cancelled. The delay to the next boundary is recomputed each lap,
// and the fired timestamp is rounded down to the minute.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		delay := delayToNextMinute(s.nowFunc())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		ts := s.nowFunc().Truncate(time.Minute)
		if err := s.Tick(ctx, ts); err != nil {
			s.log.Warn("sampler: tick failed", "err", err)
		}
	}
}

func (s *Sampler) nowFunc() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func delayToNextMinute(t time.Time) time.Duration {
	frac := time.Duration(t.Nanosecond())
	sec := time.Duration(t.Second()) * time.Second
	elapsed := sec + frac
	return time.Minute - elapsed
}

// Tick asks the server who's on duty, resolves each nick to its services
// account via WHOIS, and appends one stats_p_sample row per oper whose
// `statsp` preference isn't explicitly false. It takes the session's read
// lock around each server round trip.
func (s *Sampler) Tick(ctx context.Context, ts time.Time) error {
	s.irc.SessionRLock()
	opers, err := s.irc.StatsP(ctx)
	s.irc.SessionRUnlock()
	if err != nil {
		return err
	}

	n := 0
	for _, ol := range opers {
		s.irc.SessionRLock()
		account, ok, err := s.irc.Whois(ctx, ol.Nick)
		s.irc.SessionRUnlock()
		if err != nil {
			s.log.Warn("sampler: whois failed", "nick", ol.Nick, "err", err)
			continue
		}
		if !ok {
			account = ol.Oper
		}

		enabled, err := s.statspEnabled(ctx, account)
		if err != nil {
			s.log.Warn("sampler: preference lookup failed", "oper", account, "err", err)
			continue
		}
		if !enabled {
			continue
		}

		mask := fmt.Sprintf("%s!%s@%s", ol.Nick, ol.User, ol.Host)
		if err := s.store.InsertStatsPSample(ctx, account, mask, ts); err != nil {
			s.log.Warn("sampler: insert sample failed", "oper", account, "err", err)
			continue
		}
		n++
	}
	s.log.Debug("sampler: tick complete", "ts", ts, "on_duty", len(opers), "sampled", n)
	return nil
}

// statspEnabled reads the oper's `statsp` preference, defaulting to true
// when unset.
func (s *Sampler) statspEnabled(ctx context.Context, oper string) (bool, error) {
	raw, ok, err := s.store.GetPreference(ctx, oper, "statsp")
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return raw == "true", nil
}
