package sampler

import (
	"context"
	"log/slog"
	"time"
)

// Reconciliator runs once, just after the session becomes opered, and
// reconciles the store's idea of which k-lines are active against what the
// server actually holds.
type Reconciliator struct {
	irc   IRCSession
	store interface {
		ListActive(ctx context.Context) (map[string]int64, error)
		InsertKLineRemove(ctx context.Context, klineID int64, source, oper string, ts time.Time) error
	}
	log *slog.Logger
	now func() time.Time
}

// NewReconciliator builds a Reconciliator. st is narrowed to the two
// methods it needs so its tests don't need a live database.
func NewReconciliator(irc IRCSession, st interface {
	ListActive(ctx context.Context) (map[string]int64, error)
	InsertKLineRemove(ctx context.Context, klineID int64, source, oper string, ts time.Time) error
}, log *slog.Logger) *Reconciliator {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciliator{irc: irc, store: st, log: log, now: time.Now}
}

// Reconcile asks the server for its held k-line masks and retires any
// store-active kline whose mask is no longer among them, recording a
// silent removal (empty source and oper). It never adds klines the server
// holds but the store doesn't know about: STATS k/g carry no reason or
// setter history, so a row synthesized from them would be a shell no
// kcheck/ktag flow could ever fill in. A server operator denying STATS
// access degrades this to a no-op rather than an error, matching the rest
// of the command set's PermissionDenied handling.
func (r *Reconciliator) Reconcile(ctx context.Context) error {
	r.irc.SessionRLock()
	held, privOK, err := r.irc.StatsKG(ctx)
	r.irc.SessionRUnlock()
	if err != nil {
		return err
	}
	if !privOK {
		r.log.Debug("reconcile: server denied stats k/g, skipping")
		return nil
	}

	active, err := r.store.ListActive(ctx)
	if err != nil {
		return err
	}

	// TODO: held masks with no matching row in active are server k-lines
	// this store has never seen. Ingesting them needs a reason/setter
	// backfill story first; see the doc comment.
	ts := r.nowFunc()
	removed := 0
	for mask, klineID := range active {
		if _, ok := held[mask]; ok {
			continue
		}
		if err := r.store.InsertKLineRemove(ctx, klineID, "", "", ts); err != nil {
			r.log.Warn("reconcile: insert kline_remove failed", "kline_id", klineID, "err", err)
			continue
		}
		removed++
	}
	r.log.Debug("reconcile: complete", "active", len(active), "held", len(held), "removed", removed)
	return nil
}

func (r *Reconciliator) nowFunc() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
