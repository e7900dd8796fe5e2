package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"git.sr.ht/~kline/solaudit/internal/search"
)

// InsertStatsPSample appends one on-duty sample for oper, with ts
// truncated to the minute.
func (s *Store) InsertStatsPSample(ctx context.Context, oper, mask string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats_p_sample (oper, mask, ts) VALUES ($1, $2, $3)`,
		oper, mask, truncMinute(ts),
	)
	if err != nil {
		return fmt.Errorf("store: insert stats_p_sample: %w", err)
	}
	return nil
}

// StatsPTotals returns on-duty minute counts per oper since since, for the
// `statsp [YYYY-MM-DD]` command.
func (s *Store) StatsPTotals(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oper, count(*) FROM stats_p_sample WHERE ts >= $1 GROUP BY oper ORDER BY count(*) DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: stats_p totals: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var oper string
		var n int
		if err := rows.Scan(&oper, &n); err != nil {
			return nil, fmt.Errorf("store: stats_p totals scan: %w", err)
		}
		out[oper] = n
	}
	return out, rows.Err()
}

// GetPreference reads oper's value for key, and whether it was set at
// all (the command dispatcher falls back to the fixed per-key default
// when ok is false).
func (s *Store) GetPreference(ctx context.Context, oper, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM preference WHERE oper = $1 AND key = $2`, oper, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get preference: %w", err)
	}
	return value, true, nil
}

// ListPreferences returns every preference oper has explicitly set.
func (s *Store) ListPreferences(ctx context.Context, oper string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preference WHERE oper = $1`, oper)
	if err != nil {
		return nil, fmt.Errorf("store: list preferences: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: list preferences scan: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetPreference upserts oper's value for key. value is a plain Go value
// (e.g. `true`, `"x"`), JSON-encoded here and stored as JSONB.
func (s *Store) SetPreference(ctx context.Context, oper, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal preference: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preference (oper, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (oper, key) DO UPDATE SET value = EXCLUDED.value`,
		oper, key, raw,
	)
	if err != nil {
		return fmt.Errorf("store: set preference: %w", err)
	}
	return nil
}

// InsertRegistration appends a NickServ REGISTER row.
func (s *Store) InsertRegistration(ctx context.Context, nickname, account, email string, ts time.Time) (int64, error) {
	_, sn := norm(nickname, search.FieldNick)
	_, se := norm(email, search.FieldEmail)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO registration (nickname, search_nickname, account, email, search_email, ts)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		nickname, sn, account, email, se, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert registration: %w", err)
	}
	return id, nil
}

// VerifyRegistration sets verified_at for a VERIFY:REGISTER.
func (s *Store) VerifyRegistration(ctx context.Context, account string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registration SET verified_at = $1
		WHERE account = $2 AND verified_at IS NULL`,
		ts, account,
	)
	if err != nil {
		return fmt.Errorf("store: verify registration: %w", err)
	}
	return nil
}

// InsertEmailResolve appends one node of the MX->A/AAAA/TXT resolution
// tree rooted at registrationID. parentID is 0 for the tree's root
// records (the domain's own MX/A/AAAA/TXT/_dmarc.TXT lookups).
func (s *Store) InsertEmailResolve(ctx context.Context, registrationID, parentID int64, recordType, record string) (int64, error) {
	var parentArg any
	if parentID != 0 {
		parentArg = parentID
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO email_resolve (registration_id, parent_id, record_type, record)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		registrationID, parentArg, recordType, record,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert email_resolve: %w", err)
	}
	return id, nil
}

// InsertAccountFreeze records a `freeze <account> <reason>` command.
func (s *Store) InsertAccountFreeze(ctx context.Context, account, reason, oper string, ts time.Time) error {
	_, sa := norm(account, search.FieldNick)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_freeze (account, search_account, reason, oper, ts)
		VALUES ($1, $2, $3, $4, $5)`,
		account, sa, reason, oper, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert account_freeze: %w", err)
	}
	return nil
}

// UnfreezeAccount marks the most recent open freeze for account as lifted,
// for `unfreeze <account>`.
func (s *Store) UnfreezeAccount(ctx context.Context, account string, ts time.Time) (bool, error) {
	_, sa := norm(account, search.FieldNick)
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_freeze SET unfrozen_at = $1
		WHERE ctid = (
			SELECT ctid FROM account_freeze
			WHERE search_account = $2 AND unfrozen_at IS NULL
			ORDER BY ts DESC LIMIT 1
		)`, ts, sa,
	)
	if err != nil {
		return false, fmt.Errorf("store: unfreeze account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: unfreeze account rows affected: %w", err)
	}
	return n > 0, nil
}

// IsFrozen reports whether account currently has an open freeze.
func (s *Store) IsFrozen(ctx context.Context, account string) (bool, error) {
	_, sa := norm(account, search.FieldNick)
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM account_freeze WHERE search_account = $1 AND unfrozen_at IS NULL)`,
		sa,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is frozen: %w", err)
	}
	return exists, nil
}

// InsertFreezeTag attaches a %tag extracted from a freeze reason.
func (s *Store) InsertFreezeTag(ctx context.Context, account, tag, oper string, ts time.Time) error {
	_, sa := norm(account, search.FieldNick)
	_, st := norm(tag, search.FieldTag)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO freeze_tag (account, search_account, tag, search_tag, oper, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (search_account, search_tag) DO NOTHING`,
		account, sa, tag, st, oper, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert freeze_tag: %w", err)
	}
	return nil
}

// InsertChannelClose records an OperServ CLOSE:ON.
func (s *Store) InsertChannelClose(ctx context.Context, channel, oper, reason string, ts time.Time) (int64, error) {
	_, sc := norm(channel, search.FieldHost)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO channel_close (channel, search_channel, oper, reason, ts)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		channel, sc, oper, reason, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert channel_close: %w", err)
	}
	return id, nil
}

// InsertCloseTag attaches a %tag extracted from a channel-close reason.
func (s *Store) InsertCloseTag(ctx context.Context, closeID int64, tag, oper string, ts time.Time) error {
	_, st := norm(tag, search.FieldTag)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO close_tag (close_id, tag, search_tag, oper, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (close_id, search_tag) DO NOTHING`,
		closeID, tag, st, oper, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert close_tag: %w", err)
	}
	return nil
}

// InsertKlineChan records an OperServ KLINECHAN:ON closure.
func (s *Store) InsertKlineChan(ctx context.Context, channel, oper, reason string, ts time.Time) (int64, error) {
	_, sc := norm(channel, search.FieldHost)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO klinechan (channel, search_channel, oper, reason, ts)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		channel, sc, oper, reason, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert klinechan: %w", err)
	}
	return id, nil
}

// InsertKlinechanTag attaches a %tag extracted from a klinechan reason,
// the same grammar as klineadd's tag extraction.
func (s *Store) InsertKlinechanTag(ctx context.Context, klinechanID int64, tag, oper string, ts time.Time) error {
	_, st := norm(tag, search.FieldTag)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO klinechan_tag (klinechan_id, tag, search_tag, oper, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (klinechan_id, search_tag) DO NOTHING`,
		klinechanID, tag, st, oper, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert klinechan_tag: %w", err)
	}
	return nil
}
