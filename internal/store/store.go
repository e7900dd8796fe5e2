// Package store is the relational persistence layer: one Postgres table
// per audited entity, with a parallel search_* column for every
// searchable text column, populated through internal/search.Normalise at
// write time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"git.sr.ht/~kline/solaudit/internal/search"
)

// Store wraps a Postgres connection pool. Every method acquires a
// connection for the minimum span needed; none of them hold the pool
// across a suspension point beyond their own single statement (or
// transaction, for the few multi-statement writes).
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a standard libpq connection string) and verifies
// connectivity immediately, so a bad DSN fails at startup rather than on
// the first snote.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// norm normalises a raw value for kind and returns both the display value
// and its search_* counterpart, in the one call site every insert needs.
func norm(raw string, kind search.FieldKind) (display, normalised string) {
	cs := search.Normalise(search.Text(raw), kind)
	return raw, search.ToLikePattern(cs)
}

// schema is the full set of tables this store owns. Applied with
// CREATE TABLE IF NOT EXISTS so Migrate is safe to call on every startup;
// a flat DDL script, not a versioned migration chain.
const schema = `
CREATE TABLE IF NOT EXISTS kline (
	id BIGSERIAL PRIMARY KEY,
	mask TEXT NOT NULL,
	search_mask TEXT NOT NULL,
	source TEXT NOT NULL,
	oper TEXT NOT NULL,
	duration_s INTEGER NOT NULL,
	reason TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	expire TIMESTAMPTZ NOT NULL,
	last_reject TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS kline_search_mask_idx ON kline (search_mask);
CREATE INDEX IF NOT EXISTS kline_ts_idx ON kline (ts);

CREATE TABLE IF NOT EXISTS kline_remove (
	kline_id BIGINT PRIMARY KEY REFERENCES kline(id),
	source TEXT,
	oper TEXT,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS kline_kill (
	id BIGSERIAL PRIMARY KEY,
	kline_id BIGINT NOT NULL REFERENCES kline(id),
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	username TEXT NOT NULL,
	search_username TEXT NOT NULL,
	hostname TEXT NOT NULL,
	search_hostname TEXT NOT NULL,
	ip INET,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kline_kill_kline_id_idx ON kline_kill (kline_id);

CREATE TABLE IF NOT EXISTS kline_reject (
	id BIGSERIAL PRIMARY KEY,
	kline_id BIGINT NOT NULL REFERENCES kline(id),
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	username TEXT NOT NULL,
	search_username TEXT NOT NULL,
	hostname TEXT NOT NULL,
	search_hostname TEXT NOT NULL,
	ip INET,
	ts TIMESTAMPTZ NOT NULL,
	UNIQUE (kline_id, search_nickname, search_username, search_hostname, ip)
);

CREATE TABLE IF NOT EXISTS kline_tag (
	kline_id BIGINT NOT NULL REFERENCES kline(id),
	tag TEXT NOT NULL,
	search_tag TEXT NOT NULL,
	source TEXT NOT NULL,
	oper TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kline_id, search_tag)
);

CREATE TABLE IF NOT EXISTS cliconn (
	id BIGSERIAL PRIMARY KEY,
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	username TEXT NOT NULL,
	search_username TEXT NOT NULL,
	realname TEXT NOT NULL,
	search_realname TEXT NOT NULL,
	hostname TEXT NOT NULL,
	search_hostname TEXT NOT NULL,
	account TEXT,
	ip INET,
	server TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cliconn_search_nickname_idx ON cliconn (search_nickname);
CREATE INDEX IF NOT EXISTS cliconn_search_hostname_idx ON cliconn (search_hostname);

CREATE TABLE IF NOT EXISTS cliexit (
	id BIGSERIAL PRIMARY KEY,
	cliconn_id BIGINT REFERENCES cliconn(id),
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	username TEXT NOT NULL,
	search_username TEXT NOT NULL,
	hostname TEXT NOT NULL,
	search_hostname TEXT NOT NULL,
	ip INET,
	reason TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS nick_change (
	cliconn_id BIGINT NOT NULL REFERENCES cliconn(id),
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stats_p_sample (
	oper TEXT NOT NULL,
	mask TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stats_p_sample_oper_ts_idx ON stats_p_sample (oper, ts);

CREATE TABLE IF NOT EXISTS preference (
	oper TEXT NOT NULL,
	key TEXT NOT NULL,
	value JSONB NOT NULL,
	PRIMARY KEY (oper, key)
);

CREATE TABLE IF NOT EXISTS registration (
	id BIGSERIAL PRIMARY KEY,
	nickname TEXT NOT NULL,
	search_nickname TEXT NOT NULL,
	account TEXT NOT NULL,
	email TEXT NOT NULL,
	search_email TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	verified_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS email_resolve (
	id BIGSERIAL PRIMARY KEY,
	registration_id BIGINT NOT NULL REFERENCES registration(id),
	parent_id BIGINT REFERENCES email_resolve(id),
	record_type TEXT NOT NULL,
	record TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS account_freeze (
	account TEXT NOT NULL,
	search_account TEXT NOT NULL,
	reason TEXT NOT NULL,
	oper TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	unfrozen_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS account_freeze_search_account_idx ON account_freeze (search_account);

CREATE TABLE IF NOT EXISTS freeze_tag (
	account TEXT NOT NULL,
	search_account TEXT NOT NULL,
	tag TEXT NOT NULL,
	search_tag TEXT NOT NULL,
	oper TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (search_account, search_tag)
);

CREATE TABLE IF NOT EXISTS channel_close (
	id BIGSERIAL PRIMARY KEY,
	channel TEXT NOT NULL,
	search_channel TEXT NOT NULL,
	oper TEXT NOT NULL,
	reason TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS close_tag (
	close_id BIGINT NOT NULL REFERENCES channel_close(id),
	tag TEXT NOT NULL,
	search_tag TEXT NOT NULL,
	oper TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (close_id, search_tag)
);

CREATE TABLE IF NOT EXISTS klinechan (
	id BIGSERIAL PRIMARY KEY,
	channel TEXT NOT NULL,
	search_channel TEXT NOT NULL,
	oper TEXT NOT NULL,
	reason TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS klinechan_tag (
	klinechan_id BIGINT NOT NULL REFERENCES klinechan(id),
	tag TEXT NOT NULL,
	search_tag TEXT NOT NULL,
	oper TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (klinechan_id, search_tag)
);
`

// Migrate applies the schema. Safe to call on every process start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Eval runs a read-only ad-hoc query for the `eval` command. The
// transaction is explicitly READ ONLY so a malformed query can never
// mutate state, and a LIMIT is enforced by the caller, not here.
func (s *Store) Eval(ctx context.Context, query string) (cols []string, rows [][]string, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("store: eval begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("store: eval: %w", err)
	}
	defer result.Close()

	cols, err = result.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("store: eval columns: %w", err)
	}

	for result.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := result.Scan(ptrs...); err != nil {
			return cols, rows, fmt.Errorf("store: eval scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		rows = append(rows, row)
	}
	return cols, rows, result.Err()
}

func truncMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
