package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"git.sr.ht/~kline/solaudit/internal/search"
)

// Cliconn is one row of the cliconn table.
type Cliconn struct {
	ID       int64
	Nickname string
	Username string
	RealName string
	Hostname string
	Account  sql.NullString
	IP       sql.NullString
	Server   string
	TS       time.Time
}

// InsertCliconn appends a client-connect row. account and ip use the
// empty string to mean "absent" ("*" and "0" in the wire snote, already
// translated by internal/snote before this call).
func (s *Store) InsertCliconn(ctx context.Context, nickname, username, realname, hostname, account, ip, server string, ts time.Time) (int64, error) {
	_, sn := norm(nickname, search.FieldNick)
	_, su := norm(username, search.FieldUser)
	_, sr := norm(realname, search.FieldReal)
	_, sh := norm(hostname, search.FieldHost)

	var accountArg, ipArg any
	if account != "" {
		accountArg = account
	}
	if ip != "" {
		ipArg = ip
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cliconn (nickname, search_nickname, username, search_username, realname, search_realname, hostname, search_hostname, account, ip, server, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		nickname, sn, username, su, realname, sr, hostname, sh, accountArg, ipArg, server, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert cliconn: %w", err)
	}
	return id, nil
}

// InsertCliexit appends a client-exit row. cliconnID is 0 when the snote
// parser's in-memory index had no matching connect, which happens for any
// client already online at startup.
func (s *Store) InsertCliexit(ctx context.Context, cliconnID int64, nickname, username, hostname, ip, reason string, ts time.Time) (int64, error) {
	_, sn := norm(nickname, search.FieldNick)
	_, su := norm(username, search.FieldUser)
	_, sh := norm(hostname, search.FieldHost)

	var cliconnArg, ipArg any
	if cliconnID != 0 {
		cliconnArg = cliconnID
	}
	if ip != "" {
		ipArg = ip
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cliexit (cliconn_id, nickname, search_nickname, username, search_username, hostname, search_hostname, ip, reason, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		cliconnArg, nickname, sn, username, su, hostname, sh, ipArg, reason, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert cliexit: %w", err)
	}
	return id, nil
}

// InsertNickChange appends a nick-change row attributed to cliconnID.
func (s *Store) InsertNickChange(ctx context.Context, cliconnID int64, newNick string, ts time.Time) error {
	_, sn := norm(newNick, search.FieldNick)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nick_change (cliconn_id, nickname, search_nickname, ts)
		VALUES ($1, $2, $3, $4)`,
		cliconnID, newNick, sn, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert nick_change: %w", err)
	}
	return nil
}

// SearchCliconnByField probes cliconn's search_* columns for the
// `cliconn <type> <query>` command.
func (s *Store) SearchCliconnByField(ctx context.Context, field, pattern string, limit int) ([]Cliconn, error) {
	allowed := map[string]string{
		"nick": "search_nickname",
		"user": "search_username",
		"host": "search_hostname",
		"real": "search_realname",
	}
	col, ok := allowed[field]
	if !ok {
		return nil, fmt.Errorf("store: unsupported cliconn search field %q", field)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, nickname, username, realname, hostname, account, ip, server, ts
		FROM cliconn WHERE %s LIKE $1 ORDER BY ts DESC LIMIT $2`, col),
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search cliconn: %w", err)
	}
	defer rows.Close()

	var out []Cliconn
	for rows.Next() {
		var c Cliconn
		if err := rows.Scan(&c.ID, &c.Nickname, &c.Username, &c.RealName, &c.Hostname, &c.Account, &c.IP, &c.Server, &c.TS); err != nil {
			return nil, fmt.Errorf("store: search cliconn scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCliconn loads a single cliconn row by id, for `cliconn id <n>`.
func (s *Store) GetCliconn(ctx context.Context, id int64) (Cliconn, bool, error) {
	var c Cliconn
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nickname, username, realname, hostname, account, ip, server, ts
		FROM cliconn WHERE id = $1`, id,
	).Scan(&c.ID, &c.Nickname, &c.Username, &c.RealName, &c.Hostname, &c.Account, &c.IP, &c.Server, &c.TS)
	if err == sql.ErrNoRows {
		return Cliconn{}, false, nil
	}
	if err != nil {
		return Cliconn{}, false, fmt.Errorf("store: get cliconn: %w", err)
	}
	return c, true, nil
}

// SearchCliconnByIP probes cliconn.ip with CIDR containment.
func (s *Store) SearchCliconnByIP(ctx context.Context, cidr string, limit int) ([]Cliconn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nickname, username, realname, hostname, account, ip, server, ts
		FROM cliconn WHERE ip <<= $1::cidr ORDER BY ts DESC LIMIT $2`, cidr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search cliconn by ip: %w", err)
	}
	defer rows.Close()

	var out []Cliconn
	for rows.Next() {
		var c Cliconn
		if err := rows.Scan(&c.ID, &c.Nickname, &c.Username, &c.RealName, &c.Hostname, &c.Account, &c.IP, &c.Server, &c.TS); err != nil {
			return nil, fmt.Errorf("store: search cliconn by ip scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
