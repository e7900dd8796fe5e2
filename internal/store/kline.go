package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"git.sr.ht/~kline/solaudit/internal/search"
)

// KLine is one row of the kline table.
type KLine struct {
	ID         int64
	Mask       string
	Source     string
	Oper       string
	DurationS  int
	Reason     string
	TS         time.Time
	Expire     time.Time
	LastReject sql.NullTime
}

// InsertKLine creates a new KLine row and returns its id.
func (s *Store) InsertKLine(ctx context.Context, mask, source, oper string, durationS int, reason string, ts time.Time) (int64, error) {
	_, searchMask := norm(mask, search.FieldMask)
	var id int64
	expire := ts.Add(time.Duration(durationS) * time.Second)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kline (mask, search_mask, source, oper, duration_s, reason, ts, expire)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		mask, searchMask, source, oper, durationS, reason, ts, expire,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert kline: %w", err)
	}
	return id, nil
}

// InsertKLineRemove records a removal, attributed or silent (source and
// oper both "" for a reconciliator-discovered silent removal, stored as
// NULL).
func (s *Store) InsertKLineRemove(ctx context.Context, klineID int64, source, oper string, ts time.Time) error {
	var sourceArg, operArg any
	if source != "" {
		sourceArg = source
	}
	if oper != "" {
		operArg = oper
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kline_remove (kline_id, source, oper, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kline_id) DO NOTHING`,
		klineID, sourceArg, operArg, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert kline_remove: %w", err)
	}
	return nil
}

// InsertKLineKill appends a kill attributed to klineID.
func (s *Store) InsertKLineKill(ctx context.Context, klineID int64, nickname, username, hostname, ip string, ts time.Time) (int64, error) {
	_, sn := norm(nickname, search.FieldNick)
	_, su := norm(username, search.FieldUser)
	_, sh := norm(hostname, search.FieldHost)
	var ipArg any
	if ip != "" {
		ipArg = ip
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kline_kill (kline_id, nickname, search_nickname, username, search_username, hostname, search_hostname, ip, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		klineID, nickname, sn, username, su, hostname, sh, ipArg, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert kline_kill: %w", err)
	}
	return id, nil
}

// ReassignKills moves every KLineKill row from oldID to newID, for when a
// fresh k-line on the same mask supersedes an older one.
func (s *Store) ReassignKills(ctx context.Context, oldID, newID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE kline_kill SET kline_id = $1 WHERE kline_id = $2`, newID, oldID)
	if err != nil {
		return fmt.Errorf("store: reassign kills: %w", err)
	}
	return nil
}

// RejectCount is the current (kline, search_host) reject tally used to
// enforce the per-host-per-kline cap.
func (s *Store) RejectCount(ctx context.Context, klineID int64, host string) (int, error) {
	_, sh := norm(host, search.FieldHost)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM kline_reject WHERE kline_id = $1 AND search_hostname = $2`,
		klineID, sh,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: reject count: %w", err)
	}
	return n, nil
}

// InsertKLineReject appends a reject row, deduped by the unique
// (kline_id, search_nickname, search_username, search_hostname, ip) key
// and capped per host per kline. It also stamps kline.last_reject. A
// capped or duplicate reject is reported via inserted=false, not an error.
func (s *Store) InsertKLineReject(ctx context.Context, klineID int64, nickname, username, hostname, ip string, ts time.Time, cap int) (inserted bool, err error) {
	n, err := s.RejectCount(ctx, klineID, hostname)
	if err != nil {
		return false, err
	}
	if n >= cap {
		return false, nil
	}

	_, sn := norm(nickname, search.FieldNick)
	_, su := norm(username, search.FieldUser)
	_, sh := norm(hostname, search.FieldHost)
	var ipArg any
	if ip != "" {
		ipArg = ip
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: insert kline_reject begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO kline_reject (kline_id, nickname, search_nickname, username, search_username, hostname, search_hostname, ip, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kline_id, search_nickname, search_username, search_hostname, ip) DO NOTHING`,
		klineID, nickname, sn, username, su, hostname, sh, ipArg, ts,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert kline_reject: %w", err)
	}
	n64, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert kline_reject rows affected: %w", err)
	}
	if n64 == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE kline SET last_reject = $1 WHERE id = $2`, ts, klineID); err != nil {
		return false, fmt.Errorf("store: update last_reject: %w", err)
	}
	return true, tx.Commit()
}

// InsertKLineTag attaches a tag, deduped on (kline_id, search_tag).
func (s *Store) InsertKLineTag(ctx context.Context, klineID int64, tag, source, oper string, ts time.Time) error {
	_, st := norm(tag, search.FieldTag)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kline_tag (kline_id, tag, search_tag, source, oper, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kline_id, search_tag) DO NOTHING`,
		klineID, tag, st, source, oper, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert kline_tag: %w", err)
	}
	return nil
}

// RemoveKLineTag removes a tag by its search key, for `unktag`.
func (s *Store) RemoveKLineTag(ctx context.Context, klineID int64, tag string) error {
	_, st := norm(tag, search.FieldTag)
	_, err := s.db.ExecContext(ctx, `DELETE FROM kline_tag WHERE kline_id = $1 AND search_tag = $2`, klineID, st)
	if err != nil {
		return fmt.Errorf("store: remove kline_tag: %w", err)
	}
	return nil
}

// ListActive returns mask -> id for every kline with no removal row and a
// future expire.
func (s *Store) ListActive(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.mask, k.id FROM kline k
		LEFT JOIN kline_remove r ON r.kline_id = k.id
		WHERE r.kline_id IS NULL AND k.expire > now()`)
	if err != nil {
		return nil, fmt.Errorf("store: list_active: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var mask string
		var id int64
		if err := rows.Scan(&mask, &id); err != nil {
			return nil, fmt.Errorf("store: list_active scan: %w", err)
		}
		out[mask] = id
	}
	return out, rows.Err()
}

// FindActive returns the most recent active kline id for an exact mask.
func (s *Store) FindActive(ctx context.Context, mask string) (int64, bool, error) {
	_, sm := norm(mask, search.FieldMask)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT k.id FROM kline k
		LEFT JOIN kline_remove r ON r.kline_id = k.id
		WHERE r.kline_id IS NULL AND k.expire > now() AND k.search_mask = $1
		ORDER BY k.ts DESC LIMIT 1`, sm,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: find_active: %w", err)
	}
	return id, true, nil
}

// FindByTS returns klines whose minute-truncated ts is within fudgeMinutes
// of t.
func (s *Store) FindByTS(ctx context.Context, t time.Time, fudgeMinutes int) ([]KLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mask, source, oper, duration_s, reason, ts, expire, last_reject
		FROM kline
		WHERE DATE_TRUNC('minute', ts) BETWEEN $1 AND $2
		ORDER BY ts DESC`,
		truncMinute(t).Add(-time.Duration(fudgeMinutes)*time.Minute),
		truncMinute(t).Add(time.Duration(fudgeMinutes)*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("store: find_by_ts: %w", err)
	}
	defer rows.Close()

	var out []KLine
	for rows.Next() {
		var k KLine
		if err := rows.Scan(&k.ID, &k.Mask, &k.Source, &k.Oper, &k.DurationS, &k.Reason, &k.TS, &k.Expire, &k.LastReject); err != nil {
			return nil, fmt.Errorf("store: find_by_ts scan: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetKLine loads a single kline by id, for `kcheck id`.
func (s *Store) GetKLine(ctx context.Context, id int64) (KLine, bool, error) {
	var k KLine
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mask, source, oper, duration_s, reason, ts, expire, last_reject
		FROM kline WHERE id = $1`, id,
	).Scan(&k.ID, &k.Mask, &k.Source, &k.Oper, &k.DurationS, &k.Reason, &k.TS, &k.Expire, &k.LastReject)
	if err == sql.ErrNoRows {
		return KLine{}, false, nil
	}
	if err != nil {
		return KLine{}, false, fmt.Errorf("store: get kline: %w", err)
	}
	return k, true, nil
}

// KLineRemoval is one kline_remove row, for `kcheck id`'s removed-by
// annotation.
type KLineRemoval struct {
	Source sql.NullString
	Oper   sql.NullString
	TS     time.Time
}

// GetKLineRemove loads the (at most one) removal row for a kline.
func (s *Store) GetKLineRemove(ctx context.Context, klineID int64) (KLineRemoval, bool, error) {
	var r KLineRemoval
	err := s.db.QueryRowContext(ctx, `
		SELECT source, oper, ts FROM kline_remove WHERE kline_id = $1`, klineID,
	).Scan(&r.Source, &r.Oper, &r.TS)
	if err == sql.ErrNoRows {
		return KLineRemoval{}, false, nil
	}
	if err != nil {
		return KLineRemoval{}, false, fmt.Errorf("store: get kline_remove: %w", err)
	}
	return r, true, nil
}

// Affected is one nick!user@host tuple a kline produced, from either its
// kills or its rejects.
type Affected struct {
	Nickname, Username, Hostname string
	IP                           sql.NullString
	TS                           time.Time
}

// GetAffected returns the union of a kline's kills and rejects, most
// recent first, for `kcheck id`'s "affected:" listing.
func (s *Store) GetAffected(ctx context.Context, klineID int64) ([]Affected, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nickname, username, hostname, ip, ts FROM kline_kill WHERE kline_id = $1
		UNION ALL
		SELECT nickname, username, hostname, ip, ts FROM kline_reject WHERE kline_id = $1
		ORDER BY ts DESC`, klineID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get affected: %w", err)
	}
	defer rows.Close()

	var out []Affected
	for rows.Next() {
		var a Affected
		if err := rows.Scan(&a.Nickname, &a.Username, &a.Hostname, &a.IP, &a.TS); err != nil {
			return nil, fmt.Errorf("store: get affected scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// KLineTag is one tag attached to a kline, for `kcheck id`'s tag listing.
type KLineTag struct {
	Tag    string
	Source string
	Oper   string
	TS     time.Time
}

// GetKLineTags lists every tag attached to a kline.
func (s *Store) GetKLineTags(ctx context.Context, klineID int64) ([]KLineTag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, source, oper, ts FROM kline_tag WHERE kline_id = $1 ORDER BY ts`, klineID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get kline tags: %w", err)
	}
	defer rows.Close()

	var out []KLineTag
	for rows.Next() {
		var t KLineTag
		if err := rows.Scan(&t.Tag, &t.Source, &t.Oper, &t.TS); err != nil {
			return nil, fmt.Errorf("store: get kline tags scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchKLinesByField runs a LIKE probe against one search_* column for
// kcheck's per-type table fan-out.
func (s *Store) SearchKLinesByField(ctx context.Context, column, pattern string, limit int) ([]int64, error) {
	allowed := map[string]string{
		"mask": "search_mask",
		"tag":  "", // handled via kline_tag, see SearchKLinesByTag
	}
	col, ok := allowed[column]
	if !ok || col == "" {
		return nil, fmt.Errorf("store: unsupported search field %q", column)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id FROM kline WHERE %s LIKE $1 ORDER BY ts DESC LIMIT $2`, col),
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search klines: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search klines scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKLinesByTag finds klines tagged with a pattern over search_tag.
func (s *Store) SearchKLinesByTag(ctx context.Context, pattern string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT kline_id FROM kline_tag WHERE search_tag LIKE $1
		ORDER BY kline_id DESC LIMIT $2`, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search kline tags: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search kline tags scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKillsByField probes kline_kill's search_* columns (kcheck
// nick/host probes fan out here too, since a kill carries the affected
// user's identity).
func (s *Store) SearchKillsByField(ctx context.Context, field, pattern string, limit int) ([]int64, error) {
	allowed := map[string]string{
		"nick": "search_nickname",
		"user": "search_username",
		"host": "search_hostname",
	}
	col, ok := allowed[field]
	if !ok {
		return nil, fmt.Errorf("store: unsupported kill search field %q", field)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT kline_id FROM kline_kill WHERE %s LIKE $1
		ORDER BY kline_id DESC LIMIT $2`, col),
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search kills: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search kills scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKLinesByReason runs a case-insensitive substring probe over the
// kline.reason column. Unlike the other kcheck probes there is no
// search_reason counterpart for free-form reason text, so the match runs
// directly against the stored text via ILIKE.
func (s *Store) SearchKLinesByReason(ctx context.Context, substr string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM kline WHERE reason ILIKE $1 ORDER BY ts DESC LIMIT $2`,
		"%"+substr+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search klines by reason: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search klines by reason scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastKLinesByOper returns the n most recent kline ids set by oper, for
// `ktaglast`.
func (s *Store) LastKLinesByOper(ctx context.Context, oper string, n int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM kline WHERE oper = $1 ORDER BY ts DESC LIMIT $2`, oper, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: last klines by oper: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: last klines by oper scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKLinesByIPGlob probes the ip column as text for the glob-pattern
// case of kcheck's ip disambiguation: an ip query that contains an
// unescaped `?`/`*` cannot be a CIDR or exact address, so it is matched
// against host(ip) as a plain LIKE pattern instead.
func (s *Store) SearchKLinesByIPGlob(ctx context.Context, pattern string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kline_id FROM (
			SELECT kline_id, ts FROM kline_kill WHERE host(ip) LIKE $1
			UNION
			SELECT kline_id, ts FROM kline_reject WHERE host(ip) LIKE $1
		) matches
		GROUP BY kline_id
		ORDER BY max(ts) DESC LIMIT $2`, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search klines by ip glob: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search klines by ip glob scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKLinesByTS returns kline ids whose minute-truncated ts is within
// fudgeMinutes of t, the id-only counterpart of FindByTS for kcheck.
func (s *Store) SearchKLinesByTS(ctx context.Context, t time.Time, fudgeMinutes, limit int) ([]int64, error) {
	klines, err := s.FindByTS(ctx, t, fudgeMinutes)
	if err != nil {
		return nil, err
	}
	if len(klines) > limit {
		klines = klines[:limit]
	}
	ids := make([]int64, len(klines))
	for i, k := range klines {
		ids[i] = k.ID
	}
	return ids, nil
}

// SearchRejectsByField probes kline_reject's search_* columns, the reject
// side of the nick/host union kcheck performs alongside SearchKillsByField.
func (s *Store) SearchRejectsByField(ctx context.Context, field, pattern string, limit int) ([]int64, error) {
	allowed := map[string]string{
		"nick": "search_nickname",
		"user": "search_username",
		"host": "search_hostname",
	}
	col, ok := allowed[field]
	if !ok {
		return nil, fmt.Errorf("store: unsupported reject search field %q", field)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT kline_id FROM kline_reject WHERE %s LIKE $1
		ORDER BY kline_id DESC LIMIT $2`, col),
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search rejects: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search rejects scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchKLinesByIP probes CIDR containment (`<<=`) against stored
// kill/reject IPs; an exact address is passed as a /32 (or /128).
func (s *Store) SearchKLinesByIP(ctx context.Context, cidr string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kline_id FROM (
			SELECT kline_id, ts FROM kline_kill WHERE ip <<= $1::cidr
			UNION
			SELECT kline_id, ts FROM kline_reject WHERE ip <<= $1::cidr
		) matches
		GROUP BY kline_id
		ORDER BY max(ts) DESC LIMIT $2`, cidr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search klines by ip: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: search klines by ip scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
