package command

import (
	"context"
	"strings"
)

// cmdEval implements `eval <read-only-query> [limit]`: passes the string
// to the store's read-only SQL sandbox and tabulates rows. This is the
// one command where a store failure is a user-visible error, so a SQL
// failure is wrapped as a StoreError rather than a plain error and shown
// verbatim.
func cmdEval(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, parseErrorf("usage: eval <read-only SQL> [limit]")
	}

	limit := defaultLimit * 10 // eval rows are narrower than kline/cliconn lines
	query := strings.Join(args, " ")
	if n, err := parseLimit(args, len(args)-1); err == nil && len(args) > 1 {
		// The last token may be a limit rather than part of the query; try
		// it, and fall back to treating the whole thing as the query if it
		// doesn't parse as a positive integer.
		limit = n
		query = strings.Join(args[:len(args)-1], " ")
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	cols, rows, err := d.store.Eval(ctx, query)
	if err != nil {
		return nil, StoreError{Err: err}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if len(cols) == 0 {
		return []string{"query returned no columns"}, nil
	}
	return renderTable(cols, rows), nil
}
