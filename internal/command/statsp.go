package command

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// cmdStatsp implements `statsp [YYYY-MM-DD]`: on-duty minute totals per
// oper since the given date, or over everything recorded when no date is
// given.
func cmdStatsp(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	since := time.Time{}
	if len(args) > 0 {
		t, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return nil, parseErrorf("date must be YYYY-MM-DD, got %q", args[0])
		}
		since = t
	}

	totals, err := d.store.StatsPTotals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("statsp: %w", err)
	}
	if len(totals) == 0 {
		return []string{"no on-duty samples recorded"}, nil
	}

	names := make([]string, 0, len(totals))
	for operName := range totals {
		names = append(names, operName)
	}
	sort.Slice(names, func(i, j int) bool { return totals[names[i]] > totals[names[j]] })

	lines := make([]string, 0, len(names))
	for _, operName := range names {
		lines = append(lines, fmt.Sprintf("%s: %d minute(s)", operName, totals[operName]))
	}
	return lines, nil
}
