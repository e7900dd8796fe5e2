package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// tsLayout is the single human-readable timestamp format every NOTICE line
// uses, so a long session of kcheck/cliconn output reads as one table even
// when reason/realname text carries wide runes.
const tsLayout = "2006-01-02 15:04:05"

// padColumns aligns a row of cells against widths (in display columns, via
// go-runewidth) for the `eval` tabular NOTICE output — free-form
// reason/realname text can carry wide runes, so byte-length padding would
// misalign the table.
func padColumns(cells []string, widths []int) string {
	var sb strings.Builder
	for i, cell := range cells {
		sb.WriteString(cell)
		if i == len(cells)-1 {
			break
		}
		pad := widths[i] - runewidth.StringWidth(cell)
		for ; pad > 0; pad-- {
			sb.WriteByte(' ')
		}
		sb.WriteByte(' ')
	}
	return sb.String()
}

// columnWidths computes the per-column display width across every row (plus
// the header), so padColumns can align a whole table.
func columnWidths(header []string, rows [][]string) []int {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				continue
			}
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func renderTable(header []string, rows [][]string) []string {
	widths := columnWidths(header, rows)
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, padColumns(header, widths))
	for _, row := range rows {
		lines = append(lines, padColumns(row, widths))
	}
	return lines
}

func parseLimit(args []string, idx int) (int, error) {
	if idx >= len(args) {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil {
		return 0, parseErrorf("count must be an integer, got %q", args[idx])
	}
	if n <= 0 {
		return 0, parseErrorf("count must be positive, got %d", n)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// parseTimestamp accepts the handful of formats an oper would plausibly
// type by hand: a full timestamp, or a bare date at midnight.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{tsLayout, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, parseErrorf("unrecognised timestamp %q", s)
}
