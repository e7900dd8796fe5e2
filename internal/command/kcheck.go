package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"git.sr.ht/~kline/solaudit/internal/search"
	"git.sr.ht/~kline/solaudit/internal/store"
)

// cmdKcheck implements `kcheck <type> <query> [count]`. Every type but
// `id` probes one or more search_* columns, unions the resulting kline
// ids, dedupes, sorts by kline ts descending, and truncates to count.
func cmdKcheck(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: kcheck <nick|host|mask|ts|tag|reason|id|ip> <query> [count]")
	}
	kind, query := args[0], args[1]
	limit, err := parseLimit(args, 2)
	if err != nil {
		return nil, err
	}

	if kind == "id" {
		id, err := strconv.ParseInt(query, 10, 64)
		if err != nil {
			return nil, parseErrorf("kline id must be an integer, got %q", query)
		}
		return d.formatKLineDetail(ctx, id)
	}

	ids, err := d.kcheckIDs(ctx, kind, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{"no matching k-lines"}, nil
	}
	return d.formatKLineSummaries(ctx, ids, limit)
}

func (d *Dispatcher) kcheckIDs(ctx context.Context, kind, query string, limit int) ([]int64, error) {
	switch kind {
	case "nick":
		pattern := likePattern(query, search.FieldNick)
		kills, err := d.store.SearchKillsByField(ctx, "nick", pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck nick: %w", err)
		}
		rejects, err := d.store.SearchRejectsByField(ctx, "nick", pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck nick: %w", err)
		}
		return dedupeInt64(kills, rejects), nil

	case "host":
		pattern := likePattern(query, search.FieldHost)
		kills, err := d.store.SearchKillsByField(ctx, "host", pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck host: %w", err)
		}
		rejects, err := d.store.SearchRejectsByField(ctx, "host", pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck host: %w", err)
		}
		return dedupeInt64(kills, rejects), nil

	case "mask":
		pattern := likePattern(query, search.FieldMask)
		ids, err := d.store.SearchKLinesByField(ctx, "mask", pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck mask: %w", err)
		}
		return ids, nil

	case "tag":
		pattern := likePattern(query, search.FieldTag)
		ids, err := d.store.SearchKLinesByTag(ctx, pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck tag: %w", err)
		}
		return ids, nil

	case "reason":
		ids, err := d.store.SearchKLinesByReason(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck reason: %w", err)
		}
		return ids, nil

	case "ip":
		qkind, cidr, err := classifyIPQuery(query)
		if err != nil {
			return nil, err
		}
		if qkind == ipGlob {
			ids, err := d.store.SearchKLinesByIPGlob(ctx, likePattern(query, search.FieldHost), limit)
			if err != nil {
				return nil, fmt.Errorf("kcheck ip: %w", err)
			}
			return ids, nil
		}
		ids, err := d.store.SearchKLinesByIP(ctx, cidr, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck ip: %w", err)
		}
		return ids, nil

	case "ts":
		t, err := parseTimestamp(query)
		if err != nil {
			return nil, err
		}
		ids, err := d.store.SearchKLinesByTS(ctx, t, tsFudgeMins, limit)
		if err != nil {
			return nil, fmt.Errorf("kcheck ts: %w", err)
		}
		return ids, nil

	default:
		return nil, parseErrorf("unknown kcheck type %q", kind)
	}
}

// formatKLineSummaries loads, sorts (ts descending), truncates, and
// one-line-formats a set of kline ids.
func (d *Dispatcher) formatKLineSummaries(ctx context.Context, ids []int64, limit int) ([]string, error) {
	klines := make([]store.KLine, 0, len(ids))
	for _, id := range ids {
		k, ok, err := d.store.GetKLine(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("kcheck: load kline %d: %w", id, err)
		}
		if ok {
			klines = append(klines, k)
		}
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].TS.After(klines[j].TS) })
	if len(klines) > limit {
		klines = klines[:limit]
	}

	lines := make([]string, 0, len(klines))
	for _, k := range klines {
		lines = append(lines, summaryLine(k))
	}
	return lines, nil
}

func summaryLine(k store.KLine) string {
	return fmt.Sprintf("#%d [%s] %s by %s{%s} (%ds) %s",
		k.ID, k.TS.Format(tsLayout), k.Mask, k.Source, k.Oper, k.DurationS, k.Reason)
}

// formatKLineDetail renders the full multi-line view `kcheck id` produces:
// the summary line, its tags, its affected users, and a removed-by
// annotation if it has been k-lined off.
func (d *Dispatcher) formatKLineDetail(ctx context.Context, id int64) ([]string, error) {
	k, ok, err := d.store.GetKLine(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("kcheck id: %w", err)
	}
	if !ok {
		return nil, notFoundErrorf("no k-line with id %d", id)
	}

	lines := []string{summaryLine(k)}

	tags, err := d.store.GetKLineTags(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("kcheck id: tags: %w", err)
	}
	if len(tags) > 0 {
		names := make([]string, len(tags))
		for i, t := range tags {
			names[i] = t.Tag
		}
		lines = append(lines, "tags: "+joinComma(names))
	}

	affected, err := d.store.GetAffected(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("kcheck id: affected: %w", err)
	}
	for _, a := range affected {
		ip := "-"
		if a.IP.Valid {
			ip = a.IP.String
		}
		lines = append(lines, fmt.Sprintf("affected: %s!%s@%s [%s] at %s", a.Nickname, a.Username, a.Hostname, ip, a.TS.Format(tsLayout)))
	}

	removal, removed, err := d.store.GetKLineRemove(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("kcheck id: removal: %w", err)
	}
	if removed {
		operName := "(silent removal)"
		if removal.Oper.Valid {
			operName = removal.Oper.String
		}
		lines = append(lines, fmt.Sprintf("removed by %s at %s", operName, removal.TS.Format(tsLayout)))
	}

	return lines, nil
}
