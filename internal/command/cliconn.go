package command

import (
	"context"
	"fmt"
	"strconv"

	"git.sr.ht/~kline/solaudit/internal/search"
	"git.sr.ht/~kline/solaudit/internal/store"
)

// cmdCliconn implements `cliconn <type> <query> [count]`.
func cmdCliconn(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: cliconn <nick|user|host|real|id|ip> <query> [count]")
	}
	kind, query := args[0], args[1]
	limit, err := parseLimit(args, 2)
	if err != nil {
		return nil, err
	}

	if kind == "id" {
		id, err := strconv.ParseInt(query, 10, 64)
		if err != nil {
			return nil, parseErrorf("cliconn id must be an integer, got %q", query)
		}
		c, ok, err := d.store.GetCliconn(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("cliconn id: %w", err)
		}
		if !ok {
			return nil, notFoundErrorf("no cliconn with id %d", id)
		}
		return []string{cliconnLine(c)}, nil
	}

	var results []store.Cliconn
	switch kind {
	case "nick":
		results, err = d.store.SearchCliconnByField(ctx, "nick", likePattern(query, search.FieldNick), limit)
	case "user":
		results, err = d.store.SearchCliconnByField(ctx, "user", likePattern(query, search.FieldUser), limit)
	case "host":
		results, err = d.store.SearchCliconnByField(ctx, "host", likePattern(query, search.FieldHost), limit)
	case "real":
		results, err = d.store.SearchCliconnByField(ctx, "real", likePattern(query, search.FieldReal), limit)
	case "ip":
		var qkind ipQueryKind
		var cidr string
		qkind, cidr, err = classifyIPQuery(query)
		if err != nil {
			return nil, err
		}
		if qkind == ipGlob {
			return nil, parseErrorf("cliconn ip search does not support glob patterns")
		}
		results, err = d.store.SearchCliconnByIP(ctx, cidr, limit)
	default:
		return nil, parseErrorf("unknown cliconn type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("cliconn %s: %w", kind, err)
	}
	if len(results) == 0 {
		return []string{"no matching connections"}, nil
	}

	lines := make([]string, 0, len(results))
	for _, c := range results {
		lines = append(lines, cliconnLine(c))
	}
	return lines, nil
}

func cliconnLine(c store.Cliconn) string {
	account := "*"
	if c.Account.Valid {
		account = c.Account.String
	}
	ip := "0"
	if c.IP.Valid {
		ip = c.IP.String
	}
	return fmt.Sprintf("#%d [%s] %s!%s@%s [%s] <%s> %s (%s)",
		c.ID, c.TS.Format(tsLayout), c.Nickname, c.Username, c.Hostname, ip, account, c.RealName, c.Server)
}
