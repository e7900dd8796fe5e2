package command

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

func cmdKtag(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: ktag <kline_id> <tag>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, parseErrorf("kline id must be an integer, got %q", args[0])
	}
	tag := args[1]

	if _, ok, err := d.store.GetKLine(ctx, id); err != nil {
		return nil, fmt.Errorf("ktag: %w", err)
	} else if !ok {
		return nil, notFoundErrorf("no k-line with id %d", id)
	}

	if err := d.store.InsertKLineTag(ctx, id, tag, "command", oper, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ktag: %w", err)
	}
	return []string{fmt.Sprintf("tagged #%d with %q", id, tag)}, nil
}

func cmdUnktag(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: unktag <kline_id> <tag>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, parseErrorf("kline id must be an integer, got %q", args[0])
	}
	tag := args[1]

	if err := d.store.RemoveKLineTag(ctx, id, tag); err != nil {
		return nil, fmt.Errorf("unktag: %w", err)
	}
	return []string{fmt.Sprintf("untagged #%d of %q", id, tag)}, nil
}

func cmdKtaglast(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: ktaglast <n> <tag>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return nil, parseErrorf("n must be a positive integer, got %q", args[0])
	}
	if n > maxLimit {
		n = maxLimit
	}
	tag := args[1]

	ids, err := d.store.LastKLinesByOper(ctx, oper, n)
	if err != nil {
		return nil, fmt.Errorf("ktaglast: %w", err)
	}
	if len(ids) == 0 {
		return []string{"you have not set any k-lines"}, nil
	}

	ts := time.Now().UTC()
	for _, id := range ids {
		if err := d.store.InsertKLineTag(ctx, id, tag, "command", oper, ts); err != nil {
			return nil, fmt.Errorf("ktaglast: %w", err)
		}
	}
	return []string{fmt.Sprintf("tagged %d k-line(s) with %q", len(ids), tag)}, nil
}
