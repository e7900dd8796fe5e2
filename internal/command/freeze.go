package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"git.sr.ht/~kline/solaudit/internal/services"
)

// cmdFreeze implements `freeze <account> <reason>`. The reason may carry
// `%tag` tokens, extracted with the same grammar k-line reasons use.
func cmdFreeze(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, parseErrorf("usage: freeze <account> <reason>")
	}
	account := args[0]
	reason := strings.Join(args[1:], " ")
	ts := time.Now().UTC()

	if frozen, err := d.store.IsFrozen(ctx, account); err != nil {
		return nil, fmt.Errorf("freeze: %w", err)
	} else if frozen {
		return []string{fmt.Sprintf("%s is already frozen", account)}, nil
	}

	if err := d.store.InsertAccountFreeze(ctx, account, reason, oper, ts); err != nil {
		return nil, fmt.Errorf("freeze: %w", err)
	}
	for _, tag := range services.ExtractTags(reason) {
		if err := d.store.InsertFreezeTag(ctx, account, tag, oper, ts); err != nil {
			return nil, fmt.Errorf("freeze: tag: %w", err)
		}
	}
	return []string{fmt.Sprintf("froze %s: %s", account, reason)}, nil
}

// cmdUnfreeze implements `unfreeze <account>`.
func cmdUnfreeze(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, parseErrorf("usage: unfreeze <account>")
	}
	account := args[0]

	lifted, err := d.store.UnfreezeAccount(ctx, account, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("unfreeze: %w", err)
	}
	if !lifted {
		return nil, notFoundErrorf("%s has no open freeze", account)
	}
	return []string{fmt.Sprintf("unfroze %s", account)}, nil
}
