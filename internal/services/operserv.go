package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.sr.ht/~kline/solaudit/internal/store"
)

// klinechanOnArgs pulls the channel and free-form reason out of a
// KLINECHAN:ON argument body ("#chan (reason: spam)").
func klinechanOnArgs(args string) (channel, reason string, ok bool) {
	const marker = " (reason: "
	chanPart, rest, found := splitPrefix(args, marker)
	if !found {
		return "", "", false
	}
	reason, ok = trimSuffixParen(rest)
	if !ok {
		return "", "", false
	}
	return chanPart, reason, true
}

func trimSuffixParen(s string) (string, bool) {
	if len(s) == 0 || s[len(s)-1] != ')' {
		return "", false
	}
	return s[:len(s)-1], true
}

// OperServ tracks OperServ KLINECHAN:ON and CLOSE:ON notifications.
type OperServ struct {
	store *store.Store
	log   *slog.Logger
}

// NewOperServ builds an OperServ parser.
func NewOperServ(st *store.Store, log *slog.Logger) *OperServ {
	if log == nil {
		log = slog.Default()
	}
	return &OperServ{store: st, log: log}
}

// Handle parses one OperServ notification line and applies its effect.
func (o *OperServ) Handle(ctx context.Context, text string, ts time.Time) error {
	cmd, ok := Parse(text)
	if !ok {
		return nil
	}

	switch cmd.Name {
	case "KLINECHAN:ON":
		return o.handleKlinechanOn(ctx, cmd, ts)
	case "CLOSE:ON":
		return o.handleCloseOn(ctx, cmd, ts)
	default:
		return nil
	}
}

// handleCloseOn records a plain channel closure; the argument grammar is
// the same as KLINECHAN:ON's.
func (o *OperServ) handleCloseOn(ctx context.Context, cmd Command, ts time.Time) error {
	channel, reason, ok := klinechanOnArgs(cmd.Args)
	if !ok {
		o.log.Warn("operserv: CLOSE:ON args did not match expected grammar", "args", cmd.Args)
		return nil
	}

	oper := cmd.Account
	if oper == "" {
		oper = cmd.Nickname
	}

	id, err := o.store.InsertChannelClose(ctx, channel, oper, reason, ts)
	if err != nil {
		return fmt.Errorf("services: insert channel_close: %w", err)
	}

	for _, tag := range ExtractTags(reason) {
		if err := o.store.InsertCloseTag(ctx, id, tag, oper, ts); err != nil {
			return fmt.Errorf("services: insert close_tag: %w", err)
		}
	}
	return nil
}

func (o *OperServ) handleKlinechanOn(ctx context.Context, cmd Command, ts time.Time) error {
	channel, reason, ok := klinechanOnArgs(cmd.Args)
	if !ok {
		o.log.Warn("operserv: KLINECHAN:ON args did not match expected grammar", "args", cmd.Args)
		return nil
	}

	// The acting oper's services account is the more stable identity;
	// fall back to their nick only when no account is attached to the
	// notice.
	oper := cmd.Account
	if oper == "" {
		oper = cmd.Nickname
	}

	id, err := o.store.InsertKlineChan(ctx, channel, oper, reason, ts)
	if err != nil {
		return fmt.Errorf("services: insert klinechan: %w", err)
	}

	for _, tag := range ExtractTags(reason) {
		if err := o.store.InsertKlinechanTag(ctx, id, tag, oper, ts); err != nil {
			return fmt.Errorf("services: insert klinechan_tag: %w", err)
		}
	}
	return nil
}
