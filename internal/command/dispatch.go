// Package command routes `command <args>` text received via PRIVMSG or
// channel highlight to handler functions, gated on the caller carrying an
// oper-identity message tag, and formats each handler's result as a
// sequence of NOTICE lines.
package command

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"git.sr.ht/~kline/solaudit/internal/store"
)

// handlerFunc is one command's implementation. It returns the NOTICE lines
// to send back, or an error (ParseError/NotFoundError map to a single
// line; a StoreError, which only eval returns, is surfaced verbatim; any
// other error is logged and swallowed).
type handlerFunc func(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error)

// table is the static `{name -> handler}` map, built at startup. No
// reflection over method names.
var table map[string]handlerFunc

func init() {
	table = map[string]handlerFunc{
		"help":     cmdHelp,
		"kcheck":   cmdKcheck,
		"cliconn":  cmdCliconn,
		"ktag":     cmdKtag,
		"unktag":   cmdUnktag,
		"ktaglast": cmdKtaglast,
		"statsp":   cmdStatsp,
		"pref":     cmdPref,
		"eval":     cmdEval,
		"freeze":   cmdFreeze,
		"unfreeze": cmdUnfreeze,
	}
}

// commandNames lists the command table in a fixed, sorted order for help
// output.
func commandNames() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const (
	defaultLimit = 3
	maxLimit     = 50
	tsFudgeMins  = 5
)

// Dispatcher holds the dependencies every command handler needs.
type Dispatcher struct {
	store *store.Store
	log   *slog.Logger
}

// New builds a Dispatcher.
func New(st *store.Store, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: st, log: log}
}

// Dispatch handles one PRIVMSG/highlight body. hasOperTag gates the whole
// surface: a caller without the oper-identity tag gets silence, not an
// error. An unrecognised command name is likewise silent.
func (d *Dispatcher) Dispatch(ctx context.Context, oper string, hasOperTag bool, text string) []string {
	if !hasOperTag {
		return nil
	}

	tokens, err := Tokenize(text)
	if err != nil {
		return []string{"parse error: " + err.Error()}
	}
	if len(tokens) == 0 {
		return nil
	}

	name := tokens[0]
	handler, ok := table[name]
	if !ok {
		return nil
	}

	corrID := uuid.NewString()
	log := d.log.With("command", name, "oper", oper, "correlation_id", corrID)
	log.Debug("command: dispatched", "args", tokens[1:])

	lines, err := handler(ctx, d, oper, tokens[1:])
	if err == nil {
		return lines
	}

	switch e := err.(type) {
	case ParseError:
		return []string{"parse error: " + e.Msg}
	case NotFoundError:
		return []string{"not found: " + e.Msg}
	case PermissionDeniedError:
		log.Debug("command: permission denied, degrading silently", "err", err)
		return nil
	case StoreError:
		// Only cmdEval constructs a StoreError; every other handler's SQL
		// failure is a plain wrapped error and falls through to default,
		// logged but never shown to the caller.
		log.Warn("command: store error", "err", e.Err)
		return []string{"store error: " + e.Err.Error()}
	default:
		log.Warn("command: handler aborted on internal error", "err", err)
		return nil
	}
}

