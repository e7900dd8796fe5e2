package command

import "context"

// helpText holds one short usage line per command. `help` with no
// argument lists every command name; `help <cmd>` prints that command's
// usage line.
var helpText = map[string]string{
	"help":     "help [cmd] - list commands, or show usage for one",
	"kcheck":   "kcheck <nick|host|mask|ts|tag|reason|id|ip> <query> [count] - search k-lines",
	"cliconn":  "cliconn <nick|user|host|real|id|ip> <query> [count] - search client connects",
	"ktag":     "ktag <kline_id> <tag> - attach a tag to a k-line",
	"unktag":   "unktag <kline_id> <tag> - remove a tag from a k-line",
	"ktaglast": "ktaglast <n> <tag> - tag the last n k-lines you set",
	"statsp":   "statsp [YYYY-MM-DD] - on-duty minute totals per oper since a date",
	"pref":     "pref [key [value]] - list, read, or set your preferences",
	"eval":     "eval <read-only SQL> [limit] - run an ad-hoc read-only query",
	"freeze":   "freeze <account> <reason> - record an account freeze",
	"unfreeze": "unfreeze <account> - lift an account freeze",
}

func cmdHelp(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	if len(args) == 0 {
		names := commandNames()
		return []string{"commands: " + joinComma(names)}, nil
	}
	text, ok := helpText[args[0]]
	if !ok {
		return nil, notFoundErrorf("no such command %q", args[0])
	}
	return []string{text}, nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
