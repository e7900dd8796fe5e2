// Package services parses NickServ and OperServ PRIVMSGs. Both services
// speak the same fixed grammar: a nick (and optional account in parens),
// a colon-terminated command word, then free-form arguments.
package services

import (
	"regexp"
	"strings"
)

// reCommand matches "NICK [(ACCOUNT)] COMMAND: ARGS", the shared
// notification grammar of both service bots.
var reCommand = regexp.MustCompile(`^(?P<nickname>\S+)(?: \((?P<account>[^)]*)\))? (?P<command>[A-Z:]+):(?: (?P<args>.*))?$`)

var embeddedTag = regexp.MustCompile(`%(\S+)`)

// Command is one parsed NickServ/OperServ notification line.
type Command struct {
	Nickname string
	Account  string // "" if the service omitted the (account) parenthetical
	Name     string // e.g. "REGISTER", "DROP", "SET:ACCOUNTNAME", "VERIFY:REGISTER", "KLINECHAN:ON"
	Args     string
}

// Parse extracts a Command from one line of NickServ/OperServ PRIVMSG text.
// It returns ok=false for lines that don't match the fixed grammar, which
// callers should silently ignore (the services emit plenty of free-form
// chatter that isn't a structured notification).
func Parse(text string) (Command, bool) {
	m := reCommand.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}
	g := namedGroups(reCommand, m)
	return Command{
		Nickname: g["nickname"],
		Account:  g["account"],
		Name:     g["command"],
		Args:     g["args"],
	}, true
}

// ExtractTags pulls every %tag token out of a free-form reason string, the
// same grammar klineadd and KLINECHAN:ON share.
func ExtractTags(s string) []string {
	matches := embeddedTag.FindAllStringSubmatch(s, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

func namedGroups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}

// splitPrefix splits "ACCOUNT to EMAIL" / "ACCOUNT " style argument
// bodies on the first occurrence of sep; each command applies its own
// small split rather than folding everything into reCommand.
func splitPrefix(args, sep string) (head, rest string, ok bool) {
	i := strings.Index(args, sep)
	if i < 0 {
		return "", "", false
	}
	return args[:i], args[i+len(sep):], true
}
