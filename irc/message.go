// Package irc implements just enough of the Solanum/IRCv3 wire protocol to
// register as a privileged operator, negotiate SASL, request the oper-only
// snote classes, and exchange PRIVMSG/NOTICE traffic with opers and service
// bots. It implements a workable subset of the wire protocol rather than
// chasing every IRCv3 edge case.
package irc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	errNotEnoughParams = errors.New("irc: not enough parameters")
	errInvalidMessage  = errors.New("irc: invalid message")
)

// Prefix is the source (nick!user@host, or a server name) of a message.
type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix splits a raw "nick!user@host" (or bare server name) string.
func ParsePrefix(s string) *Prefix {
	if s == "" {
		return nil
	}
	p := &Prefix{Name: s}
	if i := strings.IndexByte(s, '!'); i >= 0 {
		p.Name = s[:i]
		s = s[i+1:]
		if j := strings.IndexByte(s, '@'); j >= 0 {
			p.User = s[:j]
			p.Host = s[j+1:]
		} else {
			p.User = s
		}
	} else if j := strings.IndexByte(s, '@'); j >= 0 {
		p.Name = s[:j]
		p.Host = s[j+1:]
	}
	return p
}

func (p *Prefix) Copy() *Prefix {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (p *Prefix) String() string {
	if p == nil {
		return ""
	}
	if p.User == "" && p.Host == "" {
		return p.Name
	}
	if p.Host == "" {
		return p.Name + "!" + p.User
	}
	return p.Name + "!" + p.User + "@" + p.Host
}

// Message is a single parsed IRC line, tags, prefix, command, params.
type Message struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string
}

// NewMessage builds an outgoing message with the given command and params.
// String later writes the last param as the trailing one when it contains
// a space, is empty or starts with ':' (per RFC1459 wire rules) — the
// caller is trusted to pass at most one trailing-shaped argument, as the
// last.
func NewMessage(command string, params ...string) Message {
	return Message{Command: command, Params: params}
}

// WithTag returns a copy of m with the given client tag set.
func (m Message) WithTag(key, value string) Message {
	tags := make(map[string]string, len(m.Tags)+1)
	for k, v := range m.Tags {
		tags[k] = v
	}
	tags[key] = value
	m.Tags = tags
	return m
}

// String renders m back into wire format, CRLF-terminated.
func (m Message) String() string {
	var sb strings.Builder
	if len(m.Tags) != 0 {
		sb.WriteByte('@')
		sb.WriteString(formatTags(m.Tags))
		sb.WriteByte(' ')
	}
	if m.Prefix != nil {
		sb.WriteByte(':')
		sb.WriteString(m.Prefix.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Command)
	for i, p := range m.Params {
		sb.WriteByte(' ')
		last := i == len(m.Params)-1
		if last && (p == "" || strings.ContainsAny(p, " ") || strings.HasPrefix(p, ":")) {
			sb.WriteByte(':')
		}
		sb.WriteString(p)
	}
	sb.WriteString("\r\n")
	return sb.String()
}

func formatTags(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		if v == "" {
			parts = append(parts, tagEscape(k))
		} else {
			parts = append(parts, tagEscape(k)+"="+tagEscape(v))
		}
	}
	return strings.Join(parts, ";")
}

var tagEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\:`,
	" ", `\s`,
	"\r", `\r`,
	"\n", `\n`,
)

func tagEscape(s string) string {
	return tagEscaper.Replace(s)
}

var tagUnescaper = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\r`, "\r",
	`\n`, "\n",
	`\\`, `\`,
)

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		if i := strings.IndexByte(kv, '='); i >= 0 {
			tags[kv[:i]] = tagUnescaper.Replace(kv[i+1:])
		} else {
			tags[kv] = ""
		}
	}
	return tags
}

// Tokenize parses a single raw IRC line (no trailing CRLF) into a Message.
func Tokenize(line string) (Message, error) {
	var m Message
	if line == "" {
		return m, errInvalidMessage
	}

	if line[0] == '@' {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return m, errInvalidMessage
		}
		m.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if len(line) > 0 && line[0] == ':' {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return m, errInvalidMessage
		}
		m.Prefix = ParsePrefix(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	for line != "" {
		if line[0] == ':' {
			m.Params = append(m.Params, line[1:])
			break
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			m.Params = append(m.Params, line)
			break
		}
		m.Params = append(m.Params, line[:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if len(m.Params) == 0 {
		return m, errInvalidMessage
	}
	m.Command = strings.ToUpper(m.Params[0])
	m.Params = m.Params[1:]
	return m, nil
}

// ParseParams fills ptrs (in order) from m.Params; a nil pointer skips that
// position. Returns errNotEnoughParams if m.Params is shorter than ptrs.
func (m Message) ParseParams(ptrs ...*string) error {
	if len(m.Params) < len(ptrs) {
		return m.errNotEnoughParams(len(ptrs))
	}
	for i, p := range ptrs {
		if p != nil {
			*p = m.Params[i]
		}
	}
	return nil
}

func (m Message) errNotEnoughParams(want int) error {
	return fmt.Errorf("%s: %w (want %d, got %d)", m.Command, errNotEnoughParams, want, len(m.Params))
}

// TimeOrNow reads the server-time tag, falling back to time.Now().
func (m Message) TimeOrNow() time.Time {
	if raw, ok := m.Tags["time"]; ok {
		if t, ok := parseTimestamp(raw); ok {
			return t
		}
	}
	return time.Now()
}

func parseTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsReply reports whether m.Command is a 3-digit numeric reply.
func (m Message) IsReply() bool {
	if len(m.Command) != 3 {
		return false
	}
	_, err := strconv.Atoi(m.Command)
	return err == nil
}

// Cap is one capability token from a CAP LS/ACK/NEW/DEL line.
type Cap struct {
	Name   string
	Value  string
	Enable bool
}

// ParseCaps splits a CAP value list ("sasl cap-notify=foo -echo-message")
// into individual tokens.
func ParseCaps(raw string) []Cap {
	var caps []Cap
	for _, tok := range strings.Fields(raw) {
		c := Cap{Enable: true}
		if strings.HasPrefix(tok, "-") {
			c.Enable = false
			tok = tok[1:]
		}
		if i := strings.IndexByte(tok, '='); i >= 0 {
			c.Name = tok[:i]
			c.Value = tok[i+1:]
		} else {
			c.Name = tok
		}
		caps = append(caps, c)
	}
	return caps
}
