package search

// FieldKind is the search column a CompositeString is being normalised
// for. The casefolding policy differs per field.
type FieldKind int

const (
	FieldNick FieldKind = iota
	FieldUser
	FieldReal
	FieldHost
	FieldTag
	FieldMask
	FieldEmail
)

// casefoldRFC1459 is the same ASCII+{}|^ casemap the irc package uses for
// nick/channel comparison, duplicated here rather than imported so that
// internal/search has no dependency on the wire-protocol package — the
// normaliser is a property of the data model, not of the connection.
func casefoldRFC1459(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case 'A' <= c && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c == '[':
			b[i] = '{'
		case c == ']':
			b[i] = '}'
		case c == '\\':
			b[i] = '|'
		case c == '~':
			b[i] = '^'
		}
	}
	return string(b)
}

func casefoldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Normalise applies the search-column casefolding policy for kind to a
// composite string, leaving Symbol parts untouched. Mask fields get a
// stateful rule: text is RFC1459-folded up to (and including) the part
// holding the first literal `@` seen across the whole string, and plain
// ASCII-folded from that point on. This is what lets a `user@host` style
// mask normalise its host half the same way a bare hostname would, even
// when a wildcard straddles the `@`.
func Normalise(in CompositeString, kind FieldKind) CompositeString {
	out := make(CompositeString, 0, len(in))
	seenAt := false
	for _, part := range in {
		if part.Kind != PartText {
			out = append(out, part)
			continue
		}

		var text string
		switch kind {
		case FieldNick, FieldUser, FieldTag:
			text = casefoldRFC1459(part.Text)
		case FieldMask:
			if seenAt {
				text = casefoldASCII(part.Text)
			} else if !containsByte(part.Text, '@') {
				text = casefoldRFC1459(part.Text)
			} else {
				user, host, _ := cutByte(part.Text, '@')
				text = casefoldRFC1459(user) + "@" + casefoldRFC1459(host)
			}
		default:
			text = casefoldASCII(part.Text)
		}

		out = append(out, Part{Kind: PartText, Text: text})
		if containsByte(part.Text, '@') {
			seenAt = true
		}
	}
	return out
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

// cutByte splits s on the first occurrence of b, like strings.Cut.
func cutByte(s string, b byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
