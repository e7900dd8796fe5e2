// Package search turns operator-typed glob patterns into casefolded,
// SQL LIKE-ready patterns while keeping the `?`/`*` wildcard positions
// intact through casefolding.
package search

import "strings"

// PartKind distinguishes literal text from a wildcard/escape symbol inside
// a CompositeString.
type PartKind int

const (
	PartText PartKind = iota
	PartSymbol
)

// Part is one run of a CompositeString: either literal text to be
// casefolded, or a symbol (an unescaped `?`/`*`, later a translated
// `_`/`%`/`\_`/`\%`) that normalisation and glob translation must leave
// alone.
type Part struct {
	Kind PartKind
	Text string
}

// CompositeString is an ordered sequence of Parts, preserving which runs
// are literal text versus wildcard symbols through casefolding and SQL
// translation.
type CompositeString []Part

// String concatenates every part's text, regardless of kind.
func (cs CompositeString) String() string {
	var sb strings.Builder
	for _, p := range cs {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Text wraps a literal run as a CompositeString of length 1, for callers
// that have a plain string and no glob syntax to preserve (e.g. an exact
// non-glob search term).
func Text(s string) CompositeString {
	return CompositeString{{Kind: PartText, Text: s}}
}

var globWildcards = map[byte]byte{'?': '_', '*': '%'}

// sqlWildcards is the set of characters that are themselves significant in
// a Postgres LIKE pattern and so must be escaped when they appear as
// literal text in the search term.
var sqlWildcards = map[byte]bool{'_': true, '%': true}

// FindUnescaped returns the byte offsets in s where one of chars appears
// and is not itself preceded by an unconsumed backslash escape.
func FindUnescaped(s string, chars map[byte]bool) []int {
	var idx []int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			i++
			continue
		}
		if chars[c] {
			idx = append(idx, i)
		}
	}
	return idx
}

// LooksLikeGlob reports whether s contains a `?`/`*`, the cheap test for
// whether a search term needs glob handling at all.
func LooksLikeGlob(s string) bool {
	return strings.ContainsAny(s, "?*")
}

// LexGlobPattern splits glob into a CompositeString, marking each
// unescaped `?`/`*` byte as a Symbol part and everything else as Text.
func LexGlobPattern(glob string) CompositeString {
	special := map[int]bool{}
	for _, i := range FindUnescaped(glob, map[byte]bool{'?': true, '*': true}) {
		special[i] = true
	}

	out := make(CompositeString, 0, len(glob))
	for i := 0; i < len(glob); i++ {
		kind := PartText
		if special[i] {
			kind = PartSymbol
		}
		out = append(out, Part{Kind: kind, Text: string(glob[i])})
	}
	return out
}

// GlobToSQL rewrites a lexed glob pattern into its Postgres LIKE
// equivalent: `?`/`*` symbols become `_`/`%`, and any literal `_`/`%` in the
// original text is escaped so it is not mistaken for a wildcard.
func GlobToSQL(glob CompositeString) CompositeString {
	out := make(CompositeString, 0, len(glob))
	for _, part := range glob {
		switch {
		case part.Kind == PartSymbol && len(part.Text) == 1 && globWildcards[part.Text[0]] != 0:
			out = append(out, Part{Kind: PartSymbol, Text: string(globWildcards[part.Text[0]])})
		case len(part.Text) == 1 && sqlWildcards[part.Text[0]]:
			out = append(out, Part{Kind: PartSymbol, Text: `\` + part.Text})
		default:
			out = append(out, part)
		}
	}
	return out
}

// ToLikePattern renders cs as the final string to hand to a Postgres LIKE
// clause (or to a `$N` bind parameter for one).
func ToLikePattern(cs CompositeString) string {
	return cs.String()
}
