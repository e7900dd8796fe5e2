package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexGlobPatternMarksWildcards(t *testing.T) {
	cs := LexGlobPattern(`*.example.com`)
	require.Equal(t, PartSymbol, cs[0].Kind)
	require.Equal(t, "*", cs[0].Text)
	require.Equal(t, PartText, cs[1].Kind)
}

func TestLexGlobPatternRespectsEscapes(t *testing.T) {
	cs := LexGlobPattern(`a\*b`)
	require.Equal(t, PartText, cs[1].Kind)
	require.Equal(t, `\`, cs[1].Text)
	require.Equal(t, PartText, cs[2].Kind)
}

func TestGlobToSQLTranslatesWildcards(t *testing.T) {
	cs := LexGlobPattern(`*.ex_ample.com?`)
	sql := GlobToSQL(cs)
	require.Equal(t, `%.ex\_ample.com_`, ToLikePattern(sql))
}

func TestGlobToSQLIsIdempotentOnPlainText(t *testing.T) {
	cs := LexGlobPattern(`plain.host.example`)
	sql := GlobToSQL(cs)
	require.Equal(t, "plain.host.example", ToLikePattern(sql))
}

func TestLooksLikeGlob(t *testing.T) {
	require.True(t, LooksLikeGlob("foo*bar"))
	require.True(t, LooksLikeGlob("a?b"))
	require.False(t, LooksLikeGlob("plain"))
}

func TestNormaliseNickUsesRFC1459(t *testing.T) {
	cs := Normalise(Text(`Ni[ck]`), FieldNick)
	require.Equal(t, "ni{ck}", ToLikePattern(cs))
}

func TestNormaliseMaskSplitsOnFirstAt(t *testing.T) {
	cs := Normalise(Text(`User[1]@Host[A].Example`), FieldMask)
	require.Equal(t, "user{1}@host{a}.example", ToLikePattern(cs))
}

func TestNormaliseMaskLowersSubsequentPartsAfterFirstAt(t *testing.T) {
	// Once a prior part has already carried an "@", the stateful split
	// rule has fired: a later part is plain ASCII-lowered rather than
	// RFC1459-folded, since it is assumed to be the tail of the host half.
	cs := Normalise(CompositeString{
		{Kind: PartText, Text: "User@Host"},
		{Kind: PartText, Text: "Extra[X]"},
	}, FieldMask)
	require.Equal(t, "user@host", cs[0].Text)
	require.Equal(t, "extra[x]", cs[1].Text)
}

func TestNormalisePreservesGlobSymbolsThroughCasefold(t *testing.T) {
	lexed := LexGlobPattern(`*.EXAMPLE.com`)
	cs := Normalise(lexed, FieldHost)
	require.Equal(t, "*.example.com", ToLikePattern(cs))
}
