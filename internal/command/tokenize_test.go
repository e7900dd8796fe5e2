package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsOnWhitespace(t *testing.T) {
	toks, err := Tokenize("kcheck nick FOO* 5")
	require.NoError(t, err)
	require.Equal(t, []string{"kcheck", "nick", "FOO*", "5"}, toks)
}

func TestTokenizeHonoursDoubleQuotes(t *testing.T) {
	toks, err := Tokenize(`ktag 12 "too much spam"`)
	require.NoError(t, err)
	require.Equal(t, []string{"ktag", "12", "too much spam"}, toks)
}

func TestTokenizeHonoursSingleQuotes(t *testing.T) {
	toks, err := Tokenize(`eval 'select 1' 3`)
	require.NoError(t, err)
	require.Equal(t, []string{"eval", "select 1", "3"}, toks)
}

func TestTokenizeHonoursBackslashEscapes(t *testing.T) {
	toks, err := Tokenize(`kcheck mask foo\ bar`)
	require.NoError(t, err)
	require.Equal(t, []string{"kcheck", "mask", "foo bar"}, toks)
}

func TestTokenizeRejectsUnterminatedQuote(t *testing.T) {
	_, err := Tokenize(`ktag 12 "unterminated`)
	require.Error(t, err)
}

func TestTokenizeRejectsTrailingBackslash(t *testing.T) {
	_, err := Tokenize(`kcheck mask foo\`)
	require.Error(t, err)
}

func TestTokenizeEmptyStringYieldsNoTokens(t *testing.T) {
	toks, err := Tokenize("")
	require.NoError(t, err)
	require.Empty(t, toks)
}
