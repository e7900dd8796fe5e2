package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRegisterLine(t *testing.T) {
	cmd, ok := Parse("jess (jess) REGISTER: jess to jess@example.com")
	require.True(t, ok)
	require.Equal(t, "jess", cmd.Nickname)
	require.Equal(t, "jess", cmd.Account)
	require.Equal(t, "REGISTER", cmd.Name)
	require.Equal(t, "jess to jess@example.com", cmd.Args)
}

func TestParseWithoutAccountParenthetical(t *testing.T) {
	cmd, ok := Parse("jess DROP: jess")
	require.True(t, ok)
	require.Equal(t, "jess", cmd.Nickname)
	require.Equal(t, "", cmd.Account)
	require.Equal(t, "DROP", cmd.Name)
	require.Equal(t, "jess", cmd.Args)
}

func TestParseKlinechanOn(t *testing.T) {
	cmd, ok := Parse("jess (jess) KLINECHAN:ON: #spam (reason: too much spam %spam)")
	require.True(t, ok)
	require.Equal(t, "KLINECHAN:ON", cmd.Name)
	channel, reason, ok := klinechanOnArgs(cmd.Args)
	require.True(t, ok)
	require.Equal(t, "#spam", channel)
	require.Equal(t, "too much spam %spam", reason)
}

func TestParseCloseOnSharesKlinechanGrammar(t *testing.T) {
	cmd, ok := Parse("jess (jess) CLOSE:ON: #flood (reason: join flood)")
	require.True(t, ok)
	require.Equal(t, "CLOSE:ON", cmd.Name)
	channel, reason, ok := klinechanOnArgs(cmd.Args)
	require.True(t, ok)
	require.Equal(t, "#flood", channel)
	require.Equal(t, "join flood", reason)
}

func TestParseRejectsUnstructuredChatter(t *testing.T) {
	_, ok := Parse("jess just said hello on the channel")
	require.False(t, ok)
}

func TestExtractTagsFindsAllTokens(t *testing.T) {
	tags := ExtractTags("too much spam %spam %abuse")
	require.Equal(t, []string{"spam", "abuse"}, tags)
}

func TestExtractTagsEmptyWhenNone(t *testing.T) {
	require.Empty(t, ExtractTags("no tags here"))
}

func TestSplitPrefixFindsSeparator(t *testing.T) {
	head, rest, ok := splitPrefix("jess to jess@example.com", " to ")
	require.True(t, ok)
	require.Equal(t, "jess", head)
	require.Equal(t, "jess@example.com", rest)
}

func TestSplitPrefixMissingSeparator(t *testing.T) {
	_, _, ok := splitPrefix("nothing here", " to ")
	require.False(t, ok)
}
