package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~kline/solaudit/internal/search"
)

func TestLikePatternFoldsTextLeavesWildcards(t *testing.T) {
	require.Equal(t, "foo%", likePattern("FOO*", search.FieldNick))
}

func TestLikePatternEscapesLiteralWildcardColumnChars(t *testing.T) {
	require.Equal(t, `foo\_bar`, likePattern("foo_bar", search.FieldNick))
}

func TestLikePatternMaskSplitsFoldingAtAt(t *testing.T) {
	// "*Alice*@Host*" -> local part folded, host lowercased, wildcards
	// untouched.
	require.Equal(t, "%alice%@host%", likePattern("*Alice*@Host*", search.FieldMask))
}

func TestClassifyIPQueryExactAddress(t *testing.T) {
	kind, cidr, err := classifyIPQuery("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, ipCIDR, kind)
	require.Equal(t, "1.2.3.4/32", cidr)
}

func TestClassifyIPQueryCIDR(t *testing.T) {
	kind, cidr, err := classifyIPQuery("1.2.3.0/24")
	require.NoError(t, err)
	require.Equal(t, ipCIDR, kind)
	require.Equal(t, "1.2.3.0/24", cidr)
}

func TestClassifyIPQueryGlob(t *testing.T) {
	kind, _, err := classifyIPQuery("1.2.3.*")
	require.NoError(t, err)
	require.Equal(t, ipGlob, kind)
}

func TestClassifyIPQueryRejectsGarbage(t *testing.T) {
	_, _, err := classifyIPQuery("not-an-ip")
	require.Error(t, err)
}

func TestDedupeInt64PreservesFirstSeenOrder(t *testing.T) {
	require.Equal(t, []int64{3, 1, 2}, dedupeInt64([]int64{3, 1}, []int64{1, 2}))
}
