package mergeinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSerialiseRoundTrip(t *testing.T) {
	text := "/branches/b:1-5,9\n/trunk:1-3\n"
	info, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, text, info.Serialise())
}

func TestParseCoalescesAdjacentRanges(t *testing.T) {
	info, err := Parse("/trunk:1-5,6-10\n")
	require.NoError(t, err)
	require.Equal(t, "/trunk:1-10\n", info.Serialise())
}

func TestParseCoalescesOverlapping(t *testing.T) {
	info, err := Parse("/trunk:1-5,3-10,12\n")
	require.NoError(t, err)
	require.Equal(t, "/trunk:1-10,12\n", info.Serialise())
}

func TestMergeWithEmptyIsIdentity(t *testing.T) {
	a, err := Parse("/trunk:1-5\n")
	require.NoError(t, err)
	empty := New()
	got := Merge(a.Clone(), empty, New())
	require.True(t, got.Equal(a))
}

func TestMergeIsIdempotent(t *testing.T) {
	a, err := Parse("/trunk:1-5\n")
	require.NoError(t, err)
	got := Merge(a.Clone(), a, New())
	require.True(t, got.Equal(a))
}

func TestMergeAppliesMask(t *testing.T) {
	a := New()
	b, err := Parse("/trunk:1-10\n")
	require.NoError(t, err)
	mask, err := Parse("/trunk:4-6\n")
	require.NoError(t, err)

	got := Merge(a, b, mask)
	require.Equal(t, "/trunk:1-3,7-10\n", got.Serialise())
}

func TestSerialiseIsSortedAndCoalesced(t *testing.T) {
	info := New()
	info.Paths["/z"] = []Range{{From: 5, To: 5}, {From: 1, To: 3}}
	info.Paths["/a"] = []Range{{From: 2, To: 2}}
	require.Equal(t, "/a:2\n/z:1-3,5\n", info.Serialise())
}

func TestParseRejectsMissingColon(t *testing.T) {
	_, err := Parse("no-colon-here")
	require.Error(t, err)
}

func TestParseIgnoresInheritableMarker(t *testing.T) {
	info, err := Parse("/trunk:1-5*,7*\n")
	require.NoError(t, err)
	require.Equal(t, "/trunk:1-5,7\n", info.Serialise())
}
