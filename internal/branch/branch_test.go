package branch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBranchCreatesAndReuses(t *testing.T) {
	reg := NewRegistry()
	b1 := reg.GetBranch("/trunk", 5)
	require.EqualValues(t, 5, b1.Start)

	b2 := reg.GetBranch("/trunk", 7)
	require.Same(t, b1, b2, "revision 7 should resolve to the slice starting at 5")
}

func TestGetBranchPartitionInvariant(t *testing.T) {
	reg := NewRegistry()
	reg.GetBranch("/trunk", 1)
	older, err := reg.Split(reg.GetBranch("/trunk", 1), 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, older.Start)

	// revisions 1..9 resolve to the older slice Split carved off, which
	// kept Start == 1.
	b := reg.GetBranch("/trunk", 9)
	require.EqualValues(t, 1, b.Start)

	b2 := reg.GetBranch("/trunk", 10)
	require.EqualValues(t, 10, b2.Start)

	b3 := reg.GetBranch("/trunk", 100)
	require.EqualValues(t, 10, b3.Start, "lookup must return the slice with the greatest start <= rev")
}

func TestSplitRejectsNonIncreasingStart(t *testing.T) {
	reg := NewRegistry()
	b := reg.GetBranch("/trunk", 5)
	_, err := reg.Split(b, 5)
	require.Error(t, err)
	_, err = reg.Split(b, 1)
	require.Error(t, err)
}

func TestSplitRewiresCopiers(t *testing.T) {
	reg := NewRegistry()
	trunk := reg.GetBranch("/trunk", 1)
	trunk.Rev = 20
	early := &Branch{Path: "/branches/early", Start: 3}
	late := &Branch{Path: "/branches/late", Start: 15}
	trunk.CopiedInto = []*Branch{early, late}

	older, err := reg.Split(trunk, 10)
	require.NoError(t, err)

	require.Contains(t, older.CopiedInto, early)
	require.NotContains(t, older.CopiedInto, late)
	require.Contains(t, trunk.CopiedInto, late)
	require.NotContains(t, trunk.CopiedInto, early)
}

func TestAllSortedByPathThenStart(t *testing.T) {
	reg := NewRegistry()
	reg.GetBranch("/trunk", 1)
	reg.GetBranch("/branches/b", 5)
	reg.GetBranch("/branches/b", 5) // idempotent, same slice
	all := reg.All()
	require.Len(t, all, 2)
	require.Equal(t, "/branches/b", all[0].Path)
	require.Equal(t, "/trunk", all[1].Path)
}
