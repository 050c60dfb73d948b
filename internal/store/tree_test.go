package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndFindFile(t *testing.T) {
	tr := NewTree(false)
	tr.AddFile("a/b/c.txt", "oid1")
	oid, ok := tr.Lookup("a/b/c.txt")
	require.True(t, ok)
	require.Equal(t, "oid1", oid)

	files := tr.Files("")
	require.Len(t, files, 1)
	require.Equal(t, "a/b/c.txt", files[0].Path)
}

func TestAddFileRemovesSentinel(t *testing.T) {
	tr := NewTree(false)
	tr.EnsureEmptyDirSentinel("dir", "emptyoid")
	require.Len(t, tr.Files("dir"), 0) // sentinels are filtered from Files

	tr.AddFile("dir/real.txt", "oid2")
	_, sentinelPresent := tr.Lookup("dir/.gitempty")
	require.False(t, sentinelPresent)
	files := tr.Files("dir")
	require.Len(t, files, 1)
	require.Equal(t, "dir/real.txt", files[0].Path)
}

func TestDeleteFileIsNoopWhenMissing(t *testing.T) {
	tr := NewTree(false)
	require.NotPanics(t, func() { tr.DeleteFile("nope") })
}

func TestDeleteFile(t *testing.T) {
	tr := NewTree(false)
	tr.AddFile("a.txt", "oid1")
	tr.AddFile("b.txt", "oid2")
	tr.DeleteFile("a.txt")
	_, ok := tr.Lookup("a.txt")
	require.False(t, ok)
	_, ok = tr.Lookup("b.txt")
	require.True(t, ok)
}

func TestCaseInsensitiveLookup(t *testing.T) {
	tr := NewTree(true)
	tr.AddFile("README.md", "oid1")
	_, ok := tr.Lookup("readme.md")
	require.True(t, ok)
}

func TestEnsureEmptyDirSentinelOnlyWhenEmpty(t *testing.T) {
	tr := NewTree(false)
	tr.AddFile("dir/file.txt", "oid1")
	tr.EnsureEmptyDirSentinel("dir", "emptyoid")
	files := tr.Files("dir")
	require.Len(t, files, 1, "sentinel must not be added to a non-empty directory")
}
