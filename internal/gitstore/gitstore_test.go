package gitstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/store"
)

func TestBlobRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	oid, err := s.WriteBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	got, err := s.ReadBlob(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestBlobIsContentAddressed(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	a, err := s.WriteBlob(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := s.WriteBlob(ctx, []byte("same"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestTreeRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	blobOid, err := s.WriteBlob(ctx, []byte("x"))
	require.NoError(t, err)

	treeOid, err := s.WriteTree(ctx, []store.TreeEntry{
		{Name: "a.txt", Oid: blobOid, Kind: store.KindBlob},
	})
	require.NoError(t, err)

	entries, err := s.ReadTree(ctx, treeOid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, blobOid, entries[0].Oid)
}

func TestCommitRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	treeOid, err := s.WriteTree(ctx, nil)
	require.NoError(t, err)

	id := store.Identity{Name: "Author", Email: "author@example.com", Unix: 1000}
	commitOid, err := s.WriteCommit(ctx, store.CommitSpec{
		Tree:      treeOid,
		Author:    id,
		Committer: id,
		Message:   "test commit\n",
	})
	require.NoError(t, err)
	require.NotEmpty(t, commitOid)
}

func TestRefLockUpdateReadDelete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	lock, err := s.Lock(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
	defer lock.Unlock()

	require.NoError(t, s.Update(ctx, "refs/svn/trunk.1", "", "abc123"))

	got, ok, err := s.Read(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", got)

	require.NoError(t, s.Update(ctx, "refs/svn/trunk.1", "abc123", "def456"))
	got, _, err = s.Read(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
	require.Equal(t, "def456", got)

	require.NoError(t, s.Delete(ctx, "refs/svn/trunk.1"))
	_, ok, err = s.Read(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateRejectsWrongOldOid(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, "refs/svn/trunk.1", "", "abc"))
	err := s.Update(ctx, "refs/svn/trunk.1", "wrong", "def")
	require.Error(t, err)
}

func TestLockRejectsConcurrentHolder(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	lock, err := s.Lock(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
	_, err = s.Lock(ctx, "refs/svn/trunk.1")
	require.Error(t, err)
	lock.Unlock()
	_, err = s.Lock(ctx, "refs/svn/trunk.1")
	require.NoError(t, err)
}
