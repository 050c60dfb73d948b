package revcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/gitstore"
)

func newTestCache(t *testing.T) (*Cache, context.Context) {
	t.Helper()
	s := gitstore.New(t.TempDir())
	return New(s, s), context.Background()
}

func emptyTree(t *testing.T, c *Cache, ctx context.Context) string {
	t.Helper()
	oid, err := c.Objects.WriteTree(ctx, nil)
	require.NoError(t, err)
	return oid
}

func TestRefName(t *testing.T) {
	require.Equal(t, "refs/svn/uuid-1/trunk.1", RefName("uuid-1", "trunk", 1))
	require.Equal(t, "refs/svn/uuid-1/br_feature_x_.5", RefName("uuid-1", "br feature/x!", 5))
}

func TestPutAndGetSingleRecord(t *testing.T) {
	c, ctx := newTestCache(t)
	tree := emptyTree(t, c, ctx)
	ref := RefName("uuid", "trunk", 1)

	e, err := c.Put(ctx, ref, tree, RevisionRecord{
		Date: "2024-01-01T00:00:00Z", Object: "deadbeef", ObjectKind: "commit",
		Revision: 1, Path: "/trunk",
	})
	require.NoError(t, err)
	require.Equal(t, "", e.Record.Parent)

	got, ok, err := c.Get(ctx, ref, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), got.Record.Revision)
	require.Equal(t, "deadbeef", got.Record.Object)
}

func TestGetWalksParentChainToGreatestRevLE(t *testing.T) {
	c, ctx := newTestCache(t)
	tree := emptyTree(t, c, ctx)
	ref := RefName("uuid", "trunk", 1)

	for _, rev := range []int64{1, 3, 7} {
		_, err := c.Put(ctx, ref, tree, RevisionRecord{
			Date: "2024-01-01T00:00:00Z", Object: "obj" + string(rune('0'+rev)), ObjectKind: "commit",
			Revision: rev, Path: "/trunk",
		})
		require.NoError(t, err)
	}

	got, ok, err := c.Get(ctx, ref, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), got.Record.Revision)

	got, ok, err = c.Get(ctx, ref, 0)
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err = c.Get(ctx, ref, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), got.Record.Revision)
}

func TestPutChainsParentOid(t *testing.T) {
	c, ctx := newTestCache(t)
	tree := emptyTree(t, c, ctx)
	ref := RefName("uuid", "trunk", 1)

	first, err := c.Put(ctx, ref, tree, RevisionRecord{Date: "d", Object: "o1", ObjectKind: "commit", Revision: 1, Path: "/trunk"})
	require.NoError(t, err)
	second, err := c.Put(ctx, ref, tree, RevisionRecord{Date: "d", Object: "o2", ObjectKind: "commit", Revision: 2, Path: "/trunk"})
	require.NoError(t, err)
	require.Equal(t, first.Oid, second.Record.Parent)
}

func TestEncodeDecodeRoundTripsMergeinfo(t *testing.T) {
	c, ctx := newTestCache(t)
	tree := emptyTree(t, c, ctx)
	ref := RefName("uuid", "trunk", 1)

	rec := RevisionRecord{
		Date: "d", Object: "o1", ObjectKind: "commit", Revision: 9, Path: "/trunk",
		Mergeinfo:    "/branches/x:1-5",
		SvnMergeinfo: `/branches/"quoted"\path:7`,
	}
	_, err := c.Put(ctx, ref, tree, rec)
	require.NoError(t, err)

	got, ok, err := c.Get(ctx, ref, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Mergeinfo, got.Record.Mergeinfo)
	require.Equal(t, rec.SvnMergeinfo, got.Record.SvnMergeinfo)
}

func TestGetOnUnknownRefReturnsNotOk(t *testing.T) {
	c, ctx := newTestCache(t)
	_, ok, err := c.Get(ctx, RefName("uuid", "nope", 1), 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteIndexAccelerates(t *testing.T) {
	c, ctx := newTestCache(t)
	tree := emptyTree(t, c, ctx)
	ref := RefName("uuid", "trunk", 1)

	idx, err := OpenSQLiteIndex(t.TempDir() + "/index.db")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	c.Index = idx

	for _, rev := range []int64{1, 4} {
		_, err := c.Put(ctx, ref, tree, RevisionRecord{Date: "d", Object: "o", ObjectKind: "commit", Revision: rev, Path: "/trunk"})
		require.NoError(t, err)
	}

	got, ok, err := c.Get(ctx, ref, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), got.Record.Revision)

	oid, found := idx.Lookup(ref, 4)
	require.True(t, found)
	require.Equal(t, got.Oid, oid)
}
