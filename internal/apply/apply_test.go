package apply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/branch"
	"github.com/svnbridge/gitsvn/internal/delta"
	"github.com/svnbridge/gitsvn/internal/gitstore"
	"github.com/svnbridge/gitsvn/internal/revcache"
	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

type stubAuthors struct{}

func (stubAuthors) Map(svnAuthor string) store.Identity {
	return store.Identity{Name: svnAuthor, Email: svnAuthor + "@example.com"}
}

// scriptedDriver replays a fixed sequence of EditorHandler calls,
// bypassing the wire protocol entirely.
type scriptedDriver struct {
	steps []func(h svnproto.EditorHandler) error
}

func (d *scriptedDriver) Drive(h svnproto.EditorHandler) error {
	if err := h.OpenRoot(-1); err != nil {
		return err
	}
	for _, step := range d.steps {
		if err := step(h); err != nil {
			return err
		}
	}
	return h.CloseEdit()
}

func addFileStep(path string, content []byte) func(svnproto.EditorHandler) error {
	return func(h svnproto.EditorHandler) error {
		if err := h.AddFile(path, nil); err != nil {
			return err
		}
		if err := h.ApplyTextDelta(path, ""); err != nil {
			return err
		}
		if err := h.TextDeltaChunk(path, delta.EncodeFull(content)); err != nil {
			return err
		}
		if err := h.TextDeltaEnd(path); err != nil {
			return err
		}
		return h.CloseFile(path, "")
	}
}

func newTestApplier(t *testing.T) (*Applier, *gitstore.Store, *branch.Registry, context.Context) {
	t.Helper()
	s := gitstore.New(t.TempDir())
	reg := branch.NewRegistry()
	cache := revcache.New(s, s)
	a := New(s, s, cache, reg, stubAuthors{}, "repo-uuid", nil)
	return a, s, reg, context.Background()
}

func TestApplyEntryCreatesInitialCommit(t *testing.T) {
	a, s, reg, ctx := newTestApplier(t)
	trunk := reg.GetBranch("/trunk", 1)
	trunk.Refs = []string{"refs/heads/trunk"}

	driver := &scriptedDriver{steps: []func(svnproto.EditorHandler) error{
		addFileStep("README", []byte("hello")),
	}}
	entry := &branch.LogEntry{Rev: 1, Author: "alice", Date: "2024-01-01T00:00:00Z", Message: "init"}

	require.NoError(t, a.ApplyEntry(ctx, trunk, entry, driver))
	require.NotEmpty(t, trunk.Head)

	refOid, ok, err := s.Read(ctx, "refs/heads/trunk")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, trunk.Head, refOid)

	got, ok, err := a.Cache.Get(ctx, revcache.RefName("repo-uuid", "/trunk", 1), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, trunk.Head, got.Record.Object)
	require.Equal(t, "commit", got.Record.ObjectKind)
}

func TestApplyEntrySecondRevisionChainsParent(t *testing.T) {
	a, _, reg, ctx := newTestApplier(t)
	trunk := reg.GetBranch("/trunk", 1)

	require.NoError(t, a.ApplyEntry(ctx, trunk, &branch.LogEntry{Rev: 1, Author: "alice", Date: "d", Message: "init"},
		&scriptedDriver{steps: []func(svnproto.EditorHandler) error{addFileStep("a.txt", []byte("one"))}}))
	first := trunk.Head

	require.NoError(t, a.ApplyEntry(ctx, trunk, &branch.LogEntry{Rev: 2, Author: "bob", Date: "d", Message: "tweak"},
		&scriptedDriver{steps: []func(svnproto.EditorHandler) error{addFileStep("a.txt", []byte("two"))}}))

	spec, err := a.Objects.ReadCommit(ctx, trunk.Head)
	require.NoError(t, err)
	require.Equal(t, []string{first}, spec.Parents)
}

func TestApplyEntryUnmodifiedCopyFastForwards(t *testing.T) {
	a, _, reg, ctx := newTestApplier(t)
	trunk := reg.GetBranch("/trunk", 1)
	require.NoError(t, a.ApplyEntry(ctx, trunk, &branch.LogEntry{Rev: 5, Author: "alice", Date: "d", Message: "init"},
		&scriptedDriver{steps: []func(svnproto.EditorHandler) error{addFileStep("a.txt", []byte("x"))}}))
	trunkHead := trunk.Head

	feature := reg.GetBranch("/branches/feature", 6)
	entry := &branch.LogEntry{
		Rev: 6, Author: "alice", Date: "d", Message: "branch cut",
		CopySource: &branch.CopySource{Path: "/trunk", Rev: 5}, CopyModified: false,
	}
	require.NoError(t, a.ApplyEntry(ctx, feature, entry, &scriptedDriver{}))
	require.Equal(t, trunkHead, feature.Head)
}

func TestApplyEntryTagReusesHeadWhenUnchanged(t *testing.T) {
	a, _, reg, ctx := newTestApplier(t)
	trunk := reg.GetBranch("/trunk", 1)
	require.NoError(t, a.ApplyEntry(ctx, trunk, &branch.LogEntry{Rev: 1, Author: "alice", Date: "d", Message: "init"},
		&scriptedDriver{steps: []func(svnproto.EditorHandler) error{addFileStep("a.txt", []byte("x"))}}))

	tag := reg.GetBranch("/tags/v1", 2)
	tag.IsTag = true
	tag.Head = trunk.Head // simulate the tag's prior record pointing at trunk's commit
	entry := &branch.LogEntry{Rev: 2, Author: "alice", Date: "d", Message: "retag, no changes"}

	require.NoError(t, a.ApplyEntry(ctx, tag, entry, &scriptedDriver{}))
	require.Equal(t, trunk.Head, tag.Head, "unchanged tree must reuse prior head rather than create a dummy commit")

	got, ok, err := a.Cache.Get(ctx, revcache.RefName("repo-uuid", "/tags/v1", 2), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tag", got.Record.ObjectKind)
}
