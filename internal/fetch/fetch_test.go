package fetch

import (
	"context"
	"testing"

	"github.com/alitto/pond"
	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/branch"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

// stubSource replays a fixed list of LogEntries regardless of the
// requested range, recording the options it was called with.
type stubSource struct {
	entries []svnproto.LogEntry
	calls   []svnproto.LogOptions
}

func (s *stubSource) Log(opts svnproto.LogOptions, yield func(svnproto.LogEntry) error) error {
	s.calls = append(s.calls, opts)
	for _, e := range s.entries {
		if e.Rev < opts.Start || e.Rev > opts.End {
			continue
		}
		if err := yield(e); err != nil {
			return err
		}
	}
	return nil
}

func newTestPlanner(t *testing.T, src LogSource) (*Planner, *branch.Registry) {
	t.Helper()
	reg := branch.NewRegistry()
	pool := pond.New(4, 0, pond.MinWorkers(1))
	t.Cleanup(pool.StopAndWait)
	dial := func(ctx context.Context) (LogSource, error) { return src, nil }
	return NewPlanner(reg, dial, pool, nil), reg
}

func TestPlannerSimpleLinearHistory(t *testing.T) {
	src := &stubSource{entries: []svnproto.LogEntry{
		{Rev: 1, Author: "alice", Message: "init"},
		{Rev: 2, Author: "bob", Message: "tweak"},
	}}
	p, reg := newTestPlanner(t, src)
	trunk := reg.GetBranch("/trunk", 1)

	p.Enqueue(trunk, 2)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, trunk.Pending, 2)
	require.EqualValues(t, 1, trunk.Pending[0].Rev)
	require.EqualValues(t, 2, trunk.Pending[1].Rev)
	require.True(t, trunk.CmtLogFinished)
}

func TestPlannerDiscoversCopySourceAndEnqueuesIt(t *testing.T) {
	src := &stubSource{entries: []svnproto.LogEntry{
		{Rev: 5, Author: "alice", Message: "branch cut",
			CopySource: &svnproto.CopySource{Path: "/trunk", Rev: 4}},
	}}
	p, reg := newTestPlanner(t, src)
	feature := reg.GetBranch("/branches/feature", 5)

	p.Enqueue(feature, 5)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, feature.Pending, 1)
	require.NotNil(t, feature.Pending[0].CopySource)
	require.EqualValues(t, 4, feature.Pending[0].CopySource.Rev)

	trunk := reg.GetBranch("/trunk", 4)
	require.Contains(t, trunk.CopiedInto, feature)
}

func TestPlannerSplitsOnLateDiscoveredCopy(t *testing.T) {
	src := &stubSource{entries: []svnproto.LogEntry{
		{Rev: 3, Author: "alice", Message: "stray"},
		{Rev: 10, Author: "bob", Message: "actually copied here",
			CopySource: &svnproto.CopySource{Path: "/trunk", Rev: 9}},
	}}
	p, reg := newTestPlanner(t, src)
	feature := reg.GetBranch("/branches/feature", 1)

	p.Enqueue(feature, 10)
	require.NoError(t, p.Run(context.Background()))

	require.EqualValues(t, 10, feature.Start)
	require.Len(t, feature.Pending, 1)
	require.EqualValues(t, 10, feature.Pending[0].Rev)

	older := reg.GetBranch("/branches/feature", 3)
	require.NotSame(t, feature, older)
	require.EqualValues(t, 1, older.Start)
	require.Len(t, older.Pending, 1)
	require.EqualValues(t, 3, older.Pending[0].Rev)
}

func TestPlannerMergesHigherTargetAfterFinish(t *testing.T) {
	src := &stubSource{entries: []svnproto.LogEntry{
		{Rev: 1, Author: "a", Message: "1"},
		{Rev: 2, Author: "a", Message: "2"},
	}}
	p, reg := newTestPlanner(t, src)
	trunk := reg.GetBranch("/trunk", 1)

	p.Enqueue(trunk, 1)
	require.NoError(t, p.Run(context.Background()))
	require.True(t, trunk.CmtLogFinished)

	p.Enqueue(trunk, 2)
	require.NoError(t, p.Run(context.Background()))
	require.Len(t, trunk.Pending, 2)
	require.True(t, trunk.CmtLogFinished)
}
