package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/branch"
)

func TestBuildAddsOneNodePerBranchAndEdgesForCopies(t *testing.T) {
	reg := branch.NewRegistry()
	trunk := reg.GetBranch("/trunk", 1)
	feature := reg.GetBranch("/branches/feature", 10)
	trunk.CopiedInto = append(trunk.CopiedInto, feature)

	g := Build(reg)
	dot := g.String()

	require.True(t, strings.Contains(dot, "/trunk@1"))
	require.True(t, strings.Contains(dot, "/branches/feature@10"))
	require.True(t, strings.Contains(dot, "->"))
}
