package progress

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestLogReporterEmitsOneEntryPerStep(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	r := NewLogReporter(logrus.NewEntry(logger))

	r.Step("applying revisions", 3, 10)

	require.Len(t, hook.Entries, 1)
	require.Equal(t, "applying revisions", hook.LastEntry().Message)
	require.Equal(t, 3, hook.LastEntry().Data["n"])
	require.Equal(t, 10, hook.LastEntry().Data["total"])
}

func TestNullReporterDoesNothing(t *testing.T) {
	require.NotPanics(t, func() {
		NullReporter{}.Step("x", 1, 2)
	})
}
