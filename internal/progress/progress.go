// Package progress reports coarse-grained step counts for long-running
// fetch and push runs (SPEC_FULL.md §6 "[ADDED] Progress reporting
// adapter"). It is deliberately narrow: callers name a phase and how far
// through it they are, and a Reporter decides how (or whether) to show
// that to a user.
package progress

import "github.com/sirupsen/logrus"

// Reporter is the collaborator named in spec.md §1's external interfaces
// list ("progress reporting"). label identifies the phase ("fetching
// log", "applying revisions", "pushing commits"); n and total describe
// how far through it the caller is, with total == 0 meaning the size is
// not yet known.
type Reporter interface {
	Step(label string, n, total int)
}

// NullReporter discards every step, the default for callers (such as
// tests) that do not want progress output.
type NullReporter struct{}

func (NullReporter) Step(string, int, int) {}

// LogReporter logs each step at Info level through a *logrus.Entry, the
// teacher's standard logging object (main.go's logger := logrus.New()
// pattern, threaded through as *logrus.Entry everywhere else in this
// module).
type LogReporter struct {
	Log *logrus.Entry
}

// NewLogReporter returns a LogReporter; a nil log falls back to the
// standard logger, matching the nil-log fallback used across the other
// internal packages.
func NewLogReporter(log *logrus.Entry) *LogReporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogReporter{Log: log}
}

func (r *LogReporter) Step(label string, n, total int) {
	entry := r.Log.WithField("step", label).WithField("n", n)
	if total > 0 {
		entry = entry.WithField("total", total)
	}
	entry.Info(label)
}
