// Package branch models the Branch entity and its per-path registry
// (spec.md §3 "Entity: Branch", §4.6 split logic, §8 "Branch split
// invariant"). It is grounded on the teacher's filesOnBranch bookkeeping
// in gitp4transfer's GitParserOptions: one mutable record per branch,
// looked up by name and mutated in place as new revisions arrive, here
// generalised to server-path slices partitioned by revision instead of
// the teacher's flat branch-name map.
package branch

import (
	"sort"
	"sync"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// LogEntry mirrors spec.md §3's LogEntry entity; held here only as a
// pending-queue element, never interpreted.
type LogEntry struct {
	Rev          int64
	Author       string
	Date         string
	Timestamp    int64
	Message      string
	CopySource   *CopySource
	CopyModified bool
}

// CopySource is a (path, rev) pair a branch was copied from.
type CopySource struct {
	Path string
	Rev  int64
}

// Branch is one (server-path, start-revision) slice.
type Branch struct {
	Path string
	// Start is the earliest revision at which this slice exists.
	Start int64
	// Rev is the most recent revision fetched.
	Rev int64
	// LogRev is the most recent revision for which metadata is known.
	LogRev int64
	// Head is the current head commit identity (opaque to this package;
	// typically a git object ID string from internal/gitstore).
	Head string
	// IsTag marks a branch whose commits should be wrapped in an
	// annotated tag object rather than advanced directly (spec.md §4.7
	// "Tag semantics").
	IsTag bool
	// Pending holds log entries not yet consumed by the update applier.
	Pending []*LogEntry
	// Refs lists local ref names mapped to this slice.
	Refs []string
	// CopiedInto lists branches copy-sourced from this one, used by the
	// fetch planner's copier linkage (spec.md §4.6).
	CopiedInto []*Branch

	// NeedCopySrcLog marks that a second, confined log call is required
	// to reveal this branch's copy origin (spec.md §4.6).
	NeedCopySrcLog bool
	CmtLogStarted  bool
	CmtLogFinished bool
}

// Registry owns every known Branch for one server connection, keyed by
// path, each holding a start-sorted slice list.
type Registry struct {
	mu    sync.Mutex
	slices map[string][]*Branch
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slices: make(map[string][]*Branch)}
}

// GetBranch returns the slice on path whose Start is the greatest value
// <= rev, creating a fresh slice starting at rev if none exists yet
// (spec.md §8 "Branch split invariant").
func (reg *Registry) GetBranch(path string, rev int64) *Branch {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	list := reg.slices[path]
	if b := findSlice(list, rev); b != nil {
		return b
	}
	b := &Branch{Path: path, Start: rev, Rev: rev}
	reg.slices[path] = insertSorted(list, b)
	return b
}

// findSlice returns the slice in a start-ascending list with the
// greatest Start <= rev, or nil.
func findSlice(list []*Branch, rev int64) *Branch {
	// list is sorted ascending by Start; binary search for the last
	// entry with Start <= rev.
	i := sort.Search(len(list), func(i int) bool { return list[i].Start > rev })
	if i == 0 {
		return nil
	}
	return list[i-1]
}

func insertSorted(list []*Branch, b *Branch) []*Branch {
	i := sort.Search(len(list), func(i int) bool { return list[i].Start >= b.Start })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = b
	return list
}

// Split carves off an older slice from branch: the portion of branch's
// history strictly before newStart becomes a new Branch retaining
// branch's current Head/Rev, while branch itself is rewound to start at
// newStart (spec.md §4.6 "Split"). Any of branch's copiers whose own
// Start is before newStart are rewired onto the older slice.
// Split fails only if newStart is not strictly greater than branch.Start;
// newStart is not checked against branch.Rev.
func (reg *Registry) Split(branch *Branch, newStart int64) (*Branch, error) {
	if newStart <= branch.Start {
		return nil, svnerr.New(svnerr.Protocol, "split: newStart %d must exceed current start %d", newStart, branch.Start)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()

	older := &Branch{
		Path:       branch.Path,
		Start:      branch.Start,
		Rev:        branch.Rev,
		LogRev:     branch.LogRev,
		Head:       branch.Head,
		IsTag:      branch.IsTag,
		CopiedInto: nil,
	}
	var stillOnNewer []*Branch
	for _, copier := range branch.CopiedInto {
		if copier.Start < newStart {
			older.CopiedInto = append(older.CopiedInto, copier)
		} else {
			stillOnNewer = append(stillOnNewer, copier)
		}
	}
	branch.CopiedInto = stillOnNewer
	branch.Start = newStart
	branch.Head = ""
	branch.LogRev = 0

	list := reg.slices[branch.Path]
	reg.slices[branch.Path] = insertSorted(list, older)
	return older, nil
}

// All returns every known slice across every path, for diagnostics
// (internal/graph's branch-DAG renderer).
func (reg *Registry) All() []*Branch {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var out []*Branch
	for _, list := range reg.slices {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Start < out[j].Start
	})
	return out
}
