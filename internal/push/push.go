// Package push implements the push planner (spec.md §4.8, C8): it takes
// a set of local-head ref updates, classifies every reachable commit as
// already-on-server / first-parent / side-branch / tag-wrapper, orders
// them for upload, and chooses a MODIFY/ADD/REPLACE/DELETE operation
// kind per commit.
//
// Grounded on the teacher's validateCommit/processCommit two-phase
// pattern (p4transfer.go): a first pass walks the commit graph deciding
// what each commit means before any server interaction, a second pass
// actually emits it. Here the two phases are Classify (pure, no
// transport) and Emit (internal/push/emit.go, drives an svnproto
// CommitEditor).
package push

import (
	"context"

	"github.com/svnbridge/gitsvn/internal/store"
)

// OpKind is the per-commit operation spec.md §4.8 names.
type OpKind int

const (
	Modify OpKind = iota
	Add
	Replace
	Delete
)

func (k OpKind) String() string {
	switch k {
	case Modify:
		return "MODIFY"
	case Add:
		return "ADD"
	case Replace:
		return "REPLACE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Priority is the classification spec.md §4.8 assigns each reachable
// commit.
type Priority int

const (
	InServer Priority = iota
	FirstParent
	FirstParentNew
	FirstParentTag
	SecondParent
)

func (p Priority) String() string {
	switch p {
	case InServer:
		return "IN_SERVER"
	case FirstParent:
		return "FIRST_PARENT"
	case FirstParentNew:
		return "FIRST_PARENT_NEW"
	case FirstParentTag:
		return "FIRST_PARENT_TAG"
	case SecondParent:
		return "SECOND_PARENT"
	default:
		return "UNKNOWN"
	}
}

// Destination describes the server path one ref update targets, and
// what the planner already knows about that path's state at the moment
// the push started.
type Destination struct {
	// Path is the server-side path this ref maps onto.
	Path string
	// IsTag marks a destination whose commits land under a tag path
	// (spec.md §4.8 "Tag push").
	IsTag bool
	// Exists is false when Path has no RevisionRecord yet — the push
	// will create a brand-new branch (spec.md §4.8 "ADD if the
	// destination branch did not exist at the server's head when the
	// push started").
	Exists bool
	// Head is the git commit oid the server's current RevisionRecord
	// for Path points at; "" if !Exists.
	Head string
	// LogRev is the highest revision the planner's knowledge of Path
	// reflects, used by the intermediate-commit guard.
	LogRev int64
	// IntermediateTouched is true if a prior check already found a
	// server revision on Path between LogRev+1 and the server's latest
	// revision (spec.md §4.8 "REPLACE if ... an intermediate server
	// revision has touched the branch since the planner's known
	// log_rev").
	IntermediateTouched bool
}

// RefUpdate is one requested local-head update (spec.md §4.8 "Input").
type RefUpdate struct {
	RefName string
	OldHead string
	NewHead string // "" means this ref is being deleted
	Force   bool
	Dest    Destination
}

// PlannedCommit is one commit assigned a Priority and, once ordering and
// operation-kind selection have run, an OpKind.
type PlannedCommit struct {
	Oid      string
	Spec     store.CommitSpec
	Priority Priority
	Op       OpKind
}

// Plan is the classified, ordered result of planning one RefUpdate.
type Plan struct {
	Ref RefUpdate
	// Commits is the upload order: oldest first, every entry's first
	// parent either IN_SERVER or emitted earlier in the slice (spec.md §8
	// "Push ordering"); SECOND_PARENT parents are never emitted. Empty (with Delete left as the sole
	// operation below) when Ref.NewHead == "".
	Commits []*PlannedCommit
	// Kinds classifies every commit visited during the walk, including
	// SECOND_PARENT commits that never appear in Commits.
	Kinds map[string]Priority
	// Delete is true when this plan is a whole-ref deletion.
	Delete bool
}

// Planner classifies and orders commits for upload. It does no network
// I/O itself; Objects is consulted to walk the local commit DAG.
type Planner struct {
	Objects store.ObjectStore
}

// New returns a Planner reading commit ancestry from objects.
func New(objects store.ObjectStore) *Planner {
	return &Planner{Objects: objects}
}

// Plan classifies and orders update's reachable commits. known reports,
// for a given oid, whether it already has a RevisionRecord anywhere on
// the server (spec.md §4.8 "IN_SERVER (already has a RevisionRecord)");
// callers typically build it by walking internal/revcache's parent
// chain for update.Dest before calling Plan.
func (p *Planner) Plan(ctx context.Context, update RefUpdate, known map[string]bool) (*Plan, error) {
	if update.NewHead == "" {
		return &Plan{Ref: update, Delete: true}, nil
	}

	kinds := make(map[string]Priority)
	var mainline []*PlannedCommit

	oid := update.NewHead
	for oid != "" {
		if oid == update.Dest.Head || known[oid] {
			kinds[oid] = InServer
			break
		}
		if _, seen := kinds[oid]; seen {
			break
		}
		spec, err := p.Objects.ReadCommit(ctx, oid)
		if err != nil {
			return nil, err
		}

		prio := FirstParent
		switch {
		case update.Dest.IsTag:
			prio = FirstParentTag
		case !update.Dest.Exists:
			prio = FirstParentNew
		}
		kinds[oid] = prio
		mainline = append(mainline, &PlannedCommit{Oid: oid, Spec: spec, Priority: prio})

		// Non-first parents are reachable only via a merge link: spec.md
		// §4.8 classifies them SECOND_PARENT and never schedules them
		// for upload (the server has no notion of a second parent; their
		// history is represented, if at all, through mergeinfo).
		for i, parent := range spec.Parents {
			if i == 0 {
				continue
			}
			if _, ok := kinds[parent]; ok {
				continue
			}
			if known[parent] {
				kinds[parent] = InServer
			} else {
				kinds[parent] = SecondParent
			}
		}

		if len(spec.Parents) == 0 {
			break
		}
		oid = spec.Parents[0]
	}

	reverseCommits(mainline)
	assignOpKinds(mainline, update)
	return &Plan{Ref: update, Commits: mainline, Kinds: kinds}, nil
}

func reverseCommits(c []*PlannedCommit) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// assignOpKinds implements spec.md §4.8's "Per-commit operation kind"
// rules. Only the first commit in upload order can be ADD or REPLACE
// for parent-mismatch reasons; every later commit in the same Plan was
// itself produced by this push and so always chains cleanly onto its
// predecessor.
func assignOpKinds(commits []*PlannedCommit, update RefUpdate) {
	for i, c := range commits {
		switch {
		case update.Force:
			c.Op = Replace
		case i == 0 && !update.Dest.Exists:
			c.Op = Add
		case i == 0 && update.Dest.IntermediateTouched:
			c.Op = Replace
		case i == 0 && firstParentOid(c.Spec) != update.Dest.Head:
			c.Op = Replace
		default:
			c.Op = Modify
		}
	}
}

func firstParentOid(spec store.CommitSpec) string {
	if len(spec.Parents) == 0 {
		return ""
	}
	return spec.Parents[0]
}
