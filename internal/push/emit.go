package push

import (
	"bytes"
	"context"
	"runtime"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/svnbridge/gitsvn/config"
	"github.com/svnbridge/gitsvn/internal/delta"
	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnerr"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

// Editor is the subset of *svnproto.CommitEditor the emitter drives;
// narrowed so tests can script a fake server-side drive without a real
// connection, the same way internal/apply's Driver narrows the receive
// side. *svnproto.CommitEditor satisfies this directly.
type Editor interface {
	OpenRoot(rev int64) error
	AddDir(path string, copyFrom *svnproto.CopySource) error
	OpenDir(path string) error
	CloseDir() error
	AddFile(path string, copyFrom *svnproto.CopySource) error
	OpenFile(path string) error
	ApplyTextDelta(path string, baseChecksum string) error
	TextDeltaChunk(path string, chunk []byte) error
	TextDeltaEnd(path string) error
	CloseFile(path string, textChecksum string) error
	DeleteEntry(path string) error
	CloseEdit() (svnproto.CommitInfo, error)
}

// Session is the slice of *svnproto.Conn the pusher needs, narrowed for
// the same reason as internal/fetch.LogSource.
type Session interface {
	StartCommit(logMessage string) (Editor, error)
	Log(opts svnproto.LogOptions, yield func(svnproto.LogEntry) error) error
}

// ConnSession adapts a real *svnproto.Conn to Session; StartCommit's
// concrete *svnproto.CommitEditor return value satisfies Editor
// structurally, so no further wrapping is needed.
type ConnSession struct{ Conn *svnproto.Conn }

func (s ConnSession) StartCommit(logMessage string) (Editor, error) {
	return s.Conn.StartCommit(logMessage)
}

func (s ConnSession) Log(opts svnproto.LogOptions, yield func(svnproto.LogEntry) error) error {
	return s.Conn.Log(opts, yield)
}

// EOLPolicy is the svn.eol end-of-line normalisation config.go exposes
// (spec.md §6 "svn.eol"), applied to text files only — binary files are
// recognised with github.com/h2non/filetype exactly as the teacher's
// GitBlob.setCompressionDetails tells image/video/archive/audio/document
// blobs apart before deciding how to store them; here that same
// detection decides whether EOL conversion applies at all.
type EOLPolicy struct {
	Mode config.Eol
}

func (p EOLPolicy) apply(content []byte) []byte {
	if p.Mode == "" || p.Mode == config.EolUnset {
		return content
	}
	head := content
	if len(head) > 261 {
		head = head[:261]
	}
	if filetype.IsImage(head) || filetype.IsVideo(head) || filetype.IsArchive(head) || filetype.IsAudio(head) {
		return content
	}
	if filetype.IsDocument(head) {
		return content
	}
	lf := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	switch p.Mode {
	case config.EolLF:
		return lf
	case config.EolCRLF:
		return bytes.ReplaceAll(lf, []byte("\n"), []byte("\r\n"))
	case config.EolNative:
		if runtime.GOOS == "windows" {
			return bytes.ReplaceAll(lf, []byte("\n"), []byte("\r\n"))
		}
		return lf
	default:
		return content
	}
}

// Pusher drives one or more Plans to completion over a Session: push is
// single-threaded on a single connection (spec.md §5 "the push tier is
// single-threaded on a single connection") so Pusher keeps no locking of
// its own.
type Pusher struct {
	Objects store.ObjectStore
	EOL     EOLPolicy
	Log     *logrus.Entry
}

// NewPusher returns a Pusher reading blob content from objects.
func NewPusher(objects store.ObjectStore, eol EOLPolicy, log *logrus.Entry) *Pusher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pusher{Objects: objects, EOL: eol, Log: log}
}

// Result is one pushed commit's server-assigned revision.
type Result struct {
	Oid  string
	Info svnproto.CommitInfo
}

// Push emits every commit of plan in order, updating dest bookkeeping as
// it goes, and, unless the update is forced, runs the intermediate-commit
// guard after each successful commit (spec.md §4.8 "Intermediate-commit
// guard"). It stops and
// returns the first error, leaving no partially-applied state visible
// to the server (each commit is atomic from the server's point of view;
// spec.md §7 "any failure after a write but before ref update leaves no
// ref pointing at the half-state").
func (p *Pusher) Push(ctx context.Context, s Session, plan *Plan) ([]Result, error) {
	if plan.Delete {
		return nil, p.pushDelete(ctx, s, plan.Ref)
	}

	var results []Result
	priorTreeOid := plan.Ref.Dest.serverTreeOid()
	logRev := plan.Ref.Dest.LogRev

	for _, c := range plan.Commits {
		oldTree, err := p.loadTree(ctx, priorTreeOid)
		if err != nil {
			return results, err
		}
		newTree, err := p.loadTree(ctx, c.Spec.Tree)
		if err != nil {
			return results, err
		}

		editor, err := s.StartCommit(c.Spec.Message)
		if err != nil {
			return results, err
		}
		if err := editor.OpenRoot(-1); err != nil {
			return results, err
		}
		if err := p.emitTree(ctx, editor, oldTree, newTree, ""); err != nil {
			return results, err
		}
		info, err := editor.CloseEdit()
		if err != nil {
			return results, err
		}

		results = append(results, Result{Oid: c.Oid, Info: info})
		priorTreeOid = c.Spec.Tree

		if !plan.Ref.Force {
			if err := guardIntermediate(s, plan.Ref.Dest.Path, logRev, info.Rev); err != nil {
				return results, err
			}
		}
		logRev = info.Rev
	}
	return results, nil
}

func (d Destination) serverTreeOid() string {
	// Destination carries only the server head's commit oid; the tree is
	// resolved lazily by Pusher.loadTree from the object store when Head
	// is non-empty, and treated as empty otherwise (brand-new branch).
	return d.Head
}

// loadTree reads oid (a commit or tree oid, "" meaning empty) into a
// store.Tree index. When given a commit oid it first resolves its tree.
func (p *Pusher) loadTree(ctx context.Context, oid string) (*store.Tree, error) {
	idx := store.NewTree(false)
	if oid == "" {
		return idx, nil
	}
	treeOid := oid
	if spec, err := p.Objects.ReadCommit(ctx, oid); err == nil && spec.Tree != "" {
		treeOid = spec.Tree
	}
	if err := p.loadTreeInto(ctx, treeOid, "", idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *Pusher) loadTreeInto(ctx context.Context, oid string, prefix string, idx *store.Tree) error {
	entries, err := p.Objects.ReadTree(ctx, oid)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.Kind == store.KindTree {
			if err := p.loadTreeInto(ctx, e.Oid, full, idx); err != nil {
				return err
			}
			continue
		}
		idx.AddFile(full, e.Oid)
	}
	return nil
}

// emitTree recursively diffs oldNode against newNode (either may be nil,
// meaning "did not exist") and drives e to reproduce newNode's shape
// (spec.md §4.8 "Emitting"). dir is the server path of the directory
// node currently open on e (already OpenRoot'd or AddDir/OpenDir'd by
// the caller).
func (p *Pusher) emitTree(ctx context.Context, e Editor, oldNode, newNode *store.Tree, dir string) error {
	oldChildren := map[string]*store.Tree{}
	if oldNode != nil {
		for _, c := range oldNode.Children {
			oldChildren[c.Name] = c
		}
	}
	newChildren := map[string]*store.Tree{}
	for _, c := range newNode.Children {
		newChildren[c.Name] = c
	}

	// Deletions are emitted first so an add of the same name (type
	// change) never collides with a still-open stale entry.
	for name := range oldChildren {
		if _, ok := newChildren[name]; !ok {
			if err := e.DeleteEntry(joinPath(dir, name)); err != nil {
				return err
			}
		}
	}

	for name, nc := range newChildren {
		path := joinPath(dir, name)
		oc, existed := oldChildren[name]

		if nc.IsFile {
			switch {
			case existed && oc.IsFile && oc.Oid == nc.Oid:
				continue
			case existed && oc.IsFile:
				if err := p.emitFile(ctx, e, path, nc.Oid, false); err != nil {
					return err
				}
			default:
				if existed && !oc.IsFile {
					if err := e.DeleteEntry(path); err != nil {
						return err
					}
				}
				if err := p.emitFile(ctx, e, path, nc.Oid, true); err != nil {
					return err
				}
			}
			continue
		}

		// nc is a directory.
		if existed && !oc.IsFile {
			if err := e.OpenDir(path); err != nil {
				return err
			}
			if err := p.emitTree(ctx, e, oc, nc, path); err != nil {
				return err
			}
			if err := e.CloseDir(); err != nil {
				return err
			}
			continue
		}
		if existed && oc.IsFile {
			if err := e.DeleteEntry(path); err != nil {
				return err
			}
		}
		if err := e.AddDir(path, nil); err != nil {
			return err
		}
		if err := p.emitTree(ctx, e, nil, nc, path); err != nil {
			return err
		}
		if err := e.CloseDir(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pusher) emitFile(ctx context.Context, e Editor, path string, oid string, add bool) error {
	content, err := p.Objects.ReadBlob(ctx, oid)
	if err != nil {
		return err
	}
	content = p.EOL.apply(content)

	if add {
		if err := e.AddFile(path, nil); err != nil {
			return err
		}
	} else {
		if err := e.OpenFile(path); err != nil {
			return err
		}
	}
	if err := e.ApplyTextDelta(path, ""); err != nil {
		return err
	}
	if err := e.TextDeltaChunk(path, delta.EncodeFull(content)); err != nil {
		return err
	}
	if err := e.TextDeltaEnd(path); err != nil {
		return err
	}
	return e.CloseFile(path, "")
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// pushDelete drives a single commit that removes path entirely from its
// parent directory.
func (p *Pusher) pushDelete(ctx context.Context, s Session, ref RefUpdate) error {
	editor, err := s.StartCommit("delete branch " + ref.Dest.Path)
	if err != nil {
		return err
	}
	if err := editor.OpenRoot(-1); err != nil {
		return err
	}
	if err := deleteNested(editor, ref.Dest.Path); err != nil {
		return err
	}
	_, err = editor.CloseEdit()
	return err
}

// deleteNested opens every ancestor directory of path and deletes its
// final component, closing directories in reverse on the way back out.
func deleteNested(e Editor, path string) error {
	parent := parentDir(path)
	if parent == "" {
		return e.DeleteEntry(path)
	}
	var opened []string
	dir := ""
	for _, seg := range splitPath(parent) {
		dir = joinPath(dir, seg)
		if err := e.OpenDir(dir); err != nil {
			return err
		}
		opened = append(opened, dir)
	}
	err := e.DeleteEntry(path)
	for i := len(opened) - 1; i >= 0; i-- {
		if cerr := e.CloseDir(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return parts
}

// guardIntermediate implements spec.md §4.8's "Intermediate-commit
// guard": after each commit of a push lands at newRev, query path for
// any commit in (logRev, newRev), where logRev is the revision of the
// previous commit of this push (or the destination's LogRev for the
// first) — if any exists another writer beat this push to the branch and
// the remaining plan is unsafe to continue.
func guardIntermediate(s Session, path string, logRev, newRev int64) error {
	from := logRev + 1
	to := newRev - 1
	if from > to {
		return nil
	}
	found := false
	err := s.Log(svnproto.LogOptions{Paths: []string{path}, Start: from, End: to}, func(svnproto.LogEntry) error {
		found = true
		return nil
	})
	if err != nil {
		return err
	}
	if found {
		return svnerr.New(svnerr.Conflict, "path %q received an intermediate commit between r%d and r%d", path, from, to)
	}
	return nil
}
