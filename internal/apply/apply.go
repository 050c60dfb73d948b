// Package apply implements the update applier (spec.md §4.7, C7): for
// each LogEntry of a branch, in ascending revision order, it either
// fast-forwards a branch created by an unmodified copy straight onto its
// source's head, or checks out the applicable base and drives an
// svnproto editor reply through an in-memory index, then composes a
// commit (or reuses one for a content-unchanged tag) and records a
// RevisionRecord via internal/revcache.
//
// Grounded on the teacher's GitParserOptions.updateFileDetails /
// GitFile handling in p4transfer.go for the "mutate an in-memory index,
// then materialise a tree from it" shape, adapted from the teacher's
// flat per-file change list to internal/store.Tree's path-indexed
// structure so delta application can look up a file's current blob
// before patching it.
package apply

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/svnbridge/gitsvn/internal/branch"
	"github.com/svnbridge/gitsvn/internal/delta"
	"github.com/svnbridge/gitsvn/internal/revcache"
	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnerr"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

// AuthorMapper resolves an SVN log entry's author name to a full commit
// identity (spec.md §4.7 "author/committer derived ... via the author
// adapter"); implemented by internal/authors.
type AuthorMapper interface {
	Map(svnAuthor string) store.Identity
}

// Driver supplies one LogEntry's tree-mutation command stream to h. A
// production Driver wraps svnproto.Conn.StartUpdate + svnproto.DriveEditor
// + svnproto.Conn.FinishUpdate; tests can supply one that calls h's
// methods directly with no transport at all.
type Driver interface {
	Drive(h svnproto.EditorHandler) error
}

// Applier replays LogEntries against an object store, one branch
// revision at a time. The apply tier is single-threaded (spec.md §5
// "apply tier is single-threaded: update application mutates shared
// object-store and index state and is executed in commit order"), so
// Applier keeps no internal locking of its own.
type Applier struct {
	Objects  store.ObjectStore
	Refs     store.RefStore
	Cache    *revcache.Cache
	Registry *branch.Registry
	Authors  AuthorMapper
	RepoUUID string
	Log      *logrus.Entry

	emptyBlobOid string
}

// New returns an Applier.
func New(objects store.ObjectStore, refs store.RefStore, cache *revcache.Cache, reg *branch.Registry, authors AuthorMapper, repoUUID string, log *logrus.Entry) *Applier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Applier{Objects: objects, Refs: refs, Cache: cache, Registry: reg, Authors: authors, RepoUUID: repoUUID, Log: log}
}

// ApplyEntry applies one LogEntry of br, advancing br.Head and every ref
// in br.Refs, and recording a RevisionRecord (spec.md §4.7).
func (a *Applier) ApplyEntry(ctx context.Context, br *branch.Branch, entry *branch.LogEntry, driver Driver) error {
	identity := a.Authors.Map(entry.Author)
	identity.Unix = entry.Timestamp

	var commitOid, treeOid, parentOid string
	var fastForward bool
	havePrior := br.Head != ""
	parentOid = br.Head

	if entry.CopySource != nil {
		srcBranch := a.Registry.GetBranch(entry.CopySource.Path, entry.CopySource.Rev)
		srcRef := revcache.RefName(a.RepoUUID, srcBranch.Path, srcBranch.Start)
		srcEntry, ok, err := a.Cache.Get(ctx, srcRef, entry.CopySource.Rev)
		if err != nil {
			return err
		}
		if !ok {
			return svnerr.New(svnerr.Protocol, "copy source %s@%d has no recorded revision", entry.CopySource.Path, entry.CopySource.Rev)
		}
		// The fast path below assumes the copy source's recorded object
		// is itself a real commit, not a tag wrapper: tags are leaves in
		// practice (branches are rarely cut from a tag), and resolving a
		// tag object's underlying commit would need a ReadTag the object
		// store doesn't expose. A copy from a tag falls through to the
		// general checkout-and-diff path below instead, which still
		// works, just without the fast no-file-rewrite shortcut.
		if srcEntry.Record.ObjectKind == "commit" {
			srcCommit, err := a.Objects.ReadCommit(ctx, srcEntry.Oid)
			if err != nil {
				return err
			}
			if !entry.CopyModified {
				// spec.md §4.7 (1): materialise the target's head as a
				// direct reference to the copy source's head, no file
				// rewriting.
				br.Head = srcEntry.Record.Object
				commitOid = srcEntry.Record.Object
				treeOid = srcCommit.Tree
				fastForward = true
			} else {
				// A branch's first revision after a copy-with-modification
				// gets the copy source's commit as its parent, so history
				// shows the branch point, even though br.Head is still
				// empty at this point.
				treeOid = srcCommit.Tree
				if !havePrior {
					parentOid = srcEntry.Record.Object
				}
			}
		}
	}

	if !fastForward {
		idx := store.NewTree(false)
		baseTreeOid := treeOid
		if baseTreeOid == "" && br.Head != "" {
			spec, err := a.Objects.ReadCommit(ctx, br.Head)
			if err != nil {
				return err
			}
			baseTreeOid = spec.Tree
		}
		if baseTreeOid != "" {
			if err := loadTreeInto(ctx, a.Objects, baseTreeOid, "", idx); err != nil {
				return err
			}
		}

		h := &editorHandler{ctx: ctx, a: a, idx: idx}
		if err := driver.Drive(h); err != nil {
			return err
		}
		if h.err != nil {
			return h.err
		}

		newTreeOid, err := buildTree(ctx, a.Objects, idx)
		if err != nil {
			return err
		}

		if br.IsTag && br.Head != "" && newTreeOid == baseTreeOid {
			// spec.md §4.7 "Tag semantics": no file tree changed, reuse
			// the prior head instead of creating a new dummy commit.
			commitOid = br.Head
		} else {
			var parents []string
			if parentOid != "" {
				parents = []string{parentOid}
			}
			commitOid, err = a.Objects.WriteCommit(ctx, store.CommitSpec{
				Tree: newTreeOid, Parents: parents,
				Author: identity, Committer: identity, Message: entry.Message,
			})
			if err != nil {
				return err
			}
			br.Head = commitOid
		}
		treeOid = newTreeOid
	}

	objectOid, objectKind := commitOid, "commit"
	if br.IsTag {
		tagOid, err := a.Objects.WriteTag(ctx, store.TagSpec{
			Object: commitOid, Type: "commit", Tag: tagName(br.Path),
			Tagger: identity, Message: entry.Message,
		})
		if err != nil {
			return err
		}
		objectOid, objectKind = tagOid, "tag"
	}

	refName := revcache.RefName(a.RepoUUID, br.Path, br.Start)
	rec := revcache.RevisionRecord{
		Date: entry.Date, Object: objectOid, ObjectKind: objectKind,
		Revision: entry.Rev, Path: br.Path,
	}
	if _, err := a.Cache.Put(ctx, refName, treeOid, rec); err != nil {
		return err
	}

	for _, ref := range br.Refs {
		if err := a.advanceRef(ctx, ref, objectOid); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) advanceRef(ctx context.Context, name string, newOid string) error {
	lock, err := a.Refs.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	old, ok, err := a.Refs.Read(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		old = ""
	}
	return a.Refs.Update(ctx, name, old, newOid)
}

func (a *Applier) emptyBlob(ctx context.Context) (string, error) {
	if a.emptyBlobOid != "" {
		return a.emptyBlobOid, nil
	}
	oid, err := a.Objects.WriteBlob(ctx, nil)
	if err != nil {
		return "", err
	}
	a.emptyBlobOid = oid
	return oid, nil
}

// tagName returns the last path segment, used as the annotated tag
// object's Tag field.
func tagName(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// loadTreeInto recursively populates idx with every file reachable from
// the tree object oid, rooted at prefix.
func loadTreeInto(ctx context.Context, objects store.ObjectStore, oid string, prefix string, idx *store.Tree) error {
	entries, err := objects.ReadTree(ctx, oid)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.Kind == store.KindTree {
			if err := loadTreeInto(ctx, objects, e.Oid, full, idx); err != nil {
				return err
			}
			continue
		}
		idx.AddFile(full, e.Oid)
	}
	return nil
}

// buildTree recursively writes idx's children as git tree objects,
// returning the root tree's oid.
func buildTree(ctx context.Context, objects store.ObjectStore, node *store.Tree) (string, error) {
	var entries []store.TreeEntry
	for _, c := range node.Children {
		if c.IsFile {
			entries = append(entries, store.TreeEntry{Name: c.Name, Mode: "100644", Oid: c.Oid, Kind: store.KindBlob})
			continue
		}
		oid, err := buildTree(ctx, objects, c)
		if err != nil {
			return "", err
		}
		entries = append(entries, store.TreeEntry{Name: c.Name, Mode: "040000", Oid: oid, Kind: store.KindTree})
	}
	return objects.WriteTree(ctx, entries)
}

// editorHandler implements svnproto.EditorHandler over an in-memory
// store.Tree index, decoding each file's svndiff stream against its
// current blob and verifying the optional MD5 checksums spec.md §4.4
// names (base checksum on apply-textdelta, text checksum on close-file).
type editorHandler struct {
	ctx context.Context
	a   *Applier
	idx *store.Tree

	curBase  []byte
	deltaBuf bytes.Buffer
	err      error
}

var _ svnproto.EditorHandler = (*editorHandler)(nil)

func (h *editorHandler) fail(err error) error {
	if h.err == nil {
		h.err = err
	}
	return err
}

func (h *editorHandler) OpenRoot(rev int64) error { return nil }

func (h *editorHandler) DeleteEntry(path string) error {
	h.idx.DeleteFile(path)
	return nil
}

func (h *editorHandler) AddDir(path string, copyFrom *svnproto.CopySource) error {
	oid, err := h.a.emptyBlob(h.ctx)
	if err != nil {
		return h.fail(err)
	}
	h.idx.EnsureEmptyDirSentinel(path, oid)
	return nil
}

func (h *editorHandler) OpenDir(path string) error { return nil }
func (h *editorHandler) CloseDir() error           { return nil }

func (h *editorHandler) AddFile(path string, copyFrom *svnproto.CopySource) error { return nil }
func (h *editorHandler) OpenFile(path string) error                              { return nil }

func (h *editorHandler) ApplyTextDelta(path string, baseChecksum string) error {
	var base []byte
	if oid, ok := h.idx.Lookup(path); ok {
		b, err := h.a.Objects.ReadBlob(h.ctx, oid)
		if err != nil {
			return h.fail(err)
		}
		base = b
	}
	if baseChecksum != "" && md5Hex(base) != baseChecksum {
		return h.fail(svnerr.New(svnerr.Delta, "base checksum mismatch for %q", path))
	}
	h.curBase = base
	h.deltaBuf.Reset()
	return nil
}

func (h *editorHandler) TextDeltaChunk(path string, chunk []byte) error {
	h.deltaBuf.Write(chunk)
	return nil
}

func (h *editorHandler) TextDeltaEnd(path string) error { return nil }

func (h *editorHandler) CloseFile(path string, textChecksum string) error {
	content := h.curBase
	if h.deltaBuf.Len() > 0 {
		out, err := delta.Decode(h.deltaBuf.Bytes(), h.curBase)
		if err != nil {
			return h.fail(err)
		}
		content = out
	}
	if textChecksum != "" && md5Hex(content) != textChecksum {
		return h.fail(svnerr.New(svnerr.Delta, "text checksum mismatch for %q", path))
	}
	oid, err := h.a.Objects.WriteBlob(h.ctx, content)
	if err != nil {
		return h.fail(err)
	}
	h.idx.AddFile(path, oid)
	h.curBase = nil
	h.deltaBuf.Reset()
	return nil
}

func (h *editorHandler) CloseEdit() error { return nil }

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
