// Package revcache persists RevisionRecords through store.ObjectStore /
// store.RefStore and resolves (branch, revision) lookups by walking the
// parent chain (spec.md §3 "Entity: RevisionRecord", §4.5 Revision
// cache). Grounded on internal/gitstore's ref-locking Update/Lock
// pattern for the write-side compare-and-swap, and on the teacher's
// habit of keeping derived lookup structures (its BlobFileMatcher maps)
// rebuildable from an authoritative source rather than hand-maintained.
package revcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// RevisionRecord is spec.md §3's persisted entity. Object/ObjectKind
// name the commit or tag this revision produced; Parent is the oid of
// the previous RevisionRecord in this branch slice, or "" for the first.
type RevisionRecord struct {
	Date         string
	Object       string
	ObjectKind   string // "commit" or "tag"
	Parent       string
	Revision     int64
	Path         string
	Mergeinfo    string // serialised inherited mergeinfo, "" if absent
	SvnMergeinfo string // serialised explicit svn:mergeinfo property, "" if absent
}

// Entry pairs a decoded record with the oid of the commit-shaped object
// it was read from, since Put needs that oid as the next record's
// Parent.
type Entry struct {
	Record RevisionRecord
	Oid    string
}

// RefName returns the deterministic ref name for a branch slice (spec.md
// §6 "Persisted state"): reserved characters in path are escaped to '_'
// and a ".<start>" suffix disambiguates slices sharing a path.
func RefName(repoUUID, path string, start int64) string {
	return fmt.Sprintf("refs/svn/%s/%s.%d", repoUUID, escapeRefComponent(path), start)
}

func escapeRefComponent(path string) string {
	var sb strings.Builder
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Index is an optional accelerator consulted before the full parent-
// chain walk (internal/revcache/sqliteindex.go implements it against
// mattn/go-sqlite3). It is never authoritative: a miss or error always
// falls back to walking from the ref.
type Index interface {
	// Lookup returns the oid of the record with the greatest Revision <=
	// rev known for refName, if any.
	Lookup(refName string, rev int64) (oid string, ok bool)
	// Record notes a (refName, revision) -> oid mapping as it is
	// discovered, for future Lookups.
	Record(refName string, revision int64, oid string)
}

// Cache resolves and persists RevisionRecords.
type Cache struct {
	Objects store.ObjectStore
	Refs    store.RefStore
	// Index, if non-nil, accelerates cold-start lookups across process
	// restarts. See sqliteindex.go.
	Index Index

	mu   sync.Mutex
	memo map[string]Entry // object oid -> decoded entry, process-lifetime
}

// New returns a Cache with no on-disk index; callers wanting one set
// Cache.Index after construction.
func New(objects store.ObjectStore, refs store.RefStore) *Cache {
	return &Cache{Objects: objects, Refs: refs, memo: make(map[string]Entry)}
}

// Head returns the most recent record for refName, or ok=false if the
// ref does not yet exist.
func (c *Cache) Head(ctx context.Context, refName string) (Entry, bool, error) {
	oid, ok, err := c.Refs.Read(ctx, refName)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := c.load(ctx, oid)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Get returns the record for refName with the greatest Revision <= rev
// (spec.md §4.5 "Lookups: (branch, rev) → record by walking the parent
// chain until record.rev ≤ rev"), or ok=false if none exists (either the
// ref is unset, or every record on it postdates rev).
func (c *Cache) Get(ctx context.Context, refName string, rev int64) (Entry, bool, error) {
	if oid, found := c.lookupIndex(refName, rev); found {
		e, err := c.load(ctx, oid)
		if err == nil && e.Record.Revision <= rev {
			return e, true, nil
		}
		// A stale or wrong index hit falls back to the authoritative walk
		// below rather than propagating the error.
	}

	oid, ok, err := c.Refs.Read(ctx, refName)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	for oid != "" {
		e, err := c.load(ctx, oid)
		if err != nil {
			return Entry{}, false, err
		}
		if c.Index != nil {
			c.Index.Record(refName, e.Record.Revision, e.Oid)
		}
		if e.Record.Revision <= rev {
			return e, true, nil
		}
		oid = e.Record.Parent
	}
	return Entry{}, false, nil
}

func (c *Cache) lookupIndex(refName string, rev int64) (string, bool) {
	if c.Index == nil {
		return "", false
	}
	return c.Index.Lookup(refName, rev)
}

func (c *Cache) load(ctx context.Context, oid string) (Entry, error) {
	c.mu.Lock()
	if e, ok := c.memo[oid]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	spec, err := c.Objects.ReadCommit(ctx, oid)
	if err != nil {
		return Entry{}, err
	}
	rec, err := decode(spec)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Record: rec, Oid: oid}

	c.mu.Lock()
	c.memo[oid] = e
	c.mu.Unlock()
	return e, nil
}

// Put writes a new RevisionRecord for refName, chaining it onto the
// current head (or creating the ref if prevOid == ""), and performs the
// ref update under a lock held for the whole read-modify-write so that
// the write of the new object and the update of the ref either both
// succeed or both appear not to have happened (spec.md §4.5
// "Guarantees").
func (c *Cache) Put(ctx context.Context, refName string, tree string, rec RevisionRecord) (Entry, error) {
	lock, err := c.Refs.Lock(ctx, refName)
	if err != nil {
		return Entry{}, err
	}
	defer lock.Unlock()

	prevOid, hadPrev, err := c.Refs.Read(ctx, refName)
	if err != nil {
		return Entry{}, err
	}
	if hadPrev {
		rec.Parent = prevOid
	} else {
		rec.Parent = ""
	}

	spec := encode(tree, rec)
	oid, err := c.Objects.WriteCommit(ctx, spec)
	if err != nil {
		return Entry{}, err
	}
	old := ""
	if hadPrev {
		old = prevOid
	}
	if err := c.Refs.Update(ctx, refName, old, oid); err != nil {
		return Entry{}, err
	}

	e := Entry{Record: rec, Oid: oid}
	c.mu.Lock()
	c.memo[oid] = e
	c.mu.Unlock()
	if c.Index != nil {
		c.Index.Record(refName, rec.Revision, oid)
	}
	return e, nil
}

// encode produces the fixed-order metadata body described in spec.md §6
// ("Object format — RevisionRecord"), used as the commit object's
// message; the actual file tree lives in the commit's Tree field.
func encode(tree string, rec RevisionRecord) store.CommitSpec {
	var sb strings.Builder
	sb.WriteString("type svn\n")
	fmt.Fprintf(&sb, "date %s\n", rec.Date)
	if rec.Object != "" {
		fmt.Fprintf(&sb, "+object %s %s\n", rec.Object, rec.ObjectKind)
	}
	if rec.Parent != "" {
		fmt.Fprintf(&sb, "+parent %s\n", rec.Parent)
	}
	fmt.Fprintf(&sb, "revision %d\n", rec.Revision)
	fmt.Fprintf(&sb, "path %s\n", rec.Path)
	if rec.Mergeinfo != "" {
		fmt.Fprintf(&sb, "mergeinfo %s\n", quoteC(rec.Mergeinfo))
	}
	if rec.SvnMergeinfo != "" {
		fmt.Fprintf(&sb, "svn:mergeinfo %s\n", quoteC(rec.SvnMergeinfo))
	}
	identity := store.Identity{Name: "svnbridge", Email: "svnbridge@localhost", Unix: 0}
	var parents []string
	if rec.Parent != "" {
		parents = []string{rec.Parent}
	}
	return store.CommitSpec{
		Tree:      tree,
		Parents:   parents,
		Author:    identity,
		Committer: identity,
		Message:   sb.String(),
	}
}

// decode parses a RevisionRecord out of a read-back commit object's
// message.
func decode(spec store.CommitSpec) (RevisionRecord, error) {
	rec := RevisionRecord{}
	if len(spec.Parents) > 0 {
		rec.Parent = spec.Parents[0]
	}
	haveRevision := false
	for _, line := range strings.Split(spec.Message, "\n") {
		if line == "" {
			continue
		}
		key, rest, ok := strings.Cut(line, " ")
		if !ok {
			return RevisionRecord{}, svnerr.New(svnerr.IO, "malformed RevisionRecord line %q", line)
		}
		switch key {
		case "type":
			// always "svn"; nothing to store.
		case "date":
			rec.Date = rest
		case "+object":
			obj, kind, ok := strings.Cut(rest, " ")
			if !ok {
				return RevisionRecord{}, svnerr.New(svnerr.IO, "malformed +object line %q", line)
			}
			rec.Object = obj
			rec.ObjectKind = kind
		case "+parent":
			rec.Parent = rest
		case "revision":
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return RevisionRecord{}, svnerr.Wrap(svnerr.IO, err, "parse revision line")
			}
			rec.Revision = n
			haveRevision = true
		case "path":
			rec.Path = rest
		case "mergeinfo":
			s, err := unquoteC(rest)
			if err != nil {
				return RevisionRecord{}, err
			}
			rec.Mergeinfo = s
		case "svn:mergeinfo":
			s, err := unquoteC(rest)
			if err != nil {
				return RevisionRecord{}, err
			}
			rec.SvnMergeinfo = s
		default:
			// forward-compatible: ignore unrecognised key lines.
		}
	}
	if !haveRevision {
		return RevisionRecord{}, svnerr.New(svnerr.IO, "RevisionRecord missing revision line")
	}
	return rec, nil
}

// quoteC renders s as a double-quoted, backslash-escaped C-style string
// literal (spec.md §6 "mergeinfo string C-style quoted").
func quoteC(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, b := range []byte(s) {
		switch b {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteByte(b)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// unquoteC reverses quoteC.
func unquoteC(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", svnerr.New(svnerr.IO, "malformed quoted string %q", s)
	}
	body := s[1 : len(s)-1]
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				sb.WriteByte('\n')
			default:
				sb.WriteByte(body[i])
			}
			continue
		}
		sb.WriteByte(body[i])
	}
	return sb.String(), nil
}
