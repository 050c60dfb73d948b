// Package gitstore implements internal/store's ObjectStore and RefStore
// against a real on-disk git object database, grounded on gg-scm.io/pkg/git's
// object/githash packages for the loose-object wire format (tree sorting,
// commit/tag marshalling, SHA-1 object ids) instead of hand-rolling that
// format. Ref locking follows git's own lockfile protocol: create
// "<ref>.lock" exclusively, write, rename over the target.
package gitstore

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gg-scm.io/pkg/git/githash"
	"gg-scm.io/pkg/git/object"

	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Store is a store.ObjectStore and store.RefStore backed by loose
// objects and packed-refs-free ref files under gitDir (a ".git"
// directory or equivalent bare repository root).
type Store struct {
	gitDir string
}

// New returns a Store rooted at gitDir, which must already exist.
func New(gitDir string) *Store {
	return &Store{gitDir: gitDir}
}

var _ store.ObjectStore = (*Store)(nil)
var _ store.RefStore = (*Store)(nil)

func (s *Store) objectPath(sum githash.SHA1) string {
	hex := sum.String()
	return filepath.Join(s.gitDir, "objects", hex[:2], hex[2:])
}

func (s *Store) writeLoose(typ object.Type, content []byte) (githash.SHA1, error) {
	prefixed := object.AppendPrefix(nil, typ, int64(len(content)))
	full := append(prefixed, content...)

	sum := githash.SHA1{}
	h := sha1.Sum(full)
	copy(sum[:], h[:])

	path := s.objectPath(sum)
	if _, err := os.Stat(path); err == nil {
		return sum, nil // already present
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sum, svnerr.Wrap(svnerr.IO, err, "create object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "obj-*")
	if err != nil {
		return sum, svnerr.Wrap(svnerr.IO, err, "create temp object file")
	}
	defer os.Remove(tmp.Name())

	zw := zlib.NewWriter(tmp)
	if _, err := zw.Write(full); err != nil {
		tmp.Close()
		return sum, svnerr.Wrap(svnerr.IO, err, "deflate object")
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return sum, svnerr.Wrap(svnerr.IO, err, "close deflate stream")
	}
	if err := tmp.Close(); err != nil {
		return sum, svnerr.Wrap(svnerr.IO, err, "close temp object file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return sum, svnerr.Wrap(svnerr.IO, err, "install object file")
	}
	return sum, nil
}

func (s *Store) readLoose(sum githash.SHA1) ([]byte, object.Type, error) {
	path := s.objectPath(sum)
	f, err := os.Open(path)
	if err != nil {
		return nil, "", svnerr.Wrap(svnerr.MissingObject, err, "open object")
	}
	defer f.Close()
	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, "", svnerr.Wrap(svnerr.IO, err, "open deflate stream")
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, "", svnerr.Wrap(svnerr.IO, err, "inflate object")
	}
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return nil, "", svnerr.New(svnerr.IO, "malformed object: no NUL after prefix")
	}
	var prefix object.Prefix
	if err := prefix.UnmarshalBinary(raw[:nul+1]); err != nil {
		return nil, "", svnerr.Wrap(svnerr.IO, err, "parse object prefix")
	}
	return raw[nul+1:], prefix.Type, nil
}

// WriteBlob writes content as a loose blob object.
func (s *Store) WriteBlob(ctx context.Context, content []byte) (string, error) {
	sum, err := s.writeLoose(object.TypeBlob, content)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

// ReadBlob reads back a blob's raw content.
func (s *Store) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	sum, err := githash.ParseSHA1(oid)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.Path, err, "parse blob oid")
	}
	content, typ, err := s.readLoose(sum)
	if err != nil {
		return nil, err
	}
	if typ != object.TypeBlob {
		return nil, svnerr.New(svnerr.MissingObject, "object %s is a %s, not a blob", oid, typ)
	}
	return content, nil
}

// WriteTree writes a sorted tree object from entries.
func (s *Store) WriteTree(ctx context.Context, entries []store.TreeEntry) (string, error) {
	tree := make(object.Tree, 0, len(entries))
	for _, e := range entries {
		sum, err := githash.ParseSHA1(e.Oid)
		if err != nil {
			return "", svnerr.Wrap(svnerr.Path, err, "parse tree entry oid")
		}
		mode, err := parseMode(e)
		if err != nil {
			return "", err
		}
		tree = append(tree, &object.TreeEntry{Name: e.Name, Mode: mode, ObjectID: sum})
	}
	sort.Sort(tree)
	content, err := tree.MarshalBinary()
	if err != nil {
		return "", svnerr.Wrap(svnerr.IO, err, "marshal tree")
	}
	sum, err := s.writeLoose(object.TypeTree, content)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

// ReadTree parses a tree object's entries.
func (s *Store) ReadTree(ctx context.Context, oid string) ([]store.TreeEntry, error) {
	sum, err := githash.ParseSHA1(oid)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.Path, err, "parse tree oid")
	}
	raw, typ, err := s.readLoose(sum)
	if err != nil {
		return nil, err
	}
	if typ != object.TypeTree {
		return nil, svnerr.New(svnerr.MissingObject, "object %s is a %s, not a tree", oid, typ)
	}
	tree, err := object.ParseTree(raw)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "parse tree")
	}
	out := make([]store.TreeEntry, 0, len(tree))
	for _, e := range tree {
		kind := store.KindBlob
		if e.Mode.IsDir() {
			kind = store.KindTree
		}
		out = append(out, store.TreeEntry{Name: e.Name, Mode: fmt.Sprintf("%o", uint32(e.Mode)), Oid: e.ObjectID.String(), Kind: kind})
	}
	return out, nil
}

// WriteCommit writes a commit object, forcing both timestamps to UTC
// (spec.md §4.7 "timestamp forced to UTC").
func (s *Store) WriteCommit(ctx context.Context, spec store.CommitSpec) (string, error) {
	treeSum, err := githash.ParseSHA1(spec.Tree)
	if err != nil {
		return "", svnerr.Wrap(svnerr.Path, err, "parse commit tree oid")
	}
	c := &object.Commit{
		Tree:       treeSum,
		Author:     identityToUser(spec.Author),
		AuthorTime: identityToTime(spec.Author),
		Committer:  identityToUser(spec.Committer),
		CommitTime: identityToTime(spec.Committer),
		Message:    spec.Message,
	}
	for _, p := range spec.Parents {
		psum, err := githash.ParseSHA1(p)
		if err != nil {
			return "", svnerr.Wrap(svnerr.Path, err, "parse commit parent oid")
		}
		c.Parents = append(c.Parents, psum)
	}
	content, err := c.MarshalText()
	if err != nil {
		return "", svnerr.Wrap(svnerr.IO, err, "marshal commit")
	}
	sum, err := s.writeLoose(object.TypeCommit, content)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

// ReadCommit parses a commit object's tree, parents, identities and
// message.
func (s *Store) ReadCommit(ctx context.Context, oid string) (store.CommitSpec, error) {
	sum, err := githash.ParseSHA1(oid)
	if err != nil {
		return store.CommitSpec{}, svnerr.Wrap(svnerr.Path, err, "parse commit oid")
	}
	raw, typ, err := s.readLoose(sum)
	if err != nil {
		return store.CommitSpec{}, err
	}
	if typ != object.TypeCommit {
		return store.CommitSpec{}, svnerr.New(svnerr.MissingObject, "object %s is a %s, not a commit", oid, typ)
	}
	c, err := object.ParseCommit(raw)
	if err != nil {
		return store.CommitSpec{}, svnerr.Wrap(svnerr.IO, err, "parse commit")
	}
	spec := store.CommitSpec{
		Tree:      c.Tree.String(),
		Author:    userToIdentity(c.Author, c.AuthorTime),
		Committer: userToIdentity(c.Committer, c.CommitTime),
		Message:   c.Message,
	}
	for _, p := range c.Parents {
		spec.Parents = append(spec.Parents, p.String())
	}
	return spec, nil
}

func userToIdentity(u object.User, t time.Time) store.Identity {
	return store.Identity{Name: u.Name(), Email: u.Email(), Unix: t.Unix()}
}

// WriteTag writes an annotated tag object (spec.md §4.7 "Tag
// semantics": used to wrap a reused head so re-tagging updates the tag
// object rather than the commit).
func (s *Store) WriteTag(ctx context.Context, spec store.TagSpec) (string, error) {
	objSum, err := githash.ParseSHA1(spec.Object)
	if err != nil {
		return "", svnerr.Wrap(svnerr.Path, err, "parse tag target oid")
	}
	typ := object.TypeCommit
	if spec.Type == "tag" {
		typ = object.TypeTag
	}
	t := &object.Tag{
		ObjectID:   objSum,
		ObjectType: typ,
		Name:       spec.Tag,
		Tagger:     identityToUser(spec.Tagger),
		Time:       identityToTime(spec.Tagger),
		Message:    spec.Message,
	}
	content, err := t.MarshalText()
	if err != nil {
		return "", svnerr.Wrap(svnerr.IO, err, "marshal tag")
	}
	sum, err := s.writeLoose(object.TypeTag, content)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

func identityToUser(id store.Identity) object.User {
	u, _ := object.MakeUser(id.Name, id.Email)
	return u
}

func identityToTime(id store.Identity) time.Time {
	return time.Unix(id.Unix, 0).UTC()
}

func parseMode(e store.TreeEntry) (object.Mode, error) {
	switch e.Kind {
	case store.KindTree:
		return object.ModeDir, nil
	case store.KindBlob:
		if e.Mode == "100755" {
			return object.ModeExecutable, nil
		}
		if e.Mode == "120000" {
			return object.ModeSymlink, nil
		}
		return object.ModePlain, nil
	default:
		return 0, svnerr.New(svnerr.Protocol, "unsupported tree entry kind for %q", e.Name)
	}
}

// refLock implements store.RefLock by holding an open "<ref>.lock" file
// exclusively created in Lock, removed on Unlock (spec.md §4.5 "scoped
// ref-lock acquisition with release on all exit paths" — the same
// create-lockfile-then-rename idiom git itself uses for refs).
type refLock struct {
	path string
	done bool
}

func (l *refLock) Unlock() {
	if l.done {
		return
	}
	l.done = true
	os.Remove(l.path)
}

func (s *Store) refPath(name string) string {
	return filepath.Join(s.gitDir, filepath.FromSlash(name))
}

// Lock creates name's lockfile exclusively, failing if another writer
// already holds it.
func (s *Store) Lock(ctx context.Context, name string) (store.RefLock, error) {
	path := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "create ref directory")
	}
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "acquire ref lock for "+name)
	}
	f.Close()
	return &refLock{path: lockPath}, nil
}

// Read returns the oid currently stored at name.
func (s *Store) Read(ctx context.Context, name string) (string, bool, error) {
	raw, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, svnerr.Wrap(svnerr.IO, err, "read ref "+name)
	}
	return strings.TrimSpace(string(raw)), true, nil
}

// Update performs a compare-and-swap write of name via its lockfile: the
// caller must already hold the lock (Lock writes an empty file, so the
// lockfile's presence alone does not assert the compare; Update re-reads
// the current value here under that lock to enforce it) and Update
// publishes the lockfile's content over the target path.
func (s *Store) Update(ctx context.Context, name string, oldOid string, newOid string) error {
	path := s.refPath(name)
	cur, ok, err := s.Read(ctx, name)
	if err != nil {
		return err
	}
	if oldOid == "" && ok {
		return svnerr.New(svnerr.Conflict, "ref %s already exists at %s", name, cur)
	}
	if oldOid != "" && (!ok || cur != oldOid) {
		return svnerr.New(svnerr.Conflict, "ref %s expected at %s, found %s", name, oldOid, cur)
	}
	lockPath := path + ".lock"
	if err := os.WriteFile(lockPath, []byte(newOid+"\n"), 0o644); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "write ref lockfile for "+name)
	}
	if err := os.Rename(lockPath, path); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "install ref "+name)
	}
	return nil
}

// Delete removes name. Callers must hold its lock.
func (s *Store) Delete(ctx context.Context, name string) error {
	path := s.refPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return svnerr.Wrap(svnerr.IO, err, "delete ref "+name)
	}
	os.Remove(path + ".lock")
	return nil
}

