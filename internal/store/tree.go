// Package store defines the narrow external-adapter interfaces (spec.md
// §2 C10, §9 "Dynamic dispatch over transports") the fetch and push
// planners mutate against, plus the in-memory index tree both use to
// track "what files exist under this branch right now".
//
// Tree is grounded on the teacher's node.Node: the same
// stringEqual/AddSubFile/DeleteSubFile child-walking idiom, generalised
// to carry a blob identity (Oid) per file instead of only a path, since
// C7's index-mutation machine needs to know which blob an entry
// currently points at before deciding whether a delta applies cleanly.
package store

import "strings"

// Entry is one file found by Tree.Files: its full path and the object
// id of its blob.
type Entry struct {
	Path string
	Oid  string
}

// Tree tracks the files present on one branch's working index, the way
// the teacher's Node tracked "what's currently on this git branch" for
// integration-record purposes.
type Tree struct {
	Name            string
	Path            string
	IsFile          bool
	Oid             string
	CaseInsensitive bool
	Children        []*Tree
}

// NewTree returns an empty root tree node.
func NewTree(caseInsensitive bool) *Tree {
	return &Tree{CaseInsensitive: caseInsensitive}
}

func (n *Tree) stringEqual(s1, s2 string) bool {
	if n.CaseInsensitive {
		return len(s1) == len(s2) && strings.EqualFold(s1, s2)
	}
	return len(s1) == len(s2) && s1 == s2
}

// AddFile inserts or overwrites a file at path, recording oid as its
// blob identity. Any ".gitempty" sentinel sibling at the same directory
// is removed, since the directory is no longer empty (spec.md §4.7
// "adding any file underneath removes the sibling sentinel").
func (n *Tree) AddFile(path string, oid string) {
	n.addSubFile(path, path, oid)
	if dir := dirOf(path); dir != "" {
		n.DeleteFile(dir + "/.gitempty")
	}
}

func (n *Tree) addSubFile(fullPath, subPath, oid string) {
	parts := strings.SplitN(subPath, "/", 2)
	if len(parts) == 1 {
		for _, c := range n.Children {
			if n.stringEqual(c.Name, parts[0]) {
				c.IsFile = true
				c.Oid = oid
				c.Path = fullPath
				return
			}
		}
		n.Children = append(n.Children, &Tree{Name: parts[0], IsFile: true, Path: fullPath, Oid: oid, CaseInsensitive: n.CaseInsensitive})
		return
	}
	for _, c := range n.Children {
		if n.stringEqual(c.Name, parts[0]) {
			c.addSubFile(fullPath, parts[1], oid)
			return
		}
	}
	child := &Tree{Name: parts[0], CaseInsensitive: n.CaseInsensitive}
	n.Children = append(n.Children, child)
	child.addSubFile(fullPath, parts[1], oid)
}

// DeleteFile removes the entry at path, if present. It is a no-op if
// the path does not exist (spec.md §4.7 delete-entry tolerates this
// when called against a sentinel that was never materialised).
func (n *Tree) DeleteFile(path string) {
	n.deleteSubFile(path)
}

func (n *Tree) deleteSubFile(subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	if len(parts) == 1 {
		for i, c := range n.Children {
			if n.stringEqual(c.Name, parts[0]) {
				n.Children[i] = n.Children[len(n.Children)-1]
				n.Children = n.Children[:len(n.Children)-1]
				return
			}
		}
		return
	}
	for _, c := range n.Children {
		if n.stringEqual(c.Name, parts[0]) {
			c.deleteSubFile(parts[1])
			return
		}
	}
}

// EnsureEmptyDirSentinel adds a ".gitempty" placeholder blob under dir
// if and only if dir currently has no children, representing an
// otherwise-empty directory (spec.md §4.7 add-dir handling). oid is the
// identity of an empty blob.
func (n *Tree) EnsureEmptyDirSentinel(dir string, oid string) {
	node := n.findDir(dir)
	if node == nil || len(node.Children) > 0 {
		return
	}
	name := dir + "/.gitempty"
	if dir == "" {
		name = ".gitempty"
	}
	n.addSubFile(name, name, oid)
}

func (n *Tree) findDir(dir string) *Tree {
	if dir == "" {
		return n
	}
	parts := strings.SplitN(dir, "/", 2)
	for _, c := range n.Children {
		if n.stringEqual(c.Name, parts[0]) && !c.IsFile {
			if len(parts) == 1 {
				return c
			}
			return c.findDir(parts[1])
		}
	}
	return nil
}

// Files returns every file entry under dir (dir == "" means the whole
// tree), in the teacher's GetFiles recursive-collect shape.
func (n *Tree) Files(dir string) []Entry {
	if dir == "" {
		return n.collect()
	}
	node := n.findDir(dir)
	if node == nil {
		return nil
	}
	return node.collect()
}

func (n *Tree) collect() []Entry {
	var out []Entry
	for _, c := range n.Children {
		if c.IsFile {
			if strings.HasSuffix(c.Name, ".gitempty") {
				continue
			}
			out = append(out, Entry{Path: c.Path, Oid: c.Oid})
		} else {
			out = append(out, c.collect()...)
		}
	}
	return out
}

// Lookup returns the oid stored at path and whether it was found.
func (n *Tree) Lookup(path string) (string, bool) {
	parts := strings.SplitN(path, "/", 2)
	for _, c := range n.Children {
		if n.stringEqual(c.Name, parts[0]) {
			if len(parts) == 1 {
				if !c.IsFile {
					return "", false
				}
				return c.Oid, true
			}
			return c.Lookup(parts[1])
		}
	}
	return "", false
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
