package svnproto

import (
	"strconv"
	"strings"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// CommitInfo is the final reply to a commit's close-edit (spec.md §4.3
// "commit: ... final (commit-info rev date author)").
type CommitInfo struct {
	Rev    int64
	Date   string
	Author string
}

// CommitEditor drives a tree-mutation command stream to the server — the
// push-side mirror of DriveEditor, which reads the same stream shape on
// the update/receive side. It owns its own directory-token bookkeeping
// so C8's push planner can address everything by path, exactly as
// EditorHandler does on the receive side.
type CommitEditor struct {
	c         *Conn
	nextToken int
	tokens    map[string]string // path -> token this editor assigned it
	dirStack  []string          // paths of currently-open directories, root first
}

// StartCommit opens a commit with logMessage and returns an editor ready
// to drive tree mutations, ending with CloseEdit.
func (c *Conn) StartCommit(logMessage string) (*CommitEditor, error) {
	if err := c.enc.WriteList(); err != nil {
		return nil, err
	}
	if err := c.enc.WriteAtom("commit"); err != nil {
		return nil, err
	}
	if err := c.enc.WriteList(); err != nil {
		return nil, err
	}
	if err := c.enc.WriteString([]byte(logMessage)); err != nil {
		return nil, err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return nil, err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return nil, err
	}
	if err := c.enc.Flush(); err != nil {
		return nil, err
	}
	if err := c.expectSuccess(); err != nil {
		return nil, err
	}
	if err := c.dec.ReadEnd(); err != nil { // empty args
		return nil, err
	}
	if err := c.dec.ReadEnd(); err != nil { // wrapper
		return nil, err
	}
	return &CommitEditor{c: c, tokens: map[string]string{}}, nil
}

func (e *CommitEditor) newToken() string {
	t := "t" + strconv.Itoa(e.nextToken)
	e.nextToken++
	return t
}

func parentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func (e *CommitEditor) parentToken(path string) (string, error) {
	token, ok := e.tokens[parentPath(path)]
	if !ok {
		return "", svnerr.New(svnerr.Protocol, "no open parent directory for %q", path)
	}
	return token, nil
}

// writeCommand writes "( cmd ( <body> ) )" and flushes.
func (e *CommitEditor) writeCommand(cmd string, body func() error) error {
	if err := e.c.enc.WriteList(); err != nil {
		return err
	}
	if err := e.c.enc.WriteAtom(cmd); err != nil {
		return err
	}
	if err := e.c.enc.WriteList(); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	if err := e.c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := e.c.enc.WriteListEnd(); err != nil {
		return err
	}
	return e.c.enc.Flush()
}

// writeOptionalCopyFrom writes the mandatory-list-wrapping-optional-pair
// convention shared by add-dir/add-file's copyfrom field.
func (e *CommitEditor) writeOptionalCopyFrom(copyFrom *CopySource) error {
	if err := e.c.enc.WriteList(); err != nil {
		return err
	}
	if copyFrom != nil {
		if err := e.c.enc.WriteString([]byte(copyFrom.Path)); err != nil {
			return err
		}
		if err := e.c.enc.WriteNumber(uint64(copyFrom.Rev)); err != nil {
			return err
		}
	}
	return e.c.enc.WriteListEnd()
}

// OpenRoot opens the root directory at rev (rev < 0 means "head").
func (e *CommitEditor) OpenRoot(rev int64) error {
	token := e.newToken()
	if err := e.writeCommand("open-root", func() error {
		if err := e.c.writeOptionalRev(rev); err != nil {
			return err
		}
		return e.c.enc.WriteString([]byte(token))
	}); err != nil {
		return err
	}
	e.tokens[""] = token
	e.dirStack = append(e.dirStack, "")
	return nil
}

// AddDir adds a new directory at path, optionally copied from copyFrom.
func (e *CommitEditor) AddDir(path string, copyFrom *CopySource) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	parent, err := e.parentToken(path)
	if err != nil {
		return err
	}
	token := e.newToken()
	if err := e.writeCommand("add-dir", func() error {
		if err := e.c.enc.WriteString([]byte(path)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(parent)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.writeOptionalCopyFrom(copyFrom)
	}); err != nil {
		return err
	}
	e.tokens[path] = token
	e.dirStack = append(e.dirStack, path)
	return nil
}

// OpenDir opens an existing directory at path for further mutation.
func (e *CommitEditor) OpenDir(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	parent, err := e.parentToken(path)
	if err != nil {
		return err
	}
	token := e.newToken()
	if err := e.writeCommand("open-dir", func() error {
		if err := e.c.enc.WriteString([]byte(path)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(parent)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.c.writeOptionalRev(-1) // current head is implicit
	}); err != nil {
		return err
	}
	e.tokens[path] = token
	e.dirStack = append(e.dirStack, path)
	return nil
}

// CloseDir closes the most recently opened directory.
func (e *CommitEditor) CloseDir() error {
	if len(e.dirStack) == 0 {
		return svnerr.New(svnerr.Protocol, "close-dir with no open directory")
	}
	path := e.dirStack[len(e.dirStack)-1]
	e.dirStack = e.dirStack[:len(e.dirStack)-1]
	token := e.tokens[path]
	return e.writeCommand("close-dir", func() error {
		return e.c.enc.WriteString([]byte(token))
	})
}

// AddFile adds a new file at path, optionally copied from copyFrom, and
// records its token so later calls can reference the file by path.
func (e *CommitEditor) AddFile(path string, copyFrom *CopySource) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	parent, err := e.parentToken(path)
	if err != nil {
		return err
	}
	token := e.newToken()
	if err := e.writeCommand("add-file", func() error {
		if err := e.c.enc.WriteString([]byte(path)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(parent)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.writeOptionalCopyFrom(copyFrom)
	}); err != nil {
		return err
	}
	e.tokens[path] = token
	return nil
}

// OpenFile opens an existing file at path for modification.
func (e *CommitEditor) OpenFile(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	parent, err := e.parentToken(path)
	if err != nil {
		return err
	}
	token := e.newToken()
	if err := e.writeCommand("open-file", func() error {
		if err := e.c.enc.WriteString([]byte(path)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(parent)); err != nil {
			return err
		}
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.c.writeOptionalRev(-1)
	}); err != nil {
		return err
	}
	e.tokens[path] = token
	return nil
}

func (e *CommitEditor) fileToken(path string) (string, error) {
	token, ok := e.tokens[path]
	if !ok {
		return "", svnerr.New(svnerr.Protocol, "no open file %q", path)
	}
	return token, nil
}

// ApplyTextDelta opens a delta stream against path's current contents.
func (e *CommitEditor) ApplyTextDelta(path string, baseChecksum string) error {
	token, err := e.fileToken(path)
	if err != nil {
		return err
	}
	return e.writeCommand("apply-textdelta", func() error {
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.c.writeOptionalString(baseChecksum)
	})
}

// TextDeltaChunk sends one raw chunk of an svndiff stream. Callers may
// split a delta across any number of chunks; the server concatenates
// them before decoding (spec.md §4.3 "Textdelta streaming").
func (e *CommitEditor) TextDeltaChunk(path string, chunk []byte) error {
	token, err := e.fileToken(path)
	if err != nil {
		return err
	}
	return e.writeCommand("textdelta-chunk", func() error {
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.c.enc.WriteString(chunk)
	})
}

// TextDeltaEnd finalises path's delta stream.
func (e *CommitEditor) TextDeltaEnd(path string) error {
	token, err := e.fileToken(path)
	if err != nil {
		return err
	}
	return e.writeCommand("textdelta-end", func() error {
		return e.c.enc.WriteString([]byte(token))
	})
}

// CloseFile closes path, optionally asserting its final MD5 checksum.
func (e *CommitEditor) CloseFile(path string, textChecksum string) error {
	token, err := e.fileToken(path)
	if err != nil {
		return err
	}
	if err := e.writeCommand("close-file", func() error {
		if err := e.c.enc.WriteString([]byte(token)); err != nil {
			return err
		}
		return e.c.writeOptionalString(textChecksum)
	}); err != nil {
		return err
	}
	delete(e.tokens, path)
	return nil
}

// DeleteEntry deletes path from its parent directory.
func (e *CommitEditor) DeleteEntry(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	parent, err := e.parentToken(path)
	if err != nil {
		return err
	}
	return e.writeCommand("delete-entry", func() error {
		if err := e.c.enc.WriteString([]byte(path)); err != nil {
			return err
		}
		if err := e.c.writeOptionalRev(-1); err != nil {
			return err
		}
		return e.c.enc.WriteString([]byte(parent))
	})
}

// CloseEdit finishes the drive and reads the server's final commit-info
// reply.
func (e *CommitEditor) CloseEdit() (CommitInfo, error) {
	if err := e.writeCommand("close-edit", func() error { return nil }); err != nil {
		return CommitInfo{}, err
	}
	if err := e.c.expectSuccess(); err != nil {
		return CommitInfo{}, err
	}
	if err := e.c.dec.ReadList(); err != nil {
		return CommitInfo{}, err
	}
	rev, err := e.c.dec.ReadNumber()
	if err != nil {
		return CommitInfo{}, err
	}
	date, err := readOptionalString(e.c.dec)
	if err != nil {
		return CommitInfo{}, err
	}
	author, err := readOptionalString(e.c.dec)
	if err != nil {
		return CommitInfo{}, err
	}
	if err := e.c.dec.ReadEnd(); err != nil { // close the commit-info list
		return CommitInfo{}, err
	}
	if err := e.c.dec.ReadEnd(); err != nil { // close the outer success wrapper
		return CommitInfo{}, err
	}
	return CommitInfo{Rev: int64(rev), Date: date, Author: author}, nil
}
