package svnproto

import (
	"time"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// CopySource is a (path, rev) pair a LogEntry's revision was copied
// from (spec.md §3 "Entity: LogEntry").
type CopySource struct {
	Path string
	Rev  int64
}

// LogEntry is the canonical location for spec.md §3's LogEntry entity
// (SPEC_FULL.md §3: "Go types live in ... internal/svnproto (LogEntry)").
type LogEntry struct {
	Rev    int64
	Author string
	// Date is the server's raw ISO-8601 date string, carried through
	// unchanged into RevisionRecord.Date (spec.md §6 object format).
	Date string
	// Timestamp is Date parsed to a Unix epoch, for commit author/
	// committer timestamps; zero if Date was absent or unparseable.
	Timestamp  int64
	Message    string
	CopySource *CopySource
	// CopyModified is true if the copy revision also modified files
	// under its own subtree, disabling the fast copy-only path. Log does
	// not set it: readLogEntry does not parse changed paths, so every
	// entry Log yields has CopyModified false.
	CopyModified bool
}

// NodeKind is the result of CheckPath.
type NodeKind string

const (
	KindFile NodeKind = "file"
	KindDir  NodeKind = "dir"
	KindNone NodeKind = "none"
)

// DirEntry is one row of a GetDir reply.
type DirEntry struct {
	Name string
	Kind NodeKind
}

// GetLatestRev issues get-latest-rev and returns the server's current
// revision.
func (c *Conn) GetLatestRev() (int64, error) {
	if err := c.sendSimple("get-latest-rev"); err != nil {
		return 0, err
	}
	if err := c.expectSuccess(); err != nil {
		return 0, err
	}
	if err := c.dec.ReadList(); err != nil {
		return 0, err
	}
	rev, err := c.dec.ReadNumber()
	if err != nil {
		return 0, err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the args list
		return 0, err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the outer success wrapper
		return 0, err
	}
	return int64(rev), nil
}

// CheckPath issues check-path for path at rev (rev < 0 means "head").
func (c *Conn) CheckPath(path string, rev int64) (NodeKind, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	if err := c.enc.WriteList(); err != nil {
		return "", err
	}
	if err := c.enc.WriteAtom("check-path"); err != nil {
		return "", err
	}
	if err := c.enc.WriteList(); err != nil {
		return "", err
	}
	if err := c.enc.WriteString([]byte(path)); err != nil {
		return "", err
	}
	if err := c.writeOptionalRev(rev); err != nil {
		return "", err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return "", err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return "", err
	}
	if err := c.enc.Flush(); err != nil {
		return "", err
	}
	if err := c.expectSuccess(); err != nil {
		return "", err
	}
	if err := c.dec.ReadList(); err != nil {
		return "", err
	}
	kind, err := c.dec.ReadAtom()
	if err != nil {
		return "", err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the args list
		return "", err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the outer success wrapper
		return "", err
	}
	return NodeKind(kind), nil
}

// GetDir issues get-dir for path at rev, returning its immediate
// children.
func (c *Conn) GetDir(path string, rev int64) ([]DirEntry, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if err := c.enc.WriteList(); err != nil {
		return nil, err
	}
	if err := c.enc.WriteAtom("get-dir"); err != nil {
		return nil, err
	}
	if err := c.enc.WriteList(); err != nil {
		return nil, err
	}
	if err := c.enc.WriteString([]byte(path)); err != nil {
		return nil, err
	}
	if err := c.writeOptionalRev(rev); err != nil {
		return nil, err
	}
	if err := c.enc.WriteAtom("false"); err != nil { // want-props
		return nil, err
	}
	if err := c.enc.WriteAtom("true"); err != nil { // want-contents
		return nil, err
	}
	if err := c.enc.WriteList(); err != nil { // fields
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
	if err := c.dec.ReadList(); err != nil { // args list: (props entries)
		return nil, err
	}
	// want-props was false, so the server always sends an empty proplist.
	if err := c.dec.ReadList(); err != nil {
		return nil, err
	}
	if err := c.dec.ReadListEnd(); err != nil {
		return nil, err
	}
	if err := c.dec.ReadList(); err != nil { // entries list
		return nil, err
	}
	var entries []DirEntry
	for {
		present, err := c.dec.ReadOptional()
		if err != nil {
			return nil, err
		}
		if !present {
			break
		}
		if err := c.dec.ReadList(); err != nil {
			return nil, err
		}
		name, err := c.dec.ReadString()
		if err != nil {
			return nil, err
		}
		kind, err := c.dec.ReadAtom()
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: string(name), Kind: NodeKind(kind)})
		if err := c.dec.ReadEnd(); err != nil { // dirent may carry more fields
			return nil, err
		}
	}
	if err := c.dec.ReadEnd(); err != nil { // close the args list
		return nil, err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the outer success wrapper
		return nil, err
	}
	return entries, nil
}

// LogOptions parameterises a Log call.
type LogOptions struct {
	Paths        []string
	Start        int64
	End          int64
	ChangedPaths bool
}

// Log issues log and streams zero or more LogEntries to yield, stopping
// at the "done" sentinel followed by a final success reply (spec.md
// §4.3 "log").
func (c *Conn) Log(opts LogOptions, yield func(LogEntry) error) error {
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("log"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil { // paths
		return err
	}
	for _, p := range opts.Paths {
		if err := ValidatePath(p); err != nil {
			return err
		}
		if err := c.enc.WriteString([]byte(p)); err != nil {
			return err
		}
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteNumber(uint64(opts.Start)); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteNumber(uint64(opts.End)); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom(boolAtom(opts.ChangedPaths)); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("true"); err != nil { // strict-node
		return err
	}
	if err := c.enc.WriteNumber(0); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("false"); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("false"); err != nil { // revprops flag
		return err
	}
	if err := c.enc.WriteList(); err != nil { // revprops names
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.Flush(); err != nil {
		return err
	}

	// The reply is a bare sequence of (log-entry (...)) items terminated
	// by (done ()), with no enclosing list (spec.md §4.3 "log"): there is
	// no ReadOptional-style absence to detect, only the literal "done"
	// tag.
	for {
		if err := c.dec.ReadList(); err != nil {
			return err
		}
		tag, err := c.dec.ReadAtom()
		if err != nil {
			return err
		}
		if tag == "done" {
			if err := c.dec.ReadEnd(); err != nil {
				return err
			}
			break
		}
		if tag != "log-entry" {
			return svnerr.New(svnerr.Protocol, "expected log-entry, got %q", tag)
		}
		entry, err := c.readLogEntry()
		if err != nil {
			return err
		}
		// Without a copy source, readLogEntry's final ReadOptional has
		// already consumed the fields list's ')'.
		if entry.CopySource != nil {
			if err := c.dec.ReadEnd(); err != nil { // close the entry's fields list
				return err
			}
		}
		if err := c.dec.ReadEnd(); err != nil { // close the (log-entry (...)) wrapper
			return err
		}
		if err := yield(entry); err != nil {
			return err
		}
	}
	// A final "(success ())" always follows the log stream.
	if err := c.expectSuccess(); err != nil {
		return err
	}
	return c.dec.ReadEnd() // close the (success ()) wrapper
}

func (c *Conn) readLogEntry() (LogEntry, error) {
	if err := c.dec.ReadList(); err != nil {
		return LogEntry{}, err
	}
	rev, err := c.dec.ReadNumber()
	if err != nil {
		return LogEntry{}, err
	}
	author, err := readOptionalString(c.dec)
	if err != nil {
		return LogEntry{}, err
	}
	date, err := readOptionalString(c.dec)
	if err != nil {
		return LogEntry{}, err
	}
	message, err := readOptionalString(c.dec)
	if err != nil {
		return LogEntry{}, err
	}
	entry := LogEntry{Rev: int64(rev), Author: author, Date: date, Message: message}
	if date != "" {
		if t, err := time.Parse(time.RFC3339Nano, date); err == nil {
			entry.Timestamp = t.Unix()
		}
	}

	present, err := c.dec.ReadOptional()
	if err != nil {
		return LogEntry{}, err
	}
	if present {
		if err := c.dec.ReadList(); err != nil {
			return LogEntry{}, err
		}
		srcPath, err := c.dec.ReadString()
		if err != nil {
			return LogEntry{}, err
		}
		srcRev, err := c.dec.ReadNumber()
		if err != nil {
			return LogEntry{}, err
		}
		entry.CopySource = &CopySource{Path: string(srcPath), Rev: int64(srcRev)}
		if err := c.dec.ReadEnd(); err != nil {
			return LogEntry{}, err
		}
	}
	return entry, nil
}

func readOptionalString(dec interface {
	ReadOptional() (bool, error)
	ReadString() ([]byte, error)
}) (string, error) {
	present, err := dec.ReadOptional()
	if err != nil {
		return "", err
	}
	if !present {
		return "", nil
	}
	s, err := dec.ReadString()
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// UpdateOptions parameterises a report-driven update exchange (spec.md
// §4.3 "update / set-path / finish-report").
type UpdateOptions struct {
	// Rev is the target revision; < 0 means head.
	Rev int64
	// Path is the report anchor, relative to the connection's root URL
	// (commonly the branch path).
	Path string
	// StartEmpty tells the server the client has nothing under Path yet,
	// so every file must arrive as add-file rather than a delta against
	// client-held state (used for an initial fetch or a copy-only base).
	StartEmpty bool
	// Recurse requests the server walk the full subtree (always true in
	// this bridge — there is no shallow-checkout mode).
	Recurse bool
}

// StartUpdate issues update, a single-path set-path report entry, and
// finish-report, after which the server begins streaming an editor
// command drive. Callers consume that drive with DriveEditor and then
// call FinishUpdate to read the trailing reply.
func (c *Conn) StartUpdate(opts UpdateOptions) error {
	if err := ValidatePath(opts.Path); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("update"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.writeOptionalRev(opts.Rev); err != nil {
		return err
	}
	if err := c.enc.WriteString([]byte("")); err != nil { // target
		return err
	}
	if err := c.enc.WriteAtom(boolAtom(opts.Recurse)); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.Flush(); err != nil {
		return err
	}

	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("set-path"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteString([]byte(opts.Path)); err != nil {
		return err
	}
	if err := c.writeOptionalRev(opts.Rev); err != nil {
		return err
	}
	if err := c.enc.WriteAtom(boolAtom(opts.StartEmpty)); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil { // lock-token, always absent
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil { // depth, always absent (server default)
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.Flush(); err != nil {
		return err
	}

	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom("finish-report"); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	return c.enc.Flush()
}

// FinishUpdate reads the trailing "(success ())" reply following the
// editor command stream DriveEditor consumed after StartUpdate.
func (c *Conn) FinishUpdate() error {
	if err := c.expectSuccess(); err != nil {
		return err
	}
	if err := c.dec.ReadEnd(); err != nil { // empty args
		return err
	}
	return c.dec.ReadEnd() // wrapper
}

// DriveUpdate runs a full report-driven update exchange: StartUpdate,
// then DriveEditor against h, then FinishUpdate. This is the production
// shape internal/apply.Driver wraps (spec.md §4.7's driver comment);
// tests exercise ApplyEntry with a Driver stub instead.
func (c *Conn) DriveUpdate(opts UpdateOptions, h EditorHandler) error {
	if err := c.StartUpdate(opts); err != nil {
		return err
	}
	if err := DriveEditor(c.dec, h); err != nil {
		return err
	}
	return c.FinishUpdate()
}

func (c *Conn) sendSimple(op string) error {
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteAtom(op); err != nil {
		return err
	}
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	if err := c.enc.WriteListEnd(); err != nil {
		return err
	}
	return c.enc.Flush()
}

// writeOptionalString writes the bare-optional-field convention: s if
// non-empty, nothing otherwise. An empty string is therefore
// indistinguishable from absent, matching readOptionalString's own
// treatment of an absent field as "".
func (c *Conn) writeOptionalString(s string) error {
	if s == "" {
		return nil
	}
	return c.enc.WriteString([]byte(s))
}

func (c *Conn) writeOptionalRev(rev int64) error {
	if err := c.enc.WriteList(); err != nil {
		return err
	}
	if rev >= 0 {
		if err := c.enc.WriteNumber(uint64(rev)); err != nil {
			return err
		}
	}
	return c.enc.WriteListEnd()
}

// expectSuccess reads a list opening with the atom "success", returning
// a ProtocolError (via checkFailure) if it instead opens with
// "failure".
func (c *Conn) expectSuccess() error {
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	tag, err := c.dec.ReadAtom()
	if err != nil {
		return err
	}
	if tag != "success" {
		return c.checkFailure(tag)
	}
	return nil
}

func boolAtom(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
