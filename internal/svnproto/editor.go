package svnproto

import (
	"github.com/svnbridge/gitsvn/internal/svnerr"
	"github.com/svnbridge/gitsvn/internal/wire"
)

// EditorHandler receives a tree-mutation drive resolved to real paths —
// DriveEditor hides the wire protocol's opaque dir-token/file-token
// bookkeeping behind its own token table (spec.md §4.3 "editor drive
// ... interpreted with an implicit directory stack"), so a handler
// implementing C7's index-mutation machine never sees a token.
type EditorHandler interface {
	OpenRoot(rev int64) error
	DeleteEntry(path string) error
	AddDir(path string, copyFrom *CopySource) error
	OpenDir(path string) error
	CloseDir() error
	AddFile(path string, copyFrom *CopySource) error
	OpenFile(path string) error
	ApplyTextDelta(path string, baseChecksum string) error
	TextDeltaChunk(path string, chunk []byte) error
	TextDeltaEnd(path string) error
	CloseFile(path string, textChecksum string) error
	CloseEdit() error
}

// DriveEditor runs the dispatch loop described in spec.md §4.3: commands
// arrive as "(cmd (args...))" until close-edit, and unrecognised
// commands (target-rev, change-dir-prop, change-file-prop, absent-dir,
// absent-file, abort-edit, and any future addition) are tolerated by
// skipping their argument list with ReadEnd rather than failing the
// drive.
func DriveEditor(dec *wire.Decoder, h EditorHandler) error {
	tokens := map[string]string{}
	for {
		if err := dec.ReadList(); err != nil {
			return err
		}
		cmd, err := dec.ReadAtom()
		if err != nil {
			return err
		}
		if err := dec.ReadList(); err != nil {
			return err
		}

		switch cmd {
		case "open-root":
			rev, err := readOptionalRev(dec)
			if err != nil {
				return err
			}
			token, err := dec.ReadString()
			if err != nil {
				return err
			}
			tokens[string(token)] = ""
			if err := h.OpenRoot(rev); err != nil {
				return err
			}

		case "delete-entry":
			path, err := dec.ReadString()
			if err != nil {
				return err
			}
			if err := ValidatePath(string(path)); err != nil {
				return err
			}
			// (rev) and dir-token follow but aren't needed; left for the
			// fallthrough closeCommand below to skip.
			if err := h.DeleteEntry(string(path)); err != nil {
				return err
			}

		case "add-dir":
			path, newToken, copyFrom, err := readAddOpen(dec)
			if err != nil {
				return err
			}
			tokens[newToken] = path
			if err := h.AddDir(path, copyFrom); err != nil {
				return err
			}

		case "open-dir":
			path, newToken, err := readOpenExisting(dec)
			if err != nil {
				return err
			}
			tokens[newToken] = path
			if err := h.OpenDir(path); err != nil {
				return err
			}

		case "close-dir":
			if _, err := dec.ReadString(); err != nil { // token, unused: stack is implicit
				return err
			}
			if err := h.CloseDir(); err != nil {
				return err
			}

		case "add-file":
			path, newToken, copyFrom, err := readAddOpen(dec)
			if err != nil {
				return err
			}
			tokens[newToken] = path
			if err := h.AddFile(path, copyFrom); err != nil {
				return err
			}

		case "open-file":
			path, newToken, err := readOpenExisting(dec)
			if err != nil {
				return err
			}
			tokens[newToken] = path
			if err := h.OpenFile(path); err != nil {
				return err
			}

		case "apply-textdelta":
			token, err := dec.ReadString()
			if err != nil {
				return err
			}
			checksum, err := readOptionalString(dec)
			if err != nil {
				return err
			}
			path, ok := tokens[string(token)]
			if !ok {
				return svnerr.New(svnerr.Protocol, "apply-textdelta: unknown file token %q", string(token))
			}
			if err := h.ApplyTextDelta(path, checksum); err != nil {
				return err
			}

		case "textdelta-chunk":
			token, err := dec.ReadString()
			if err != nil {
				return err
			}
			chunk, err := dec.ReadString()
			if err != nil {
				return err
			}
			path, ok := tokens[string(token)]
			if !ok {
				return svnerr.New(svnerr.Protocol, "textdelta-chunk: unknown file token %q", string(token))
			}
			if err := h.TextDeltaChunk(path, chunk); err != nil {
				return err
			}

		case "textdelta-end":
			token, err := dec.ReadString()
			if err != nil {
				return err
			}
			path, ok := tokens[string(token)]
			if !ok {
				return svnerr.New(svnerr.Protocol, "textdelta-end: unknown file token %q", string(token))
			}
			if err := h.TextDeltaEnd(path); err != nil {
				return err
			}

		case "close-file":
			token, err := dec.ReadString()
			if err != nil {
				return err
			}
			checksum, err := readOptionalString(dec)
			if err != nil {
				return err
			}
			path, ok := tokens[string(token)]
			if !ok {
				return svnerr.New(svnerr.Protocol, "close-file: unknown file token %q", string(token))
			}
			if err := h.CloseFile(path, checksum); err != nil {
				return err
			}

		case "close-edit":
			if err := closeCommand(dec); err != nil { // close-edit's args are always empty
				return err
			}
			return h.CloseEdit()
		default:
			// target-rev, change-dir-prop, change-file-prop, absent-dir,
			// absent-file, abort-edit, or any unrecognised future command:
			// skip the whole argument list.
		}

		if err := closeCommand(dec); err != nil {
			return err
		}
	}
}

// closeCommand consumes any remaining unread fields in the current
// command's argument list and closes both it and the enclosing
// "(cmd (...))" wrapper.
func closeCommand(dec *wire.Decoder) error {
	if err := dec.ReadEnd(); err != nil { // close the args list
		return err
	}
	return dec.ReadEnd() // close the (cmd (...)) wrapper
}

// readOptionalRev reads the "(rev)" field: a mandatory list wrapping an
// optionally-present revision number (the same convention writeOptionalRev
// produces on the request side).
func readOptionalRev(dec *wire.Decoder) (int64, error) {
	if err := dec.ReadList(); err != nil {
		return 0, err
	}
	present, err := dec.ReadOptional()
	if err != nil {
		return 0, err
	}
	if !present {
		return -1, nil
	}
	rev, err := dec.ReadNumber()
	if err != nil {
		return 0, err
	}
	if err := dec.ReadListEnd(); err != nil {
		return 0, err
	}
	return int64(rev), nil
}

// readAddOpen parses "path parent-token new-token ( [copyfrom] )" shared
// by add-dir and add-file, where the copyfrom list is either empty or
// "(copyfrom-path copyfrom-rev)".
func readAddOpen(dec *wire.Decoder) (path string, newToken string, copyFrom *CopySource, err error) {
	p, err := dec.ReadString()
	if err != nil {
		return "", "", nil, err
	}
	if verr := ValidatePath(string(p)); verr != nil {
		return "", "", nil, verr
	}
	if _, err := dec.ReadString(); err != nil { // parent token, implicit via path
		return "", "", nil, err
	}
	nt, err := dec.ReadString()
	if err != nil {
		return "", "", nil, err
	}
	// copyfrom is a mandatory list, either empty or "(copyfrom-path
	// copyfrom-rev)" (the same convention as the "(rev)" field).
	if err := dec.ReadList(); err != nil {
		return "", "", nil, err
	}
	present, err := dec.ReadOptional()
	if err != nil {
		return "", "", nil, err
	}
	if present {
		srcPath, err := dec.ReadString()
		if err != nil {
			return "", "", nil, err
		}
		srcRev, err := dec.ReadNumber()
		if err != nil {
			return "", "", nil, err
		}
		copyFrom = &CopySource{Path: string(srcPath), Rev: int64(srcRev)}
		if err := dec.ReadListEnd(); err != nil {
			return "", "", nil, err
		}
	}
	return string(p), string(nt), copyFrom, nil
}

// readOpenExisting parses "path parent-token new-token rev-fields..."
// shared by open-dir and open-file. The trailing revision (and any
// further fields a future protocol revision adds) is skipped with
// ReadEnd rather than parsed, since callers only need the path.
func readOpenExisting(dec *wire.Decoder) (path string, newToken string, err error) {
	p, err := dec.ReadString()
	if err != nil {
		return "", "", err
	}
	if verr := ValidatePath(string(p)); verr != nil {
		return "", "", verr
	}
	if _, err := dec.ReadString(); err != nil { // parent token
		return "", "", err
	}
	nt, err := dec.ReadString()
	if err != nil {
		return "", "", err
	}
	return string(p), string(nt), nil
}
