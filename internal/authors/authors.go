// Package authors parses the authors-file format (spec.md §6) and
// implements the internal/apply.AuthorMapper interface, mapping an SVN
// log entry's bare username to a full git identity (and, where the file
// supplies one, a per-author password for internal/svnproto.Credentials).
//
// Grounded on the teacher's plain-bufio.Scanner config parsing (no
// third-party parser pulled in for a format this small — see DESIGN.md).
package authors

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/svnbridge/gitsvn/internal/store"
	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Entry is one parsed authors-file line.
type Entry struct {
	Identity store.Identity
	Password string // "" if the line used the plain "<user> = ..." form.
}

// Map holds every parsed entry, keyed by the bare SVN username (the
// left-hand side of "=" with any ":password" suffix stripped).
type Map struct {
	entries map[string]Entry
}

// Parse reads an authors file from r (spec.md §6 "Authors-file format").
// Lines are `<user> = <Full Name> <email>`, optionally `<user>:<password>
// = ...`; '#' starts a comment; blank lines are ignored.
func Parse(r io.Reader) (*Map, error) {
	m := &Map{entries: make(map[string]Entry)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, user, err := parseLine(line)
		if err != nil {
			return nil, svnerr.Wrap(svnerr.IO, err, "parse authors file line "+strconv.Itoa(lineNo))
		}
		m.entries[user] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "read authors file")
	}
	return m, nil
}

func parseLine(line string) (Entry, string, error) {
	left, right, ok := strings.Cut(line, "=")
	if !ok {
		return Entry{}, "", svnerr.New(svnerr.IO, "missing '=' in authors line %q", line)
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)

	user := left
	password := ""
	if u, p, ok := strings.Cut(left, ":"); ok {
		user, password = u, p
	}
	if user == "" {
		return Entry{}, "", svnerr.New(svnerr.IO, "empty username in authors line %q", line)
	}

	name, email := right, ""
	if i := strings.LastIndex(right, "<"); i >= 0 && strings.HasSuffix(right, ">") {
		name = strings.TrimSpace(right[:i])
		email = right[i+1 : len(right)-1]
	}

	return Entry{Identity: store.Identity{Name: name, Email: email}, Password: password}, user, nil
}

// Map resolves svnAuthor to a full identity. An unknown author falls
// back to using the bare SVN username as both name and a
// "user@svn" placeholder email, so that a missing authors-file entry
// never blocks a fetch (spec.md leaves this unmapped case to the
// implementation; the teacher's fallback-to-something-printable
// convention is followed here rather than failing the whole revision).
func (m *Map) Map(svnAuthor string) store.Identity {
	if e, ok := m.entries[svnAuthor]; ok {
		return e.Identity
	}
	return store.Identity{Name: svnAuthor, Email: svnAuthor + "@svn"}
}

// Credentials returns the per-author password recorded for svnAuthor,
// and whether one was configured (spec.md §6 "An optional
// 'user:password' form on the left supplies per-author credentials").
func (m *Map) Credentials(svnAuthor string) (string, bool) {
	e, ok := m.entries[svnAuthor]
	if !ok || e.Password == "" {
		return "", false
	}
	return e.Password, true
}

// ParseFile opens path and parses it (the common case for CLI wiring).
func ParseFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "open authors file "+path)
	}
	defer f.Close()
	return Parse(f)
}
