package revcache

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// SQLiteIndex is an on-disk Index accelerating cold-start (branch, rev)
// lookups across process restarts (SPEC_FULL.md §4.5 "[ADDED] ... an
// optional on-disk index backed by mattn/go-sqlite3"). It is purely a
// derived cache: every row can be rebuilt from the authoritative
// ref-pointed commit chain, and a miss or stale row simply falls back to
// Cache.Get's full walk — mirroring how the teacher treats its own
// BlobFileMatcher maps as rebuildable, never load-bearing, structures.
type SQLiteIndex struct {
	db *sql.DB
}

var _ Index = (*SQLiteIndex)(nil)

// OpenSQLiteIndex opens (creating if necessary) a sqlite database at
// path and ensures its schema exists.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, svnerr.Wrap(svnerr.IO, err, "open revision index")
	}
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	ref_name TEXT NOT NULL,
	revision INTEGER NOT NULL,
	oid TEXT NOT NULL,
	PRIMARY KEY (ref_name, revision)
);
CREATE INDEX IF NOT EXISTS records_by_ref_rev ON records (ref_name, revision DESC);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, svnerr.Wrap(svnerr.IO, err, "create revision index schema")
	}
	return &SQLiteIndex{db: db}, nil
}

// Lookup returns the newest indexed oid at or before rev on refName.
func (idx *SQLiteIndex) Lookup(refName string, rev int64) (string, bool) {
	row := idx.db.QueryRow(
		`SELECT oid FROM records WHERE ref_name = ? AND revision <= ? ORDER BY revision DESC LIMIT 1`,
		refName, rev,
	)
	var oid string
	if err := row.Scan(&oid); err != nil {
		return "", false
	}
	return oid, true
}

// Record upserts a (refName, revision) -> oid mapping. Errors are
// swallowed: a failed write just means a future Lookup misses and Get
// falls back to the authoritative walk, which is always correct.
func (idx *SQLiteIndex) Record(refName string, revision int64, oid string) {
	_, _ = idx.db.Exec(
		`INSERT OR REPLACE INTO records (ref_name, revision, oid) VALUES (?, ?, ?)`,
		refName, revision, oid,
	)
}

// Close releases the underlying database handle.
func (idx *SQLiteIndex) Close() error {
	if err := idx.db.Close(); err != nil {
		return svnerr.Wrap(svnerr.IO, err, "close revision index")
	}
	return nil
}

// Rebuild repopulates the index for refName by walking its entire
// parent chain from the current head, for use after the index is found
// stale or missing (SPEC_FULL.md §4.5 "the sqlite index is rebuilt from
// it if stale or missing").
func Rebuild(c *Cache, refName string) error {
	ctx := context.Background()
	oid, ok, err := c.Refs.Read(ctx, refName)
	if err != nil || !ok {
		return err
	}
	for oid != "" {
		e, err := c.load(ctx, oid)
		if err != nil {
			return err
		}
		if c.Index != nil {
			c.Index.Record(refName, e.Record.Revision, e.Oid)
		}
		oid = e.Record.Parent
	}
	return nil
}
