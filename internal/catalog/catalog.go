// Package catalog keeps a queryable SQLite index of the snapshots in a
// store. The store's records stay the source of truth; the catalog can be
// rebuilt from them at any time.
package catalog

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/bamsammich/strata/internal/domain"
)

// FileName is the catalog database inside a backup directory.
const FileName = "catalog.db"

// Entry describes one snapshot.
type Entry struct {
	ID       domain.SnapshotID
	PrevID   domain.SnapshotID // empty for a root snapshot
	Tier     domain.Tier
	Replaced int
	Deleted  int
	Bytes    int64  // size of the encoded record data
	Digest   string // hex BLAKE3 of the encoded record data
	Created  time.Time
}

// Catalog is an open index database.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the catalog in dir.
func Open(dir string) (*Catalog, error) {
	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	c := &Catalog{db: db, path: path}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id       TEXT PRIMARY KEY,
			prev_id  TEXT NOT NULL DEFAULT '',
			tier     INTEGER NOT NULL,
			replaced INTEGER NOT NULL,
			deleted  INTEGER NOT NULL,
			bytes    INTEGER NOT NULL,
			digest   TEXT NOT NULL,
			created  INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create catalog tables: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// Insert adds e. An entry with the same ID yields domain.ErrAlreadyExists.
func (c *Catalog) Insert(e Entry) error {
	if _, err := c.Get(e.ID); err == nil {
		return fmt.Errorf("catalog entry %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	_, err := c.db.Exec(
		"INSERT INTO snapshots (id, prev_id, tier, replaced, deleted, bytes, digest, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		string(e.ID), string(e.PrevID), int(e.Tier), e.Replaced, e.Deleted, e.Bytes, e.Digest, e.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert catalog entry %s: %w", e.ID, err)
	}
	return nil
}

// Get returns the entry for id, or an error wrapping domain.ErrNotFound.
func (c *Catalog) Get(id domain.SnapshotID) (Entry, error) {
	row := c.db.QueryRow(
		"SELECT id, prev_id, tier, replaced, deleted, bytes, digest, created FROM snapshots WHERE id = ?",
		string(id),
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("catalog entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read catalog entry %s: %w", id, err)
	}
	return e, nil
}

// List returns all entries in ascending ID order.
func (c *Catalog) List() ([]Entry, error) {
	rows, err := c.db.Query("SELECT id, prev_id, tier, replaced, deleted, bytes, digest, created FROM snapshots ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rebuild replaces every entry with entries in one transaction.
func (c *Catalog) Rebuild(entries []Entry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM snapshots"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear catalog: %w", err)
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO snapshots (id, prev_id, tier, replaced, deleted, bytes, digest, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(string(e.ID), string(e.PrevID), int(e.Tier), e.Replaced, e.Deleted, e.Bytes, e.Digest, e.Created.Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e       Entry
		id      string
		prev    string
		tier    int
		created int64
	)
	if err := s.Scan(&id, &prev, &tier, &e.Replaced, &e.Deleted, &e.Bytes, &e.Digest, &created); err != nil {
		return Entry{}, err
	}
	e.ID = domain.SnapshotID(id)
	e.PrevID = domain.SnapshotID(prev)
	e.Tier = domain.Tier(tier)
	e.Created = time.Unix(created, 0)
	return e, nil
}

// Digest returns the hex BLAKE3 digest of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EntryFor builds the catalog entry describing rec. d is the decoded diff
// of rec.
func EntryFor(rec domain.Record, d domain.Diff) Entry {
	replaced, deleted := d.Counts()
	created, err := rec.ID.Time()
	if err != nil {
		created = time.Time{}
	}
	return Entry{
		ID:       rec.ID,
		PrevID:   rec.Prev(),
		Tier:     rec.Compression,
		Replaced: replaced,
		Deleted:  deleted,
		Bytes:    int64(len(rec.Data)),
		Digest:   Digest(rec.Data),
		Created:  created,
	}
}
