package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bamsammich/strata/internal/domain"
)

// DirStore keeps one snapshot_<id>.json file per record.
type DirStore struct {
	dir string
}

// NewDirStore returns a discrete store over an existing directory.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the directory holding the record files.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) Get(id domain.SnapshotID) (domain.Record, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, RecordName(id)))
	if err != nil {
		if isNotExist(err) {
			return domain.Record{}, notFound(id)
		}
		return domain.Record{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return decodeRecord(id, b)
}

// Put writes the record to a temp file and links it into place, so a
// concurrent reader never sees a partial record and an existing record is
// never replaced.
func (s *DirStore) Put(rec domain.Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	finalPath := filepath.Join(s.dir, RecordName(rec.ID))
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.strata-tmp", RecordName(rec.ID), uuid.New().String()[:8]))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.Remove(tmpPath)

	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync record %s: %w", rec.ID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close record %s: %w", rec.ID, err)
	}

	// Link fails with EEXIST instead of silently replacing the target.
	if err := os.Link(tmpPath, finalPath); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("snapshot %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("commit record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *DirStore) List() ([]domain.SnapshotID, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, recordPrefix+"*"+recordSuffix))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return sortedIDs(names), nil
}

func (s *DirStore) Close() error { return nil }
