package store

import (
	"errors"
	"fmt"

	"github.com/bamsammich/strata/internal/archive"
	"github.com/bamsammich/strata/internal/domain"
)

// ArchiveStore keeps every record as a member of one container file.
type ArchiveStore struct {
	path string
}

// NewArchiveStore returns an archive store over the container at path. The
// container is created on the first Put.
func NewArchiveStore(path string) *ArchiveStore {
	return &ArchiveStore{path: path}
}

// Path returns the container path.
func (s *ArchiveStore) Path() string { return s.path }

func (s *ArchiveStore) Get(id domain.SnapshotID) (domain.Record, error) {
	b, err := archive.Read(s.path, RecordName(id))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.Record{}, notFound(id)
		case errors.Is(err, domain.ErrCorruptData):
			return domain.Record{}, &domain.CorruptDataError{ID: id, Err: err}
		}
		return domain.Record{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return decodeRecord(id, b)
}

func (s *ArchiveStore) Put(rec domain.Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := archive.Append(s.path, RecordName(rec.ID), b); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("snapshot %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("append snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (s *ArchiveStore) List() ([]domain.SnapshotID, error) {
	names, err := archive.List(s.path)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return sortedIDs(names), nil
}

func (s *ArchiveStore) Close() error { return nil }
