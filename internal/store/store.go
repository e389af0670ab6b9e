// Package store persists snapshot records, either as one JSON file per
// record or as members of a single archive container.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bamsammich/strata/internal/domain"
)

// Store is the persistence contract for snapshot records. Records are
// immutable once written.
type Store interface {
	// Get returns the record with the given ID, or an error wrapping
	// domain.ErrNotFound.
	Get(id domain.SnapshotID) (domain.Record, error)
	// Put persists rec. A record with the same ID yields an error wrapping
	// domain.ErrAlreadyExists.
	Put(rec domain.Record) error
	// List returns all stored IDs in ascending order.
	List() ([]domain.SnapshotID, error)
	Close() error
}

// Mode selects the storage layout.
type Mode int

const (
	// ModeAuto picks ModeArchive when a container already exists in the
	// directory and ModeDiscrete otherwise.
	ModeAuto Mode = iota
	ModeDiscrete
	ModeArchive
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeDiscrete:
		return "discrete"
	case ModeArchive:
		return "archive"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "discrete", "dir", "files":
		return ModeDiscrete, nil
	case "archive", "tar":
		return ModeArchive, nil
	}
	return 0, fmt.Errorf("%w: unknown store mode %q (use auto, discrete or archive)", domain.ErrConfiguration, s)
}

const (
	// ArchiveName is the container file used in archive mode.
	ArchiveName = "snapshots.tar"

	recordPrefix = "snapshot_"
	recordSuffix = ".json"
)

// RecordName returns the file or member name for id.
func RecordName(id domain.SnapshotID) string {
	return recordPrefix + string(id) + recordSuffix
}

// idFromName extracts the ID from a record name, reporting false for names
// that are not records.
func idFromName(name string) (domain.SnapshotID, bool) {
	if !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, recordSuffix) {
		return "", false
	}
	id, err := domain.ParseSnapshotID(strings.TrimSuffix(strings.TrimPrefix(name, recordPrefix), recordSuffix))
	if err != nil {
		return "", false
	}
	return id, true
}

// Detect reports the mode of an existing store directory: ModeArchive when
// the container is present, ModeDiscrete otherwise.
func Detect(dir string) Mode {
	if _, err := os.Stat(filepath.Join(dir, ArchiveName)); err == nil {
		return ModeArchive
	}
	return ModeDiscrete
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string, mode Mode) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if mode == ModeAuto {
		mode = Detect(dir)
	}
	switch mode {
	case ModeDiscrete:
		return &DirStore{dir: dir}, nil
	case ModeArchive:
		return &ArchiveStore{path: filepath.Join(dir, ArchiveName)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store mode %d", domain.ErrConfiguration, int(mode))
	}
}

func encodeRecord(rec domain.Record) ([]byte, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: record has no id", domain.ErrConfiguration)
	}
	if !rec.Compression.Valid() {
		return nil, fmt.Errorf("%w: record %s: unknown compression tier %d", domain.ErrConfiguration, rec.ID, int(rec.Compression))
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return b, nil
}

func decodeRecord(id domain.SnapshotID, b []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return domain.Record{}, &domain.CorruptDataError{ID: id, Err: err}
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		return domain.Record{}, &domain.CorruptDataError{ID: id, Err: fmt.Errorf("record claims id %s", rec.ID)}
	}
	return rec, nil
}

func sortedIDs(names []string) []domain.SnapshotID {
	var ids []domain.SnapshotID
	for _, n := range names {
		if id, ok := idFromName(n); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func notFound(id domain.SnapshotID) error {
	return fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
