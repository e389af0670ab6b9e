package domain

import (
	"errors"
	"fmt"
)

// Store errors
var (
	// ErrNotFound indicates the referenced snapshot or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a snapshot with the same ID is already stored.
	ErrAlreadyExists = errors.New("already exists")
)

// Data errors
var (
	// ErrCorruptData indicates stored data failed to decode or decompress.
	ErrCorruptData = errors.New("corrupt data")
)

// Config errors
var (
	// ErrConfiguration indicates an invalid option or target, detected
	// before any I/O happens.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrLocked indicates another writer holds the store lock.
	ErrLocked = errors.New("store is locked by another writer")
)

// CorruptDataError reports a decode failure for a specific snapshot.
type CorruptDataError struct {
	ID  SnapshotID
	Err error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.ID, e.Err)
}

// Unwrap exposes both the cause and ErrCorruptData to errors.Is.
func (e *CorruptDataError) Unwrap() []error {
	return []error{e.Err, ErrCorruptData}
}

// AnomalyKind identifies a non-fatal chain defect.
type AnomalyKind int

const (
	AnomalyCycle AnomalyKind = iota + 1
	AnomalyDepthExceeded
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyCycle:
		return "cycle"
	case AnomalyDepthExceeded:
		return "depth-exceeded"
	default:
		return "unknown"
	}
}

// ChainAnomaly is a warning-level signal raised while walking a chain.
// Resolution still succeeds with the records gathered before the defect.
// It is never returned as an error.
type ChainAnomaly struct {
	Kind AnomalyKind
	// ID is the record at which the walk stopped: the revisited ID for a
	// cycle, the first unvisited ID for a depth overrun.
	ID    SnapshotID
	Depth int
}

func (a ChainAnomaly) String() string {
	return fmt.Sprintf("chain %s at %s after %d records", a.Kind, a.ID, a.Depth)
}
