// Package event defines the progress events emitted while snapshotting and
// restoring a tree.
package event

import (
	"time"

	"github.com/bamsammich/strata/internal/domain"
)

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	FileCollected
	FileExcluded
	SnapshotWritten
	RestoreStarted
	FileRestored
	FileRemoved
	ChainAnomaly
	VerifyOK
	VerifyFailed
)

var typeNames = [...]string{
	ScanStarted:     "ScanStarted",
	ScanComplete:    "ScanComplete",
	FileCollected:   "FileCollected",
	FileExcluded:    "FileExcluded",
	SnapshotWritten: "SnapshotWritten",
	RestoreStarted:  "RestoreStarted",
	FileRestored:    "FileRestored",
	FileRemoved:     "FileRemoved",
	ChainAnomaly:    "ChainAnomaly",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single progress notification.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string            // relative path, for file events
	Size      int64             // file size
	Total     int64             // file count (ScanComplete, SnapshotWritten)
	TotalSize int64             // byte count (ScanComplete)
	Snapshot  domain.SnapshotID // snapshot the event concerns
	Detail    string
	Error     error
}

// Emit stamps e and sends it on ch without blocking. Events are dropped
// when ch is nil or full.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
