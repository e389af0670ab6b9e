package ui

import "github.com/bamsammich/strata/internal/event"

// Event is re-exported so presenters read like the rest of the package.
type Event = event.Event

const (
	ScanStarted     = event.ScanStarted
	ScanComplete    = event.ScanComplete
	FileCollected   = event.FileCollected
	FileExcluded    = event.FileExcluded
	SnapshotWritten = event.SnapshotWritten
	RestoreStarted  = event.RestoreStarted
	FileRestored    = event.FileRestored
	FileRemoved     = event.FileRemoved
	ChainAnomaly    = event.ChainAnomaly
	VerifyOK        = event.VerifyOK
	VerifyFailed    = event.VerifyFailed
)
