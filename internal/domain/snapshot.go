package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SnapshotIDLayout is the fixed-width timestamp layout used for IDs, so that
// lexicographic order equals chronological order.
const SnapshotIDLayout = "20060102_150405"

// SnapshotID identifies a snapshot by its creation time at second resolution.
//
// IDs are local wall-clock times and a repository only accepts IDs newer
// than its latest one. After the clock steps back, including the repeated
// hour when daylight saving time ends, new snapshots are refused until the
// clock passes the latest ID again.
type SnapshotID string

// NewSnapshotID formats t (in its own location) as an ID.
func NewSnapshotID(t time.Time) SnapshotID {
	return SnapshotID(t.Format(SnapshotIDLayout))
}

// ParseSnapshotID validates s and returns it as an ID.
func ParseSnapshotID(s string) (SnapshotID, error) {
	if _, err := time.ParseInLocation(SnapshotIDLayout, s, time.Local); err != nil {
		return "", fmt.Errorf("%w: snapshot id %q: expected YYYYmmdd_HHMMSS", ErrConfiguration, s)
	}
	return SnapshotID(s), nil
}

// Time parses the ID back into a local timestamp.
func (id SnapshotID) Time() (time.Time, error) {
	return time.ParseInLocation(SnapshotIDLayout, string(id), time.Local)
}

func (id SnapshotID) String() string { return string(id) }

// Tier selects the granularity at which compression is applied.
type Tier int

const (
	TierNone Tier = iota
	TierPerFile
	TierWholePayload
)

var tierNames = [...]string{
	TierNone:         "none",
	TierPerFile:      "per-file",
	TierWholePayload: "whole",
}

func (t Tier) String() string {
	if t >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "Tier(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierNone && t <= TierWholePayload
}

// ParseTier accepts a tier name or its numeric tag.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0", "":
		return TierNone, nil
	case "per-file", "perfile", "file", "1":
		return TierPerFile, nil
	case "whole", "whole-payload", "payload", "2":
		return TierWholePayload, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q (use none, per-file or whole)", ErrConfiguration, s)
}

// Record is the persisted unit: one encoded diff plus its back-reference.
type Record struct {
	ID          SnapshotID      `json:"id"`
	Data        json.RawMessage `json:"data"`
	Compression Tier            `json:"compression"`
	PrevID      *SnapshotID     `json:"prev_id"`
}

// Prev returns the previous ID, or "" for a root record.
func (r Record) Prev() SnapshotID {
	if r.PrevID == nil {
		return ""
	}
	return *r.PrevID
}
