// Package selector picks the stored snapshot that best matches a point in
// time.
package selector

import (
	"fmt"
	"strings"
	"time"

	"github.com/bamsammich/strata/internal/domain"
)

// Direction is the matching policy used by Select.
type Direction int

const (
	Exact Direction = iota
	Before
	After
	Closest
)

var directionNames = [...]string{
	Exact:   "exact",
	Before:  "before",
	After:   "after",
	Closest: "closest",
}

func (d Direction) String() string {
	if d >= 0 && int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d, n := range directionNames {
		if n == name {
			return Direction(d), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown direction %q (use exact, before, after or closest)", domain.ErrConfiguration, s)
}

// Select returns the ID in ids that matches target under dir:
//
//   - Exact: the ID equal to target.
//   - Before: the latest ID strictly earlier than target.
//   - After: the earliest ID strictly later than target.
//   - Closest: the ID nearest to target; ties go to the earlier ID.
//
// IDs that do not parse as timestamps are ignored. The second result is
// false when nothing matches.
func Select(ids []domain.SnapshotID, target time.Time, dir Direction) (domain.SnapshotID, bool) {
	var (
		best     domain.SnapshotID
		bestTime time.Time
		found    bool
	)
	for _, id := range ids {
		t, err := id.Time()
		if err != nil {
			continue
		}
		switch dir {
		case Exact:
			if t.Equal(target) {
				return id, true
			}
		case Before:
			if t.Before(target) && (!found || t.After(bestTime)) {
				best, bestTime, found = id, t, true
			}
		case After:
			if t.After(target) && (!found || t.Before(bestTime)) {
				best, bestTime, found = id, t, true
			}
		case Closest:
			if !found || closer(t, bestTime, target) {
				best, bestTime, found = id, t, true
			}
		}
	}
	return best, found
}

// closer reports whether a is strictly nearer to target than b, or equally
// near and earlier.
func closer(a, b, target time.Time) bool {
	da, db := absDuration(a.Sub(target)), absDuration(b.Sub(target))
	if da != db {
		return da < db
	}
	return a.Before(b)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
