package ui

import (
	"fmt"

	"github.com/bamsammich/strata/internal/stats"
)

// completionSummary builds the final summary line:
//
//	done ✓  files 1,204  size 18.3 MiB  avg 92.0 MB/s  time 0s  errors 0
func completionSummary(c stats.Counts) string {
	avg := 0.0
	if secs := c.Elapsed.Seconds(); secs > 0 {
		avg = float64(c.BytesDone()) / secs
	}

	icon := "✓"
	if c.VerifyFailed > 0 {
		icon = "✗"
	}

	s := fmt.Sprintf("done %s  files %s  size %s  avg %s  time %s",
		icon,
		FormatCount(c.FilesScanned+c.FilesRestored),
		FormatBytes(c.BytesDone()),
		FormatRate(avg),
		FormatDuration(c.Elapsed),
	)
	if c.FilesExcluded > 0 {
		s += "  excluded " + FormatCount(c.FilesExcluded)
	}
	if c.FilesRemoved > 0 {
		s += "  removed " + FormatCount(c.FilesRemoved)
	}
	return s + fmt.Sprintf("  errors %d", c.VerifyFailed)
}
