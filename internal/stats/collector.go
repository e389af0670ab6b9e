// Package stats keeps the counters shown in progress output and summaries.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 30

// Collector counts files and bytes moved through a snapshot or restore.
// Counters are updated with atomics from any goroutine.
type Collector struct {
	filesScanned  atomic.Int64
	filesExcluded atomic.Int64
	bytesScanned  atomic.Int64
	filesRestored atomic.Int64
	bytesRestored atomic.Int64
	filesRemoved  atomic.Int64
	filesTotal    atomic.Int64
	bytesTotal    atomic.Int64
	verifyFailed  atomic.Int64
	start         time.Time

	// Written only by Tick.
	mu       sync.Mutex
	rate     [ringSize]int64
	ringIdx  int
	ringLen  int
	lastSeen int64
}

// NewCollector creates a Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// Reader exposes a point-in-time view of the counters.
type Reader interface {
	Counts() Counts
}

// Counts is a point-in-time read of a Collector.
type Counts struct {
	FilesScanned  int64
	FilesExcluded int64
	BytesScanned  int64
	FilesRestored int64
	BytesRestored int64
	FilesRemoved  int64
	FilesTotal    int64
	BytesTotal    int64
	VerifyFailed  int64
	Elapsed       time.Duration
}

func (c *Collector) AddFilesScanned(n int64)  { c.filesScanned.Add(n) }
func (c *Collector) AddFilesExcluded(n int64) { c.filesExcluded.Add(n) }
func (c *Collector) AddBytesScanned(n int64)  { c.bytesScanned.Add(n) }
func (c *Collector) AddFilesRestored(n int64) { c.filesRestored.Add(n) }
func (c *Collector) AddBytesRestored(n int64) { c.bytesRestored.Add(n) }
func (c *Collector) AddFilesRemoved(n int64)  { c.filesRemoved.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)  { c.verifyFailed.Add(n) }

// SetTotals records the size of the work once it is known.
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// Counts returns the current counter values.
func (c *Collector) Counts() Counts {
	return Counts{
		FilesScanned:  c.filesScanned.Load(),
		FilesExcluded: c.filesExcluded.Load(),
		BytesScanned:  c.bytesScanned.Load(),
		FilesRestored: c.filesRestored.Load(),
		BytesRestored: c.bytesRestored.Load(),
		FilesRemoved:  c.filesRemoved.Load(),
		FilesTotal:    c.filesTotal.Load(),
		BytesTotal:    c.bytesTotal.Load(),
		VerifyFailed:  c.verifyFailed.Load(),
		Elapsed:       c.Elapsed(),
	}
}

// BytesDone is the number of bytes read or written so far.
func (c Counts) BytesDone() int64 { return c.BytesScanned + c.BytesRestored }

// Tick records the bytes processed since the previous Tick. Presenters call
// it once per second.
func (c *Collector) Tick() {
	seen := c.bytesScanned.Load() + c.bytesRestored.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate[c.ringIdx] = seen - c.lastSeen
	c.lastSeen = seen
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringLen < ringSize {
		c.ringLen++
	}
}

// Rate returns the average bytes per second over the last n ticks.
func (c *Collector) Rate(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n = min(n, c.ringLen)
	if n <= 0 {
		return 0
	}
	var sum int64
	for i := 0; i < n; i++ {
		sum += c.rate[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(n)
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.start)
}

func (c Counts) String() string {
	return fmt.Sprintf(
		"scanned=%d excluded=%d bytes=%d restored=%d removed=%d verify_failed=%d",
		c.FilesScanned, c.FilesExcluded, c.BytesDone(),
		c.FilesRestored, c.FilesRemoved, c.VerifyFailed,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
