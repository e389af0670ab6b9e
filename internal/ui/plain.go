package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/strata/internal/stats"
)

// progressEvery is how many one-second ticks pass between progress lines
// when the status line cannot be redrawn.
const progressEvery = 5

// plainPresenter prints one line per snapshot, removal and failure to w,
// plus per-file lines when verbose. Progress goes to errW, either as a
// redrawn status line (live) or as a periodic log line.
type plainPresenter struct {
	w          io.Writer
	errW       io.Writer
	stats      *stats.Collector
	verbose    bool
	live       bool
	noProgress bool
	width      int

	ticks    int
	drawn    bool
	restored bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearStatus()
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case ScanComplete:
		if p.verbose {
			p.println("scanned %s files, %s", FormatCount(ev.Total), FormatBytes(ev.TotalSize))
		}
	case FileExcluded:
		if p.verbose {
			p.println("exclude: %s", ev.Path)
		}
	case SnapshotWritten:
		p.println("snapshot %s  %s files  %s", ev.Snapshot, FormatCount(ev.Total), ev.Detail)
	case RestoreStarted:
		p.restored = true
		if p.verbose {
			p.println("restoring %s  %s files  %s", ev.Snapshot, FormatCount(ev.Total), FormatBytes(ev.TotalSize))
		}
	case FileRestored:
		if p.verbose {
			p.println("%s  %s", ev.Path, FormatBytes(ev.Size))
		}
	case FileRemoved:
		p.println("remove: %s", ev.Path)
	case ChainAnomaly:
		p.clearStatus()
		fmt.Fprintf(p.errW, "warning: snapshot %s: chain %s\n", ev.Snapshot, ev.Detail)
	case VerifyOK:
		if p.verbose {
			p.println("ok: %s", ev.Snapshot)
		}
	case VerifyFailed:
		p.println("FAILED: %s: %v", ev.Snapshot, ev.Error)
	}
}

func (p *plainPresenter) println(format string, args ...any) {
	p.clearStatus()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *plainPresenter) tick() {
	if p.stats == nil {
		return
	}
	p.stats.Tick()
	if p.noProgress {
		return
	}
	if p.live {
		p.drawStatus()
		return
	}
	p.ticks++
	if p.ticks%progressEvery == 0 {
		fmt.Fprintln(p.errW, "progress: "+p.progressLine())
	}
}

func (p *plainPresenter) progressLine() string {
	c := p.stats.Counts()
	rate := p.stats.Rate(10)
	if p.restored && c.BytesTotal > 0 {
		pct := float64(c.BytesRestored) / float64(c.BytesTotal)
		var eta time.Duration
		if rate > 0 {
			eta = time.Duration(float64(c.BytesTotal-c.BytesRestored) / rate * float64(time.Second))
		}
		return fmt.Sprintf("%s %3.0f%% %s/%s  %s/%s files  %s  eta %s",
			ProgressBar(pct, 20), pct*100,
			FormatBytes(c.BytesRestored), FormatBytes(c.BytesTotal),
			FormatCount(c.FilesRestored), FormatCount(c.FilesTotal),
			FormatRate(rate), FormatETA(eta),
		)
	}
	return fmt.Sprintf("%s files  %s  %s",
		FormatCount(c.FilesScanned+c.FilesRestored), FormatBytes(c.BytesDone()), FormatRate(rate))
}

func (p *plainPresenter) drawStatus() {
	fmt.Fprint(p.errW, "\r\033[K"+Truncate(p.progressLine(), p.width-1))
	p.drawn = true
}

func (p *plainPresenter) clearStatus() {
	if !p.drawn {
		return
	}
	fmt.Fprint(p.errW, "\r\033[K")
	p.drawn = false
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return completionSummary(p.stats.Counts())
}
