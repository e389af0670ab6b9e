package ui

import (
	"io"

	"github.com/bamsammich/strata/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes.
	Run(events <-chan Event) error
	// Summary returns the final summary line, or "" when there is none.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer // per-file and per-snapshot lines
	ErrWriter  io.Writer // progress and warnings
	Stats      *stats.Collector
	IsTTY      bool // ErrWriter is a terminal
	Width      int  // terminal width for the live status line
	Quiet      bool
	Verbose    bool
	NoProgress bool
}

// NewPresenter picks a presenter for cfg. On a terminal progress is a
// single status line redrawn in place; elsewhere it is printed as a
// periodic log line.
//
//nolint:ireturn // factory returns the interface
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	width := cfg.Width
	if width <= 0 {
		width = 80
	}
	return &plainPresenter{
		w:          cfg.Writer,
		errW:       cfg.ErrWriter,
		stats:      cfg.Stats,
		verbose:    cfg.Verbose,
		live:       cfg.IsTTY && !cfg.NoProgress,
		noProgress: cfg.NoProgress,
		width:      width,
	}
}
