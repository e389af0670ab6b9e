package main

import (
	"context"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/ui"
)

// Rotation defaults for --log when the config file does not set them.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// setupLogging installs a text handler on stderr, teed to a rotating JSON
// log file when --log is set.
func (o *options) setupLogging(stderr io.Writer) error {
	level := slog.LevelWarn
	switch {
	case o.verbose:
		level = slog.LevelDebug
	case o.quiet:
		level = slog.LevelError
	}
	var handler slog.Handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	if o.logFile != "" {
		lj := o.logWriter()
		jsonHandler := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(handler, jsonHandler)
		o.closer = lj
	}

	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)
	return nil
}

func (o *options) logWriter() *lumberjack.Logger {
	lj := &lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	l := o.cfg.Log
	if l.MaxSizeMB != nil {
		lj.MaxSize = *l.MaxSizeMB
	}
	if l.MaxBackups != nil {
		lj.MaxBackups = *l.MaxBackups
	}
	if l.MaxAgeDays != nil {
		lj.MaxAge = *l.MaxAgeDays
	}
	if l.Compress != nil {
		lj.Compress = *l.Compress
	}
	return lj
}

// teeEvents writes every event to the structured log before forwarding it
// to the presenter. Without --log the channel is returned as is.
func (o *options) teeEvents(events <-chan event.Event) <-chan event.Event {
	if o.logFile == "" {
		return events
	}
	teed := make(chan event.Event, cap(events))
	go func() {
		defer close(teed)
		for ev := range events {
			attrs := []slog.Attr{slog.String("type", ev.Type.String())}
			if ev.Path != "" {
				attrs = append(attrs, slog.String("path", ev.Path), slog.Int64("size", ev.Size))
			}
			if ev.Snapshot != "" {
				attrs = append(attrs, slog.String("snapshot", ev.Snapshot.String()))
			}
			if ev.Detail != "" {
				attrs = append(attrs, slog.String("detail", ev.Detail))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			o.logger.LogAttrs(context.Background(), slog.LevelDebug, "strata.event", attrs...)
			teed <- ev
		}
	}()
	return teed
}
