package tree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/stats"
)

// CollectConfig controls Collect.
type CollectConfig struct {
	Root string
	// ExcludeDirs are skipped entirely. They are slash-separated and
	// relative to Root; the snapshot store directory belongs here.
	ExcludeDirs []string
	Filter      *filter.Chain
	// Workers bounds concurrent file reads. Zero picks a default.
	Workers int
	Events  chan<- event.Event
	Stats   *stats.Collector
	// Limiter caps read throughput. Nil means unlimited.
	Limiter *rate.Limiter
}

type pending struct {
	rel  string
	abs  string
	size int64
}

// Collect reads every regular file under cfg.Root that is not excluded.
// Any file that cannot be read fails the whole collection.
func Collect(ctx context.Context, cfg CollectConfig) (domain.FileSet, error) {
	event.Emit(cfg.Events, event.Event{Type: event.ScanStarted, Path: cfg.Root})

	w := walker{cfg: cfg, skip: newDirSet(cfg.ExcludeDirs)}
	if err := w.walk(ctx, cfg.Root, ""); err != nil {
		return nil, err
	}

	var totalSize int64
	for _, p := range w.found {
		totalSize += p.size
	}
	if cfg.Stats != nil {
		cfg.Stats.SetTotals(int64(len(w.found)), totalSize)
	}

	files := make(domain.FileSet, len(w.found))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultWorkers(cfg.Workers))
	for _, p := range w.found {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(p.abs)
			if err != nil {
				return fmt.Errorf("read %s: %w", p.rel, err)
			}
			if content == nil {
				content = []byte{}
			}
			if err := throttle(gctx, cfg.Limiter, len(content)); err != nil {
				return err
			}

			mu.Lock()
			files[p.rel] = content
			mu.Unlock()

			if cfg.Stats != nil {
				cfg.Stats.AddFilesScanned(1)
				cfg.Stats.AddBytesScanned(int64(len(content)))
			}
			event.Emit(cfg.Events, event.Event{Type: event.FileCollected, Path: p.rel, Size: int64(len(content))})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	event.Emit(cfg.Events, event.Event{
		Type:      event.ScanComplete,
		Total:     int64(len(files)),
		TotalSize: files.Size(),
	})
	return files, nil
}

type walker struct {
	cfg   CollectConfig
	skip  dirSet
	found []pending
}

func (w *walker) walk(ctx context.Context, dir, rel string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		childRel := joinRel(rel, entry.Name())
		childAbs := filepath.Join(dir, entry.Name())

		// Stat, not Lstat: symlinks are followed.
		info, err := os.Stat(childAbs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", childRel, err)
		}

		switch {
		case info.IsDir():
			if w.skip.contains(childRel) {
				continue
			}
			if !w.cfg.Filter.Keep(childRel, true, 0) {
				w.excluded(childRel)
				continue
			}
			if err := checkName(childRel); err != nil {
				return err
			}
			if err := w.walk(ctx, childAbs, childRel); err != nil {
				return err
			}

		case info.Mode().IsRegular():
			if !w.cfg.Filter.Keep(childRel, false, info.Size()) {
				w.excluded(childRel)
				continue
			}
			if err := checkName(childRel); err != nil {
				return err
			}
			w.found = append(w.found, pending{rel: childRel, abs: childAbs, size: info.Size()})
		}
	}
	return nil
}

// checkName rejects names that a snapshot record cannot hold. Excluded
// entries are never checked, so a filter rule is the way around it.
func checkName(rel string) error {
	if !utf8.ValidString(rel) {
		return fmt.Errorf("path %q is not valid UTF-8", rel)
	}
	return nil
}

func (w *walker) excluded(rel string) {
	if w.cfg.Stats != nil {
		w.cfg.Stats.AddFilesExcluded(1)
	}
	event.Emit(w.cfg.Events, event.Event{Type: event.FileExcluded, Path: rel})
}
