package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/stats"
)

// WriteConfig controls Write.
type WriteConfig struct {
	Root  string
	Files domain.FileSet
	// Prune removes files under Root that are not in Files. Paths in
	// ExcludeDirs or dropped by Filter are left alone.
	Prune       bool
	ExcludeDirs []string
	Filter      *filter.Chain
	Workers     int
	Events      chan<- event.Event
	Stats       *stats.Collector
	// Limiter caps write throughput. Nil means unlimited.
	Limiter *rate.Limiter
}

// Write materializes cfg.Files under cfg.Root. Each file is written to a
// temp file beside its destination and renamed into place, so a reader
// never sees a partial file. Existing files are overwritten.
func Write(ctx context.Context, cfg WriteConfig) error {
	for p := range cfg.Files {
		if !filepath.IsLocal(filepath.FromSlash(p)) {
			return fmt.Errorf("%w: refusing to write outside root: %q", domain.ErrCorruptData, p)
		}
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return fmt.Errorf("create root: %w", err)
	}

	if cfg.Prune {
		if _, err := Prune(ctx, cfg); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultWorkers(cfg.Workers))
	for _, p := range cfg.Files.Paths() {
		p := p
		g.Go(func() error {
			content := cfg.Files[p]
			if err := throttle(gctx, cfg.Limiter, len(content)); err != nil {
				return err
			}
			return writeFile(cfg, p, content)
		})
	}
	return g.Wait()
}

// preallocThreshold is the smallest file reserved up front.
const preallocThreshold = 1 << 20

func writeFile(cfg WriteConfig, rel string, content []byte) error {
	dst := filepath.Join(cfg.Root, filepath.FromSlash(rel))

	perm := os.FileMode(0o644)
	if info, err := os.Lstat(dst); err == nil {
		switch {
		case info.IsDir() && cfg.Prune:
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("replace directory %s: %w", rel, err)
			}
		case info.IsDir():
			return fmt.Errorf("write %s: %w", rel, &fs.PathError{Op: "write", Path: dst, Err: errors.New("is a directory")})
		case info.Mode().IsRegular():
			perm = info.Mode().Perm()
		}
	}

	if err := checkParents(cfg.Root, rel); err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.strata-tmp", filepath.Base(dst), uuid.New().String()[:8]))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", rel, err)
	}
	inflight.add(tmpPath)
	defer inflight.remove(tmpPath)

	if len(content) >= preallocThreshold {
		preallocate(f, int64(len(content)))
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", rel, err)
	}

	if cfg.Stats != nil {
		cfg.Stats.AddFilesRestored(1)
		cfg.Stats.AddBytesRestored(int64(len(content)))
	}
	event.Emit(cfg.Events, event.Event{Type: event.FileRestored, Path: rel, Size: int64(len(content))})
	return nil
}

// checkParents fails when an existing ancestor of rel under root is not a
// directory. Without pruning, such a file is live data the restore keeps.
func checkParents(root, rel string) error {
	parts := strings.Split(rel, "/")
	abs := root
	for i, part := range parts[:len(parts)-1] {
		abs = filepath.Join(abs, part)
		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		if !info.IsDir() {
			parent := strings.Join(parts[:i+1], "/")
			return fmt.Errorf("write %s: parent %s exists as a file: %w", rel, parent,
				&fs.PathError{Op: "mkdir", Path: abs, Err: syscall.ENOTDIR})
		}
	}
	return nil
}

// Prune removes files under cfg.Root that are absent from cfg.Files,
// then any directory left empty that no kept file lives under. Excluded
// paths are never touched. It returns the number of files removed.
func Prune(ctx context.Context, cfg WriteConfig) (int, error) {
	skip := newDirSet(cfg.ExcludeDirs)
	needed := make(map[string]bool)
	for p := range cfg.Files {
		for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
			needed[d] = true
		}
	}

	var files, dirs []string
	err := filepath.WalkDir(cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == cfg.Root {
			return nil
		}
		relOS, err := filepath.Rel(cfg.Root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)

		if d.IsDir() {
			if skip.contains(rel) || !cfg.Filter.Keep(rel, true, 0) {
				return filepath.SkipDir
			}
			if !needed[rel] {
				dirs = append(dirs, rel)
			}
			return nil
		}

		if _, ok := cfg.Files[rel]; ok {
			return nil
		}
		// A symlinked directory that kept files are reached through.
		if d.Type()&fs.ModeSymlink != 0 && needed[rel] {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		if !cfg.Filter.Keep(rel, false, size) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s for prune: %w", cfg.Root, err)
	}

	removed := 0
	for _, rel := range files {
		if err := os.Remove(filepath.Join(cfg.Root, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", rel, err)
		}
		removed++
		if cfg.Stats != nil {
			cfg.Stats.AddFilesRemoved(1)
		}
		event.Emit(cfg.Events, event.Event{Type: event.FileRemoved, Path: rel})
	}

	// Deepest first, so parents are empty by the time they are reached.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, rel := range dirs {
		abs := filepath.Join(cfg.Root, filepath.FromSlash(rel))
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove dir %s: %w", rel, err)
		}
	}
	return removed, nil
}
