// Package snapshot ties the collector, diff engine, codec, store and chain
// resolver together into the operations a user runs: take a snapshot,
// restore one, and inspect the history.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/strata/internal/catalog"
	"github.com/bamsammich/strata/internal/chain"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/filter"
	"github.com/bamsammich/strata/internal/stats"
	"github.com/bamsammich/strata/internal/store"
	"github.com/bamsammich/strata/internal/tree"
)

// DefaultBackupDir is the store directory, relative to the tree root, used
// when none is configured.
const DefaultBackupDir = ".strata"

// Options configures a Repository.
type Options struct {
	// Root is the directory tree being snapshotted. It must exist.
	Root string
	// BackupDir holds the store. Relative paths are resolved against Root.
	BackupDir string
	Mode      store.Mode
	// Tier is the compression applied to new snapshots. Existing records
	// keep the tier they were written with.
	Tier   domain.Tier
	Filter *filter.Chain
	// NoIgnoreFile skips loading Root/.strataignore.
	NoIgnoreFile bool
	MaxDepth     int
	CacheSize    int
	Workers      int
	// BandwidthLimit caps file reads and writes in bytes per second.
	// Zero means unlimited.
	BandwidthLimit int64
	// Now is the clock used for snapshot IDs. Nil means time.Now.
	Now    func() time.Time
	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger
}

// Repository is an open snapshot store bound to one directory tree.
type Repository struct {
	root        string
	backupDir   string
	excludeDirs []string
	tier        domain.Tier
	filter      *filter.Chain
	maxDepth    int
	workers     int
	limiter     *rate.Limiter
	now         func() time.Time
	events      chan<- event.Event
	stats       *stats.Collector
	logger      *slog.Logger

	store    store.Store
	catalog  *catalog.Catalog
	resolver *chain.Resolver
}

// Open validates opts and opens the store. Configuration problems are
// reported before anything is created on disk.
func Open(_ context.Context, opts Options) (*Repository, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %w", domain.ErrConfiguration, opts.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: target directory %s does not exist", domain.ErrConfiguration, root)
		}
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: target %s is not a directory", domain.ErrConfiguration, root)
	}
	if !opts.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown compression tier %d", domain.ErrConfiguration, int(opts.Tier))
	}
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth %d", domain.ErrConfiguration, opts.MaxDepth)
	}
	if opts.BandwidthLimit < 0 {
		return nil, fmt.Errorf("%w: bandwidth limit %d", domain.ErrConfiguration, opts.BandwidthLimit)
	}

	backupDir := opts.BackupDir
	if backupDir == "" {
		backupDir = DefaultBackupDir
	}
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(root, backupDir)
	}
	backupDir = filepath.Clean(backupDir)

	var excludeDirs []string
	if rel, err := filepath.Rel(root, backupDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		excludeDirs = append(excludeDirs, filepath.ToSlash(rel))
	} else if rel == "." {
		return nil, fmt.Errorf("%w: backup dir cannot be the target directory itself", domain.ErrConfiguration)
	}

	chainFilter := opts.Filter.Clone()
	if !opts.NoIgnoreFile {
		if _, err := chainFilter.LoadIgnoreFile(root); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = chain.DefaultMaxDepth
	}

	st, err := store.Open(backupDir, opts.Mode)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(backupDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	resolver, err := chain.New(st, chain.Config{MaxDepth: maxDepth, CacheSize: opts.CacheSize, Logger: logger})
	if err != nil {
		cat.Close()
		st.Close()
		return nil, err
	}

	logger.Debug("repository opened", "root", root, "backup_dir", backupDir, "store", fmt.Sprintf("%T", st), "tier", opts.Tier.String())

	return &Repository{
		root:        root,
		backupDir:   backupDir,
		excludeDirs: excludeDirs,
		tier:        opts.Tier,
		filter:      chainFilter,
		maxDepth:    maxDepth,
		workers:     opts.Workers,
		limiter:     tree.NewLimiter(opts.BandwidthLimit),
		now:         now,
		events:      opts.Events,
		stats:       opts.Stats,
		logger:      logger,
		store:       st,
		catalog:     cat,
		resolver:    resolver,
	}, nil
}

// Root returns the absolute tree root.
func (r *Repository) Root() string { return r.root }

// BackupDir returns the absolute store directory.
func (r *Repository) BackupDir() string { return r.backupDir }

// List returns every snapshot ID in ascending order.
func (r *Repository) List() ([]domain.SnapshotID, error) {
	return r.store.List()
}

// Latest returns the newest snapshot ID, or an error wrapping
// domain.ErrNotFound when there are none.
func (r *Repository) Latest() (domain.SnapshotID, error) {
	ids, err := r.store.List()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no snapshots found: %w", domain.ErrNotFound)
	}
	return ids[len(ids)-1], nil
}

// Close releases the store and catalog.
func (r *Repository) Close() error {
	return errors.Join(r.catalog.Close(), r.store.Close())
}

func (r *Repository) lock() (func() error, error) {
	return store.Lock(r.backupDir)
}

func (r *Repository) anomaly(id domain.SnapshotID, a *domain.ChainAnomaly) {
	if a == nil {
		return
	}
	event.Emit(r.events, event.Event{Type: event.ChainAnomaly, Snapshot: id, Detail: a.String()})
}
