// Package chain reconstructs the full state of a snapshot by walking its
// prev_id links back to the root and replaying the diffs oldest first.
package chain

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bamsammich/strata/internal/codec"
	"github.com/bamsammich/strata/internal/diff"
	"github.com/bamsammich/strata/internal/domain"
)

// DefaultMaxDepth bounds the number of records a single resolution walks.
const DefaultMaxDepth = 10000

// Source is the read side of a snapshot store.
type Source interface {
	Get(id domain.SnapshotID) (domain.Record, error)
}

// Config controls resolver behavior.
type Config struct {
	// MaxDepth is the most records one chain may contain. Zero means
	// DefaultMaxDepth.
	MaxDepth int
	// CacheSize is the number of resolved states kept in memory. Zero
	// disables caching.
	CacheSize int
	// Logger receives anomaly warnings. Nil means slog.Default().
	Logger *slog.Logger
}

// Result is a reconstructed state plus how it was reached.
type Result struct {
	State domain.FileSet
	// Chain lists the replayed records, oldest first.
	Chain []domain.SnapshotID
	// Anomaly is set when the walk stopped early on a cycle or the depth
	// ceiling. State then reflects the partial chain.
	Anomaly *domain.ChainAnomaly
}

// Resolver replays snapshot chains from a Source.
type Resolver struct {
	src      Source
	maxDepth int
	cache    *lru.Cache[domain.SnapshotID, Result]
	logger   *slog.Logger
}

// New creates a resolver reading records from src.
func New(src Source, cfg Config) (*Resolver, error) {
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth %d", domain.ErrConfiguration, cfg.MaxDepth)
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Resolver{src: src, maxDepth: cfg.MaxDepth, logger: cfg.Logger}
	if cfg.CacheSize > 0 {
		c, err := lru.New[domain.SnapshotID, Result](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create resolver cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Resolve reconstructs the state recorded by id.
//
// A cycle or a chain longer than the depth ceiling stops the walk and is
// reported in Result.Anomaly; the records gathered so far are still
// replayed. A record that fails to decode aborts with a
// *domain.CorruptDataError. Store errors, including domain.ErrNotFound for
// a dangling prev_id, are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, id domain.SnapshotID) (Result, error) {
	var (
		records []domain.Record
		visited = make(map[domain.SnapshotID]bool)
		anomaly *domain.ChainAnomaly
		base    Result
	)

	for current := id; current != ""; {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if cached, ok := r.cached(current); ok {
			base = cached
			break
		}
		if visited[current] {
			anomaly = &domain.ChainAnomaly{Kind: domain.AnomalyCycle, ID: current, Depth: len(records)}
			break
		}
		if len(records) >= r.maxDepth {
			anomaly = &domain.ChainAnomaly{Kind: domain.AnomalyDepthExceeded, ID: current, Depth: len(records)}
			break
		}
		visited[current] = true

		rec, err := r.src.Get(current)
		if err != nil {
			return Result{}, err
		}
		records = append(records, rec)
		current = rec.Prev()
	}

	state := make(domain.FileSet)
	if base.State != nil {
		state = base.State.Clone()
	}
	chain := make([]domain.SnapshotID, 0, len(base.Chain)+len(records))
	chain = append(chain, base.Chain...)

	for i := len(records) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rec := records[i]
		d, err := codec.Decode(rec.Data, rec.Compression)
		if err != nil {
			return Result{}, &domain.CorruptDataError{ID: rec.ID, Err: err}
		}
		state = diff.Apply(state, d)
		chain = append(chain, rec.ID)
	}

	res := Result{State: state, Chain: chain, Anomaly: anomaly}
	if anomaly != nil {
		r.logger.Warn("snapshot chain anomaly",
			"snapshot", id,
			"kind", anomaly.Kind.String(),
			"at", anomaly.ID,
			"depth", anomaly.Depth,
		)
		return res, nil
	}
	if r.cache != nil {
		r.cache.Add(id, Result{State: state.Clone(), Chain: append([]domain.SnapshotID(nil), chain...)})
	}
	return res, nil
}

// cached returns a private copy of a cached result.
func (r *Resolver) cached(id domain.SnapshotID) (Result, bool) {
	if r.cache == nil {
		return Result{}, false
	}
	res, ok := r.cache.Get(id)
	if !ok {
		return Result{}, false
	}
	return Result{State: res.State.Clone(), Chain: append([]domain.SnapshotID(nil), res.Chain...)}, true
}
