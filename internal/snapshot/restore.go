package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/bamsammich/strata/internal/chain"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/selector"
	"github.com/bamsammich/strata/internal/tree"
)

// RestoreOptions controls how a reconstructed state is written back.
type RestoreOptions struct {
	// Prune removes files that are not part of the restored snapshot.
	// Without it, files created after the snapshot are left in place.
	Prune bool
}

// State reconstructs the tree recorded by id without touching the disk.
func (r *Repository) State(ctx context.Context, id domain.SnapshotID) (chain.Result, error) {
	res, err := r.resolver.Resolve(ctx, id)
	if err != nil {
		return chain.Result{}, err
	}
	r.anomaly(id, res.Anomaly)
	return res, nil
}

// Restore writes the tree recorded by id back under the root.
func (r *Repository) Restore(ctx context.Context, id domain.SnapshotID, opts RestoreOptions) (chain.Result, error) {
	unlock, err := r.lock()
	if err != nil {
		return chain.Result{}, err
	}
	defer unlock()

	res, err := r.State(ctx, id)
	if err != nil {
		return chain.Result{}, err
	}

	event.Emit(r.events, event.Event{
		Type:      event.RestoreStarted,
		Snapshot:  id,
		Total:     int64(len(res.State)),
		TotalSize: res.State.Size(),
	})
	if r.stats != nil {
		r.stats.SetTotals(int64(len(res.State)), res.State.Size())
	}

	err = tree.Write(ctx, tree.WriteConfig{
		Root:        r.root,
		Files:       res.State,
		Prune:       opts.Prune,
		ExcludeDirs: r.excludeDirs,
		Filter:      r.filter,
		Workers:     r.workers,
		Events:      r.events,
		Stats:       r.stats,
		Limiter:     r.limiter,
	})
	if err != nil {
		return chain.Result{}, fmt.Errorf("restore %s: %w", id, err)
	}

	r.logger.Info("snapshot restored", "snapshot", id, "files", len(res.State), "chain", len(res.Chain), "prune", opts.Prune)
	return res, nil
}

// RestoreLatest restores the newest snapshot.
func (r *Repository) RestoreLatest(ctx context.Context, opts RestoreOptions) (domain.SnapshotID, chain.Result, error) {
	id, err := r.Latest()
	if err != nil {
		return "", chain.Result{}, err
	}
	res, err := r.Restore(ctx, id, opts)
	return id, res, err
}

// RestoreToDate restores the snapshot chosen by matching target under dir.
func (r *Repository) RestoreToDate(ctx context.Context, target time.Time, dir selector.Direction, opts RestoreOptions) (domain.SnapshotID, chain.Result, error) {
	id, err := r.Select(target, dir)
	if err != nil {
		return "", chain.Result{}, err
	}
	res, err := r.Restore(ctx, id, opts)
	return id, res, err
}

// Select returns the stored snapshot matching target under dir, or an
// error wrapping domain.ErrNotFound.
func (r *Repository) Select(target time.Time, dir selector.Direction) (domain.SnapshotID, error) {
	ids, err := r.store.List()
	if err != nil {
		return "", err
	}
	id, ok := selector.Select(ids, target, dir)
	if !ok {
		return "", fmt.Errorf("nothing to restore %s %s: %w", dir, target.Format(domain.SnapshotIDLayout), domain.ErrNotFound)
	}
	return id, nil
}
