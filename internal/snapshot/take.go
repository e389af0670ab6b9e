package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bamsammich/strata/internal/catalog"
	"github.com/bamsammich/strata/internal/codec"
	"github.com/bamsammich/strata/internal/diff"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
	"github.com/bamsammich/strata/internal/tree"
)

// Take records the current state of the tree as a new snapshot and
// returns its ID.
//
// The new record holds the diff against the fully reconstructed state of
// the latest snapshot. When that chain is unreadable, points at a missing
// record, is damaged, or has reached the depth ceiling, the new record is
// written as a fresh root holding the whole tree. A tree identical to the
// latest snapshot still produces a record with an empty diff.
//
// IDs must grow: when the clock reads a time at or before the latest ID,
// Take fails with domain.ErrAlreadyExists.
func (r *Repository) Take(ctx context.Context) (domain.SnapshotID, error) {
	unlock, err := r.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	files, err := tree.Collect(ctx, tree.CollectConfig{
		Root:        r.root,
		ExcludeDirs: r.excludeDirs,
		Filter:      r.filter,
		Workers:     r.workers,
		Events:      r.events,
		Stats:       r.stats,
		Limiter:     r.limiter,
	})
	if err != nil {
		return "", fmt.Errorf("collect %s: %w", r.root, err)
	}

	ids, err := r.store.List()
	if err != nil {
		return "", err
	}

	var (
		latest domain.SnapshotID
		prevID *domain.SnapshotID
		base   = domain.FileSet{}
	)
	if len(ids) > 0 {
		latest = ids[len(ids)-1]
		res, err := r.resolver.Resolve(ctx, latest)
		switch {
		case errors.Is(err, domain.ErrCorruptData):
			r.logger.Warn("latest chain is unreadable, starting a new chain", "latest", latest, "error", err)
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Warn("latest chain is broken, starting a new chain", "latest", latest, "error", err)
		case err != nil:
			return "", fmt.Errorf("resolve latest snapshot %s: %w", latest, err)
		case res.Anomaly != nil:
			r.anomaly(latest, res.Anomaly)
			r.logger.Warn("latest chain is damaged, starting a new chain", "latest", latest, "anomaly", res.Anomaly.String())
		case len(res.Chain) >= r.maxDepth:
			r.logger.Info("chain reached max depth, starting a new chain", "latest", latest, "depth", len(res.Chain))
		default:
			prevID = &latest
			base = res.State
		}
	}

	id := domain.NewSnapshotID(r.now())
	switch {
	case latest == "":
	case id == latest:
		return "", fmt.Errorf("snapshot %s: %w", id, domain.ErrAlreadyExists)
	case id < latest:
		return "", fmt.Errorf("snapshot %s is older than latest %s, clock moved back: %w", id, latest, domain.ErrAlreadyExists)
	}

	d := diff.Create(base, files)
	data, err := codec.Encode(d, r.tier)
	if err != nil {
		return "", err
	}
	rec := domain.Record{ID: id, Data: data, Compression: r.tier, PrevID: prevID}
	if err := r.store.Put(rec); err != nil {
		return "", err
	}

	entry := catalog.EntryFor(rec, d)
	if err := r.catalog.Insert(entry); err != nil {
		// The record is committed; the catalog is rebuilt from the store
		// on the next History call.
		r.logger.Warn("catalog insert failed", "snapshot", id, "error", err)
	}

	r.logger.Info("snapshot written",
		"snapshot", id,
		"prev", rec.Prev(),
		"files", len(files),
		"replaced", entry.Replaced,
		"deleted", entry.Deleted,
		"bytes", entry.Bytes,
		"tier", r.tier.String(),
	)
	event.Emit(r.events, event.Event{
		Type:     event.SnapshotWritten,
		Snapshot: id,
		Total:    int64(len(files)),
		Size:     entry.Bytes,
		Detail:   fmt.Sprintf("%d replaced, %d deleted", entry.Replaced, entry.Deleted),
	})
	return id, nil
}
