package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bamsammich/strata/internal/catalog"
	"github.com/bamsammich/strata/internal/codec"
	"github.com/bamsammich/strata/internal/domain"
	"github.com/bamsammich/strata/internal/event"
)

// History lists every snapshot with its catalog details, oldest first.
// When the catalog is out of step with the store it is rebuilt from the
// stored records first. A record that cannot be read is listed with its ID
// alone, for Verify to report.
func (r *Repository) History(ctx context.Context) ([]catalog.Entry, error) {
	ids, err := r.store.List()
	if err != nil {
		return nil, err
	}
	entries, err := r.catalog.List()
	if err != nil {
		return nil, err
	}
	if inStep(ids, entries) {
		return entries, nil
	}

	r.logger.Info("rebuilding catalog", "records", len(ids), "catalog", len(entries))
	entries = make([]catalog.Entry, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.store.Get(id)
		if err != nil {
			r.logger.Warn("snapshot is unreadable", "snapshot", id, "error", err)
			created, _ := id.Time()
			entries = append(entries, catalog.Entry{ID: id, Created: created})
			continue
		}
		d, err := codec.Decode(rec.Data, rec.Compression)
		if err != nil {
			// Keep the entry; Verify reports the damage.
			r.logger.Warn("snapshot does not decode", "snapshot", id, "error", err)
			d = domain.Diff{}
		}
		entries = append(entries, catalog.EntryFor(rec, d))
	}
	if err := r.catalog.Rebuild(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func inStep(ids []domain.SnapshotID, entries []catalog.Entry) bool {
	if len(ids) != len(entries) {
		return false
	}
	for i := range ids {
		if ids[i] != entries[i].ID {
			return false
		}
	}
	return true
}

// Changes returns the diff stored in the record for id: what changed
// relative to its previous snapshot.
func (r *Repository) Changes(_ context.Context, id domain.SnapshotID) (domain.Record, domain.Diff, error) {
	rec, err := r.store.Get(id)
	if err != nil {
		return domain.Record{}, nil, err
	}
	d, err := codec.Decode(rec.Data, rec.Compression)
	if err != nil {
		return domain.Record{}, nil, &domain.CorruptDataError{ID: id, Err: err}
	}
	return rec, d, nil
}

// Problem is one defect found by Verify.
type Problem struct {
	ID  domain.SnapshotID
	Err error
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %v", p.ID, p.Err)
}

// VerifyReport summarizes a Verify run.
type VerifyReport struct {
	Checked  int
	Problems []Problem
}

// OK reports whether no problems were found.
func (v VerifyReport) OK() bool { return len(v.Problems) == 0 }

// ErrDigestMismatch marks a record whose data no longer matches the digest
// recorded when it was written.
var ErrDigestMismatch = errors.New("digest mismatch")

// Verify checks every stored snapshot: the record decodes, its data still
// matches the catalog digest, and its chain resolves without anomalies.
// Defects are collected in the report; the returned error is reserved for
// failures that stop the check itself.
func (r *Repository) Verify(ctx context.Context) (VerifyReport, error) {
	entries, err := r.History(ctx)
	if err != nil {
		return VerifyReport{}, err
	}

	var report VerifyReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if err := r.verifyOne(ctx, e); err != nil {
			report.Problems = append(report.Problems, Problem{ID: e.ID, Err: err})
			if r.stats != nil {
				r.stats.AddVerifyFailed(1)
			}
			event.Emit(r.events, event.Event{Type: event.VerifyFailed, Snapshot: e.ID, Error: err})
			r.logger.Warn("snapshot failed verification", "snapshot", e.ID, "error", err)
			continue
		}
		event.Emit(r.events, event.Event{Type: event.VerifyOK, Snapshot: e.ID})
	}
	return report, nil
}

func (r *Repository) verifyOne(ctx context.Context, e catalog.Entry) error {
	rec, err := r.store.Get(e.ID)
	if err != nil {
		return err
	}
	if got := catalog.Digest(rec.Data); got != e.Digest {
		return fmt.Errorf("%w: catalog has %.12s, record has %.12s", ErrDigestMismatch, e.Digest, got)
	}
	if _, err := codec.Decode(rec.Data, rec.Compression); err != nil {
		return &domain.CorruptDataError{ID: e.ID, Err: err}
	}
	res, err := r.resolver.Resolve(ctx, e.ID)
	if err != nil {
		return err
	}
	if res.Anomaly != nil {
		return fmt.Errorf("chain %s", res.Anomaly)
	}
	return nil
}
