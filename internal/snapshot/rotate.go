package snapshot

import (
	"context"

	"github.com/tis24dev/snapsync/internal/logging"
)

// DeletionResult records the outcome of one rotation deletion.
type DeletionResult struct {
	Snapshot *Snapshot
	Err      error
}

// Rotator applies count-based retention to the store's snapshots.
type Rotator struct {
	store  *Store
	logger *logging.Logger
}

// NewRotator creates a retention rotator.
func NewRotator(store *Store, logger *logging.Logger) *Rotator {
	return &Rotator{store: store, logger: logger}
}

// Rotate deletes all but the keep most recent snapshots, ordered by
// true creation time. The snapshot named exclude (the one created by
// the current run) is removed from the rotation input so it can never
// be deleted by its own run. Each deletion failure is logged and does
// not stop the remaining deletions: retention hygiene must never block
// the backup itself.
func (r *Rotator) Rotate(ctx context.Context, keep int, exclude string) ([]DeletionResult, error) {
	snaps, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	if exclude != "" {
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.Name == exclude {
				continue
			}
			filtered = append(filtered, snap)
		}
		snaps = filtered
	}

	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		r.logger.Debug("Retention: %d snapshots within limit of %d, nothing to rotate", len(snaps), keep)
		return nil, nil
	}

	toDelete := snaps[:len(snaps)-keep]
	r.logger.Info("Retention: %d snapshots found, keeping %d, deleting %d oldest",
		len(snaps), keep, len(toDelete))

	results := make([]DeletionResult, 0, len(toDelete))
	for _, snap := range toDelete {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		r.logger.Debug("Deleting old snapshot: %s (created: %s)",
			snap.Name, snap.CreatedAt.Format("2006-01-02 15:04:05"))

		err := r.store.Delete(ctx, snap)
		if err != nil {
			r.logger.Warning("WARNING: Retention - failed to delete %s: %v", snap.Name, err)
		}
		results = append(results, DeletionResult{Snapshot: snap, Err: err})
	}

	return results, nil
}
