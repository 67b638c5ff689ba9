package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/tis24dev/snapsync/internal/logging"
)

// CreatorConfig holds the parameters of the retrying creation loop.
type CreatorConfig struct {
	// MaxRetries is the total number of creation attempts.
	MaxRetries int

	// RetryDelay is the fixed wait between attempts. The delay is
	// deliberately constant: it models waiting for a slow external
	// writer to finish, not a congested service.
	RetryDelay time.Duration

	// MarkerSubdir and MarkerPattern configure lock detection inside
	// each freshly created snapshot.
	MarkerSubdir  string
	MarkerPattern string
}

// Creator drives the snapshot-creation state machine: create a
// snapshot, inspect it for lock markers, and either accept it or
// discard it and retry after a fixed delay. A snapshot that fails
// inspection is always deleted before the next attempt, so exhaustion
// leaves nothing behind.
type Creator struct {
	store    *Store
	detector *Detector
	logger   *logging.Logger
	clk      clock.Clock
	cfg      CreatorConfig
}

// NewCreator creates a snapshot creator.
func NewCreator(store *Store, detector *Detector, logger *logging.Logger, clk clock.Clock, cfg CreatorConfig) *Creator {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Creator{
		store:    store,
		detector: detector,
		logger:   logger,
		clk:      clk,
		cfg:      cfg,
	}
}

// Create produces a clean snapshot of sourcePath or fails the run.
// Dirty snapshots and inspection errors consume a retry; hard creation
// failures abort immediately.
func (c *Creator) Create(ctx context.Context, sourcePath string) (*Snapshot, error) {
	var result *Snapshot

	err := retry.Call(retry.CallArgs{
		Clock:    c.clk,
		Delay:    c.cfg.RetryDelay,
		Attempts: c.cfg.MaxRetries,
		Stop:     ctx.Done(),
		Func: func() error {
			return c.attempt(ctx, sourcePath, &result)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errSnapshotDirty) && !errors.Is(err, ErrInspectionFailed)
		},
		NotifyFunc: func(lastError error, attempt int) {
			c.logger.Warning("Snapshot attempt %d/%d failed: %v", attempt, c.cfg.MaxRetries, lastError)
		},
	})

	switch {
	case err == nil:
		c.logger.Info("Snapshot %s is clean", result.Name)
		return result, nil
	case retry.IsAttemptsExceeded(err):
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.cfg.MaxRetries, retry.LastError(err))
	case retry.IsRetryStopped(err):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, retry.LastError(err)
	default:
		return nil, err
	}
}

// attempt runs one Creating -> Inspecting -> Clean|Dirty transition.
func (c *Creator) attempt(ctx context.Context, sourcePath string, result **Snapshot) error {
	snap, err := c.store.Create(ctx, sourcePath)
	if err != nil {
		return err
	}

	dirty, err := c.detector.HasActiveMarker(snap, c.cfg.MarkerSubdir, c.cfg.MarkerPattern)
	if err != nil {
		c.discard(ctx, snap, "inspection failed")
		return err
	}
	if dirty {
		c.discard(ctx, snap, "active lock markers present")
		return fmt.Errorf("%w: markers match %q under %s", errSnapshotDirty, c.cfg.MarkerPattern, c.cfg.MarkerSubdir)
	}

	*result = snap
	return nil
}

// discard deletes a rejected snapshot. A failed cleanup is logged but
// does not mask the reason the snapshot was rejected.
func (c *Creator) discard(ctx context.Context, snap *Snapshot, reason string) {
	c.logger.Info("Discarding snapshot %s (%s)", snap.Name, reason)
	if err := c.store.Delete(ctx, snap); err != nil {
		c.logger.Warning("WARNING: Failed to delete rejected snapshot %s: %v", snap.Name, err)
	}
}
