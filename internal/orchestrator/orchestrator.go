// Package orchestrator sequences one backup run: snapshot creation,
// retention rotation, replication, encrypted archive, remote snapshot
// lifecycle, and the final notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tis24dev/snapsync/internal/archive"
	"github.com/tis24dev/snapsync/internal/config"
	"github.com/tis24dev/snapsync/internal/lifecycle"
	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/notify"
	"github.com/tis24dev/snapsync/internal/replicate"
	"github.com/tis24dev/snapsync/internal/snapshot"
	"github.com/tis24dev/snapsync/internal/types"
)

// Components groups the collaborators the orchestrator sequences.
type Components struct {
	Store     *snapshot.Store
	Creator   *snapshot.Creator
	Rotator   *snapshot.Rotator
	Engine    *replicate.Engine
	Archiver  *archive.Archiver
	Lifecycle lifecycle.Controller
	Notifier  notify.Notifier
}

// Orchestrator owns the run log and drives a single invocation to a
// single aggregated outcome.
type Orchestrator struct {
	cfg      *config.Config
	logger   *logging.Logger
	comp     Components
	hostname string
	testMode bool
}

// New creates a run orchestrator.
func New(cfg *config.Config, logger *logging.Logger, comp Components, hostname string, testMode bool) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		comp:     comp,
		hostname: hostname,
		testMode: testMode,
	}
}

// Run executes one backup run and returns the process exit code. Only
// snapshot-creation exhaustion and missing archive prerequisites are
// fatal; every other failure degrades the run and lets it proceed.
func (o *Orchestrator) Run(ctx context.Context) types.ExitCode {
	start := time.Now()
	o.logger.Phase("Backup run started on %s (test mode: %v, dry run: %v)",
		o.hostname, o.testMode, o.cfg.DryRun)

	degraded := false

	// Phase 1: snapshot creation (fatal on exhaustion or hard failure).
	o.logger.Step("Creating snapshot of %s", o.cfg.SourcePath)
	snap, err := o.comp.Creator.Create(ctx, o.cfg.SourcePath)
	if err != nil {
		o.logger.Critical("Snapshot creation failed: %v", err)
		return o.finish(ctx, start, true, false, types.ExitSnapshotError)
	}

	// In test mode the snapshot must disappear on every exit path
	// before the process ends. The guard normally fires before finish
	// so its log lines reach the notification body; the defer is the
	// backstop for panics and early aborts.
	var guard *CleanupGuard
	if o.testMode {
		guard = o.armTestCleanup(snap)
		defer guard.Run()
	}

	// Phase 2: retention rotation (best-effort, suppressed in test
	// mode so a test run has no effect on production retention state).
	if o.testMode {
		o.logger.Skip("Test mode: retention rotation suppressed")
	} else {
		o.logger.Step("Rotating local snapshots (keep %d)", o.cfg.LocalKeep)
		results, err := o.comp.Rotator.Rotate(ctx, o.cfg.LocalKeep, snap.Name)
		if err != nil {
			o.logger.Warning("WARNING: Retention rotation failed: %v", err)
			degraded = true
		}
		for _, r := range results {
			if r.Err != nil {
				degraded = true
			}
		}
	}

	// Phase 3: replication (best-effort per unit).
	unitsRoot := filepath.Join(snap.Path, o.cfg.UnitsSubdir)
	o.logger.Step("Replicating units from %s", unitsRoot)
	unitResults, err := o.comp.Engine.SyncAll(ctx, unitsRoot)
	if err != nil {
		o.logger.Warning("WARNING: Replication failed: %v", err)
		degraded = true
	} else if failed := replicate.Failed(unitResults); failed > 0 {
		o.logger.Warning("WARNING: %d of %d replication unit(s) failed", failed, len(unitResults))
		degraded = true
	}

	// Phase 4: encrypted secondary archive. A missing prerequisite is
	// fatal under the current default policy; an absent source or a
	// failed transfer is not.
	if o.cfg.ArchiveEnabled() {
		o.logger.Step("Archiving %s", o.cfg.ArchiveSource)
		result, err := o.comp.Archiver.Archive(ctx, o.cfg.ArchiveSource, o.cfg.ArchiveRemotePath)
		switch {
		case errors.Is(err, archive.ErrArchivePrereqMissing):
			o.logger.Critical("Archive prerequisites missing: %v", err)
			guard.Run()
			return o.finish(ctx, start, true, degraded, types.ExitArchiveError)
		case err != nil:
			o.logger.Warning("WARNING: Archive failed: %v", err)
			degraded = true
		case result.TransferErr != nil:
			degraded = true
		}
	} else {
		o.logger.Skip("Secondary archive not configured")
	}

	// Phase 5: remote snapshot lifecycle (best-effort).
	if o.cfg.LifecycleEnabled() && o.comp.Lifecycle != nil {
		if o.cfg.DryRun {
			o.logger.Info("Remote lifecycle: dry-run, skipping cycle on %s", o.cfg.TrueNASHost)
		} else {
			o.logger.Step("Triggering remote snapshot lifecycle on %s", o.cfg.TrueNASHost)
			params := lifecycle.Params{
				Dataset:      o.cfg.TrueNASDataset,
				Prefix:       o.cfg.TrueNASSnapshotPrefix,
				Keep:         o.cfg.TrueNASKeep,
				SnapshotName: o.cfg.TrueNASSnapshotPrefix + snap.CreatedAt.Format("2006-01-02_15-04-05"),
			}
			if err := o.comp.Lifecycle.RunCycle(ctx, params); err != nil {
				o.logger.Warning("WARNING: %v", err)
				degraded = true
			}
		}
	} else {
		o.logger.Skip("Remote snapshot lifecycle not configured")
	}

	guard.Run()
	return o.finish(ctx, start, false, degraded, types.ExitSuccess)
}

// finish logs the terminal status and flushes the run log to the
// notification sink exactly once.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, fatal, degraded bool, code types.ExitCode) types.ExitCode {
	status := types.RunSuccess
	switch {
	case fatal:
		status = types.RunFailed
	case degraded || o.logger.HasWarnings() || o.logger.HasErrors():
		status = types.RunDegraded
	}

	end := time.Now()
	o.logger.Phase("Backup run finished: %s (duration: %s)",
		status, end.Sub(start).Truncate(time.Second))

	body := fmt.Sprintf("Run started:  %s\nRun finished: %s\nStatus: %s\n\n--- run log ---\n%s\n",
		start.Format("2006-01-02 15:04:05"),
		end.Format("2006-01-02 15:04:05"),
		status,
		o.logger.RunLog())
	subject := notify.StatusSubject(o.hostname, status)

	// The notification must still go out when the run context was
	// canceled by an interrupt.
	notifyCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := o.comp.Notifier.Send(notifyCtx, subject, body); err != nil {
		o.logger.Warning("WARNING: Failed to send notification: %v", err)
	}

	return code
}

// armTestCleanup returns the guard that deletes the test-mode snapshot.
// The guard uses a fresh context because the run context may already
// be canceled when cleanup fires.
func (o *Orchestrator) armTestCleanup(snap *snapshot.Snapshot) *CleanupGuard {
	return NewCleanupGuard(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		o.logger.Info("Test mode: removing snapshot %s", snap.Name)
		if err := o.comp.Store.Delete(cleanupCtx, snap); err != nil {
			o.logger.Warning("WARNING: Test mode cleanup failed for %s: %v", snap.Name, err)
		}
	})
}
