// Package replicate synchronizes the replication units inside a
// snapshot to the remote store, one independent job per unit.
package replicate

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/transport"
)

// UnitResult reports the outcome of syncing one replication unit.
type UnitResult struct {
	Unit   string
	OK     bool
	Detail string
}

// Engine mirrors each immediate child directory of a snapshot's units
// root to the remote base path. A single unit's failure never aborts
// its siblings: one unreachable repository must not block backup of
// the others.
type Engine struct {
	transport  transport.Transport
	logger     *logging.Logger
	remoteBase string
	parallel   int
	dryRun     bool
}

// NewEngine creates a replication engine. parallel <= 1 keeps the
// baseline sequential behavior.
func NewEngine(tr transport.Transport, logger *logging.Logger, remoteBase string, parallel int, dryRun bool) *Engine {
	if parallel < 1 {
		parallel = 1
	}
	return &Engine{
		transport:  tr,
		logger:     logger,
		remoteBase: remoteBase,
		parallel:   parallel,
		dryRun:     dryRun,
	}
}

// SyncAll enumerates the immediate child directories of unitsRoot in
// lexicographic order and syncs each to the remote store. It returns
// one result per unit; an error is returned only when the units root
// itself cannot be enumerated.
func (e *Engine) SyncAll(ctx context.Context, unitsRoot string) ([]UnitResult, error) {
	units, err := e.enumerateUnits(unitsRoot)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		e.logger.Info("Replication: no units found under %s", unitsRoot)
		return nil, nil
	}

	e.logger.Info("Replication: syncing %d unit(s) to %s (parallel=%d)",
		len(units), e.remoteBase, e.parallel)

	results := make([]UnitResult, len(units))
	if e.parallel == 1 {
		for i, unit := range units {
			results[i] = e.syncUnit(ctx, unitsRoot, unit)
		}
		return results, nil
	}

	// Bounded worker pool. Workers log through the shared logger,
	// which serializes appends, so lines stay unit-attributed.
	sem := make(chan struct{}, e.parallel)
	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.syncUnit(ctx, unitsRoot, unit)
		}(i, unit)
	}
	wg.Wait()

	return results, nil
}

// Failed counts the units that did not sync.
func Failed(results []UnitResult) int {
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	return failed
}

// enumerateUnits lists immediate child directories only; nested
// repositories are not discovered.
func (e *Engine) enumerateUnits(unitsRoot string) ([]string, error) {
	entries, err := os.ReadDir(unitsRoot)
	if err != nil {
		return nil, fmt.Errorf("enumerate replication units in %s: %w", unitsRoot, err)
	}

	var units []string
	for _, entry := range entries {
		if entry.IsDir() {
			units = append(units, entry.Name())
		}
	}
	sort.Strings(units)
	return units, nil
}

// syncUnit mirrors one unit. Every failure is captured in the result
// instead of propagating.
func (e *Engine) syncUnit(ctx context.Context, unitsRoot, unit string) UnitResult {
	localDir := filepath.Join(unitsRoot, unit)
	remoteDir := path.Join(e.remoteBase, unit)

	if e.dryRun {
		e.logger.Info("Replication [%s]: dry-run, would mirror %s -> %s", unit, localDir, remoteDir)
		return UnitResult{Unit: unit, OK: true, Detail: "dry-run"}
	}

	if err := ctx.Err(); err != nil {
		e.logger.Warning("WARNING: Replication [%s]: aborted: %v", unit, err)
		return UnitResult{Unit: unit, OK: false, Detail: err.Error()}
	}

	if err := e.transport.MkdirAll(ctx, remoteDir); err != nil {
		e.logger.Warning("WARNING: Replication [%s]: remote mkdir failed: %v", unit, err)
		return UnitResult{Unit: unit, OK: false, Detail: err.Error()}
	}

	if err := e.transport.Mirror(ctx, localDir, remoteDir); err != nil {
		e.logger.Warning("WARNING: Replication [%s]: sync failed: %v", unit, err)
		return UnitResult{Unit: unit, OK: false, Detail: err.Error()}
	}

	e.logger.Info("Replication [%s]: synced", unit)
	return UnitResult{Unit: unit, OK: true}
}
