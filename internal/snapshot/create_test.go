package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

type createOutcome struct {
	snap *Snapshot
	err  error
}

func TestCreatorCleanFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	clk := testclock.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	fs := newFakeFilesystem(clk.Now)
	logger := newTestLogger()
	store := NewStore(fs, logger, clk, dir, "backup")

	fs.populate = func(dest string) error {
		return os.MkdirAll(filepath.Join(dest, "repos", "unit-a"), 0o755)
	}

	creator := NewCreator(store, NewDetector(logger), logger, clk, CreatorConfig{
		MaxRetries:    3,
		RetryDelay:    time.Minute,
		MarkerSubdir:  "repos",
		MarkerPattern: "*.lock",
	})

	snap, err := creator.Create(context.Background(), "/data/live")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if snap.Name != "backup-2025-01-01_12-00-00" {
		t.Errorf("Name = %q", snap.Name)
	}
	if fs.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fs.createCalls)
	}
}

func TestCreatorRetriesDirtySnapshotAfterDelay(t *testing.T) {
	dir := t.TempDir()
	clk := testclock.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	fs := newFakeFilesystem(clk.Now)
	logger := newTestLogger()
	store := NewStore(fs, logger, clk, dir, "backup")

	attempt := 0
	fs.populate = func(dest string) error {
		attempt++
		if attempt == 1 {
			// An external writer was mid-flight when the first
			// snapshot was taken.
			lockFile := filepath.Join(dest, "repos", "unit-a", "writer.lock")
			if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
				return err
			}
			return os.WriteFile(lockFile, []byte("pid 99\n"), 0o644)
		}
		return os.MkdirAll(filepath.Join(dest, "repos", "unit-a"), 0o755)
	}

	creator := NewCreator(store, NewDetector(logger), logger, clk, CreatorConfig{
		MaxRetries:    3,
		RetryDelay:    time.Minute,
		MarkerSubdir:  "repos",
		MarkerPattern: "*.lock",
	})

	done := make(chan createOutcome, 1)
	go func() {
		snap, err := creator.Create(context.Background(), "/data/live")
		done <- createOutcome{snap, err}
	}()

	// The creator must be sleeping out the fixed retry delay now.
	if err := clk.WaitAdvance(time.Minute, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Create() error = %v", res.err)
	}
	if res.snap.Name != "backup-2025-01-01_12-01-00" {
		t.Errorf("Name = %q, want the second attempt's snapshot", res.snap.Name)
	}

	// The rejected first snapshot must not be left behind.
	first := filepath.Join(dir, "backup-2025-01-01_12-00-00")
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("rejected snapshot %s still on disk", first)
	}
}

func TestCreatorExhaustionLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	clk := testclock.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	fs := newFakeFilesystem(clk.Now)
	logger := newTestLogger()
	store := NewStore(fs, logger, clk, dir, "backup")

	fs.populate = func(dest string) error {
		lockFile := filepath.Join(dest, "repos", "unit-a", "writer.lock")
		if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
			return err
		}
		return os.WriteFile(lockFile, []byte("pid 99\n"), 0o644)
	}

	creator := NewCreator(store, NewDetector(logger), logger, clk, CreatorConfig{
		MaxRetries:    2,
		RetryDelay:    time.Minute,
		MarkerSubdir:  "repos",
		MarkerPattern: "*.lock",
	})

	done := make(chan createOutcome, 1)
	go func() {
		snap, err := creator.Create(context.Background(), "/data/live")
		done <- createOutcome{snap, err}
	}()

	if err := clk.WaitAdvance(time.Minute, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance: %v", err)
	}

	res := <-done
	if !errors.Is(res.err, ErrRetriesExhausted) {
		t.Fatalf("Create() error = %v, want ErrRetriesExhausted", res.err)
	}
	if fs.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2", fs.createCalls)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "backup-") {
			t.Errorf("snapshot %s left behind after exhaustion", entry.Name())
		}
	}
}

func TestCreatorHardFailureAbortsImmediately(t *testing.T) {
	dir := t.TempDir()
	clk := testclock.NewClock(time.Now())
	fs := newFakeFilesystem(clk.Now)
	logger := newTestLogger()
	store := NewStore(fs, logger, clk, dir, "backup")

	fs.createErr = errors.New("no space left on device")

	creator := NewCreator(store, NewDetector(logger), logger, clk, CreatorConfig{
		MaxRetries:    3,
		RetryDelay:    time.Minute,
		MarkerSubdir:  "repos",
		MarkerPattern: "*.lock",
	})

	_, err := creator.Create(context.Background(), "/data/live")
	if !errors.Is(err, ErrSnapshotCreateFailed) {
		t.Fatalf("Create() error = %v, want ErrSnapshotCreateFailed", err)
	}
	if fs.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 (no retries on hard failure)", fs.createCalls)
	}
}

func TestCreatorInspectionFailureConsumesRetry(t *testing.T) {
	dir := t.TempDir()
	clk := testclock.NewClock(time.Now())
	fs := newFakeFilesystem(clk.Now)
	logger := newTestLogger()
	store := NewStore(fs, logger, clk, dir, "backup")

	fs.populate = func(dest string) error {
		dataFile := filepath.Join(dest, "repos", "unit-a", "data.txt")
		if err := os.MkdirAll(filepath.Dir(dataFile), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dataFile, []byte("x"), 0o644)
	}

	// An invalid marker pattern turns every inspection into an access
	// error, which consumes attempts instead of aborting outright.
	creator := NewCreator(store, NewDetector(logger), logger, clk, CreatorConfig{
		MaxRetries:    1,
		RetryDelay:    time.Minute,
		MarkerSubdir:  "repos",
		MarkerPattern: "[",
	})

	_, err := creator.Create(context.Background(), "/data/live")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Create() error = %v, want ErrRetriesExhausted", err)
	}
	if len(fs.deleteCalls) != 1 {
		t.Errorf("deleteCalls = %d, want 1 (snapshot discarded after failed inspection)", len(fs.deleteCalls))
	}
}
