package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// commandRecorder fakes BtrfsDeps, recording every invocation and
// emitting canned stdout through a real subprocess.
type commandRecorder struct {
	mu     sync.Mutex
	calls  [][]string
	stdout string
	fail   bool
}

func (r *commandRecorder) commandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.fail {
		return exec.CommandContext(ctx, "false")
	}
	if r.stdout != "" {
		cmd := exec.CommandContext(ctx, "cat")
		cmd.Stdin = strings.NewReader(r.stdout)
		return cmd
	}
	return exec.CommandContext(ctx, "true")
}

func (r *commandRecorder) lastCall() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func TestBtrfsCreateReadOnlyCommandLine(t *testing.T) {
	rec := &commandRecorder{}
	fs := NewBtrfsFilesystemWithDeps(BtrfsDeps{
		LookPath:       func(string) (string, error) { return "/usr/bin/btrfs", nil },
		CommandContext: rec.commandContext,
	})

	if err := fs.CreateReadOnly(context.Background(), "/data/live", "/snaps/backup-x"); err != nil {
		t.Fatalf("CreateReadOnly() error = %v", err)
	}

	want := []string{"btrfs", "subvolume", "snapshot", "-r", "/data/live", "/snaps/backup-x"}
	got := rec.lastCall()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("command = %v, want %v", got, want)
	}
}

func TestBtrfsCreateReadOnlyToolMissing(t *testing.T) {
	fs := NewBtrfsFilesystemWithDeps(BtrfsDeps{
		LookPath: func(string) (string, error) { return "", exec.ErrNotFound },
	})

	err := fs.CreateReadOnly(context.Background(), "/data/live", "/snaps/backup-x")
	if err == nil || !strings.Contains(err.Error(), "btrfs tool not available") {
		t.Fatalf("CreateReadOnly() error = %v, want tool-missing error", err)
	}
}

func TestBtrfsListParsesCreationTime(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "backup-2024-05-01_10-00-00"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := &commandRecorder{
		stdout: "backup-2024-05-01_10-00-00\n" +
			"\tName: \t\t\tbackup-2024-05-01_10-00-00\n" +
			"\tCreation time: \t\t2024-05-01 10:00:00 +0000\n" +
			"\tFlags: \t\t\treadonly\n",
	}
	fs := NewBtrfsFilesystemWithDeps(BtrfsDeps{
		LookPath:       func(string) (string, error) { return "/usr/bin/btrfs", nil },
		CommandContext: rec.commandContext,
	})

	infos, err := fs.List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(infos))
	}

	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !infos[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", infos[0].CreatedAt, want)
	}
}

func TestBtrfsListRejectsMissingCreationTime(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "backup-x"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := &commandRecorder{stdout: "backup-x\n\tFlags: readonly\n"}
	fs := NewBtrfsFilesystemWithDeps(BtrfsDeps{
		LookPath:       func(string) (string, error) { return "/usr/bin/btrfs", nil },
		CommandContext: rec.commandContext,
	})

	_, err := fs.List(context.Background(), dir)
	if err == nil || !strings.Contains(err.Error(), "no creation time") {
		t.Fatalf("List() error = %v, want missing creation time error", err)
	}
}

func TestBtrfsDeleteCommandFailure(t *testing.T) {
	rec := &commandRecorder{fail: true}
	fs := NewBtrfsFilesystemWithDeps(BtrfsDeps{
		LookPath:       func(string) (string, error) { return "/usr/bin/btrfs", nil },
		CommandContext: rec.commandContext,
	})

	err := fs.Delete(context.Background(), "/snaps/backup-x")
	if err == nil || !strings.Contains(err.Error(), "btrfs subvolume delete") {
		t.Fatalf("Delete() error = %v, want wrapped btrfs failure", err)
	}
}
