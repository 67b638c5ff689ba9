// Package snapshot implements point-in-time snapshot management over a
// snapshot-capable filesystem: creation with lock-marker retry, listing
// with true creation times, and count-based retention rotation.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Info describes one on-disk snapshot as reported by the filesystem.
type Info struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// Filesystem abstracts the snapshot-capable filesystem primitives.
// Implementations must report creation times queried from the
// filesystem itself; names are never trusted for ordering.
type Filesystem interface {
	// CreateReadOnly creates a read-only snapshot of sourcePath at destPath.
	CreateReadOnly(ctx context.Context, sourcePath, destPath string) error

	// List returns every snapshot directly under parentDir with its
	// true creation time.
	List(ctx context.Context, parentDir string) ([]Info, error)

	// Delete removes the snapshot at path.
	Delete(ctx context.Context, path string) error
}

// BtrfsDeps groups external dependencies used by BtrfsFilesystem.
type BtrfsDeps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func defaultBtrfsDeps() BtrfsDeps {
	return BtrfsDeps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// BtrfsFilesystem implements Filesystem by shelling out to the btrfs tool.
type BtrfsFilesystem struct {
	deps BtrfsDeps
}

// NewBtrfsFilesystem creates a btrfs-backed Filesystem.
func NewBtrfsFilesystem() *BtrfsFilesystem {
	return &BtrfsFilesystem{deps: defaultBtrfsDeps()}
}

// NewBtrfsFilesystemWithDeps creates a btrfs-backed Filesystem with
// custom command dependencies (used by tests).
func NewBtrfsFilesystemWithDeps(deps BtrfsDeps) *BtrfsFilesystem {
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = exec.CommandContext
	}
	return &BtrfsFilesystem{deps: deps}
}

// CreateReadOnly creates a read-only btrfs snapshot.
func (f *BtrfsFilesystem) CreateReadOnly(ctx context.Context, sourcePath, destPath string) error {
	if _, err := f.deps.LookPath("btrfs"); err != nil {
		return fmt.Errorf("btrfs tool not available: %w", err)
	}
	return f.run(ctx, "subvolume", "snapshot", "-r", sourcePath, destPath)
}

// List enumerates snapshot subvolumes under parentDir and annotates
// each with the creation time reported by btrfs.
func (f *BtrfsFilesystem) List(ctx context.Context, parentDir string) ([]Info, error) {
	entries, err := os.ReadDir(parentDir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory %s: %w", parentDir, err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(parentDir, entry.Name())
		created, err := f.creationTime(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("query creation time of %s: %w", path, err)
		}
		infos = append(infos, Info{
			Name:      entry.Name(),
			Path:      path,
			CreatedAt: created,
		})
	}
	return infos, nil
}

// Delete removes a btrfs snapshot subvolume.
func (f *BtrfsFilesystem) Delete(ctx context.Context, path string) error {
	return f.run(ctx, "subvolume", "delete", path)
}

func (f *BtrfsFilesystem) run(ctx context.Context, args ...string) error {
	cmd := f.deps.CommandContext(ctx, "btrfs", args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("btrfs %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(output.String()))
	}
	return nil
}

// creationTime parses the "Creation time" field of `btrfs subvolume show`.
func (f *BtrfsFilesystem) creationTime(ctx context.Context, path string) (time.Time, error) {
	cmd := f.deps.CommandContext(ctx, "btrfs", "subvolume", "show", path)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return time.Time{}, fmt.Errorf("btrfs subvolume show %s: %w: %s", path, err, strings.TrimSpace(output.String()))
	}

	for _, line := range strings.Split(output.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "Creation time:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(trimmed, "Creation time:"))
		created, err := time.Parse("2006-01-02 15:04:05 -0700", value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse creation time %q: %w", value, err)
		}
		return created, nil
	}
	return time.Time{}, fmt.Errorf("no creation time in subvolume show output for %s", path)
}
