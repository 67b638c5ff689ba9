package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/tis24dev/snapsync/internal/logging"
)

// nameTimeFormat is second-resolution and lexicographically sortable.
// Ordering decisions still use the true creation time; the name is a
// display and debugging aid.
const nameTimeFormat = "2006-01-02_15-04-05"

// Snapshot is one read-only point-in-time snapshot managed by the Store.
type Snapshot struct {
	Name      string
	Path      string
	Source    string
	CreatedAt time.Time
}

// Store manages snapshots under a single parent directory with a fixed
// naming prefix.
type Store struct {
	fs        Filesystem
	logger    *logging.Logger
	clk       clock.Clock
	parentDir string
	prefix    string
}

// NewStore creates a snapshot store.
func NewStore(fs Filesystem, logger *logging.Logger, clk clock.Clock, parentDir, prefix string) *Store {
	return &Store{
		fs:        fs,
		logger:    logger,
		clk:       clk,
		parentDir: parentDir,
		prefix:    prefix,
	}
}

// Prefix returns the naming prefix used by this store.
func (s *Store) Prefix() string {
	return s.prefix
}

// Create takes a new read-only snapshot of sourcePath. The name embeds
// the current timestamp at second resolution; a collision within the
// same second fails distinctly with ErrSnapshotExists.
func (s *Store) Create(ctx context.Context, sourcePath string) (*Snapshot, error) {
	now := s.clk.Now()
	name := fmt.Sprintf("%s-%s", s.prefix, now.Format(nameTimeFormat))
	path := filepath.Join(s.parentDir, name)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrSnapshotCreateFailed, path, err)
	}

	s.logger.Info("Creating snapshot %s from %s", name, sourcePath)
	if err := s.fs.CreateReadOnly(ctx, sourcePath, path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCreateFailed, err)
	}

	return &Snapshot{
		Name:      name,
		Path:      path,
		Source:    sourcePath,
		CreatedAt: now,
	}, nil
}

// List returns every snapshot under the parent directory matching the
// store's prefix, sorted ascending by true creation time with the
// (timestamp-derived) name as tie-breaker.
func (s *Store) List(ctx context.Context) ([]*Snapshot, error) {
	infos, err := s.fs.List(ctx, s.parentDir)
	if err != nil {
		return nil, err
	}

	var snaps []*Snapshot
	for _, info := range infos {
		if !strings.HasPrefix(info.Name, s.prefix+"-") {
			continue
		}
		snaps = append(snaps, &Snapshot{
			Name:      info.Name,
			Path:      info.Path,
			CreatedAt: info.CreatedAt,
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].Name < snaps[j].Name
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Delete removes a snapshot. Deleting a snapshot that is already gone
// is not an error.
func (s *Store) Delete(ctx context.Context, snap *Snapshot) error {
	if _, err := os.Stat(snap.Path); os.IsNotExist(err) {
		s.logger.Debug("Snapshot %s already removed", snap.Name)
		return nil
	}

	s.logger.Debug("Deleting snapshot %s", snap.Name)
	if err := s.fs.Delete(ctx, snap.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSnapshotDeleteFailed, snap.Name, err)
	}
	return nil
}
