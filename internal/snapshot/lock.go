package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tis24dev/snapsync/internal/logging"
)

// errMarkerFound stops the walk early once a marker has been seen.
var errMarkerFound = errors.New("marker found")

// Detector inspects snapshots for exclusion markers left by an
// in-flight external writer.
type Detector struct {
	logger *logging.Logger
}

// NewDetector creates a lock-marker detector.
func NewDetector(logger *logging.Logger) *Detector {
	return &Detector{logger: logger}
}

// HasActiveMarker reports whether at least one file matching
// markerPattern exists anywhere under snap.Path/markerSubdir. A missing
// marker subtree means no markers are possible and yields false; any
// filesystem access error yields ErrInspectionFailed instead. The
// check is a pure read of the snapshot contents.
func (d *Detector) HasActiveMarker(snap *Snapshot, markerSubdir, markerPattern string) (bool, error) {
	root := filepath.Join(snap.Path, markerSubdir)

	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug("Marker subtree %s not present in %s, snapshot is clean", markerSubdir, snap.Name)
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", ErrInspectionFailed, root, err)
	}

	found := false
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		match, err := filepath.Match(markerPattern, entry.Name())
		if err != nil {
			return fmt.Errorf("bad marker pattern %q: %w", markerPattern, err)
		}
		if match {
			d.logger.Debug("Found lock marker %s in %s", path, snap.Name)
			found = true
			return errMarkerFound
		}
		return nil
	})

	if err != nil && !errors.Is(err, errMarkerFound) {
		return false, fmt.Errorf("%w: walk %s: %v", ErrInspectionFailed, root, err)
	}
	return found, nil
}
