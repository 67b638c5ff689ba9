package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/types"
)

func newTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeFilesystem implements Filesystem on plain directories, recording
// creation times from the test clock.
type fakeFilesystem struct {
	mu          sync.Mutex
	now         func() time.Time
	created     map[string]time.Time
	createErr   error
	deleteFail  map[string]bool
	populate    func(destPath string) error
	createCalls int
	deleteCalls []string
}

func newFakeFilesystem(now func() time.Time) *fakeFilesystem {
	return &fakeFilesystem{
		now:        now,
		created:    make(map[string]time.Time),
		deleteFail: make(map[string]bool),
	}
}

func (f *fakeFilesystem) setCreated(path string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[path] = t
}

func (f *fakeFilesystem) CreateReadOnly(ctx context.Context, sourcePath, destPath string) error {
	f.mu.Lock()
	f.createCalls++
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return err
	}
	if f.populate != nil {
		if err := f.populate(destPath); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.created[destPath] = f.now()
	f.mu.Unlock()
	return nil
}

func (f *fakeFilesystem) List(ctx context.Context, parentDir string) ([]Info, error) {
	entries, err := os.ReadDir(parentDir)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(parentDir, entry.Name())

		f.mu.Lock()
		created, ok := f.created[path]
		f.mu.Unlock()
		if !ok {
			info, err := entry.Info()
			if err != nil {
				return nil, err
			}
			created = info.ModTime()
		}

		infos = append(infos, Info{Name: entry.Name(), Path: path, CreatedAt: created})
	}
	return infos, nil
}

func (f *fakeFilesystem) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, path)
	fail := f.deleteFail[path]
	f.mu.Unlock()

	if fail {
		return errors.New("delete refused")
	}
	return os.RemoveAll(path)
}
