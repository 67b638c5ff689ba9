// Package archive packages a secondary source tree as a compressed,
// age-encrypted bundle and ships it to the remote store.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/transport"
	"github.com/tis24dev/snapsync/pkg/utils"
)

var (
	// ErrArchivePrereqMissing indicates the encryption prerequisites
	// (age recipients) are not available. Fatal to the run under the
	// current default policy.
	ErrArchivePrereqMissing = errors.New("archive prerequisites missing")

	// ErrArchiveTransferFailed indicates the encrypted artifact could
	// not be shipped to the remote store. Non-fatal.
	ErrArchiveTransferFailed = errors.New("archive transfer failed")
)

// Result describes the outcome of one archive operation.
type Result struct {
	// Skipped is true when the source directory does not exist.
	Skipped bool

	// Artifact is the name of the encrypted bundle that was produced.
	Artifact string

	// Size is the artifact size in bytes.
	Size int64

	// Uploaded reports whether the artifact reached the remote store.
	Uploaded bool

	// TransferErr carries the non-fatal upload failure, if any.
	TransferErr error
}

// Archiver builds and ships the encrypted secondary archive.
type Archiver struct {
	logger     *logging.Logger
	transport  transport.Transport
	recipients []age.Recipient
	dryRun     bool
}

// NewArchiver creates an archiver encrypting to the given recipients.
func NewArchiver(logger *logging.Logger, tr transport.Transport, recipients []age.Recipient, dryRun bool) *Archiver {
	return &Archiver{
		logger:     logger,
		transport:  tr,
		recipients: append([]age.Recipient(nil), recipients...),
		dryRun:     dryRun,
	}
}

// Archive compresses and encrypts sourcePath into a local temporary
// artifact, transfers it to remotePath, and removes the artifact in
// every case. An absent source is a logged no-op. Missing recipients
// fail with ErrArchivePrereqMissing; a failed transfer is reported in
// the result, not as an error.
func (a *Archiver) Archive(ctx context.Context, sourcePath, remotePath string) (*Result, error) {
	info, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		a.logger.Skip("Archive source %s does not exist, skipping", sourcePath)
		return &Result{Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat archive source %s: %w", sourcePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive source %s is not a directory", sourcePath)
	}

	if len(a.recipients) == 0 {
		return nil, fmt.Errorf("%w: no age recipients configured", ErrArchivePrereqMissing)
	}

	if a.dryRun {
		a.logger.Info("Archive: dry-run, would encrypt %s to %s", sourcePath, remotePath)
		return &Result{Artifact: "dry-run", Uploaded: true}, nil
	}

	artifactName := fmt.Sprintf("%s-%s.tar.gz.age",
		filepath.Base(sourcePath), time.Now().Format("2006-01-02_15-04-05"))

	// A private work directory keeps concurrent invocations from
	// colliding on a shared temp path.
	workDir, err := os.MkdirTemp("", "snapsync-archive-")
	if err != nil {
		return nil, fmt.Errorf("create archive work directory: %w", err)
	}
	artifactPath := filepath.Join(workDir, artifactName)

	// The work directory and the artifact in it are removed on every
	// path, including transfer failure.
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			a.logger.Warning("WARNING: Failed to remove archive work directory %s: %v", workDir, err)
		}
	}()

	size, err := a.writeArtifact(ctx, sourcePath, artifactPath)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Archive: created %s (%s)", artifactName, utils.FormatBytes(size))

	result := &Result{Artifact: artifactName, Size: size}
	if err := a.transport.Copy(ctx, artifactPath, remotePath); err != nil {
		a.logger.Warning("WARNING: Archive transfer failed: %v", err)
		result.TransferErr = fmt.Errorf("%w: %v", ErrArchiveTransferFailed, err)
		return result, nil
	}

	a.logger.Info("Archive: uploaded %s to %s", artifactName, remotePath)
	result.Uploaded = true
	return result, nil
}

// writeArtifact streams sourcePath as tar -> gzip -> age into the
// artifact file and returns the artifact size.
func (a *Archiver) writeArtifact(ctx context.Context, sourcePath, artifactPath string) (int64, error) {
	out, err := os.OpenFile(artifactPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("create archive artifact: %w", err)
	}
	defer out.Close()

	encWriter, err := age.Encrypt(out, a.recipients...)
	if err != nil {
		return 0, fmt.Errorf("initialize encryption: %w", err)
	}

	gzWriter := gzip.NewWriter(encWriter)
	tarWriter := tar.NewWriter(gzWriter)

	if err := a.addTree(ctx, tarWriter, sourcePath); err != nil {
		return 0, err
	}

	// Close order matters: tar flushes into gzip, gzip into age, age
	// finalizes the ciphertext.
	if err := tarWriter.Close(); err != nil {
		return 0, fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return 0, fmt.Errorf("finalize gzip stream: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return 0, fmt.Errorf("finalize encryption: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync artifact: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	return info.Size(), nil
}

func (a *Archiver) addTree(ctx context.Context, tw *tar.Writer, sourcePath string) error {
	base := filepath.Base(sourcePath)

	return filepath.WalkDir(sourcePath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		info, err := entry.Info()
		if err != nil {
			return err
		}

		// Regular files and directories only; sockets, devices and
		// symlinks are not expected in the secondary source.
		switch {
		case info.IsDir():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = name + "/"
			return tw.WriteHeader(header)
		case info.Mode().IsRegular():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = name

			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()
			if _, err := io.Copy(tw, file); err != nil {
				return fmt.Errorf("archive %s: %w", path, err)
			}
			return nil
		default:
			a.logger.Debug("Archive: skipping special file %s", path)
			return nil
		}
	})
}
