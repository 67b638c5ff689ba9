// Package transport moves bytes to the remote store over a secured
// remote-shell channel (rsync over ssh).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tis24dev/snapsync/internal/logging"
)

// Transport is the remote copy primitive used by replication and the
// encrypted archiver.
type Transport interface {
	// MkdirAll pre-creates a directory tree on the remote side.
	MkdirAll(ctx context.Context, remotePath string) error

	// Mirror performs a delete-reconciling one-way sync: the remote
	// path converges to exactly match localPath.
	Mirror(ctx context.Context, localPath, remotePath string) error

	// Copy transfers a single file into remotePath.
	Copy(ctx context.Context, localFile, remotePath string) error
}

// Deps groups external dependencies used by SSHTransport.
type Deps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func defaultDeps() Deps {
	return Deps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// SSHTransport implements Transport with the rsync and ssh binaries.
type SSHTransport struct {
	logger *logging.Logger
	target string // user@host or host
	deps   Deps
}

// NewSSHTransport creates a transport for the given ssh target.
func NewSSHTransport(logger *logging.Logger, target string) *SSHTransport {
	return &SSHTransport{
		logger: logger,
		target: target,
		deps:   defaultDeps(),
	}
}

// NewSSHTransportWithDeps creates a transport with custom command
// dependencies (used by tests).
func NewSSHTransportWithDeps(logger *logging.Logger, target string, deps Deps) *SSHTransport {
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = exec.CommandContext
	}
	return &SSHTransport{logger: logger, target: target, deps: deps}
}

// MkdirAll runs mkdir -p on the remote host.
func (t *SSHTransport) MkdirAll(ctx context.Context, remotePath string) error {
	if _, err := t.deps.LookPath("ssh"); err != nil {
		return fmt.Errorf("ssh tool not available: %w", err)
	}
	return t.run(ctx, "ssh", t.target, "mkdir", "-p", "--", remotePath)
}

// Mirror runs rsync with delete reconciliation. The trailing slash on
// the source makes rsync sync directory contents, not the directory
// itself.
func (t *SSHTransport) Mirror(ctx context.Context, localPath, remotePath string) error {
	if _, err := t.deps.LookPath("rsync"); err != nil {
		return fmt.Errorf("rsync tool not available: %w", err)
	}
	src := strings.TrimSuffix(localPath, "/") + "/"
	dest := fmt.Sprintf("%s:%s/", t.target, strings.TrimSuffix(remotePath, "/"))
	return t.run(ctx, "rsync", "-a", "--delete", src, dest)
}

// Copy transfers one file into the remote directory.
func (t *SSHTransport) Copy(ctx context.Context, localFile, remotePath string) error {
	if _, err := t.deps.LookPath("rsync"); err != nil {
		return fmt.Errorf("rsync tool not available: %w", err)
	}
	dest := fmt.Sprintf("%s:%s/", t.target, strings.TrimSuffix(remotePath, "/"))
	return t.run(ctx, "rsync", "-a", localFile, dest)
}

func (t *SSHTransport) run(ctx context.Context, name string, args ...string) error {
	t.logger.Debug("Running: %s %s", name, strings.Join(args, " "))
	cmd := t.deps.CommandContext(ctx, name, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(output.String()))
	}
	return nil
}
