// Package notify delivers the single end-of-run notification.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/types"
)

// Notifier is the notification sink: one subject+body message per run.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Disabled is the sink used when no recipient is configured. It drops
// messages silently.
type Disabled struct{}

// Send discards the message.
func (Disabled) Send(ctx context.Context, subject, body string) error {
	return nil
}

// StatusSubject builds the notification subject line for a run.
func StatusSubject(hostname string, status types.RunStatus) string {
	var tag string
	switch status {
	case types.RunSuccess:
		tag = "OK"
	case types.RunDegraded:
		tag = "DEGRADED"
	default:
		tag = "FAILED"
	}
	return fmt.Sprintf("[snapsync] %s - backup %s", hostname, tag)
}

// SendmailDeps groups external dependencies used by Sendmail.
type SendmailDeps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func defaultSendmailDeps() SendmailDeps {
	return SendmailDeps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// Sendmail delivers notifications through the local sendmail binary.
type Sendmail struct {
	logger    *logging.Logger
	recipient string
	from      string
	deps      SendmailDeps
}

// NewSendmail creates a sendmail-backed notifier.
func NewSendmail(logger *logging.Logger, recipient, from string) *Sendmail {
	return &Sendmail{
		logger:    logger,
		recipient: recipient,
		from:      from,
		deps:      defaultSendmailDeps(),
	}
}

// NewSendmailWithDeps creates a sendmail notifier with custom command
// dependencies (used by tests).
func NewSendmailWithDeps(logger *logging.Logger, recipient, from string, deps SendmailDeps) *Sendmail {
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = exec.CommandContext
	}
	return &Sendmail{logger: logger, recipient: recipient, from: from, deps: deps}
}

// Send builds an RFC822-style message and pipes it to sendmail -t.
func (s *Sendmail) Send(ctx context.Context, subject, body string) error {
	sendmailPath, err := s.deps.LookPath("sendmail")
	if err != nil {
		return fmt.Errorf("sendmail not available: %w", err)
	}

	var msg strings.Builder
	if s.from != "" {
		fmt.Fprintf(&msg, "From: %s\n", s.from)
	}
	fmt.Fprintf(&msg, "To: %s\n", s.recipient)
	fmt.Fprintf(&msg, "Subject: %s\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\n")
	msg.WriteString("\n")
	msg.WriteString(body)
	msg.WriteString("\n")

	cmd := s.deps.CommandContext(ctx, sendmailPath, "-t")
	cmd.Stdin = strings.NewReader(msg.String())
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sendmail failed: %w: %s", err, strings.TrimSpace(output.String()))
	}

	s.logger.Debug("Notification sent to %s", s.recipient)
	return nil
}
