package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tis24dev/snapsync/internal/types"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelWarning, false)
	logger.SetOutput(&buf)

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warning("warning line")
	logger.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("output contains suppressed levels:\n%s", out)
	}
	if !strings.Contains(out, "warning line") || !strings.Contains(out, "error line") {
		t.Errorf("output missing enabled levels:\n%s", out)
	}
}

func TestRunBufferRetainsEmittedLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	logger.Phase("run started")
	logger.Step("creating snapshot")
	logger.Debug("suppressed")
	logger.Warning("WARNING: something degraded")

	if got := logger.RunLineCount(); got != 3 {
		t.Errorf("RunLineCount() = %d, want 3 (suppressed lines excluded)", got)
	}

	runLog := logger.RunLog()
	for _, want := range []string{"PHASE", "run started", "STEP", "creating snapshot", "something degraded"} {
		if !strings.Contains(runLog, want) {
			t.Errorf("RunLog() missing %q:\n%s", want, runLog)
		}
	}
	if strings.Contains(runLog, "suppressed") {
		t.Error("RunLog() contains a line below the active level")
	}
	if strings.Contains(runLog, "\033[") {
		t.Error("RunLog() contains color escapes")
	}
}

func TestWarningAndErrorCounters(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})

	if logger.HasWarnings() || logger.HasErrors() {
		t.Fatal("fresh logger reports warnings or errors")
	}

	logger.Warning("w")
	if !logger.HasWarnings() {
		t.Error("HasWarnings() = false after a warning")
	}
	logger.Critical("c")
	if !logger.HasErrors() {
		t.Error("HasErrors() = false after a critical")
	}
}

func TestResetRunClearsBufferAndCounters(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})

	logger.Warning("w")
	logger.Info("i")
	logger.ResetRun()

	if logger.RunLineCount() != 0 {
		t.Errorf("RunLineCount() = %d after reset", logger.RunLineCount())
	}
	if logger.HasWarnings() {
		t.Error("HasWarnings() = true after reset")
	}
	if logger.RunLog() != "" {
		t.Errorf("RunLog() = %q after reset", logger.RunLog())
	}
}

func TestLogFileMirrorsOutput(t *testing.T) {
	logger := New(types.LogLevelInfo, true)
	logger.SetOutput(&bytes.Buffer{})

	logPath := filepath.Join(t.TempDir(), "run.log")
	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile() error = %v", err)
	}

	logger.Info("written to file")
	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing message:\n%s", data)
	}
	if strings.Contains(string(data), "\033[") {
		t.Error("log file contains color escapes")
	}
}

func TestFatalUsesExitFunc(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})

	exitCode := -1
	logger.SetExitFunc(func(code int) { exitCode = code })

	logger.Fatal(types.ExitConfigError, "bad configuration")
	if exitCode != types.ExitConfigError.Int() {
		t.Errorf("exit code = %d, want %d", exitCode, types.ExitConfigError.Int())
	}
	if !logger.HasErrors() {
		t.Error("Fatal did not record a critical message")
	}
}
