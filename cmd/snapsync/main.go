// Command snapsync performs one unattended backup run: it takes a
// read-only snapshot of a live tree, replicates its units to a remote
// store, ships an encrypted archive of a secondary source, and
// triggers the remote snapshot lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/juju/clock"

	"github.com/tis24dev/snapsync/internal/archive"
	"github.com/tis24dev/snapsync/internal/config"
	"github.com/tis24dev/snapsync/internal/lifecycle"
	"github.com/tis24dev/snapsync/internal/logging"
	"github.com/tis24dev/snapsync/internal/notify"
	"github.com/tis24dev/snapsync/internal/orchestrator"
	"github.com/tis24dev/snapsync/internal/replicate"
	"github.com/tis24dev/snapsync/internal/snapshot"
	"github.com/tis24dev/snapsync/internal/transport"
	"github.com/tis24dev/snapsync/internal/types"
	"github.com/tis24dev/snapsync/pkg/utils"
)

const appVersion = "1.0.0"

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	configPath := flag.String("config", "/etc/snapsync/snapsync.env", "path to the configuration file")
	testMode := flag.Bool("test", false, "ephemeral run: the created snapshot is removed on exit and retention rotation is suppressed")
	dryRun := flag.Bool("dry-run", false, "log intended transfers without executing them")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snapsync %s\n", appVersion)
		return types.ExitSuccess.Int()
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapsync: %v\n", err)
		return types.ExitConfigError.Int()
	}
	if *dryRun {
		cfg.DryRun = true
	}

	logger := logging.New(cfg.DebugLevel, cfg.UseColor)

	defer func() {
		if r := recover(); r != nil {
			logger.Critical("Unhandled panic: %v", r)
			exitCode = types.ExitPanicError.Int()
		}
	}()

	if cfg.LogPath != "" {
		if err := utils.EnsureDir(cfg.LogPath); err != nil {
			logger.Warning("WARNING: Cannot create log directory %s: %v", cfg.LogPath, err)
		} else {
			logFile := filepath.Join(cfg.LogPath,
				fmt.Sprintf("snapsync-%s.log", time.Now().Format("2006-01-02_15-04-05")))
			if err := logger.OpenLogFile(logFile); err != nil {
				logger.Warning("WARNING: Cannot open log file: %v", err)
			}
			defer logger.CloseLogFile()
		}
	}

	// An interrupt cancels the run context; the orchestrator's
	// deferred cleanup still executes before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Recipient problems are surfaced during the archive phase so the
	// run still produces its notification.
	var recipients []age.Recipient
	if cfg.ArchiveEnabled() {
		recipients, err = archive.LoadRecipients(cfg.AgeRecipients, cfg.AgeRecipientFile)
		if err != nil {
			logger.Error("Failed to load age recipients: %v", err)
			recipients = nil
		}
	}

	store := snapshot.NewStore(snapshot.NewBtrfsFilesystem(), logger, clock.WallClock, cfg.SnapshotDir, cfg.SnapshotPrefix)
	detector := snapshot.NewDetector(logger)
	creator := snapshot.NewCreator(store, detector, logger, clock.WallClock, snapshot.CreatorConfig{
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		MarkerSubdir:  cfg.LockMarkerSubdir,
		MarkerPattern: cfg.LockMarkerPattern,
	})
	rotator := snapshot.NewRotator(store, logger)

	tr := transport.NewSSHTransport(logger, cfg.RemoteTarget())
	engine := replicate.NewEngine(tr, logger, cfg.RemoteBasePath, cfg.ReplicationParallel, cfg.DryRun)
	archiver := archive.NewArchiver(logger, tr, recipients, cfg.DryRun)

	var controller lifecycle.Controller
	if cfg.LifecycleEnabled() {
		controller = lifecycle.NewClient(logger, cfg.TrueNASHost, cfg.TrueNASAPIKey)
	}

	var notifier notify.Notifier = notify.Disabled{}
	if cfg.NotifyRecipient != "" {
		notifier = notify.NewSendmail(logger, cfg.NotifyRecipient, cfg.NotifyFrom)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	orch := orchestrator.New(cfg, logger, orchestrator.Components{
		Store:     store,
		Creator:   creator,
		Rotator:   rotator,
		Engine:    engine,
		Archiver:  archiver,
		Lifecycle: controller,
		Notifier:  notifier,
	}, hostname, *testMode)

	return orch.Run(ctx).Int()
}
