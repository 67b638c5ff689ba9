// Package config loads the snapsync.env configuration file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/snapsync/internal/types"
	"github.com/tis24dev/snapsync/pkg/utils"
)

var multiValueKeys = map[string]bool{
	"AGE_RECIPIENT": true,
}

// Config contains the full configuration for one run. The orchestrator
// treats it as an immutable parameter bundle loaded once at startup.
type Config struct {
	// General settings
	DebugLevel types.LogLevel
	UseColor   bool
	DryRun     bool
	LogPath    string

	// Snapshot settings
	SourcePath     string
	SnapshotDir    string
	SnapshotPrefix string
	UnitsSubdir    string

	// Lock detection
	LockMarkerSubdir  string
	LockMarkerPattern string

	// Retry settings for snapshot creation
	MaxRetries int
	RetryDelay time.Duration

	// Local retention
	LocalKeep int

	// Remote replication
	RemoteHost          string
	RemoteUser          string
	RemoteBasePath      string
	ReplicationParallel int

	// Encrypted secondary archive
	ArchiveSource     string
	ArchiveRemotePath string
	AgeRecipients     []string
	AgeRecipientFile  string

	// Remote snapshot lifecycle (TrueNAS middleware)
	TrueNASHost           string
	TrueNASAPIKey         string
	TrueNASDataset        string
	TrueNASSnapshotPrefix string
	TrueNASKeep           int

	// Notifications
	NotifyRecipient string
	NotifyFrom      string

	// ConfigPath is the file this configuration was loaded from.
	ConfigPath string

	// raw configuration map
	raw map[string]string
}

// LoadConfig reads the snapsync.env configuration file.
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	rawValues, err := parseEnvFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	// Environment variables take precedence over file values.
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvOverrides checks for environment variables and overrides config file values.
func (c *Config) loadEnvOverrides() {
	envKeys := []string{
		"DEBUG_LEVEL", "USE_COLOR", "DRY_RUN", "LOG_PATH",
		"SOURCE_PATH", "SNAPSHOT_DIR", "SNAPSHOT_PREFIX", "UNITS_SUBDIR",
		"LOCK_MARKER_SUBDIR", "LOCK_MARKER_PATTERN",
		"MAX_RETRIES", "RETRY_DELAY_SECONDS", "LOCAL_KEEP",
		"REMOTE_HOST", "REMOTE_USER", "REMOTE_BASE_PATH", "REPLICATION_PARALLEL",
		"ARCHIVE_SOURCE", "ARCHIVE_REMOTE_PATH", "AGE_RECIPIENT", "AGE_RECIPIENT_FILE",
		"TRUENAS_HOST", "TRUENAS_API_KEY", "TRUENAS_DATASET",
		"TRUENAS_SNAPSHOT_PREFIX", "TRUENAS_KEEP",
		"NOTIFY_RECIPIENT", "NOTIFY_FROM",
	}

	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok {
			c.raw[key] = value
		}
	}
}

func (c *Config) parse() error {
	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)
	c.DryRun = c.getBool("DRY_RUN", false)
	c.LogPath = c.getString("LOG_PATH", "/var/log/snapsync")

	c.SourcePath = c.getString("SOURCE_PATH", "")
	c.SnapshotDir = c.getString("SNAPSHOT_DIR", "")
	c.SnapshotPrefix = c.getString("SNAPSHOT_PREFIX", "backup")
	c.UnitsSubdir = c.getString("UNITS_SUBDIR", "repos")

	c.LockMarkerSubdir = c.getString("LOCK_MARKER_SUBDIR", c.UnitsSubdir)
	c.LockMarkerPattern = c.getString("LOCK_MARKER_PATTERN", "*.lock")

	c.MaxRetries = c.ensurePositiveInt("MAX_RETRIES", 3)
	retrySeconds := c.ensurePositiveInt("RETRY_DELAY_SECONDS", 60)
	c.RetryDelay = time.Duration(retrySeconds) * time.Second
	c.LocalKeep = c.getInt("LOCAL_KEEP", 3)
	if c.LocalKeep < 0 {
		c.LocalKeep = 0
	}

	c.RemoteHost = c.getString("REMOTE_HOST", "")
	c.RemoteUser = c.getString("REMOTE_USER", "")
	c.RemoteBasePath = c.getString("REMOTE_BASE_PATH", "")
	c.ReplicationParallel = c.ensurePositiveInt("REPLICATION_PARALLEL", 1)

	c.ArchiveSource = c.getString("ARCHIVE_SOURCE", "")
	c.ArchiveRemotePath = c.getString("ARCHIVE_REMOTE_PATH", c.RemoteBasePath)
	c.AgeRecipients = c.getStringSlice("AGE_RECIPIENT", nil)
	c.AgeRecipientFile = c.getString("AGE_RECIPIENT_FILE", "")

	c.TrueNASHost = c.getString("TRUENAS_HOST", "")
	c.TrueNASAPIKey = c.getString("TRUENAS_API_KEY", "")
	c.TrueNASDataset = c.getString("TRUENAS_DATASET", "")
	c.TrueNASSnapshotPrefix = c.getString("TRUENAS_SNAPSHOT_PREFIX", c.SnapshotPrefix+"-")
	c.TrueNASKeep = c.getInt("TRUENAS_KEEP", 0)

	c.NotifyRecipient = c.getString("NOTIFY_RECIPIENT", "")
	c.NotifyFrom = c.getString("NOTIFY_FROM", "")

	return nil
}

// validate checks that the required settings are present.
func (c *Config) validate() error {
	if c.SourcePath == "" {
		return fmt.Errorf("SOURCE_PATH is required")
	}
	if c.SnapshotDir == "" {
		return fmt.Errorf("SNAPSHOT_DIR is required")
	}
	if c.RemoteHost == "" {
		return fmt.Errorf("REMOTE_HOST is required")
	}
	if c.RemoteBasePath == "" {
		return fmt.Errorf("REMOTE_BASE_PATH is required")
	}
	if c.SnapshotPrefix == "" {
		return fmt.Errorf("SNAPSHOT_PREFIX cannot be empty")
	}
	if strings.ContainsAny(c.SnapshotPrefix, "/ ") {
		return fmt.Errorf("SNAPSHOT_PREFIX must not contain slashes or spaces: %q", c.SnapshotPrefix)
	}
	if c.TrueNASHost != "" && c.TrueNASAPIKey == "" {
		return fmt.Errorf("TRUENAS_API_KEY is required when TRUENAS_HOST is set")
	}
	if c.TrueNASHost != "" && c.TrueNASDataset == "" {
		return fmt.Errorf("TRUENAS_DATASET is required when TRUENAS_HOST is set")
	}
	return nil
}

// ArchiveEnabled reports whether the secondary encrypted archive step
// is configured at all.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveSource != ""
}

// LifecycleEnabled reports whether the remote snapshot lifecycle call
// is configured.
func (c *Config) LifecycleEnabled() bool {
	return c.TrueNASHost != ""
}

// RemoteTarget returns the user@host form used by the transport, or
// just the host when no remote user is configured.
func (c *Config) RemoteTarget() string {
	if c.RemoteUser != "" {
		return c.RemoteUser + "@" + c.RemoteHost
	}
	return c.RemoteHost
}

func (c *Config) getString(key, defaultValue string) string {
	if value, ok := c.raw[key]; ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	value, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func (c *Config) getInt(key string, defaultValue int) int {
	value, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	value, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "warn", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return defaultValue
	}
}

// getStringSlice reads a multi-value key: one entry per line, blank
// entries dropped.
func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	value, ok := c.raw[key]
	if !ok || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, line := range strings.Split(value, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Get returns the raw value for a key, if present.
func (c *Config) Get(key string) (string, bool) {
	value, ok := c.raw[key]
	return value, ok
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
