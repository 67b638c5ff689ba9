package types

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// RunStatus represents the terminal status of a single run.
type RunStatus int

const (
	// RunSuccess - the run completed with no sub-failures.
	RunSuccess RunStatus = iota

	// RunDegraded - the run completed but recorded non-fatal sub-failures.
	RunDegraded

	// RunFailed - the run hit a fatal condition.
	RunFailed
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	switch s {
	case RunSuccess:
		return "success"
	case RunDegraded:
		return "degraded"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}
