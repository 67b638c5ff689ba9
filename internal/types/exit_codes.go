// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully (including degraded runs).
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitSnapshotError - Snapshot creation failed or retries were exhausted.
	ExitSnapshotError ExitCode = 3

	// ExitArchiveError - Missing prerequisite for the encrypted archive.
	ExitArchiveError ExitCode = 4

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 5
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitSnapshotError:
		return "snapshot error"
	case ExitArchiveError:
		return "archive error"
	case ExitPanicError:
		return "panic error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an integer.
func (e ExitCode) Int() int {
	return int(e)
}
