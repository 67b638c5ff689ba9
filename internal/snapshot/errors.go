package snapshot

import "errors"

var (
	// ErrSnapshotCreateFailed indicates the underlying filesystem could
	// not create the snapshot. Fatal to the run.
	ErrSnapshotCreateFailed = errors.New("snapshot creation failed")

	// ErrSnapshotExists indicates a snapshot with the generated name
	// already exists (same-second collision). Fatal to the run.
	ErrSnapshotExists = errors.New("snapshot already exists")

	// ErrRetriesExhausted indicates all creation attempts produced a
	// dirty snapshot. Fatal to the run.
	ErrRetriesExhausted = errors.New("snapshot creation retries exhausted")

	// ErrInspectionFailed indicates lock-marker inspection hit a
	// filesystem access error (distinct from "no markers present").
	ErrInspectionFailed = errors.New("snapshot inspection failed")

	// ErrSnapshotDeleteFailed indicates a snapshot could not be
	// deleted. Callers treat it as non-fatal.
	ErrSnapshotDeleteFailed = errors.New("snapshot deletion failed")
)

// errSnapshotDirty marks a creation attempt that found active lock
// markers; it consumes a retry instead of aborting.
var errSnapshotDirty = errors.New("snapshot contains active lock markers")
