// Package errors provides structured error handling for scenario setup and runs.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Configuration errors abort scenario setup before day 0.
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeUnknownActivity    Code = "UNKNOWN_ACTIVITY"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeInvalidProbability Code = "INVALID_PROBABILITY"
	CodeInvalidCapacity    Code = "INVALID_CAPACITY"
	CodeInvalidCalendar    Code = "INVALID_CALENDAR"

	// Run errors
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeCheckpointMismatch Code = "CHECKPOINT_MISMATCH"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// ExitCode maps a code to the process exit status used by the command layer.
// Configuration problems exit with 2 so batch tooling can tell them apart
// from failures during a run.
func (c Code) ExitCode() int {
	switch c {
	case CodeInvalidConfig, CodeUnknownActivity, CodeInvalidTransition,
		CodeInvalidProbability, CodeInvalidCapacity, CodeInvalidCalendar:
		return 2
	default:
		return 1
	}
}

// IsConfiguration reports whether the code belongs to the configuration class.
func (c Code) IsConfiguration() bool {
	return c.ExitCode() == 2
}
