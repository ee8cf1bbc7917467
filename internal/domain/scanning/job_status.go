package scanning

import (
	"fmt"
)

// JobStatus represents the current state of a scan job. Status only moves
// forward: pending -> running -> {completed, failed}, plus pending -> failed
// when no scanner can be resolved for the job.
type JobStatus string

const (
	// JobStatusPending indicates a job has been created but not yet started.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates a scanner is executing the job.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates the scanner returned and its findings were recorded.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the job could not be dispatched or the scanner
	// failed unexpectedly.
	JobStatusFailed JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus converts a string to a JobStatus. It returns an empty
// status for unknown values.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s)
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// Failed is reachable directly when dispatch fails.
		return target == JobStatusRunning || target == JobStatusFailed
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
