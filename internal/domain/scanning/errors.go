package scanning

import "errors"

var (
	// ErrJobNotFound is returned when a referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnsupportedScanType is returned when no scanner is registered for a
	// job's scan type.
	ErrUnsupportedScanType = errors.New("unsupported scan type")

	// ErrJobAlreadyStarted is returned when a start is requested for a job
	// that is no longer pending or is already being started.
	ErrJobAlreadyStarted = errors.New("job already started")

	// ErrInvalidTransition is returned for a status change the job lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidConfig is returned when a scan configuration cannot be decoded
	// for its scan type.
	ErrInvalidConfig = errors.New("invalid scan configuration")

	// ErrInvalidFinding is returned when a finding violates the record limits
	// and cannot be persisted.
	ErrInvalidFinding = errors.New("invalid finding")
)
