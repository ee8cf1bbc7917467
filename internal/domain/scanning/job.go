package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingProjectID is returned when a job is requested without an owning
// project.
var ErrMissingProjectID = errors.New("project id is required")

// Job is a single requested scan execution. Its status only moves forward
// and every mutation after creation is made by the job runner.
type Job struct {
	jobID     uuid.UUID
	projectID string
	scanType  ScanType
	rawConfig json.RawMessage
	config    ScanConfig
	// configErr is set when a stored configuration could not be decoded on
	// load. The job then carries the defaults of its scan type.
	configErr error
	status    JobStatus
	timeline  *Timeline
}

// JobOption configures optional behavior of NewJob.
type JobOption func(*Job)

// WithTimeProvider overrides the clock used for the job's timeline.
func WithTimeProvider(tp TimeProvider) JobOption {
	return func(j *Job) { j.timeline = NewTimeline(tp) }
}

// NewJob creates a pending job. The configuration is decoded strictly for
// the scan type; malformed configuration is rejected with ErrInvalidConfig.
// Unsupported scan types are accepted so their dispatch failure can be
// recorded on the job.
func NewJob(projectID string, scanType ScanType, rawConfig json.RawMessage, opts ...JobOption) (*Job, error) {
	if projectID == "" {
		return nil, ErrMissingProjectID
	}

	cfg, err := DecodeConfig(scanType, rawConfig)
	if err != nil {
		return nil, err
	}

	job := &Job{
		jobID:     uuid.New(),
		projectID: projectID,
		scanType:  scanType,
		rawConfig: normalizeRawConfig(rawConfig),
		config:    cfg,
		status:    JobStatusPending,
		timeline:  NewTimeline(new(realTimeProvider)),
	}
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

// ReconstructJob creates a Job instance from stored fields, bypassing creation invariants.
// This should only be used by repositories when loading from the DB. A stored
// configuration that no longer decodes falls back to the scan type's defaults
// and is reported through ConfigError.
func ReconstructJob(
	jobID uuid.UUID,
	projectID string,
	scanType ScanType,
	rawConfig json.RawMessage,
	status JobStatus,
	timeline *Timeline,
) *Job {
	cfg, err := DecodeConfig(scanType, rawConfig)
	return &Job{
		jobID:     jobID,
		projectID: projectID,
		scanType:  scanType,
		rawConfig: normalizeRawConfig(rawConfig),
		config:    cfg,
		configErr: err,
		status:    status,
		timeline:  timeline,
	}
}

func normalizeRawConfig(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}")
	}
	return append(json.RawMessage(nil), raw...)
}

func (j *Job) JobID() uuid.UUID           { return j.jobID }
func (j *Job) ProjectID() string          { return j.projectID }
func (j *Job) ScanType() ScanType         { return j.scanType }
func (j *Job) Status() JobStatus          { return j.status }
func (j *Job) Config() ScanConfig         { return j.config }
func (j *Job) RawConfig() json.RawMessage { return j.rawConfig }
func (j *Job) ConfigError() error         { return j.configErr }
func (j *Job) Timeline() *Timeline        { return j.timeline }
func (j *Job) CreatedAt() time.Time       { return j.timeline.CreatedAt() }

// StartedAt returns when the job began running.
func (j *Job) StartedAt() (time.Time, bool) {
	return j.timeline.StartedAt(), j.timeline.IsStarted()
}

// CompletedAt returns when the job reached a terminal state.
// A job only has an end time if it's in a terminal state.
func (j *Job) CompletedAt() (time.Time, bool) {
	if j.status.IsTerminal() {
		return j.timeline.CompletedAt(), true
	}
	return time.Time{}, false
}

// Start moves a pending job to running.
func (j *Job) Start() error { return j.UpdateStatus(JobStatusRunning) }

// Complete moves a running job to completed.
func (j *Job) Complete() error { return j.UpdateStatus(JobStatusCompleted) }

// Fail moves a pending or running job to failed.
func (j *Job) Fail() error { return j.UpdateStatus(JobStatusFailed) }

// UpdateStatus changes the job's status after validating the transition.
// It returns an error if the transition is not valid.
func (j *Job) UpdateStatus(newStatus JobStatus) error {
	if err := j.status.ValidateTransition(newStatus); err != nil {
		return fmt.Errorf("job %s: %w", j.jobID, err)
	}

	if newStatus == JobStatusRunning {
		j.timeline.MarkStarted()
	}
	if newStatus.IsTerminal() {
		j.timeline.MarkCompleted()
	}

	j.status = newStatus
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing mutable state.
func (j *Job) Clone() *Job {
	tl := *j.timeline
	c := *j
	c.timeline = &tl
	c.rawConfig = append(json.RawMessage(nil), j.rawConfig...)
	return &c
}
