package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
)

// Event types relevant to Jobs:
const (
	EventTypeJobCreated   events.EventType = "JobCreated"
	EventTypeJobStarted   events.EventType = "JobStarted"
	EventTypeJobCompleted events.EventType = "JobCompleted"
	EventTypeJobFailed    events.EventType = "JobFailed"
)

// JobCreatedEvent signals that a scan was requested and persisted as pending.
type JobCreatedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID `json:"job_id"`
	ProjectID  string    `json:"project_id"`
	ScanType   ScanType  `json:"scan_type"`
}

func NewJobCreatedEvent(job *Job) JobCreatedEvent {
	return JobCreatedEvent{
		occurredAt: job.CreatedAt(),
		JobID:      job.JobID(),
		ProjectID:  job.ProjectID(),
		ScanType:   job.ScanType(),
	}
}

func (e JobCreatedEvent) EventType() events.EventType { return EventTypeJobCreated }
func (e JobCreatedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobStartedEvent signals that a scanner was dispatched for the job.
type JobStartedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID `json:"job_id"`
	ScanType   ScanType  `json:"scan_type"`
}

func NewJobStartedEvent(job *Job) JobStartedEvent {
	startedAt, _ := job.StartedAt()
	return JobStartedEvent{occurredAt: startedAt, JobID: job.JobID(), ScanType: job.ScanType()}
}

func (e JobStartedEvent) EventType() events.EventType { return EventTypeJobStarted }
func (e JobStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobCompletedEvent signals that the scanner returned and its findings were
// recorded. Skipped counts findings that could not be persisted.
type JobCompletedEvent struct {
	occurredAt  time.Time
	JobID       uuid.UUID `json:"job_id"`
	ScanType    ScanType  `json:"scan_type"`
	Persisted   int       `json:"persisted"`
	Skipped     int       `json:"skipped"`
	Diagnostics int       `json:"diagnostics"`
}

func NewJobCompletedEvent(job *Job, persisted, skipped, diagnostics int) JobCompletedEvent {
	completedAt, _ := job.CompletedAt()
	return JobCompletedEvent{
		occurredAt:  completedAt,
		JobID:       job.JobID(),
		ScanType:    job.ScanType(),
		Persisted:   persisted,
		Skipped:     skipped,
		Diagnostics: diagnostics,
	}
}

func (e JobCompletedEvent) EventType() events.EventType { return EventTypeJobCompleted }
func (e JobCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobFailedEvent signals that the job ended without results.
type JobFailedEvent struct {
	occurredAt time.Time
	JobID      uuid.UUID `json:"job_id"`
	ScanType   ScanType  `json:"scan_type"`
	Reason     string    `json:"reason"`
}

func NewJobFailedEvent(job *Job, reason string) JobFailedEvent {
	completedAt, _ := job.CompletedAt()
	return JobFailedEvent{occurredAt: completedAt, JobID: job.JobID(), ScanType: job.ScanType(), Reason: reason}
}

func (e JobFailedEvent) EventType() events.EventType { return EventTypeJobFailed }
func (e JobFailedEvent) OccurredAt() time.Time       { return e.occurredAt }
