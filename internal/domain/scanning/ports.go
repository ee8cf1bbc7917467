// Package scanning provides the domain types and ports of the scan
// orchestrator: jobs and their lifecycle, typed scan configuration, canonical
// findings and severities, and the interfaces scanners and stores implement.
package scanning

import (
	"context"

	"github.com/google/uuid"
)

// Scanner wraps one external analysis tool or service. Expected failure
// modes are returned as diagnostic findings; an error is returned only for
// unexpected internal failures, which fail the job.
type Scanner interface {
	ScanType() ScanType
	Scan(ctx context.Context, job *Job) ([]RawFinding, error)
}

// JobRepository persists jobs.
type JobRepository interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *Job) error
	// GetJob returns ErrJobNotFound when the job does not exist.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
	// UpdateJob persists the job's status and timestamps.
	UpdateJob(ctx context.Context, job *Job) error
	// ListJobsByProject returns the project's jobs, newest first.
	ListJobsByProject(ctx context.Context, projectID string) ([]*Job, error)
}

// FindingRepository is an append-only store of findings keyed by job.
type FindingRepository interface {
	AppendFinding(ctx context.Context, finding *Finding) error
	// ListFindings returns the job's findings in insertion order.
	ListFindings(ctx context.Context, jobID uuid.UUID) ([]*Finding, error)
	CountFindings(ctx context.Context, jobID uuid.UUID) (int, error)
}

// SourceLocator resolves the uploaded source tree of a project. A missing
// tree is a valid state reported by ok=false.
type SourceLocator interface {
	Locate(projectID string) (path string, ok bool)
}

// RASPEventRepository stores runtime events, deduplicated by EventID.
type RASPEventRepository interface {
	// SaveEvents inserts the events whose EventID is not stored yet and
	// returns how many were inserted.
	SaveEvents(ctx context.Context, events []*RASPEvent) (int, error)
	// GetEvent returns ErrRASPEventNotFound when the event does not exist.
	GetEvent(ctx context.Context, id uuid.UUID) (*RASPEvent, error)
	// ListEvents returns the filter's page, newest event first.
	ListEvents(ctx context.Context, filter RASPEventFilter) (RASPEventPage, error)
	// UpdateEvent persists the event's handled state.
	UpdateEvent(ctx context.Context, event *RASPEvent) error
}
