package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/storage"
)

var _ scanning.JobRepository = (*jobStore)(nil)

// jobStore implements scanning.JobRepository using PostgreSQL as the backing store.
type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a new PostgreSQL-backed job repository with tracing capabilities.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

const dbTimeout = 3 * time.Second

const createJobQuery = `
INSERT INTO scan_jobs (job_id, project_id, scan_type, status, config, created_at, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// CreateJob persists a new scan job.
func (r *jobStore) CreateJob(ctx context.Context, job *scanning.Job) error {
	dbAttrs := storage.DBAttributes(
		attribute.String("job_id", job.JobID().String()),
		attribute.String("project_id", job.ProjectID()),
		attribute.String("scan_type", job.ScanType().String()),
		attribute.String("status", job.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		startedAt, _ := job.StartedAt()
		completedAt, _ := job.CompletedAt()
		_, err := r.db.Exec(ctx, createJobQuery,
			job.JobID(),
			job.ProjectID(),
			job.ScanType().String(),
			job.Status().String(),
			[]byte(job.RawConfig()),
			job.CreatedAt(),
			toTimestamptz(startedAt),
			toTimestamptz(completedAt),
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.JobID(), err)
		}
		return nil
	})
}

const selectJobColumns = `job_id, project_id, scan_type, status, config, created_at, started_at, completed_at`

// GetJob retrieves a job by ID. It returns scanning.ErrJobNotFound when no
// row matches.
func (r *jobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*scanning.Job, error) {
	dbAttrs := storage.DBAttributes(attribute.String("job_id", jobID.String()))

	var job *scanning.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		row := r.db.QueryRow(ctx, `SELECT `+selectJobColumns+` FROM scan_jobs WHERE job_id = $1`, jobID)
		var err error
		job, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", scanning.ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("select job %s: %w", jobID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

const updateJobQuery = `
UPDATE scan_jobs
SET status = $2, started_at = $3, completed_at = $4
WHERE job_id = $1`

// UpdateJob persists the job's status and lifecycle timestamps.
func (r *jobStore) UpdateJob(ctx context.Context, job *scanning.Job) error {
	dbAttrs := storage.DBAttributes(
		attribute.String("job_id", job.JobID().String()),
		attribute.String("status", job.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		startedAt, _ := job.StartedAt()
		completedAt, _ := job.CompletedAt()
		tag, err := r.db.Exec(ctx, updateJobQuery,
			job.JobID(),
			job.Status().String(),
			toTimestamptz(startedAt),
			toTimestamptz(completedAt),
		)
		if err != nil {
			return fmt.Errorf("update job %s: %w", job.JobID(), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", scanning.ErrJobNotFound, job.JobID())
		}
		return nil
	})
}

// ListJobsByProject returns the project's jobs, newest first.
func (r *jobStore) ListJobsByProject(ctx context.Context, projectID string) ([]*scanning.Job, error) {
	dbAttrs := storage.DBAttributes(attribute.String("project_id", projectID))

	var jobs []*scanning.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_jobs_by_project", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dbTimeout)
		defer cancel()

		rows, err := r.db.Query(ctx,
			`SELECT `+selectJobColumns+` FROM scan_jobs WHERE project_id = $1 ORDER BY created_at DESC, job_id`,
			projectID,
		)
		if err != nil {
			return fmt.Errorf("list jobs for project %s: %w", projectID, err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan job row: %w", err)
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*scanning.Job, error) {
	var (
		jobID                  pgtype.UUID
		projectID, scanType    string
		status                 string
		config                 []byte
		createdAt              time.Time
		startedAt, completedAt pgtype.Timestamptz
	)
	if err := row.Scan(&jobID, &projectID, &scanType, &status, &config, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	return scanning.ReconstructJob(
		uuid.UUID(jobID.Bytes),
		projectID,
		scanning.ScanType(scanType),
		config,
		scanning.ParseJobStatus(status),
		scanning.ReconstructTimeline(createdAt, fromTimestamptz(startedAt), fromTimestamptz(completedAt)),
	), nil
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func fromTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}
