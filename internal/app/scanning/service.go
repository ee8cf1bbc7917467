package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// CreateScanCommand is a request to scan a project.
type CreateScanCommand struct {
	ProjectID string
	ScanType  string
	Config    json.RawMessage
}

// ScanView is a job together with the number of findings recorded for it.
type ScanView struct {
	Job         *domain.Job
	ResultCount int
}

// RASPStatusReporter reports on the runtime protection management server.
type RASPStatusReporter interface {
	Status(ctx context.Context) domain.RASPStatus
}

// ScanService is the entry point for requesting scans and reading their
// state and results.
type ScanService struct {
	jobs      domain.JobRepository
	findings  domain.FindingRepository
	runner    *JobRunner
	publisher events.DomainEventPublisher
	rasp      RASPStatusReporter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScanService creates a ScanService. status may be nil when no RASP
// server is configured.
func NewScanService(
	jobs domain.JobRepository,
	findings domain.FindingRepository,
	runner *JobRunner,
	publisher events.DomainEventPublisher,
	status RASPStatusReporter,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ScanService {
	return &ScanService{
		jobs:      jobs,
		findings:  findings,
		runner:    runner,
		publisher: publisher,
		rasp:      status,
		logger:    logger.With("component", "scan_service"),
		tracer:    tracer,
	}
}

// CreateScan records a pending job and starts it. The returned job is the
// pending record, or the failed one when no scanner serves its scan type.
// Malformed configuration is rejected before anything is stored.
func (s *ScanService) CreateScan(ctx context.Context, cmd CreateScanCommand) (*domain.Job, error) {
	scanType := domain.ParseScanType(cmd.ScanType)
	ctx, span := s.tracer.Start(ctx, "scan_service.create_scan",
		trace.WithAttributes(
			attribute.String("project_id", cmd.ProjectID),
			attribute.String("scan_type", scanType.String()),
		),
	)
	defer span.End()

	job, err := domain.NewJob(cmd.ProjectID, scanType, cmd.Config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid scan request")
		return nil, err
	}
	span.SetAttributes(attribute.String("job_id", job.JobID().String()))

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create job")
		return nil, fmt.Errorf("failed to create job (project_id: %s): %w", cmd.ProjectID, err)
	}
	span.AddEvent("job_created")

	key := events.WithKey(job.JobID().String())
	if err := s.publisher.PublishDomainEvent(ctx, events.NewDomainEvent(domain.NewJobCreatedEvent(job), key), key); err != nil {
		s.logger.Warn(ctx, "failed to publish job created event", "job_id", job.JobID().String(), "error", err)
	}

	err = s.runner.StartScan(ctx, job.JobID())
	switch {
	case err == nil:
		// The caller gets the job as it was created. Progress is observed
		// through GetScan.
	case errors.Is(err, domain.ErrUnsupportedScanType):
		// The runner already failed the job; hand back the stored state.
		if job, err = s.jobs.GetJob(ctx, job.JobID()); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to reload job: %w", err)
		}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start scan")
		return nil, fmt.Errorf("failed to start scan (job_id: %s): %w", job.JobID(), err)
	}

	s.logger.Info(ctx, "scan requested",
		"job_id", job.JobID().String(),
		"project_id", job.ProjectID(),
		"scan_type", job.ScanType().String(),
		"status", job.Status().String(),
	)
	span.SetStatus(codes.Ok, "scan created")
	return job, nil
}

// GetScan returns the job with its current result count.
func (s *ScanService) GetScan(ctx context.Context, jobID uuid.UUID) (ScanView, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.get_scan",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return ScanView{}, err
	}

	count, err := s.findings.CountFindings(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return ScanView{}, fmt.Errorf("failed to count findings (job_id: %s): %w", jobID, err)
	}
	return ScanView{Job: job, ResultCount: count}, nil
}

// ListScans returns a project's jobs, newest first.
func (s *ScanService) ListScans(ctx context.Context, projectID string) ([]*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.list_scans",
		trace.WithAttributes(attribute.String("project_id", projectID)),
	)
	defer span.End()

	jobs, err := s.jobs.ListJobsByProject(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list jobs (project_id: %s): %w", projectID, err)
	}
	return jobs, nil
}

// ListFindings returns the findings of a job in the order they were
// recorded. An unknown job yields ErrJobNotFound rather than an empty list.
func (s *ScanService) ListFindings(ctx context.Context, jobID uuid.UUID) ([]*domain.Finding, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.list_findings",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	findings, err := s.findings.ListFindings(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list findings (job_id: %s): %w", jobID, err)
	}
	return findings, nil
}

// RASPStatus checks the runtime protection management server.
func (s *ScanService) RASPStatus(ctx context.Context) domain.RASPStatus {
	if s.rasp == nil {
		return domain.RASPStatus{Status: domain.RASPDisconnected, Message: "no rasp server configured"}
	}
	return s.rasp.Status(ctx)
}
