package scanning

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// Failure reasons recorded on metrics and JobFailed events.
const (
	failReasonDispatch = "dispatch"
	failReasonScanner  = "scanner_error"
	failReasonPanic    = "panic"
	failReasonPersist  = "persist_completed"
)

// newTerminalBackOff bounds how long a terminal status write is retried
// before the runner gives up on it.
func newTerminalBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// JobRunner moves pending jobs through their lifecycle. Each started job runs
// its scanner on its own goroutine; a panic in a scanner fails only that job.
type JobRunner struct {
	jobs       domain.JobRepository
	findings   domain.FindingRepository
	dispatcher *Dispatcher
	publisher  events.DomainEventPublisher

	// starting holds the ids of jobs between the pending check and their
	// hand-off to a goroutine, so concurrent starts of one job are rejected.
	starting sync.Map
	wg       sync.WaitGroup
	now      func() time.Time
	// retry yields a fresh policy for each terminal status write.
	retry func() backoff.BackOff

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics RunnerMetrics
}

// NewJobRunner creates a JobRunner.
func NewJobRunner(
	jobs domain.JobRepository,
	findings domain.FindingRepository,
	dispatcher *Dispatcher,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics RunnerMetrics,
) *JobRunner {
	return &JobRunner{
		jobs:       jobs,
		findings:   findings,
		dispatcher: dispatcher,
		publisher:  publisher,
		now:        func() time.Time { return time.Now().UTC() },
		retry:      newTerminalBackOff,
		logger:     logger.With("component", "job_runner"),
		tracer:     tracer,
		metrics:    metrics,
	}
}

// StartScan dispatches a pending job and returns once it is running; the
// outcome is observed through the job's status. A job whose scan type cannot
// be dispatched is failed immediately and ErrUnsupportedScanType is returned.
func (r *JobRunner) StartScan(ctx context.Context, jobID uuid.UUID) error {
	logr := logger.NewLoggerContext(r.logger.With("operation", "start_scan", "job_id", jobID.String()))
	ctx, span := r.tracer.Start(ctx, "job_runner.start_scan",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	if _, loaded := r.starting.LoadOrStore(jobID, struct{}{}); loaded {
		span.SetStatus(codes.Error, "job start already in progress")
		return fmt.Errorf("%w: %s", domain.ErrJobAlreadyStarted, jobID)
	}
	defer r.starting.Delete(jobID)

	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load job")
		return fmt.Errorf("failed to load job (job_id: %s): %w", jobID, err)
	}
	span.SetAttributes(attribute.String("scan_type", job.ScanType().String()))
	logr.Add("scan_type", job.ScanType().String())

	if job.Status() != domain.JobStatusPending {
		span.SetStatus(codes.Error, "job is not pending")
		return fmt.Errorf("%w: %s is %s", domain.ErrJobAlreadyStarted, jobID, job.Status())
	}

	scanner, err := r.dispatcher.Resolve(job.ScanType())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no scanner for scan type")
		logr.Warn(ctx, "failing job with unsupported scan type")
		if ferr := r.fail(ctx, job, failReasonDispatch, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	if err := job.Start(); err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist running status")
		return fmt.Errorf("failed to mark job running (job_id: %s): %w", jobID, err)
	}
	r.metrics.IncJobsStarted(ctx, job.ScanType())
	r.publish(ctx, domain.NewJobStartedEvent(job), jobID)
	span.AddEvent("job_started")

	// The scan outlives the request that started it but keeps its values
	// for tracing and logging.
	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(runCtx, job, scanner)
	}()

	logr.Info(ctx, "scan started")
	span.SetStatus(codes.Ok, "scan started")
	return nil
}

// Wait blocks until every started scan has finished.
func (r *JobRunner) Wait() { r.wg.Wait() }

// execute runs the scanner, records its findings and completes the job.
func (r *JobRunner) execute(ctx context.Context, job *domain.Job, scanner domain.Scanner) {
	jobID := job.JobID()
	logr := logger.NewLoggerContext(r.logger.With(
		"operation", "execute_scan",
		"job_id", jobID.String(),
		"scan_type", job.ScanType().String(),
	))
	ctx, span := r.tracer.Start(ctx, "job_runner.execute",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("scan_type", job.ScanType().String()),
		),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("scanner panicked: %v", p)
			span.RecordError(err)
			span.SetStatus(codes.Error, "scanner panicked")
			logr.Error(ctx, "scanner panicked", "panic", p, "stack", string(debug.Stack()))
			if ferr := r.fail(ctx, job, failReasonPanic, err); ferr != nil {
				logr.Error(ctx, "failed to record job failure", "error", ferr)
			}
		}
	}()

	start := time.Now()
	raws, err := scanner.Scan(ctx, job)
	r.metrics.ObserveScanDuration(ctx, job.ScanType(), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scanner failed")
		logr.Error(ctx, "scanner failed", "error", err)
		if ferr := r.fail(ctx, job, failReasonScanner, err); ferr != nil {
			logr.Error(ctx, "failed to record job failure", "error", ferr)
		}
		return
	}
	span.AddEvent("scanner_returned", trace.WithAttributes(attribute.Int("raw_findings", len(raws))))

	persisted, skipped, diagnostics := r.record(ctx, logr, job, raws)
	r.metrics.ObserveFindings(ctx, job.ScanType(), persisted, skipped, diagnostics)

	// A job that cannot be stored as completed is failed from its running
	// state instead, so it never stays running.
	running := job.Clone()
	if err := job.Complete(); err != nil {
		span.RecordError(err)
		logr.Error(ctx, "failed to complete job", "error", err)
		return
	}
	if err := r.persistTerminal(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist completed status")
		logr.Error(ctx, "failed to persist completed status, failing job", "error", err)
		if ferr := r.fail(ctx, running, failReasonPersist, err); ferr != nil {
			logr.Error(ctx, "failed to record job failure", "error", ferr)
		}
		return
	}
	r.metrics.IncJobsCompleted(ctx, job.ScanType())
	r.publish(ctx, domain.NewJobCompletedEvent(job, persisted, skipped, diagnostics), jobID)

	span.SetAttributes(
		attribute.Int("findings_persisted", persisted),
		attribute.Int("findings_skipped", skipped),
		attribute.Int("diagnostics", diagnostics),
	)
	span.SetStatus(codes.Ok, "scan completed")
	logr.Info(ctx, "scan completed",
		"findings", persisted,
		"skipped", skipped,
		"diagnostics", diagnostics,
	)
}

// record normalizes and appends findings in the order the scanner returned
// them. A finding that violates the record limits or that the store rejects
// is skipped; the rest are still recorded and the job still completes.
func (r *JobRunner) record(
	ctx context.Context,
	logr *logger.LoggerContext,
	job *domain.Job,
	raws []domain.RawFinding,
) (persisted, skipped, diagnostics int) {
	for i, raw := range raws {
		f, err := domain.NewFinding(job.JobID(), raw, r.now())
		if err != nil {
			skipped++
			logr.Warn(ctx, "skipping invalid finding", "index", i, "tool", raw.Tool, "error", err)
			continue
		}
		if err := r.appendFinding(ctx, f); err != nil {
			skipped++
			logr.Error(ctx, "failed to persist finding", "index", i, "tool", raw.Tool, "error", err)
			continue
		}
		persisted++
		if f.IsDiagnostic() {
			diagnostics++
		}
	}
	return persisted, skipped, diagnostics
}

// appendFinding stores one finding. A panicking store is reported as an
// error so that only this finding is lost.
func (r *JobRunner) appendFinding(ctx context.Context, f *domain.Finding) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("finding store panicked: %v", p)
		}
	}()
	return r.findings.AppendFinding(ctx, f)
}

// persistTerminal writes a completed or failed job, retrying store errors
// under the runner's backoff policy.
func (r *JobRunner) persistTerminal(ctx context.Context, job *domain.Job) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := r.jobs.UpdateJob(ctx, job)
		if err != nil {
			r.logger.Warn(ctx, "terminal status write failed",
				"job_id", job.JobID().String(),
				"status", job.Status().String(),
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}
	return backoff.Retry(operation, r.retry())
}

// fail moves the job to failed, persists it and announces the failure.
func (r *JobRunner) fail(ctx context.Context, job *domain.Job, reason string, cause error) error {
	if err := job.Fail(); err != nil {
		return err
	}
	if err := r.persistTerminal(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job failed (job_id: %s): %w", job.JobID(), err)
	}
	r.metrics.IncJobsFailed(ctx, job.ScanType(), reason)
	r.publish(ctx, domain.NewJobFailedEvent(job, fmt.Sprintf("%s: %v", reason, cause)), job.JobID())
	return nil
}

// publish announces a lifecycle event. Publishing is best effort: the job's
// stored status is authoritative, so failures are logged and counted only.
func (r *JobRunner) publish(ctx context.Context, payload events.EventPayload, jobID uuid.UUID) {
	key := events.WithKey(jobID.String())
	if err := r.publisher.PublishDomainEvent(ctx, events.NewDomainEvent(payload, key), key); err != nil {
		r.metrics.IncPublishErrors(ctx, string(payload.EventType()))
		r.logger.Warn(ctx, "failed to publish job event",
			"job_id", jobID.String(),
			"event_type", string(payload.EventType()),
			"error", err,
		)
	}
}
