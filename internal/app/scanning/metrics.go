package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

// RunnerMetrics defines the metrics recorded by the job runner.
type RunnerMetrics interface {
	IncJobsStarted(ctx context.Context, scanType domain.ScanType)
	IncJobsCompleted(ctx context.Context, scanType domain.ScanType)
	IncJobsFailed(ctx context.Context, scanType domain.ScanType, reason string)
	ObserveScanDuration(ctx context.Context, scanType domain.ScanType, d time.Duration)
	ObserveFindings(ctx context.Context, scanType domain.ScanType, persisted, skipped, diagnostics int)
	IncPublishErrors(ctx context.Context, eventType string)
}

// runnerMetrics implements RunnerMetrics.
type runnerMetrics struct {
	// Job metrics
	jobsStarted   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	activeJobs    metric.Int64UpDownCounter
	scanDuration  metric.Float64Histogram

	// Finding metrics
	findingsPersisted metric.Int64Counter
	findingsSkipped   metric.Int64Counter
	diagnostics       metric.Int64Counter

	// Messaging metrics
	publishErrors metric.Int64Counter
}

const namespace = "scan_orchestrator"

// NewRunnerMetrics creates the runner's instruments on mp.
func NewRunnerMetrics(mp metric.MeterProvider) (*runnerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(runnerMetrics)
	var err error

	if m.jobsStarted, err = meter.Int64Counter(
		"jobs_started_total",
		metric.WithDescription("Total number of scan jobs dispatched to a scanner"),
	); err != nil {
		return nil, err
	}

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of scan jobs that completed"),
	); err != nil {
		return nil, err
	}

	if m.jobsFailed, err = meter.Int64Counter(
		"jobs_failed_total",
		metric.WithDescription("Total number of scan jobs that failed"),
	); err != nil {
		return nil, err
	}

	if m.activeJobs, err = meter.Int64UpDownCounter(
		"active_jobs",
		metric.WithDescription("Number of scan jobs currently running"),
	); err != nil {
		return nil, err
	}

	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("Time spent in the scanner per job"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	); err != nil {
		return nil, err
	}

	if m.findingsPersisted, err = meter.Int64Counter(
		"findings_persisted_total",
		metric.WithDescription("Total number of findings recorded"),
	); err != nil {
		return nil, err
	}

	if m.findingsSkipped, err = meter.Int64Counter(
		"findings_skipped_total",
		metric.WithDescription("Total number of findings dropped for violating record limits"),
	); err != nil {
		return nil, err
	}

	if m.diagnostics, err = meter.Int64Counter(
		"diagnostic_findings_total",
		metric.WithDescription("Total number of diagnostic findings recorded"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of job lifecycle events that could not be published"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func scanTypeAttr(t domain.ScanType) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("scan_type", t.String()))
}

func (m *runnerMetrics) IncJobsStarted(ctx context.Context, scanType domain.ScanType) {
	m.jobsStarted.Add(ctx, 1, scanTypeAttr(scanType))
	m.activeJobs.Add(ctx, 1, scanTypeAttr(scanType))
}

func (m *runnerMetrics) IncJobsCompleted(ctx context.Context, scanType domain.ScanType) {
	m.jobsCompleted.Add(ctx, 1, scanTypeAttr(scanType))
	m.activeJobs.Add(ctx, -1, scanTypeAttr(scanType))
}

// IncJobsFailed counts a failure. Jobs failed at dispatch never became
// active, so reason "dispatch" leaves the active gauge alone.
func (m *runnerMetrics) IncJobsFailed(ctx context.Context, scanType domain.ScanType, reason string) {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scan_type", scanType.String()),
		attribute.String("reason", reason),
	))
	if reason != failReasonDispatch {
		m.activeJobs.Add(ctx, -1, scanTypeAttr(scanType))
	}
}

func (m *runnerMetrics) ObserveScanDuration(ctx context.Context, scanType domain.ScanType, d time.Duration) {
	m.scanDuration.Record(ctx, d.Seconds(), scanTypeAttr(scanType))
}

func (m *runnerMetrics) ObserveFindings(ctx context.Context, scanType domain.ScanType, persisted, skipped, diagnostics int) {
	m.findingsPersisted.Add(ctx, int64(persisted), scanTypeAttr(scanType))
	m.findingsSkipped.Add(ctx, int64(skipped), scanTypeAttr(scanType))
	m.diagnostics.Add(ctx, int64(diagnostics), scanTypeAttr(scanType))
}

func (m *runnerMetrics) IncPublishErrors(ctx context.Context, eventType string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
