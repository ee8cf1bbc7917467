package scanning

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/storage/scanning/memory"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// mockDomainEventPublisher implements events.DomainEventPublisher for testing.
type mockDomainEventPublisher struct{ mock.Mock }

func (m *mockDomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, event, opts)
	return args.Error(0)
}

// eventOfType matches a published event by its type.
func eventOfType(t events.EventType) any {
	return mock.MatchedBy(func(e events.DomainEvent) bool { return e.Type == t })
}

// mockScanner implements domain.Scanner for testing.
type mockScanner struct {
	mock.Mock
	scanType domain.ScanType
}

func (m *mockScanner) ScanType() domain.ScanType { return m.scanType }

func (m *mockScanner) Scan(ctx context.Context, job *domain.Job) ([]domain.RawFinding, error) {
	args := m.Called(ctx, job)
	if raws := args.Get(0); raws != nil {
		return raws.([]domain.RawFinding), args.Error(1)
	}
	return nil, args.Error(1)
}

// failingFindingStore rejects findings whose title is in reject.
type failingFindingStore struct {
	*memory.FindingStore
	reject map[string]error
}

func (s *failingFindingStore) AppendFinding(ctx context.Context, f *domain.Finding) error {
	if err, ok := s.reject[f.Title()]; ok {
		return err
	}
	return s.FindingStore.AppendFinding(ctx, f)
}

// panickingFindingStore panics when asked to store a finding whose title is
// in panicOn.
type panickingFindingStore struct {
	*memory.FindingStore
	panicOn map[string]bool
}

func (s *panickingFindingStore) AppendFinding(ctx context.Context, f *domain.Finding) error {
	if s.panicOn[f.Title()] {
		panic("finding store: nil connection")
	}
	return s.FindingStore.AppendFinding(ctx, f)
}

// flakyJobStore fails the next failures writes of jobs in status. A negative
// failures fails every such write.
type flakyJobStore struct {
	*memory.JobStore
	status domain.JobStatus

	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyJobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	if job.Status() == s.status {
		s.mu.Lock()
		s.attempts++
		fail := s.failures != 0
		if s.failures > 0 {
			s.failures--
		}
		s.mu.Unlock()
		if fail {
			return errors.New("update job: connection refused")
		}
	}
	return s.JobStore.UpdateJob(ctx, job)
}

func (s *flakyJobStore) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type testSuite struct {
	jobs      *memory.JobStore
	jobRepo   domain.JobRepository
	findings  domain.FindingRepository
	publisher *mockDomainEventPublisher
	runner    *JobRunner
	service   *ScanService
}

type suiteOption func(*testSuite)

func withFindingStore(f func(*memory.JobStore) domain.FindingRepository) suiteOption {
	return func(s *testSuite) { s.findings = f(s.jobs) }
}

func withJobStore(f func(*memory.JobStore) domain.JobRepository) suiteOption {
	return func(s *testSuite) { s.jobRepo = f(s.jobs) }
}

func setupSuite(t *testing.T, scanners []domain.Scanner, opts ...suiteOption) *testSuite {
	t.Helper()

	jobs := memory.NewJobStore()
	s := &testSuite{
		jobs:      jobs,
		jobRepo:   jobs,
		findings:  memory.NewFindingStore(jobs),
		publisher: new(mockDomainEventPublisher),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	dispatcher, err := NewDispatcher(scanners...)
	require.NoError(t, err)

	metrics, err := NewRunnerMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	tracer := noop.NewTracerProvider().Tracer("test")
	s.runner = NewJobRunner(s.jobRepo, s.findings, dispatcher, s.publisher, logger.Noop(), tracer, metrics)
	s.runner.retry = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }
	s.service = NewScanService(jobs, s.findings, s.runner, s.publisher, nil, logger.Noop(), tracer)
	t.Cleanup(s.runner.Wait)
	return s
}

// storedJob reads a job back after every started scan has finished.
func (s *testSuite) storedJob(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	s.runner.Wait()
	job, err := s.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}
