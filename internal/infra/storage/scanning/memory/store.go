// Package memory provides in-process implementations of the scanning
// repositories. They back the local CLI and the orchestrator tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

var (
	_ scanning.JobRepository     = (*JobStore)(nil)
	_ scanning.FindingRepository = (*FindingStore)(nil)
)

// JobStore keeps jobs in a map. Stored and returned jobs are copies, so
// callers never share mutable state with the store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*scanning.Job
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*scanning.Job)}
}

func (s *JobStore) CreateJob(_ context.Context, job *scanning.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID()]; exists {
		return fmt.Errorf("job %s already exists", job.JobID())
	}
	s.jobs[job.JobID()] = job.Clone()
	return nil
}

func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (*scanning.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scanning.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

func (s *JobStore) UpdateJob(_ context.Context, job *scanning.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.JobID()]; !ok {
		return fmt.Errorf("%w: %s", scanning.ErrJobNotFound, job.JobID())
	}
	s.jobs[job.JobID()] = job.Clone()
	return nil
}

func (s *JobStore) ListJobsByProject(_ context.Context, projectID string) ([]*scanning.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*scanning.Job
	for _, job := range s.jobs {
		if job.ProjectID() == projectID {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt().Equal(jobs[j].CreatedAt()) {
			return jobs[i].JobID().String() < jobs[j].JobID().String()
		}
		return jobs[i].CreatedAt().After(jobs[j].CreatedAt())
	})
	return jobs, nil
}

// FindingStore keeps findings per job in insertion order.
type FindingStore struct {
	mu       sync.RWMutex
	findings map[uuid.UUID][]*scanning.Finding
	// jobs, when set, rejects findings for unknown jobs the way a foreign
	// key would.
	jobs *JobStore
}

// NewFindingStore creates an empty FindingStore. When jobs is non-nil,
// findings are only accepted for jobs it knows.
func NewFindingStore(jobs *JobStore) *FindingStore {
	return &FindingStore{
		findings: make(map[uuid.UUID][]*scanning.Finding),
		jobs:     jobs,
	}
}

func (s *FindingStore) AppendFinding(ctx context.Context, f *scanning.Finding) error {
	if s.jobs != nil {
		if _, err := s.jobs.GetJob(ctx, f.JobID()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[f.JobID()] = append(s.findings[f.JobID()], f)
	return nil
}

func (s *FindingStore) ListFindings(_ context.Context, jobID uuid.UUID) ([]*scanning.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.findings[jobID]
	out := make([]*scanning.Finding, len(src))
	copy(out, src)
	return out, nil
}

func (s *FindingStore) CountFindings(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.findings[jobID]), nil
}
