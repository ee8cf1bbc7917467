package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

func TestJobStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	job, err := scanning.NewJob("p", scanning.ScanTypeSAST, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, job))
	assert.Error(t, store.CreateJob(ctx, job), "duplicate ids are rejected")

	// Mutating the caller's job does not leak into the store until UpdateJob.
	require.NoError(t, job.Start())
	loaded, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusPending, loaded.Status())

	require.NoError(t, store.UpdateJob(ctx, job))
	loaded, err = store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, scanning.JobStatusRunning, loaded.Status())
}

func TestJobStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	_, err := store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, scanning.ErrJobNotFound)

	job, err := scanning.NewJob("p", scanning.ScanTypeSAST, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, store.UpdateJob(ctx, job), scanning.ErrJobNotFound)
}

func TestJobStoreListByProject(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	var ids []uuid.UUID
	for range 3 {
		job, err := scanning.NewJob("p", scanning.ScanTypeSCA, nil)
		require.NoError(t, err)
		require.NoError(t, store.CreateJob(ctx, job))
		ids = append(ids, job.JobID())
		time.Sleep(time.Millisecond)
	}
	other, err := scanning.NewJob("q", scanning.ScanTypeSCA, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(ctx, other))

	jobs, err := store.ListJobsByProject(ctx, "p")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].JobID())
	assert.Equal(t, ids[0], jobs[2].JobID())
}

func TestFindingStoreOrderAndForeignKey(t *testing.T) {
	ctx := context.Background()
	jobs := NewJobStore()
	findings := NewFindingStore(jobs)

	job, err := scanning.NewJob("p", scanning.ScanTypeSAST, nil)
	require.NoError(t, err)
	require.NoError(t, jobs.CreateJob(ctx, job))

	for _, title := range []string{"first", "second", "third"} {
		f, err := scanning.NewFinding(job.JobID(), scanning.RawFinding{Title: title}, time.Now())
		require.NoError(t, err)
		require.NoError(t, findings.AppendFinding(ctx, f))
	}

	got, err := findings.ListFindings(ctx, job.JobID())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Title())
	assert.Equal(t, "third", got[2].Title())

	count, err := findings.CountFindings(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	orphan, err := scanning.NewFinding(uuid.New(), scanning.RawFinding{Title: "orphan"}, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, findings.AppendFinding(ctx, orphan), scanning.ErrJobNotFound)
}

func TestFindingStoreConcurrentJobs(t *testing.T) {
	ctx := context.Background()
	findings := NewFindingStore(nil)

	jobA, jobB := uuid.New(), uuid.New()
	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{jobA, jobB} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for range 50 {
				f, err := scanning.NewFinding(id, scanning.RawFinding{Title: "x"}, time.Now())
				if err == nil {
					_ = findings.AppendFinding(ctx, f)
				}
			}
		}(id)
	}
	wg.Wait()

	a, _ := findings.CountFindings(ctx, jobA)
	b, _ := findings.CountFindings(ctx, jobB)
	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
}
