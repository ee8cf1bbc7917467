package scanning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTimeProvider struct {
	current time.Time
}

func (m *mockTimeProvider) Now() time.Time { return m.current }

func (m *mockTimeProvider) advance(d time.Duration) { m.current = m.current.Add(d) }

func TestNewJob(t *testing.T) {
	t.Parallel()

	tp := &mockTimeProvider{current: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	job, err := NewJob("proj-1", ScanTypeContainer, json.RawMessage(`{"image_name":" nginx:1.25 "}`), WithTimeProvider(tp))
	require.NoError(t, err)

	assert.Equal(t, JobStatusPending, job.Status())
	assert.Equal(t, "proj-1", job.ProjectID())
	assert.Equal(t, ScanTypeContainer, job.ScanType())
	assert.Equal(t, tp.current, job.CreatedAt())
	assert.Equal(t, ContainerConfig{ImageName: "nginx:1.25"}, job.Config())
	assert.NoError(t, job.ConfigError())

	_, started := job.StartedAt()
	assert.False(t, started)
	_, done := job.CompletedAt()
	assert.False(t, done)
}

func TestNewJobValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJob("", ScanTypeSAST, nil)
	assert.ErrorIs(t, err, ErrMissingProjectID)

	_, err = NewJob("p", ScanTypeContainer, json.RawMessage(`{"image_name": 42}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	job, err := NewJob("p", ScanType("bogus"), json.RawMessage(`{"anything": true}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownConfig{Type: "bogus"}, job.Config())
	assert.JSONEq(t, `{"anything": true}`, string(job.RawConfig()))
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	tp := &mockTimeProvider{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	job, err := NewJob("p", ScanTypeSAST, nil, WithTimeProvider(tp))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(job.RawConfig()))

	tp.advance(time.Second)
	require.NoError(t, job.Start())
	startedAt, ok := job.StartedAt()
	require.True(t, ok)
	assert.Equal(t, tp.current, startedAt)

	tp.advance(time.Minute)
	require.NoError(t, job.Complete())
	completedAt, ok := job.CompletedAt()
	require.True(t, ok)
	assert.Equal(t, tp.current, completedAt)

	// Terminal states are final.
	assert.ErrorIs(t, job.Fail(), ErrInvalidTransition)
	assert.ErrorIs(t, job.Start(), ErrInvalidTransition)
	assert.Equal(t, JobStatusCompleted, job.Status())
}

func TestJobFailFromPending(t *testing.T) {
	t.Parallel()

	job, err := NewJob("p", ScanType("bogus"), nil)
	require.NoError(t, err)

	require.NoError(t, job.Fail())
	_, started := job.StartedAt()
	assert.False(t, started)
	_, done := job.CompletedAt()
	assert.True(t, done)
}

func TestReconstructJobFallsBackOnBadConfig(t *testing.T) {
	t.Parallel()

	tl := ReconstructTimeline(time.Now(), time.Time{}, time.Time{})
	job := ReconstructJob(newTestUUID(t), "p", ScanTypeRASP, json.RawMessage(`{"app_id": ["x"]}`), JobStatusPending, tl)

	assert.ErrorIs(t, job.ConfigError(), ErrInvalidConfig)
	assert.Equal(t, RASPConfig{}, job.Config())
}

func TestJobCloneIsIndependent(t *testing.T) {
	t.Parallel()

	job, err := NewJob("p", ScanTypeSCA, nil)
	require.NoError(t, err)

	snapshot := job.Clone()
	require.NoError(t, job.Start())

	assert.Equal(t, JobStatusPending, snapshot.Status())
	_, started := snapshot.StartedAt()
	assert.False(t, started)
}
