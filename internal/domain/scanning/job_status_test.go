package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{
			name:    "Pending to Running is valid",
			current: JobStatusPending,
			target:  JobStatusRunning,
		},
		{
			name:    "Pending to Failed is valid",
			current: JobStatusPending,
			target:  JobStatusFailed,
		},
		{
			name:    "Running to Completed is valid",
			current: JobStatusRunning,
			target:  JobStatusCompleted,
		},
		{
			name:    "Running to Failed is valid",
			current: JobStatusRunning,
			target:  JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.ValidateTransition(tt.target)
			assert.NoError(t, err, "expected valid transition from %s to %s", tt.current, tt.target)
		})
	}
}

func TestValidateTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{
			name:    "Pending to Completed is invalid",
			current: JobStatusPending,
			target:  JobStatusCompleted,
		},
		{
			name:    "Pending to Pending is invalid",
			current: JobStatusPending,
			target:  JobStatusPending,
		},
		{
			name:    "Running to Pending is invalid",
			current: JobStatusRunning,
			target:  JobStatusPending,
		},
		{
			name:    "Running to Running is invalid",
			current: JobStatusRunning,
			target:  JobStatusRunning,
		},
		{
			name:    "Unknown status cannot transition",
			current: JobStatus("paused"),
			target:  JobStatusRunning,
		},
	}

	// Every transition out of a terminal state is rejected.
	for _, terminal := range []JobStatus{JobStatusCompleted, JobStatusFailed} {
		for _, target := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed} {
			tests = append(tests, struct {
				name    string
				current JobStatus
				target  JobStatus
			}{
				name:    string(terminal) + " to " + string(target) + " is invalid",
				current: terminal,
				target:  target,
			})
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.ValidateTransition(tt.target)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	assert.Equal(t, JobStatusPending, ParseJobStatus("pending"))
	assert.Equal(t, JobStatusFailed, ParseJobStatus("failed"))
	assert.Equal(t, JobStatus(""), ParseJobStatus("QUEUED"))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}
