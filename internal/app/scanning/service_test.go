package scanning

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

func TestCreateScanValidation(t *testing.T) {
	s := setupSuite(t, []domain.Scanner{&mockScanner{scanType: domain.ScanTypeContainer}})

	tests := []struct {
		name    string
		cmd     CreateScanCommand
		wantErr error
	}{
		{
			name:    "missing project",
			cmd:     CreateScanCommand{ScanType: "container"},
			wantErr: domain.ErrMissingProjectID,
		},
		{
			name:    "wrong config type",
			cmd:     CreateScanCommand{ProjectID: "p", ScanType: "container", Config: json.RawMessage(`{"image_name": ["a"]}`)},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "config not an object",
			cmd:     CreateScanCommand{ProjectID: "p", ScanType: "container", Config: json.RawMessage(`"nginx"`)},
			wantErr: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.service.CreateScan(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)
		})
	}

	jobs, err := s.service.ListScans(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected requests must not be stored")
	s.publisher.AssertNotCalled(t, "PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateScanNormalizesScanType(t *testing.T) {
	scanner := &mockScanner{scanType: domain.ScanTypeSAST}
	scanner.On("Scan", mock.Anything, mock.Anything).Return(nil, nil)
	s := setupSuite(t, []domain.Scanner{scanner})

	job, err := s.service.CreateScan(context.Background(), CreateScanCommand{ProjectID: "p", ScanType: "  SAST "})
	require.NoError(t, err)
	assert.Equal(t, domain.ScanTypeSAST, job.ScanType())
	assert.Equal(t, domain.JobStatusPending, job.Status())
	s.runner.Wait()
	assert.Equal(t, domain.JobStatusCompleted, s.storedJob(t, job.JobID()).Status())
}

func TestGetScanCountsResults(t *testing.T) {
	scanner := &mockScanner{scanType: domain.ScanTypeSAST}
	scanner.On("Scan", mock.Anything, mock.Anything).Return([]domain.RawFinding{
		{Tool: domain.ToolSemgrep, Severity: "ERROR", Title: "a"},
		{Tool: domain.ToolSemgrep, Severity: "INFO", Title: "b"},
		{Tool: domain.ToolSemgrep, Severity: "WARNING", Title: "c"},
	}, nil)
	s := setupSuite(t, []domain.Scanner{scanner})

	job, err := s.service.CreateScan(context.Background(), CreateScanCommand{ProjectID: "p", ScanType: "sast"})
	require.NoError(t, err)
	s.runner.Wait()

	view, err := s.service.GetScan(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, 3, view.ResultCount)
	assert.Equal(t, domain.JobStatusCompleted, view.Job.Status())

	_, err = s.service.GetScan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestListFindingsUnknownJob(t *testing.T) {
	s := setupSuite(t, nil)
	_, err := s.service.ListFindings(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

type stubStatusReporter struct{ report domain.RASPStatus }

func (p stubStatusReporter) Status(context.Context) domain.RASPStatus { return p.report }

func TestRASPStatus(t *testing.T) {
	s := setupSuite(t, nil)
	assert.Equal(t, domain.RASPDisconnected, s.service.RASPStatus(context.Background()).Status)

	s.service.rasp = stubStatusReporter{report: domain.RASPStatus{Status: domain.RASPConnected}}
	assert.Equal(t, domain.RASPConnected, s.service.RASPStatus(context.Background()).Status)
}
