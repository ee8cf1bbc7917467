package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

type stubScanner struct {
	scanType scanning.ScanType
	findings []scanning.RawFinding
}

func (s stubScanner) ScanType() scanning.ScanType { return s.scanType }

func (s stubScanner) Scan(context.Context, *scanning.Job) ([]scanning.RawFinding, error) {
	return s.findings, nil
}

func TestParseScanFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    scanFile
		wantErr string
	}{
		{
			name:  "full definition",
			input: "project_id: shop\nscan_type: sca\nconfig:\n  timeout: 600\n",
			want: scanFile{
				ProjectID: "shop",
				ScanType:  "sca",
				Config:    map[string]any{"timeout": 600},
			},
		},
		{
			name:    "missing project",
			input:   "scan_type: sast\n",
			wantErr: "project_id is required",
		},
		{
			name:    "missing scan type",
			input:   "project_id: shop\n",
			wantErr: "scan_type is required",
		},
		{
			name:    "unknown field",
			input:   "project_id: shop\nscan_type: sast\ntarget: x\n",
			wantErr: "decode scan file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScanFile(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRawConfig(t *testing.T) {
	raw, err := scanFile{}.rawConfig()
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = scanFile{Config: map[string]any{"image_name": "nginx:1.25"}}.rawConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{"image_name":"nginx:1.25"}`, string(raw))
}

func TestRunScanReportsFindings(t *testing.T) {
	scanner := stubScanner{
		scanType: scanning.ScanTypeSAST,
		findings: []scanning.RawFinding{{
			Tool:              scanning.ToolSemgrep,
			Severity:          "ERROR",
			VulnerabilityType: "python.lang.security.audit.exec-detected",
			Title:             "exec detected",
			FilePath:          "app/main.py",
			LineNumber:        12,
		}},
	}

	var out bytes.Buffer
	err := runScan(context.Background(),
		scanFile{ProjectID: "shop", ScanType: "sast"},
		runOptions{Scanners: []scanning.Scanner{scanner}},
		logger.Noop(), &out)
	require.NoError(t, err)

	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, "shop", rep.Job.ProjectID)
	assert.Equal(t, "completed", rep.Job.Status)
	assert.Equal(t, 1, rep.Job.ResultCount)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "exec detected", rep.Findings[0].Title)
	assert.Equal(t, 12, rep.Findings[0].LineNumber)
	assert.NotNil(t, rep.Job.CompletedAt)
}

func TestRunScanRASPWithoutServerCompletes(t *testing.T) {
	var out bytes.Buffer
	err := runScan(context.Background(),
		scanFile{ProjectID: "shop", ScanType: "rasp"},
		runOptions{UploadsRoot: t.TempDir()},
		logger.Noop(), &out)
	require.NoError(t, err)

	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, "completed", rep.Job.Status)
	require.Len(t, rep.Findings, 1)
	assert.True(t, rep.Findings[0].Diagnostic)
	assert.Equal(t, string(scanning.ReasonRASPNotConfigured), rep.Findings[0].Reason)
}

func TestRunScanUnsupportedTypeFails(t *testing.T) {
	var out bytes.Buffer
	err := runScan(context.Background(),
		scanFile{ProjectID: "shop", ScanType: "dast"},
		runOptions{Scanners: []scanning.Scanner{stubScanner{scanType: scanning.ScanTypeSAST}}},
		logger.Noop(), &out)
	require.ErrorIs(t, err, errScanFailed)

	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, "failed", rep.Job.Status)
	assert.Equal(t, "dast", rep.Job.ScanType)
	assert.Empty(t, rep.Findings)
}
