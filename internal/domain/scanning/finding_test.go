package scanning

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFindingNormalizesSeverity(t *testing.T) {
	jobID := uuid.New()
	now := time.Now().UTC()

	f, err := NewFinding(jobID, RawFinding{
		Tool:           ToolTrivy,
		Severity:       "UNKNOWN",
		Title:          "CVE-2024-0001",
		CVEID:          "CVE-2024-0001",
		PackageName:    "openssl",
		PackageVersion: "3.0.1",
		FixedVersion:   "3.0.2",
		RawData:        map[string]any{"VulnerabilityID": "CVE-2024-0001"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, SeverityInfo, f.Severity())
	assert.Equal(t, jobID, f.JobID())
	assert.NotEqual(t, uuid.Nil, f.FindingID())
	assert.Equal(t, now, f.CreatedAt())
	assert.False(t, f.IsDiagnostic())
	assert.JSONEq(t, `{"VulnerabilityID":"CVE-2024-0001"}`, string(f.RawData()))
}

func TestNewFindingDiagnostic(t *testing.T) {
	raw := NewDiagnostic(ReasonImageNameNotConfigured, SeverityCritical, "Container image not configured", "set image_name", nil)

	f, err := NewFinding(uuid.New(), raw, time.Now())
	require.NoError(t, err)

	assert.True(t, f.IsDiagnostic())
	assert.Equal(t, ReasonImageNameNotConfigured, f.Reason())
	assert.Equal(t, SeverityCritical, f.Severity())
	assert.Equal(t, DiagnosticVulnerabilityType, f.VulnerabilityType())

	var details map[string]any
	require.NoError(t, json.Unmarshal(f.RawData(), &details))
	assert.Equal(t, "image_name_not_configured", details["reason"])
}

func TestNewFindingRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  RawFinding
	}{
		{name: "missing title", raw: RawFinding{Tool: ToolSemgrep}},
		{name: "title too long", raw: RawFinding{Title: strings.Repeat("t", MaxTitleLen+1)}},
		{name: "cve too long", raw: RawFinding{Title: "x", CVEID: strings.Repeat("C", MaxCVEIDLen+1)}},
		{name: "package too long", raw: RawFinding{Title: "x", PackageName: strings.Repeat("p", MaxPackageNameLen+1)}},
		{name: "version too long", raw: RawFinding{Title: "x", FixedVersion: strings.Repeat("1", MaxVersionLen+1)}},
		{name: "negative line", raw: RawFinding{Title: "x", LineNumber: -1}},
		{name: "invalid raw json", raw: RawFinding{Title: "x", RawData: json.RawMessage(`{`)}},
		{name: "unmarshalable raw data", raw: RawFinding{Title: "x", RawData: func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFinding(uuid.New(), tt.raw, time.Now())
			assert.ErrorIs(t, err, ErrInvalidFinding)
		})
	}
}

func TestNewFindingLimitsCountCharacters(t *testing.T) {
	title := strings.Repeat("漏", MaxTitleLen)
	f, err := NewFinding(uuid.New(), RawFinding{Title: title}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, title, f.Title())
}
