package scanning

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/render"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

// createRequest is the body of POST /v1/scans.
type createRequest struct {
	ProjectID string          `json:"project_id" validate:"required,max=255"`
	ScanType  string          `json:"scan_type" validate:"required,max=50"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// jobResponse is the API view of a job.
type jobResponse struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	ScanType    string          `json:"scan_type"`
	Status      string          `json:"status"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ResultCount *int            `json:"result_count,omitempty"`

	status int
}

func newJobResponse(job *domain.Job) *jobResponse {
	resp := &jobResponse{
		ID:        job.JobID().String(),
		ProjectID: job.ProjectID(),
		ScanType:  job.ScanType().String(),
		Status:    job.Status().String(),
		Config:    job.RawConfig(),
		CreatedAt: job.CreatedAt(),
		status:    http.StatusOK,
	}
	if t, ok := job.StartedAt(); ok {
		resp.StartedAt = &t
	}
	if t, ok := job.CompletedAt(); ok {
		resp.CompletedAt = &t
	}
	return resp
}

// Render implements render.Renderer.
func (j *jobResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, j.status)
	return nil
}

// findingResponse is the API view of a finding.
type findingResponse struct {
	ID                string          `json:"id"`
	JobID             string          `json:"job_id"`
	Severity          string          `json:"severity"`
	VulnerabilityType string          `json:"vulnerability_type"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	FilePath          string          `json:"file_path,omitempty"`
	LineNumber        int             `json:"line_number,omitempty"`
	CVEID             string          `json:"cve_id,omitempty"`
	PackageName       string          `json:"package_name,omitempty"`
	PackageVersion    string          `json:"package_version,omitempty"`
	FixedVersion      string          `json:"fixed_version,omitempty"`
	RawData           json.RawMessage `json:"raw_data,omitempty"`
	IsDiagnostic      bool            `json:"is_diagnostic"`
	Reason            string          `json:"reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newFindingResponse(f *domain.Finding) findingResponse {
	return findingResponse{
		ID:                f.FindingID().String(),
		JobID:             f.JobID().String(),
		Severity:          f.Severity().String(),
		VulnerabilityType: f.VulnerabilityType(),
		Title:             f.Title(),
		Description:       f.Description(),
		FilePath:          f.FilePath(),
		LineNumber:        f.LineNumber(),
		CVEID:             f.CVEID(),
		PackageName:       f.PackageName(),
		PackageVersion:    f.PackageVersion(),
		FixedVersion:      f.FixedVersion(),
		RawData:           f.RawData(),
		IsDiagnostic:      f.IsDiagnostic(),
		Reason:            f.Reason().String(),
		CreatedAt:         f.CreatedAt(),
	}
}

// handleEventRequest is the optional body of POST /v1/rasp/events/{id}/handle.
type handleEventRequest struct {
	HandledBy string `json:"handled_by" validate:"max=100"`
}

type syncResponse struct {
	Fetched int `json:"fetched"`
	Synced  int `json:"synced_count"`
	Skipped int `json:"skipped"`
}

// eventResponse is the API view of a runtime event.
type eventResponse struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	AppID        string         `json:"app_id"`
	AttackType   string         `json:"attack_type"`
	Severity     string         `json:"severity"`
	Message      string         `json:"message,omitempty"`
	URL          string         `json:"url,omitempty"`
	ClientIP     string         `json:"client_ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	FilePath     string         `json:"file_path,omitempty"`
	LineNumber   int            `json:"line_number,omitempty"`
	AttackParams any            `json:"attack_params,omitempty"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	RawData      map[string]any `json:"raw_data,omitempty"`
	EventTime    time.Time      `json:"event_time"`
	CreatedAt    time.Time      `json:"created_at"`
	Handled      bool           `json:"handled"`
	HandledAt    *time.Time     `json:"handled_at,omitempty"`
	HandledBy    string         `json:"handled_by,omitempty"`
}

func newEventResponse(e *domain.RASPEvent) eventResponse {
	resp := eventResponse{
		ID:           e.ID.String(),
		EventID:      e.EventID,
		AppID:        e.AppID,
		AttackType:   e.AttackType,
		Severity:     e.Severity.String(),
		Message:      e.Message,
		URL:          e.URL,
		ClientIP:     e.ClientIP,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
		FilePath:     e.FilePath,
		LineNumber:   e.LineNumber,
		AttackParams: e.AttackParams,
		StackTrace:   e.StackTrace,
		RawData:      e.RawData,
		EventTime:    e.EventTime,
		CreatedAt:    e.CreatedAt,
		Handled:      e.Handled,
		HandledBy:    e.HandledBy,
	}
	if e.Handled {
		at := e.HandledAt
		resp.HandledAt = &at
	}
	return resp
}

type eventPageResponse struct {
	Events  []eventResponse `json:"events"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	Pages   int             `json:"pages"`
}

func newEventPageResponse(p domain.RASPEventPage) eventPageResponse {
	resp := eventPageResponse{
		Events:  make([]eventResponse, 0, len(p.Events)),
		Total:   p.Total,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.Pages(),
	}
	for _, e := range p.Events {
		resp.Events = append(resp.Events, newEventResponse(e))
	}
	return resp
}
