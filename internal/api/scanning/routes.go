// Package scanning binds the scan endpoints of the API.
package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/api/errs"
	app "github.com/ahrav/scan-orchestrator/internal/app/scanning"
	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// Service is the application surface the handlers drive.
type Service interface {
	CreateScan(ctx context.Context, cmd app.CreateScanCommand) (*domain.Job, error)
	GetScan(ctx context.Context, jobID uuid.UUID) (app.ScanView, error)
	ListScans(ctx context.Context, projectID string) ([]*domain.Job, error)
	ListFindings(ctx context.Context, jobID uuid.UUID) ([]*domain.Finding, error)
	RASPStatus(ctx context.Context) domain.RASPStatus
}

// EventService is the application surface of the runtime event endpoints.
type EventService interface {
	SyncEvents(ctx context.Context, cfg domain.RASPConfig) (app.SyncResult, error)
	ListEvents(ctx context.Context, filter domain.RASPEventFilter) (domain.RASPEventPage, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.RASPEvent, error)
	HandleEvent(ctx context.Context, id uuid.UUID, handledBy string) (*domain.RASPEvent, error)
}

// Config contains the dependencies needed by the scan handlers.
// EventService may be nil, in which case the runtime event endpoints are not
// mounted.
type Config struct {
	Log          *logger.Logger
	ScanService  Service
	EventService EventService
}

// Routes binds all the scan endpoints onto r, which is mounted at /v1.
func Routes(r chi.Router, cfg Config) {
	h := handlers{log: cfg.Log, svc: cfg.ScanService, events: cfg.EventService}

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/results", h.results)
	})
	r.Get("/rasp/status", h.raspStatus)

	if h.events != nil {
		r.Get("/rasp/events", h.listEvents)
		r.Post("/rasp/events/sync", h.syncEvents)
		r.Get("/rasp/events/{id}", h.getEvent)
		r.Post("/rasp/events/{id}/handle", h.handleEvent)
	}
}

type handlers struct {
	log    *logger.Logger
	svc    Service
	events EventService
}

func (h handlers) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "malformed request body: %v", err))
		return
	}
	if err := errs.Check(req); err != nil {
		errs.Write(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	job, err := h.svc.CreateScan(r.Context(), app.CreateScanCommand{
		ProjectID: req.ProjectID,
		ScanType:  req.ScanType,
		Config:    req.Config,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := newJobResponse(job)
	resp.status = http.StatusCreated
	render.Render(w, r, resp)
}

func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "project_id query parameter is required"))
		return
	}

	jobs, err := h.svc.ListScans(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]render.Renderer, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, newJobResponse(job))
	}
	render.RenderList(w, r, out)
}

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.svc.GetScan(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := newJobResponse(view.Job)
	resp.ResultCount = &view.ResultCount
	render.Render(w, r, resp)
}

func (h handlers) results(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	findings, err := h.svc.ListFindings(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]findingResponse, 0, len(findings))
	for _, f := range findings {
		out = append(out, newFindingResponse(f))
	}
	render.JSON(w, r, out)
}

func (h handlers) raspStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.RASPStatus(r.Context()))
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "invalid job id %q", chi.URLParam(r, "id")))
		return uuid.Nil, false
	}
	return id, true
}

// fail maps application errors onto API errors.
func (h handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		errs.Write(w, r, errs.New(errs.NotFound, domain.ErrJobNotFound))
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrMissingProjectID):
		errs.Write(w, r, errs.New(errs.InvalidArgument, err))
	case errors.Is(err, domain.ErrJobAlreadyStarted):
		errs.Write(w, r, errs.New(errs.FailedPrecondition, err))
	case errors.Is(err, domain.ErrRASPEventNotFound):
		errs.Write(w, r, errs.New(errs.NotFound, domain.ErrRASPEventNotFound))
	case errors.Is(err, domain.ErrRASPNotConfigured):
		errs.Write(w, r, errs.New(errs.FailedPrecondition, err))
	default:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		errs.Write(w, r, errs.Newf(errs.Internal, "internal error"))
	}
}
