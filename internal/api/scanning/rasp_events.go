package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/api/errs"
	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

func (h handlers) syncEvents(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RASPConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "malformed request body: %v", err))
		return
	}

	res, err := h.events.SyncEvents(r.Context(), cfg)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrRASPNotConfigured):
		h.fail(w, r, err)
		return
	default:
		h.log.Warn(r.Context(), "rasp sync failed", "error", err)
		errs.Write(w, r, errs.Newf(errs.Unavailable, "rasp sync failed: %v", err))
		return
	}
	render.JSON(w, r, syncResponse{Fetched: res.Fetched, Synced: res.Synced, Skipped: res.Skipped})
}

func (h handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		errs.Write(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	page, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, newEventPageResponse(page))
}

func (h handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	e, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, newEventResponse(e))
}

func (h handlers) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	var req handleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "malformed request body: %v", err))
		return
	}
	if err := errs.Check(req); err != nil {
		errs.Write(w, r, errs.New(errs.InvalidArgument, err))
		return
	}

	e, err := h.events.HandleEvent(r.Context(), id, strings.TrimSpace(req.HandledBy))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, newEventResponse(e))
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, r, errs.Newf(errs.InvalidArgument, "invalid event id %q", chi.URLParam(r, "id")))
		return uuid.Nil, false
	}
	return id, true
}

var errBadQuery = errors.New("invalid query parameter")

// parseEventFilter reads the listing filter from the query string. Times are
// RFC 3339; handled is a boolean.
func parseEventFilter(q url.Values) (domain.RASPEventFilter, error) {
	f := domain.RASPEventFilter{
		AppID:    strings.TrimSpace(q.Get("app_id")),
		Severity: domain.Severity(strings.ToLower(strings.TrimSpace(q.Get("severity")))),
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return f, badQuery("severity", q.Get("severity"))
	}

	if v := q.Get("handled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, badQuery("handled", v)
		}
		f.Handled = &b
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start_time", &f.Since}, {"end_time", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, badQuery(p.name, v)
		}
		*p.dst = t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"per_page", &f.PerPage}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, badQuery(p.name, v)
		}
		*p.dst = n
	}
	return f, nil
}

func badQuery(name, value string) error {
	return fmt.Errorf("%w: %s=%q", errBadQuery, name, value)
}
