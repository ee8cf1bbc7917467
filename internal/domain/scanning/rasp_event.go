package scanning

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRASPEventNotFound is returned when a referenced runtime event does
	// not exist.
	ErrRASPEventNotFound = errors.New("rasp event not found")

	// ErrRASPNotConfigured is returned when runtime events are requested but
	// no management server address is set.
	ErrRASPNotConfigured = errors.New("rasp server not configured")
)

// Paging limits of the runtime event listing.
const (
	DefaultRASPEventsPerPage = 20
	MaxRASPEventsPerPage     = 100
)

// RASPEvent is a runtime attack event kept for triage. EventID is the
// identifier assigned by the management server and is unique across the
// store; ID is the local identifier.
type RASPEvent struct {
	ID           uuid.UUID
	EventID      string
	AppID        string
	AttackType   string
	Severity     Severity
	Message      string
	URL          string
	ClientIP     string
	UserAgent    string
	RequestID    string
	FilePath     string
	LineNumber   int
	AttackParams any
	StackTrace   string
	RawData      map[string]any
	EventTime    time.Time
	CreatedAt    time.Time

	Handled   bool
	HandledAt time.Time
	HandledBy string
}

// MarkHandled records who triaged the event. Marking an already handled
// event keeps the first handler and time.
func (e *RASPEvent) MarkHandled(by string, at time.Time) {
	if e.Handled {
		return
	}
	e.Handled = true
	e.HandledAt = at
	e.HandledBy = by
}

// RASPEventFilter selects runtime events. Zero fields do not filter.
type RASPEventFilter struct {
	AppID    string
	Severity Severity
	Handled  *bool
	Since    time.Time
	Until    time.Time

	Page    int
	PerPage int
}

// Normalize clamps the paging fields into range.
func (f RASPEventFilter) Normalize() RASPEventFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PerPage < 1:
		f.PerPage = DefaultRASPEventsPerPage
	case f.PerPage > MaxRASPEventsPerPage:
		f.PerPage = MaxRASPEventsPerPage
	}
	return f
}

// Offset is the number of events before the filter's page.
func (f RASPEventFilter) Offset() int { return (f.Page - 1) * f.PerPage }

// Matches reports whether e passes every non-paging condition of f.
func (f RASPEventFilter) Matches(e *RASPEvent) bool {
	switch {
	case f.AppID != "" && e.AppID != f.AppID:
		return false
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.Handled != nil && e.Handled != *f.Handled:
		return false
	case !f.Since.IsZero() && e.EventTime.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.EventTime.After(f.Until):
		return false
	}
	return true
}

// RASPEventPage is one page of a filtered event listing, newest first.
type RASPEventPage struct {
	Events  []*RASPEvent
	Total   int
	Page    int
	PerPage int
}

// Pages is the number of pages the whole listing spans.
func (p RASPEventPage) Pages() int {
	if p.PerPage < 1 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}
