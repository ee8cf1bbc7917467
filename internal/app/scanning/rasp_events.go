package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// RASPEventSource reads attack events from the runtime protection server.
type RASPEventSource interface {
	FetchEvents(ctx context.Context, cfg domain.RASPConfig) ([]*domain.RASPEvent, error)
}

// SyncResult summarizes one pull from the runtime protection server.
type SyncResult struct {
	Fetched int
	// Synced counts events that were not stored before.
	Synced int
	// Skipped counts events without a server-assigned id, which cannot be
	// deduplicated and are not stored.
	Skipped int
}

// RASPEventService keeps a local, triageable copy of runtime attack events.
type RASPEventService struct {
	events domain.RASPEventRepository
	source RASPEventSource
	now    func() time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRASPEventService creates a RASPEventService.
func NewRASPEventService(
	events domain.RASPEventRepository,
	source RASPEventSource,
	logger *logger.Logger,
	tracer trace.Tracer,
) *RASPEventService {
	return &RASPEventService{
		events: events,
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "rasp_event_service"),
		tracer: tracer,
	}
}

// SyncEvents pulls the events in cfg's window and stores the ones not seen
// before. An inverted window is rejected with ErrInvalidConfig before the
// server is contacted.
func (s *RASPEventService) SyncEvents(ctx context.Context, cfg domain.RASPConfig) (SyncResult, error) {
	logr := logger.NewLoggerContext(s.logger.With("operation", "sync_events", "app_id", cfg.AppID))
	ctx, span := s.tracer.Start(ctx, "rasp_event_service.sync_events",
		trace.WithAttributes(attribute.String("app_id", cfg.AppID)),
	)
	defer span.End()

	if err := cfg.Validate(); err != nil {
		span.RecordError(err)
		return SyncResult{}, err
	}

	fetched, err := s.source.FetchEvents(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch rasp events")
		return SyncResult{}, fmt.Errorf("failed to fetch rasp events: %w", err)
	}

	result := SyncResult{Fetched: len(fetched)}
	keep := make([]*domain.RASPEvent, 0, len(fetched))
	for _, e := range fetched {
		if strings.TrimSpace(e.EventID) == "" {
			result.Skipped++
			continue
		}
		keep = append(keep, e)
	}
	if result.Skipped > 0 {
		logr.Warn(ctx, "skipping rasp events without an id", "count", result.Skipped)
	}

	if result.Synced, err = s.events.SaveEvents(ctx, keep); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store rasp events")
		return SyncResult{}, fmt.Errorf("failed to store rasp events: %w", err)
	}

	span.SetAttributes(
		attribute.Int("fetched", result.Fetched),
		attribute.Int("synced", result.Synced),
		attribute.Int("skipped", result.Skipped),
	)
	span.SetStatus(codes.Ok, "rasp events synced")
	logr.Info(ctx, "rasp events synced", "fetched", result.Fetched, "synced", result.Synced, "skipped", result.Skipped)
	return result, nil
}

// ListEvents returns a page of stored events, newest first.
func (s *RASPEventService) ListEvents(ctx context.Context, filter domain.RASPEventFilter) (domain.RASPEventPage, error) {
	ctx, span := s.tracer.Start(ctx, "rasp_event_service.list_events")
	defer span.End()

	page, err := s.events.ListEvents(ctx, filter.Normalize())
	if err != nil {
		span.RecordError(err)
		return domain.RASPEventPage{}, fmt.Errorf("failed to list rasp events: %w", err)
	}
	return page, nil
}

// GetEvent returns one stored event.
func (s *RASPEventService) GetEvent(ctx context.Context, id uuid.UUID) (*domain.RASPEvent, error) {
	ctx, span := s.tracer.Start(ctx, "rasp_event_service.get_event",
		trace.WithAttributes(attribute.String("rasp_event_id", id.String())),
	)
	defer span.End()

	e, err := s.events.GetEvent(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return e, nil
}

// HandleEvent marks an event as triaged by handledBy.
func (s *RASPEventService) HandleEvent(ctx context.Context, id uuid.UUID, handledBy string) (*domain.RASPEvent, error) {
	ctx, span := s.tracer.Start(ctx, "rasp_event_service.handle_event",
		trace.WithAttributes(attribute.String("rasp_event_id", id.String())),
	)
	defer span.End()

	e, err := s.events.GetEvent(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.MarkHandled(handledBy, s.now())
	if err := s.events.UpdateEvent(ctx, e); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to mark rasp event handled (id: %s): %w", id, err)
	}

	s.logger.Info(ctx, "rasp event handled", "rasp_event_id", id.String(), "handled_by", e.HandledBy)
	return e, nil
}
