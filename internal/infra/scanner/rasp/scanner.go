package rasp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

// Scanner is the runtime protection adapter. It reads events recorded by
// OpenRASP agents rather than analyzing the project's files.
type Scanner struct {
	client *Client
	cfg    Config
	now    func() time.Time

	log    *logger.Logger
	tracer trace.Tracer
}

var _ scanning.Scanner = (*Scanner)(nil)

// New creates a RASP Scanner backed by client.
func New(client *Client, log *logger.Logger, tracer trace.Tracer) *Scanner {
	return &Scanner{
		client: client,
		cfg:    client.cfg,
		now:    time.Now,
		log:    log.With("component", "rasp_scanner"),
		tracer: tracer,
	}
}

func (s *Scanner) ScanType() scanning.ScanType { return scanning.ScanTypeRASP }

// Status checks the management server.
func (s *Scanner) Status(ctx context.Context) scanning.RASPStatus { return s.client.Status(ctx) }

func (s *Scanner) Scan(ctx context.Context, job *scanning.Job) ([]scanning.RawFinding, error) {
	var out []scanning.RawFinding
	if job.ConfigError() != nil {
		out = append(out, scanner.InvalidConfig(job))
	}

	cfg, ok := job.Config().(scanning.RASPConfig)
	if !ok {
		return nil, fmt.Errorf("rasp scanner received %T configuration", job.Config())
	}
	if !s.client.Configured() {
		s.log.Warn(ctx, "rasp scan requested without a management server", "job_id", job.JobID().String())
		return append(out, scanning.NewDiagnostic(scanning.ReasonRASPNotConfigured, scanning.SeverityInfo,
			"OpenRASP is not configured",
			"No management server address is set, so no runtime events were queried. Set rasp.base_url to enable RASP scans.",
			nil)), nil
	}

	start, end, err := cfg.Window(s.now())
	if err != nil {
		return append(out, scanning.NewDiagnostic(scanning.ReasonInvalidConfig, scanning.SeverityInfo,
			"RASP query window is empty",
			err.Error(),
			map[string]any{"start_time": start, "end_time": end})), nil
	}
	filter := searchFilter{AppID: cfg.AppID, StartTime: start.UnixMilli(), EndTime: end.UnixMilli()}

	logr := logger.NewLoggerContext(s.log.With(
		"job_id", job.JobID().String(),
		"app_id", cfg.AppID,
	))
	ctx, span := s.tracer.Start(ctx, "rasp_scanner.scan",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("app_id", cfg.AppID),
			attribute.Int64("window_start_ms", filter.StartTime),
			attribute.Int64("window_end_ms", filter.EndTime),
		))
	defer span.End()

	events, failedPage, err := s.fetch(ctx, logr, filter)
	for _, ev := range events {
		out = append(out, toFinding(ev))
	}
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "rasp search failed")
		return append(out, s.diagnose(err, failedPage)), nil
	}

	span.SetAttributes(attribute.Int("events", len(events)))
	span.SetStatus(codes.Ok, "rasp scan completed")
	logr.Info(ctx, "rasp events ingested", "events", len(events))
	return out, nil
}

// fetch pages through the attack log. On failure it returns the events read
// so far together with the page that failed.
func (s *Scanner) fetch(ctx context.Context, logr *logger.LoggerContext, filter searchFilter) ([]Event, int, error) {
	var events []Event
	for p := 1; p <= max(s.cfg.MaxPages, 1); p++ {
		body, err := s.client.search(ctx, filter, p)
		if err != nil {
			logr.Warn(ctx, "rasp search failed", "page", p, "error", err)
			return events, p, err
		}

		pg, err := decodePage(body)
		if err != nil {
			logr.Warn(ctx, "rasp response could not be decoded", "page", p, "error", err)
			return events, p, err
		}

		for _, raw := range pg.events {
			events = append(events, DecodeEvent(raw))
		}

		if len(pg.events) < s.cfg.PageSize || (pg.totalPage > 0 && p >= pg.totalPage) {
			break
		}
		if p == s.cfg.MaxPages {
			logr.Warn(ctx, "rasp page limit reached, remaining events not ingested", "max_pages", s.cfg.MaxPages)
		}
	}
	return events, 0, nil
}

// FetchEvents reads the attack log for the window and application in cfg
// and converts each event for the event store. Unlike Scan it reports
// problems as errors, since there is no job to attach a diagnostic to.
func (s *Scanner) FetchEvents(ctx context.Context, cfg scanning.RASPConfig) ([]*scanning.RASPEvent, error) {
	if !s.client.Configured() {
		return nil, scanning.ErrRASPNotConfigured
	}
	now := s.now()
	start, end, err := cfg.Window(now)
	if err != nil {
		return nil, err
	}
	filter := searchFilter{AppID: cfg.AppID, StartTime: start.UnixMilli(), EndTime: end.UnixMilli()}

	logr := logger.NewLoggerContext(s.log.With("operation", "fetch_events", "app_id", cfg.AppID))
	ctx, span := s.tracer.Start(ctx, "rasp_scanner.fetch_events",
		trace.WithAttributes(
			attribute.String("app_id", cfg.AppID),
			attribute.Int64("window_start_ms", filter.StartTime),
			attribute.Int64("window_end_ms", filter.EndTime),
		))
	defer span.End()

	events, failedPage, err := s.fetch(ctx, logr, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rasp search failed")
		return nil, fmt.Errorf("fetch rasp events (page %d): %w", failedPage, err)
	}

	out := make([]*scanning.RASPEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, toRASPEvent(ev, cfg.AppID, now))
	}
	span.SetAttributes(attribute.Int("events", len(out)))
	span.SetStatus(codes.Ok, "rasp events fetched")
	return out, nil
}

// diagnose maps a search failure to its diagnostic finding.
func (s *Scanner) diagnose(err error, page int) scanning.RawFinding {
	details := map[string]any{"base_url": s.client.baseURL, "page": page, "error": err.Error()}

	var se *statusError
	switch {
	case errors.Is(err, errAuth):
		return scanning.NewDiagnostic(scanning.ReasonRASPAuthFailed, scanning.SeverityInfo,
			"OpenRASP authentication failed",
			"The management server rejected the configured credentials. Check the RASP token or username and password.",
			details)
	case errors.As(err, &se):
		details["status_code"] = se.code
		return scanning.NewDiagnostic(scanning.ReasonRASPBadStatus, scanning.SeverityInfo,
			"OpenRASP returned an error",
			se.Error(),
			details)
	case errors.Is(err, errEmptyBody):
		return scanning.NewDiagnostic(scanning.ReasonRASPResponseEmpty, scanning.SeverityInfo,
			"OpenRASP returned an empty response",
			"The attack log search returned no content.",
			details)
	case errors.Is(err, errUnreachable), errors.Is(err, context.DeadlineExceeded):
		return scanning.NewDiagnostic(scanning.ReasonRASPConnectionFailed, scanning.SeverityInfo,
			"Could not connect to OpenRASP",
			fmt.Sprintf("The management server at %s could not be reached: %v", s.client.baseURL, err),
			details)
	default:
		return scanning.NewDiagnostic(scanning.ReasonRASPResponseMalformed, scanning.SeverityInfo,
			"OpenRASP response could not be parsed",
			err.Error(),
			details)
	}
}

const (
	defaultAttackType = "RASP Event"
	defaultTitle      = "Runtime security event"
)

func toFinding(ev Event) scanning.RawFinding {
	severity := ev.Severity
	if severity == "" {
		severity = ev.InterceptState
	}

	attackType := ev.AttackType
	if attackType == "" {
		attackType = defaultAttackType
	}

	title := ev.Message
	if title == "" {
		title = defaultTitle
	}

	desc := ev.Description
	if desc == "" {
		desc = describe(ev)
	}

	return scanning.RawFinding{
		Tool:              scanning.ToolOpenRASP,
		Severity:          severity,
		VulnerabilityType: scanner.Truncate(attackType, scanning.MaxVulnerabilityTypeLen),
		Title:             scanner.Truncate(title, scanning.MaxTitleLen),
		Description:       desc,
		FilePath:          scanner.Truncate(ev.FilePath, scanning.MaxFilePathLen),
		LineNumber:        ev.LineNumber,
		RawData: map[string]any{
			"event_id":        ev.ID,
			"app_id":          ev.AppID,
			"timestamp":       ev.Timestamp,
			"attack_type":     ev.AttackType,
			"attack_params":   ev.AttackParams,
			"stack_trace":     ev.StackTrace,
			"request_id":      ev.RequestID,
			"url":             ev.URL,
			"user_agent":      ev.UserAgent,
			"client_ip":       ev.ClientIP,
			"intercept_state": ev.InterceptState,
			"original_event":  ev.Raw,
		},
	}
}

// describe builds a description from the request context of an event that
// carries none of its own.
func describe(ev Event) string {
	var parts []string
	if ev.AttackType != "" {
		parts = append(parts, "Attack type: "+ev.AttackType)
	}
	if ev.URL != "" {
		parts = append(parts, "URL: "+ev.URL)
	}
	if ev.ClientIP != "" {
		parts = append(parts, "Client IP: "+ev.ClientIP)
	}
	if ev.AttackParams != nil {
		parts = append(parts, "Attack params: "+stringify(ev.AttackParams))
	}
	if len(parts) == 0 {
		return defaultTitle
	}
	return strings.Join(parts, " | ")
}
