package rasp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/scanner"
)

// Event is an attack event with its attributes resolved to one name each.
type Event struct {
	ID             string
	AppID          string
	AttackType     string
	Message        string
	Severity       string
	InterceptState string
	Description    string
	FilePath       string
	LineNumber     int
	URL            string
	ClientIP       string
	UserAgent      string
	RequestID      string
	Timestamp      string
	AttackParams   any
	StackTrace     any

	// Raw is the event exactly as the server sent it.
	Raw map[string]any
}

// fieldAliases lists, per logical attribute, the names different server
// versions use for it. The first present, non-empty alias wins.
var fieldAliases = map[string][]string{
	"id":              {"id", "_id", "event_id"},
	"app_id":          {"app_id", "appId"},
	"attack_type":     {"attack_type", "type", "attackType"},
	"message":         {"message", "plugin_message", "alert_message", "alertMessage"},
	"severity":        {"severity", "level", "event_level"},
	"intercept_state": {"intercept_state", "interceptState"},
	"description":     {"description", "detail"},
	"file_path":       {"file_path", "filePath"},
	"line_number":     {"line_number", "lineNumber"},
	"url":             {"url", "request_url"},
	"client_ip":       {"client_ip", "clientIp", "attack_source", "request_source"},
	"user_agent":      {"user_agent", "userAgent"},
	"request_id":      {"request_id", "requestId"},
	"timestamp":       {"timestamp", "time", "event_time", "request_time"},
	"attack_params":   {"attack_params", "attackParams"},
	"stack_trace":     {"stack_trace", "stackTrace"},
}

func lookup(raw map[string]any, attr string) (any, bool) {
	for _, name := range fieldAliases[attr] {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func lookupString(raw map[string]any, attr string) string {
	v, ok := lookup(raw, attr)
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// DecodeEvent resolves the attribute aliases of one raw event.
func DecodeEvent(raw map[string]any) Event {
	ev := Event{
		ID:             lookupString(raw, "id"),
		AppID:          lookupString(raw, "app_id"),
		AttackType:     lookupString(raw, "attack_type"),
		Message:        lookupString(raw, "message"),
		Severity:       lookupString(raw, "severity"),
		InterceptState: lookupString(raw, "intercept_state"),
		Description:    lookupString(raw, "description"),
		FilePath:       lookupString(raw, "file_path"),
		URL:            lookupString(raw, "url"),
		ClientIP:       lookupString(raw, "client_ip"),
		UserAgent:      lookupString(raw, "user_agent"),
		RequestID:      lookupString(raw, "request_id"),
		Timestamp:      lookupString(raw, "timestamp"),
		Raw:            raw,
	}
	ev.AttackParams, _ = lookup(raw, "attack_params")
	ev.StackTrace, _ = lookup(raw, "stack_trace")

	if n, err := strconv.Atoi(lookupString(raw, "line_number")); err == nil && n >= 0 {
		ev.LineNumber = n
	}
	return ev
}

// Column limits of the event store.
const (
	maxEventIDLen   = 100
	maxShortTextLen = 100
	maxClientIPLen  = 50
	maxUserAgentLen = 500
	maxURLLen       = 1000
)

// eventTimeLayouts are the textual timestamp formats seen from agents.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// parseEventTime reads an event timestamp given as text or as epoch
// seconds or milliseconds.
func parseEventTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// toRASPEvent converts a decoded event for the event store. appID stands in
// for an event that names no application, and now for one without a
// readable timestamp.
func toRASPEvent(ev Event, appID string, now time.Time) *scanning.RASPEvent {
	severity := ev.Severity
	if severity == "" {
		severity = ev.InterceptState
	}
	if ev.AppID != "" {
		appID = ev.AppID
	}
	at, ok := parseEventTime(ev.Timestamp)
	if !ok {
		at = now
	}
	var stack string
	if ev.StackTrace != nil {
		stack = stringify(ev.StackTrace)
	}

	return &scanning.RASPEvent{
		ID:           uuid.New(),
		EventID:      scanner.Truncate(ev.ID, maxEventIDLen),
		AppID:        scanner.Truncate(appID, maxShortTextLen),
		AttackType:   scanner.Truncate(ev.AttackType, maxShortTextLen),
		Severity:     scanning.NormalizeSeverity(scanning.ToolOpenRASP, severity),
		Message:      ev.Message,
		URL:          scanner.Truncate(ev.URL, maxURLLen),
		ClientIP:     scanner.Truncate(ev.ClientIP, maxClientIPLen),
		UserAgent:    scanner.Truncate(ev.UserAgent, maxUserAgentLen),
		RequestID:    scanner.Truncate(ev.RequestID, maxShortTextLen),
		FilePath:     scanner.Truncate(ev.FilePath, scanning.MaxFilePathLen),
		LineNumber:   ev.LineNumber,
		AttackParams: ev.AttackParams,
		StackTrace:   stack,
		RawData:      ev.Raw,
		EventTime:    at,
		CreatedAt:    now,
	}
}

// eventPaths are the locations the events array has been seen at, in the
// order they are tried.
var eventPaths = [][]string{
	{"data", "data"},
	{"data", "list"},
	{"data"},
	{"list"},
	{"result", "data"},
	{"result"},
	{"items"},
}

var errNoEvents = errors.New("no event list in response")

// page is one decoded search response.
type page struct {
	events    []map[string]any
	totalPage int
}

// decodePage locates the event list in a search response body. The server's
// envelope status is checked first; a non-zero value is an error reported by
// the server itself.
func decodePage(body []byte) (page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return page{}, err
	}

	if arr, ok := doc.([]any); ok {
		events, err := toEvents(arr)
		return page{events: events}, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return page{}, errNoEvents
	}
	if st, ok := obj["status"].(json.Number); ok && st.String() != "0" {
		desc, _ := obj["description"].(string)
		return page{}, &statusError{code: 200, body: fmt.Sprintf("status %s: %s", st, desc)}
	}

	for _, path := range eventPaths {
		arr, ok := walk(obj, path).([]any)
		if !ok {
			continue
		}
		events, err := toEvents(arr)
		if err != nil {
			return page{}, err
		}
		return page{events: events, totalPage: totalPages(obj)}, nil
	}
	return page{}, errNoEvents
}

func walk(obj map[string]any, path []string) any {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func toEvents(arr []any) ([]map[string]any, error) {
	events := make([]map[string]any, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("event %d is %T, not an object", i, item)
		}
		events = append(events, m)
	}
	return events, nil
}

// totalPages reads data.total_page when the server reports it.
func totalPages(obj map[string]any) int {
	n, ok := walk(obj, []string{"data", "total_page"}).(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return int(v)
}
