package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	traceID := func(context.Context) string { return "abc123" }

	log := NewWithMetadata(&buf, LevelInfo, "scanner", traceID, Events{}, map[string]string{"pod": "p-1", "namespace": ""})
	log.With("component", "runner").Info(context.Background(), "job started", "job_id", "j-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "job started", rec["msg"])
	assert.Equal(t, "scanner", rec["service"])
	assert.Equal(t, "p-1", rec["pod"])
	assert.NotContains(t, rec, "namespace")
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "j-1", rec["job_id"])
	assert.Equal(t, "abc123", rec["trace_id"])
	assert.Contains(t, rec["file"], "logger_test.go")
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "scanner", nil)

	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoggerErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	log := NewWithEvents(&buf, LevelDebug, "scanner", nil, events)
	log.Error(context.Background(), "adapter panicked", "job_id", "j-2")

	assert.Equal(t, "adapter panicked", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "j-2", got.Attributes["job_id"])
}

func TestLoggerContextAccumulates(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "scanner", nil))
	lc.Add("finding_count", 3)
	lc.Info(context.Background(), "persisted")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.EqualValues(t, 3, rec["finding_count"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestNoopDropsEverything(t *testing.T) {
	log := Noop()
	assert.NotPanics(t, func() {
		log.With("a", 1).Error(context.Background(), "ignored")
	})
}
