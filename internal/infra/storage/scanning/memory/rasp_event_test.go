package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

func raspEvent(eventID, appID string, severity scanning.Severity, at time.Time) *scanning.RASPEvent {
	return &scanning.RASPEvent{
		ID:        uuid.New(),
		EventID:   eventID,
		AppID:     appID,
		Severity:  severity,
		EventTime: at,
		CreatedAt: at,
	}
}

func TestRASPEventStoreDeduplicatesByEventID(t *testing.T) {
	ctx := context.Background()
	store := NewRASPEventStore()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	n, err := store.SaveEvents(ctx, []*scanning.RASPEvent{
		raspEvent("e1", "shop", scanning.SeverityCritical, at),
		raspEvent("e2", "shop", scanning.SeverityMedium, at),
		raspEvent("e1", "shop", scanning.SeverityCritical, at),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.SaveEvents(ctx, []*scanning.RASPEvent{raspEvent("e2", "shop", scanning.SeverityMedium, at)})
	require.NoError(t, err)
	assert.Zero(t, n)

	page, err := store.ListEvents(ctx, scanning.RASPEventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestRASPEventStoreListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewRASPEventStore()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var events []*scanning.RASPEvent
	for i := range 5 {
		events = append(events, raspEvent(string(rune('a'+i)), "shop", scanning.SeverityCritical, base.Add(time.Duration(i)*time.Hour)))
	}
	events = append(events, raspEvent("z", "blog", scanning.SeverityLow, base))
	_, err := store.SaveEvents(ctx, events)
	require.NoError(t, err)

	page, err := store.ListEvents(ctx, scanning.RASPEventFilter{AppID: "shop", Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Events, 2)
	assert.Equal(t, "c", page.Events[0].EventID)
	assert.Equal(t, "b", page.Events[1].EventID)

	page, err = store.ListEvents(ctx, scanning.RASPEventFilter{Severity: scanning.SeverityLow})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "blog", page.Events[0].AppID)

	page, err = store.ListEvents(ctx, scanning.RASPEventFilter{Since: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = store.ListEvents(ctx, scanning.RASPEventFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Equal(t, 6, page.Total)
}

func TestRASPEventStoreHandle(t *testing.T) {
	ctx := context.Background()
	store := NewRASPEventStore()
	ev := raspEvent("e1", "shop", scanning.SeverityHigh, time.Now())
	_, err := store.SaveEvents(ctx, []*scanning.RASPEvent{ev})
	require.NoError(t, err)

	loaded, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	loaded.MarkHandled("alice", time.Now())
	require.NoError(t, store.UpdateEvent(ctx, loaded))

	handled := true
	page, err := store.ListEvents(ctx, scanning.RASPEventFilter{Handled: &handled})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "alice", page.Events[0].HandledBy)

	_, err = store.GetEvent(ctx, uuid.New())
	assert.ErrorIs(t, err, scanning.ErrRASPEventNotFound)
	assert.ErrorIs(t, store.UpdateEvent(ctx, raspEvent("x", "", "", time.Now())), scanning.ErrRASPEventNotFound)
}
