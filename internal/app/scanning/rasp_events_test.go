package scanning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/internal/infra/storage/scanning/memory"
	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

type mockEventSource struct{ mock.Mock }

func (m *mockEventSource) FetchEvents(ctx context.Context, cfg domain.RASPConfig) ([]*domain.RASPEvent, error) {
	args := m.Called(ctx, cfg)
	if events := args.Get(0); events != nil {
		return events.([]*domain.RASPEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func remoteEvent(eventID string, at time.Time) *domain.RASPEvent {
	return &domain.RASPEvent{
		ID:        uuid.New(),
		EventID:   eventID,
		AppID:     "shop",
		Severity:  domain.SeverityHigh,
		EventTime: at,
		CreatedAt: at,
	}
}

func newEventService(source RASPEventSource) (*RASPEventService, *memory.RASPEventStore) {
	store := memory.NewRASPEventStore()
	svc := NewRASPEventService(store, source, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	return svc, store
}

func TestSyncEventsDeduplicates(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	source := new(mockEventSource)
	source.On("FetchEvents", mock.Anything, domain.RASPConfig{AppID: "shop"}).
		Return([]*domain.RASPEvent{remoteEvent("e1", at), remoteEvent("", at), remoteEvent("e2", at)}, nil).Once()
	source.On("FetchEvents", mock.Anything, domain.RASPConfig{AppID: "shop"}).
		Return([]*domain.RASPEvent{remoteEvent("e2", at), remoteEvent("e3", at)}, nil).Once()

	svc, _ := newEventService(source)

	res, err := svc.SyncEvents(context.Background(), domain.RASPConfig{AppID: "shop"})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 3, Synced: 2, Skipped: 1}, res)

	res, err = svc.SyncEvents(context.Background(), domain.RASPConfig{AppID: "shop"})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Synced: 1}, res)

	page, err := svc.ListEvents(context.Background(), domain.RASPEventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, domain.DefaultRASPEventsPerPage, page.PerPage)
	source.AssertExpectations(t)
}

func TestSyncEventsErrors(t *testing.T) {
	source := new(mockEventSource)
	source.On("FetchEvents", mock.Anything, mock.Anything).Return(nil, domain.ErrRASPNotConfigured).Once()
	svc, _ := newEventService(source)

	_, err := svc.SyncEvents(context.Background(), domain.RASPConfig{})
	assert.ErrorIs(t, err, domain.ErrRASPNotConfigured)

	start := &domain.Timestamp{Time: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	end := &domain.Timestamp{Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err = svc.SyncEvents(context.Background(), domain.RASPConfig{StartTime: start, EndTime: end})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	source.AssertNumberOfCalls(t, "FetchEvents", 1)
}

func TestHandleEvent(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	source := new(mockEventSource)
	svc, store := newEventService(source)
	svc.now = func() time.Time { return at.Add(time.Hour) }

	ev := remoteEvent("e1", at)
	_, err := store.SaveEvents(context.Background(), []*domain.RASPEvent{ev})
	require.NoError(t, err)

	handled, err := svc.HandleEvent(context.Background(), ev.ID, "alice")
	require.NoError(t, err)
	assert.True(t, handled.Handled)
	assert.Equal(t, "alice", handled.HandledBy)
	assert.Equal(t, at.Add(time.Hour), handled.HandledAt)

	again, err := svc.HandleEvent(context.Background(), ev.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.HandledBy)

	_, err = svc.HandleEvent(context.Background(), uuid.New(), "alice")
	assert.ErrorIs(t, err, domain.ErrRASPEventNotFound)

	_, err = svc.GetEvent(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrRASPEventNotFound))
}
