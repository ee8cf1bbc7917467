package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

func testJob(t *testing.T) *scanning.Job {
	t.Helper()
	job, err := scanning.NewJob("proj-1", scanning.ScanTypeContainer, []byte(`{"image_name":"alpine:3.19"}`))
	require.NoError(t, err)
	return job
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	job := testJob(t)

	var got []events.DomainEvent
	unsubscribe, err := pub.Subscribe(func(_ context.Context, e events.DomainEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	evt := events.NewDomainEvent(scanning.NewJobCreatedEvent(job))
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt, events.WithKey(job.JobID().String())))

	require.Len(t, got, 1)
	assert.Equal(t, scanning.EventTypeJobCreated, got[0].Type)
	assert.Equal(t, job.JobID().String(), got[0].Key)
	assert.Len(t, pub.Events(), 1)
}

func TestMultipleSubscribersInOrder(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	var order []int
	for i := range 3 {
		_, err := pub.Subscribe(func(context.Context, events.DomainEvent) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, pub.PublishDomainEvent(context.Background(), events.NewDomainEvent(scanning.NewJobCreatedEvent(testJob(t)))))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	calls := 0
	unsubscribe, err := pub.Subscribe(func(context.Context, events.DomainEvent) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	evt := events.NewDomainEvent(scanning.NewJobCreatedEvent(testJob(t)))
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt))
	unsubscribe()
	unsubscribe()
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt))

	assert.Equal(t, 1, calls)
	assert.Len(t, pub.Events(), 2)
}

func TestHandlerErrorStopsFanOut(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	boom := errors.New("handler failed")
	_, err := pub.Subscribe(func(context.Context, events.DomainEvent) error { return boom })
	require.NoError(t, err)

	reached := false
	_, err = pub.Subscribe(func(context.Context, events.DomainEvent) error {
		reached = true
		return nil
	})
	require.NoError(t, err)

	err = pub.PublishDomainEvent(context.Background(), events.NewDomainEvent(scanning.NewJobCreatedEvent(testJob(t))))
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
	assert.Len(t, pub.Events(), 1)
}

func TestSubscribeNilHandler(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher().Subscribe(nil)
	assert.Error(t, err)
}

func TestPublishCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := NewPublisher()
	err := pub.PublishDomainEvent(ctx, events.NewDomainEvent(scanning.NewJobCreatedEvent(testJob(t))))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Events())
}

func TestConcurrentPublish(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	job := testJob(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.PublishDomainEvent(context.Background(), events.NewDomainEvent(scanning.NewJobCreatedEvent(job)))
		}()
	}
	wg.Wait()

	assert.Len(t, pub.EventsOfType(scanning.EventTypeJobCreated), 20)
	assert.Empty(t, pub.EventsOfType(scanning.EventTypeJobFailed))
}
