// Package memory provides an in-memory implementation of the domain event
// publisher. It is non-persistent and suited to tests, local runs and
// deployments without a message broker.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ahrav/scan-orchestrator/internal/domain/events"
)

// Handler receives every event published after it subscribed.
type Handler func(ctx context.Context, event events.DomainEvent) error

var _ events.DomainEventPublisher = (*Publisher)(nil)

// Publisher records published events and fans them out to subscribed
// handlers synchronously, in subscription order.
type Publisher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
	log      []events.DomainEvent
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{handlers: make(map[int]Handler)}
}

// Subscribe registers handler and returns a function that removes it.
func (p *Publisher) Subscribe(handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.order = append(p.order, id)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.handlers, id)
			p.order = slices.DeleteFunc(p.order, func(v int) bool { return v == id })
		})
	}, nil
}

// PublishDomainEvent records the event and hands it to every handler,
// stopping at the first handler error. The event is recorded even when a
// handler fails.
func (p *Publisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if params := events.ApplyOptions(opts...); params.Key != "" {
		event.Key = params.Key
	}

	p.mu.Lock()
	p.log = append(p.log, event)
	// Copy handlers so none run under the lock.
	handlers := make([]Handler, 0, len(p.order))
	for _, id := range p.order {
		handlers = append(handlers, p.handlers[id])
	}
	p.mu.Unlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a snapshot of every event published so far.
func (p *Publisher) Events() []events.DomainEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.log)
}

// EventsOfType returns the recorded events of type t in publish order.
func (p *Publisher) EventsOfType(t events.EventType) []events.DomainEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []events.DomainEvent
	for _, e := range p.log {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
