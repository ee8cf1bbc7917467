package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
)

var _ scanning.RASPEventRepository = (*RASPEventStore)(nil)

// RASPEventStore keeps runtime events in memory, indexed by both ids.
type RASPEventStore struct {
	mu       sync.RWMutex
	events   map[uuid.UUID]*scanning.RASPEvent
	byRemote map[string]uuid.UUID
}

// NewRASPEventStore creates an empty RASPEventStore.
func NewRASPEventStore() *RASPEventStore {
	return &RASPEventStore{
		events:   make(map[uuid.UUID]*scanning.RASPEvent),
		byRemote: make(map[string]uuid.UUID),
	}
}

func (s *RASPEventStore) SaveEvents(_ context.Context, events []*scanning.RASPEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if _, exists := s.byRemote[e.EventID]; exists {
			continue
		}
		c := *e
		s.events[e.ID] = &c
		s.byRemote[e.EventID] = e.ID
		inserted++
	}
	return inserted, nil
}

func (s *RASPEventStore) GetEvent(_ context.Context, id uuid.UUID) (*scanning.RASPEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scanning.ErrRASPEventNotFound, id)
	}
	c := *e
	return &c, nil
}

func (s *RASPEventStore) ListEvents(_ context.Context, filter scanning.RASPEventFilter) (scanning.RASPEventPage, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	var matched []*scanning.RASPEvent
	for _, e := range s.events {
		if filter.Matches(e) {
			c := *e
			matched = append(matched, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].EventTime.Equal(matched[j].EventTime) {
			return matched[i].EventID > matched[j].EventID
		}
		return matched[i].EventTime.After(matched[j].EventTime)
	})

	page := scanning.RASPEventPage{Total: len(matched), Page: filter.Page, PerPage: filter.PerPage}
	if off := filter.Offset(); off < len(matched) {
		page.Events = matched[off:min(off+filter.PerPage, len(matched))]
	}
	return page, nil
}

func (s *RASPEventStore) UpdateEvent(_ context.Context, e *scanning.RASPEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; !ok {
		return fmt.Errorf("%w: %s", scanning.ErrRASPEventNotFound, e.ID)
	}
	c := *e
	s.events[e.ID] = &c
	return nil
}
