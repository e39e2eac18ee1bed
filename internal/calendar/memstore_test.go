package calendar

import (
	"context"
	"sort"
	"sync"
)

// memStore is an in-memory EventStore with the same upsert keying semantics
// as the persistent implementation.
type memStore struct {
	mu     sync.Mutex
	events map[string]*Event
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]*Event)}
}

var _ EventStore = (*memStore)(nil)

func (s *memStore) matches(e *Event, f EventFilter) bool {
	if e.UserID != f.UserID {
		return false
	}
	if f.CalendarID != "" && e.CalendarID != f.CalendarID {
		return false
	}
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if f.ExternalID != "" && e.ExternalID() != f.ExternalID {
		return false
	}
	if f.BaseID != "" && (e.BaseID() != f.BaseID || e.ID == f.BaseID) {
		return false
	}
	if f.StartAtOrAfter != nil && e.StartDate.Before(*f.StartAtOrAfter) {
		return false
	}
	return true
}

func (s *memStore) Find(_ context.Context, f EventFilter) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if s.matches(e, f) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *memStore) FindOne(ctx context.Context, f EventFilter) (*Event, error) {
	events, err := s.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

func (s *memStore) Insert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e.Clone()
	return nil
}

func (s *memStore) Upsert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(e)
	return nil
}

func (s *memStore) BulkUpsert(_ context.Context, events []*Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.upsertLocked(e)
	}
	return nil
}

// upsertLocked keys on the external id when present and the internal id
// otherwise. An existing row keeps its identity so series linkage survives.
func (s *memStore) upsertLocked(e *Event) {
	var existing *Event
	if ext := e.ExternalID(); ext != "" {
		for _, cand := range s.events {
			if cand.UserID == e.UserID && cand.ExternalID() == ext {
				existing = cand
				break
			}
		}
	} else {
		existing = s.events[e.ID]
	}

	stored := e.Clone()
	if existing != nil {
		stored.ID = existing.ID
		if stored.Recurrence != nil && len(stored.Recurrence.Rule) > 0 {
			stored.Recurrence.EventID = existing.ID
		}
	}
	s.events[stored.ID] = stored
}

func (s *memStore) Update(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, f EventFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.events {
		if s.matches(e, f) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CascadeDeleteByBase(_ context.Context, userID, baseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if e.ID == baseID || e.BaseID() == baseID {
			delete(s.events, id)
		}
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
