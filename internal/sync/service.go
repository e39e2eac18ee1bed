// Package sync drives the reconciliation pipeline: provider changes flow in
// through imports and webhook notifications, local edits flow back out.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/SwitchbackTech/compass-sub010/internal/calendar"
	"github.com/SwitchbackTech/compass-sub010/internal/notify"
	"github.com/SwitchbackTech/compass-sub010/internal/provider"
)

// Service wires the provider client, the reconciliation core and the
// notification sink into one pipeline. Per-series mutual exclusion is
// enforced here with a single mutex per user+calendar: batches for one
// calendar apply strictly in sequence, so a split and an instance update can
// never interleave on the same base.
type Service struct {
	store     calendar.EventStore
	processor *calendar.Processor
	factory   *calendar.EditFactory
	client    *provider.Client
	sink      notify.Sink
	log       *slog.Logger

	calendarID string

	mu         sync.Mutex
	writers    map[string]*sync.Mutex // userID -> per-calendar writer lock
	syncTokens map[string]string      // userID -> provider sync token
}

// New assembles the sync service. A nil sink falls back to slog delivery.
func New(store calendar.EventStore, client *provider.Client, calendarID string, sink notify.Sink, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = notify.SlogSink{Log: log}
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Service{
		store:      store,
		processor:  calendar.NewProcessor(store, calendarID, log),
		factory:    calendar.NewEditFactory(store),
		client:     client,
		sink:       sink,
		log:        log,
		calendarID: calendarID,
		writers:    make(map[string]*sync.Mutex),
		syncTokens: make(map[string]string),
	}
}

func (s *Service) writer(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[userID]
	if !ok {
		w = &sync.Mutex{}
		s.writers[userID] = w
	}
	return w
}

// Import performs a full pull of the calendar into the local store. Malformed
// items are skipped with a log line; resolution failures abort, since a
// base-incomplete listing means the pull itself is broken.
func (s *Service) Import(ctx context.Context, userID string) (int, error) {
	w := s.writer(userID)
	w.Lock()
	defer w.Unlock()

	items, syncToken, err := s.client.ListAll(ctx, s.calendarID)
	if err != nil {
		return 0, fmt.Errorf("list calendar: %w", err)
	}

	mappable := make([]*gcal.Event, 0, len(items))
	for _, item := range items {
		if item.Id == "" || (item.Status != "cancelled" && (item.Start == nil || item.End == nil)) {
			s.log.Warn("skipping malformed event during import", "user", userID, "event", item.Id)
			continue
		}
		mappable = append(mappable, item)
	}

	events, err := calendar.ToEvents(userID, s.calendarID, mappable, calendar.OriginImport)
	if err != nil {
		return 0, err
	}

	if err := s.store.BulkUpsert(ctx, events); err != nil {
		return 0, fmt.Errorf("persist import: %w", err)
	}

	s.setSyncToken(userID, syncToken)
	s.log.Info("import completed", "user", userID, "events", len(events))
	return len(events), nil
}

// HandleNotification reacts to one provider webhook delivery: pull the change
// batch since the last sync token, reconcile it, and publish the resulting
// change records. Fail-fast: a single delivery either applies or errors.
func (s *Service) HandleNotification(ctx context.Context, userID string) ([]calendar.ChangeRecord, error) {
	w := s.writer(userID)
	w.Lock()
	defer w.Unlock()

	token := s.getSyncToken(userID)
	if token == "" {
		return nil, errors.New("no sync token: run an import first")
	}

	items, newToken, err := s.client.Changes(ctx, s.calendarID, token)
	if err != nil {
		if errors.Is(err, provider.ErrSyncTokenExpired) {
			s.setSyncToken(userID, "")
		}
		return nil, fmt.Errorf("pull changes: %w", err)
	}

	if len(items) == 0 {
		s.setSyncToken(userID, newToken)
		return nil, nil
	}

	records, err := s.processor.ProcessEvents(ctx, userID, items)
	if err != nil {
		return records, err
	}

	s.setSyncToken(userID, newToken)

	if err := s.sink.Publish(ctx, userID, records); err != nil {
		// Notification delivery is best effort; the reconciliation already
		// happened.
		s.log.Warn("failed to publish change records", "user", userID, "error", err)
	}

	return records, nil
}

// ApplyLocalEdit expands a local edit into its store mutations and pushes the
// result toward the provider. Push failures are logged, not returned: the
// local edit stands and the next successful sync reconciles.
func (s *Service) ApplyLocalEdit(ctx context.Context, edit calendar.LocalEdit, scope calendar.ApplyScope) ([]*calendar.Event, error) {
	w := s.writer(edit.Event.UserID)
	w.Lock()
	defer w.Unlock()

	events, err := s.factory.GenerateEvents(ctx, edit, scope)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		if err := s.store.Upsert(ctx, e); err != nil {
			return nil, fmt.Errorf("persist local edit: %w", err)
		}
	}

	// A detach collapses the series into a standalone event; its materialized
	// instances no longer have a base to belong to.
	if len(events) == 1 && events[0].Recurrence == nil && (edit.ClearRule || edit.Event.IsSomeday) {
		if _, err := s.store.Delete(ctx, calendar.EventFilter{
			UserID: events[0].UserID,
			BaseID: events[0].ID,
		}); err != nil {
			return nil, fmt.Errorf("detach series instances: %w", err)
		}
	}

	// When a this-and-following edit truncated the old series, its
	// now-orphaned instances have to go with it.
	if scope == calendar.ScopeThisAndFollowing && len(events) == 2 {
		oldBase := events[0]
		if rule, rerr := calendar.NewRule(oldBase); rerr == nil {
			if until, ok := rule.Until(); ok {
				boundary := until.Add(1)
				if _, derr := s.store.Delete(ctx, calendar.EventFilter{
					UserID:         oldBase.UserID,
					BaseID:         oldBase.ID,
					StartAtOrAfter: &boundary,
				}); derr != nil {
					return nil, fmt.Errorf("trim split series: %w", derr)
				}
			}
		}
	}

	if s.client != nil {
		for _, e := range events {
			opts := calendar.FromEventOptions{ClearRecurrence: edit.ClearRule && e.Recurrence == nil}
			if _, perr := s.client.Push(ctx, s.calendarID, calendar.FromEvent(e, opts)); perr != nil {
				s.log.Warn("provider push failed; will reconcile on next sync",
					"user", e.UserID, "event", e.ID, "error", perr)
			}
		}
	}

	return events, nil
}

func (s *Service) getSyncToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncTokens[userID]
}

func (s *Service) setSyncToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		delete(s.syncTokens, userID)
		return
	}
	s.syncTokens[userID] = token
}
