package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned by FindOne when no event matches the filter.
var ErrEventNotFound = errors.New("event not found")

// EventFilter selects events in the store. Zero fields are ignored; UserID is
// always required so every query stays scoped to one user.
type EventFilter struct {
	UserID     string
	CalendarID string

	// ID matches the internal identity.
	ID string

	// ExternalID matches the provider id in the event metadata.
	ExternalID string

	// BaseID matches instances of the given series anchor.
	BaseID string

	// StartAtOrAfter restricts matches to events starting at or after the
	// given instant.
	StartAtOrAfter *time.Time
}

// EventStore is the persistence collaborator consumed by the reconciliation
// core. Implementations own transactional guarantees; the core only expresses
// intent as a sequence of mutations.
//
// Upsert operations are keyed on the provider external id when present and on
// the internal id otherwise, which is what makes webhook re-delivery safely
// re-appliable.
type EventStore interface {
	Find(ctx context.Context, f EventFilter) ([]*Event, error)
	FindOne(ctx context.Context, f EventFilter) (*Event, error)

	Insert(ctx context.Context, e *Event) error
	Upsert(ctx context.Context, e *Event) error
	BulkUpsert(ctx context.Context, events []*Event) error
	Update(ctx context.Context, e *Event) error

	// Delete removes all matching events and reports how many went away.
	Delete(ctx context.Context, f EventFilter) (int64, error)

	// CascadeDeleteByBase removes a series anchor together with every
	// instance that references it. An instance can never outlive its base.
	CascadeDeleteByBase(ctx context.Context, userID, baseID string) error
}

// StoredRuleLookup adapts an EventStore to the classifier's StoredRuleFunc.
func StoredRuleLookup(ctx context.Context, store EventStore, userID string) StoredRuleFunc {
	return func(externalID string) ([]string, bool) {
		e, err := store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: externalID})
		if err != nil || e.Recurrence == nil || len(e.Recurrence.Rule) == 0 {
			return nil, false
		}
		return e.Recurrence.Rule, true
	}
}
