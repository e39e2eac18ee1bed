package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ApplyScope is the blast radius the user picked for an edit to a recurring
// event.
type ApplyScope string

const (
	ScopeThisEvent        ApplyScope = "THIS_EVENT"
	ScopeThisAndFollowing ApplyScope = "THIS_AND_FOLLOWING_EVENTS"
	ScopeAllEvents        ApplyScope = "ALL_EVENTS"
)

// LocalEdit is a locally edited event plus the one signal the row itself
// cannot carry: whether the user explicitly removed the recurrence rule.
// Instances never store a rule, so "rule deleted" and "rule absent" need the
// explicit flag to stay distinguishable.
type LocalEdit struct {
	Event     *Event
	ClearRule bool
}

// EditFactory expands a local edit into the concrete event payloads to
// persist. It only reads from the store; callers persist the returned events.
type EditFactory struct {
	store EventStore
}

func NewEditFactory(store EventStore) *EditFactory {
	return &EditFactory{store: store}
}

// GenerateEvents expands the edit according to the chosen scope.
//
// THIS_EVENT returns the edited row alone, unless the edit detaches the
// occurrence from its series (rule cleared, or marked someday, while still
// linked); detachments resolve at the series level and reroute to ALL_EVENTS.
// ALL_EVENTS returns the single updated base. THIS_AND_FOLLOWING_EVENTS
// returns the truncated old base plus the new continuation base, in that
// order.
func (f *EditFactory) GenerateEvents(ctx context.Context, edit LocalEdit, scope ApplyScope) ([]*Event, error) {
	switch scope {
	case ScopeThisEvent:
		detaching := edit.Event.HasBaseLink() && (edit.ClearRule || edit.Event.IsSomeday)
		if detaching {
			return f.allEvents(ctx, edit)
		}
		e := edit.Event.Clone()
		e.UpdatedAt = time.Now().UTC()
		return []*Event{e}, nil
	case ScopeAllEvents:
		return f.allEvents(ctx, edit)
	case ScopeThisAndFollowing:
		return f.thisAndFollowing(ctx, edit)
	default:
		return nil, newShapeError("unknown apply scope", edit.Event.ID)
	}
}

// allEvents merges the edited fields into the series base and returns the
// single updated base representation.
func (f *EditFactory) allEvents(ctx context.Context, edit LocalEdit) ([]*Event, error) {
	base, err := f.resolveBase(ctx, edit.Event)
	if err != nil {
		return nil, err
	}

	base.Title = edit.Event.Title
	base.Description = edit.Event.Description
	base.Priority = edit.Event.Priority
	base.IsSomeday = edit.Event.IsSomeday
	base.UpdatedAt = time.Now().UTC()

	if edit.ClearRule || edit.Event.IsSomeday {
		// Detach: the series collapses back into a standalone event at the
		// edited schedule. Clearing the rule is what severs the instances'
		// series linkage on persist.
		base.Recurrence = nil
		base.StartDate = edit.Event.StartDate
		base.EndDate = edit.Event.EndDate
		base.IsAllDay = edit.Event.IsAllDay
		return []*Event{base}, nil
	}

	// A whole-series field edit never moves the base's own schedule; dates
	// stay with the rule.
	return []*Event{base}, nil
}

// thisAndFollowing splits the series at the edited occurrence: the old base
// is truncated to end with the occurrence immediately before it, and a new
// independent series starts at the edited occurrence.
func (f *EditFactory) thisAndFollowing(ctx context.Context, edit LocalEdit) ([]*Event, error) {
	edited := edit.Event
	if !edited.HasBaseLink() {
		return nil, newResolutionError("event is not a recurring instance", edited.ID)
	}

	base, err := f.resolveBase(ctx, edited)
	if err != nil {
		return nil, err
	}

	occurrenceStart := edited.StartDate
	if edited.OriginalStartDate != nil {
		occurrenceStart = *edited.OriginalStartDate
	}

	rule, err := NewRule(base)
	if err != nil {
		return nil, err
	}

	// The old series' last occurrence is the one immediately before the
	// edited occurrence. Editing the very first occurrence leaves the old
	// series empty, so any boundary before its start will do.
	until, ok := rule.Before(occurrenceStart)
	if !ok {
		until = occurrenceStart.Add(-time.Second)
	}

	truncated, err := NewRuleWithUntil(base, until)
	if err != nil {
		return nil, err
	}
	oldBase := truncated.Base()
	oldBase.UpdatedAt = time.Now().UTC()

	// The continuation inherits the edited fields under a fresh identity;
	// that id is the anchor later "following" edits on the sub-series target.
	newBase := edited.Clone()
	newBase.ID = uuid.NewString()
	newBase.Recurrence = &Recurrence{
		Rule:    rule.Lines(),
		EventID: newBase.ID,
	}
	newBase.StartDate = edited.StartDate
	newBase.EndDate = edited.EndDate
	newBase.Metadata = nil
	newBase.OriginalStartDate = nil
	newBase.UpdatedAt = oldBase.UpdatedAt

	return []*Event{oldBase, newBase}, nil
}

// resolveBase finds the series anchor for an edited event. The edited event
// may itself be the base.
func (f *EditFactory) resolveBase(ctx context.Context, e *Event) (*Event, error) {
	baseID := e.BaseID()
	if baseID == "" {
		return nil, newResolutionError("event is not a recurring instance", e.ID)
	}
	if baseID == e.ID {
		return e.Clone(), nil
	}
	base, err := f.store.FindOne(ctx, EventFilter{UserID: e.UserID, ID: baseID})
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, newResolutionError("base event not found for instance", e.ID)
		}
		return nil, wrapStoreError("find series base", err)
	}
	return base.Clone(), nil
}
