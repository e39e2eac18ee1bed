package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
)

// Category labels what kind of row a change record is about.
type Category string

const (
	CategoryRecurrenceBase     Category = "RECURRENCE_BASE"
	CategoryRecurrenceInstance Category = "RECURRENCE_INSTANCE"
	CategoryRegular            Category = "REGULAR"
)

// Operation names the mutation a change record reports.
type Operation string

const (
	OpSeriesCreated         Operation = "SERIES_CREATED"
	OpSeriesDeleted         Operation = "SERIES_DELETED"
	OpBaseUpdated           Operation = "RECURRENCE_BASE_UPDATED"
	OpInstanceUpdated       Operation = "RECURRENCE_INSTANCE_UPDATED"
	OpInstanceDeleted       Operation = "RECURRENCE_INSTANCE_DELETED"
	OpTimedInstancesUpdated Operation = "TIMED_INSTANCES_UPDATED"
	OpEventUpserted         Operation = "EVENT_UPSERTED"
	OpEventDeleted          Operation = "EVENT_DELETED"
)

// Transition is the [from, to] state pair attached to a change record.
type Transition [2]string

var (
	TransitionBaseConfirmed     = Transition{"RECURRENCE_BASE", "RECURRENCE_BASE_CONFIRMED"}
	TransitionBaseCancelled     = Transition{"RECURRENCE_BASE", "RECURRENCE_BASE_CANCELLED"}
	TransitionInstanceConfirmed = Transition{"RECURRENCE_INSTANCE", "RECURRENCE_INSTANCE_CONFIRMED"}
	TransitionInstanceCancelled = Transition{"RECURRENCE_INSTANCE", "RECURRENCE_INSTANCE_CANCELLED"}
	TransitionRegularConfirmed  = Transition{"REGULAR", "REGULAR_CONFIRMED"}
	TransitionRegularCancelled  = Transition{"REGULAR", "REGULAR_CANCELLED"}
)

// ChangeRecord is the observability-facing summary of one applied mutation,
// handed to the notification layer after a batch is processed.
type ChangeRecord struct {
	Title      string
	Category   Category
	Operation  Operation
	Transition Transition
}

// maxRegeneratedInstances caps how many occurrences a split regenerates for
// the truncated half of a series.
const maxRegeneratedInstances = 500

// Processor consumes classified provider batches and turns them into store
// mutations.
//
// Callers must not interleave ProcessEvents calls for the same series: a
// split and an instance update racing on one base can corrupt the rule. Run a
// single writer per base id; batches for unrelated series are independent.
type Processor struct {
	store      EventStore
	calendarID string
	log        *slog.Logger
}

// NewProcessor returns a processor writing through the given store. An empty
// calendarID defaults to "primary".
func NewProcessor(store EventStore, calendarID string, log *slog.Logger) *Processor {
	if calendarID == "" {
		calendarID = "primary"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: store, calendarID: calendarID, log: log}
}

// ProcessEvents classifies one provider batch and applies the resulting
// action, returning the ordered change records the mutations imply. The first
// store failure aborts the remaining mutations for the batch.
func (p *Processor) ProcessEvents(ctx context.Context, userID string, items []*gcal.Event) ([]ChangeRecord, error) {
	analysis, ok := Classify(items, StoredRuleLookup(ctx, p.store, userID))
	if !ok {
		return p.processRegular(ctx, userID, items)
	}

	p.log.Info("processing recurring change",
		"user", userID, "action", string(analysis.Action), "batch_size", len(items))

	switch analysis.Action {
	case ActionCreateSeries:
		return p.createSeries(ctx, userID, analysis.BaseEvent)
	case ActionUpdateSeries:
		return p.updateSeries(ctx, userID, analysis.BaseEvent)
	case ActionUpdateInstance:
		return p.updateInstance(ctx, userID, analysis.ModifiedInstance)
	case ActionSplitSeries:
		return p.splitSeries(ctx, userID, analysis)
	case ActionDeleteSeries:
		return p.deleteSeries(ctx, userID, items)
	case ActionDeleteInstances:
		return p.deleteInstances(ctx, userID, analysis)
	default:
		return nil, newShapeError(fmt.Sprintf("unknown action %q", analysis.Action), "")
	}
}

// processRegular applies a batch that carries no recurrence signals: plain
// upserts for confirmed items, deletes for cancelled ones.
func (p *Processor) processRegular(ctx context.Context, userID string, items []*gcal.Event) ([]ChangeRecord, error) {
	var records []ChangeRecord
	for _, item := range items {
		if item.Status == statusCancelled {
			n, err := p.store.Delete(ctx, EventFilter{UserID: userID, ExternalID: item.Id})
			if err != nil {
				return records, wrapStoreError("delete event", err)
			}
			if n == 0 {
				// Re-delivered tombstone for something already gone.
				continue
			}
			records = append(records, ChangeRecord{
				Title:      item.Summary,
				Category:   CategoryRegular,
				Operation:  OpEventDeleted,
				Transition: TransitionRegularCancelled,
			})
			continue
		}

		e, err := ToEvent(item, MapOptions{UserID: userID, CalendarID: p.calendarID, Origin: OriginGoogle})
		if err != nil {
			// Malformed payloads are skipped during bulk application; the
			// caller decides whether that fails the whole delivery.
			p.log.Warn("skipping unmappable event", "user", userID, "event", item.Id, "error", err)
			continue
		}
		if err := p.store.Upsert(ctx, e); err != nil {
			return records, wrapStoreError("upsert event", err)
		}
		records = append(records, ChangeRecord{
			Title:      e.Title,
			Category:   CategoryRegular,
			Operation:  OpEventUpserted,
			Transition: TransitionRegularConfirmed,
		})
	}
	return records, nil
}

func (p *Processor) createSeries(ctx context.Context, userID string, item *gcal.Event) ([]ChangeRecord, error) {
	base, err := ToEvent(item, MapOptions{UserID: userID, CalendarID: p.calendarID, Origin: OriginGoogle})
	if err != nil {
		return nil, err
	}

	rule, err := NewRule(base)
	if err != nil {
		return nil, err
	}

	if err := p.store.Upsert(ctx, base); err != nil {
		return nil, wrapStoreError("upsert series base", err)
	}

	first := rule.First()
	if !first.IsZero() {
		if err := p.store.Upsert(ctx, instanceOf(base, first)); err != nil {
			return nil, wrapStoreError("upsert first instance", err)
		}
	}

	return []ChangeRecord{{
		Title:      base.Title,
		Category:   CategoryRecurrenceBase,
		Operation:  OpSeriesCreated,
		Transition: TransitionBaseConfirmed,
	}}, nil
}

func (p *Processor) updateSeries(ctx context.Context, userID string, item *gcal.Event) ([]ChangeRecord, error) {
	base, err := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: item.Id})
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, newResolutionError("series base not found for update", item.Id)
		}
		return nil, wrapStoreError("find series base", err)
	}

	oldTitle, oldDescription := base.Title, base.Description

	start, end, allDay, terr := mapEventTimes(item)
	if terr != nil {
		return nil, &Error{Code: ErrCodeShape, Message: "unparseable event times", EventID: item.Id, Err: terr}
	}
	base.Title = item.Summary
	base.Description = item.Description
	base.StartDate, base.EndDate, base.IsAllDay = start, end, allDay
	base.Recurrence = &Recurrence{Rule: append([]string(nil), item.Recurrence...), EventID: base.ID}
	base.UpdatedAt = time.Now().UTC()

	if err := p.store.Update(ctx, base); err != nil {
		return nil, wrapStoreError("update series base", err)
	}

	// Title and description flow down to instances that did not override
	// them. Dates never propagate: instance schedules belong to the rule.
	instances, err := p.store.Find(ctx, EventFilter{UserID: userID, BaseID: base.ID})
	if err != nil {
		return nil, wrapStoreError("list series instances", err)
	}
	for _, inst := range instances {
		if inst.ID == base.ID {
			continue
		}
		changed := false
		if inst.Title == oldTitle && inst.Title != base.Title {
			inst.Title = base.Title
			changed = true
		}
		if inst.Description == oldDescription && inst.Description != base.Description {
			inst.Description = base.Description
			changed = true
		}
		if changed {
			inst.UpdatedAt = base.UpdatedAt
			if err := p.store.Update(ctx, inst); err != nil {
				return nil, wrapStoreError("propagate series fields", err)
			}
		}
	}

	return []ChangeRecord{{
		Title:      base.Title,
		Category:   CategoryRecurrenceBase,
		Operation:  OpBaseUpdated,
		Transition: TransitionBaseConfirmed,
	}}, nil
}

func (p *Processor) updateInstance(ctx context.Context, userID string, item *gcal.Event) ([]ChangeRecord, error) {
	local, err := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: item.Id})
	switch {
	case errors.Is(err, ErrEventNotFound):
		// First sighting of an overridden occurrence: materialize it against
		// the locally known base.
		base, berr := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: item.RecurringEventId})
		if berr != nil {
			if errors.Is(berr, ErrEventNotFound) {
				return nil, newResolutionError(
					fmt.Sprintf("base event not found for instance (parent=%s)", item.RecurringEventId), item.Id)
			}
			return nil, wrapStoreError("find instance base", berr)
		}
		local, err = ToEvent(item, MapOptions{
			UserID:     userID,
			CalendarID: p.calendarID,
			Origin:     OriginGoogle,
			Recurrence: &Recurrence{EventID: base.ID},
		})
		if err != nil {
			return nil, err
		}
		if err := p.store.Upsert(ctx, local); err != nil {
			return nil, wrapStoreError("upsert instance", err)
		}
	case err != nil:
		return nil, wrapStoreError("find instance", err)
	default:
		start, end, allDay, terr := mapEventTimes(item)
		if terr != nil {
			return nil, &Error{Code: ErrCodeShape, Message: "unparseable event times", EventID: item.Id, Err: terr}
		}
		// The series link stays untouched; only editable fields merge in.
		local.Title = item.Summary
		local.Description = item.Description
		local.StartDate, local.EndDate, local.IsAllDay = start, end, allDay
		local.UpdatedAt = time.Now().UTC()
		if err := p.store.Update(ctx, local); err != nil {
			return nil, wrapStoreError("update instance", err)
		}
	}

	return []ChangeRecord{{
		Title:      local.Title,
		Category:   CategoryRecurrenceInstance,
		Operation:  OpInstanceUpdated,
		Transition: TransitionInstanceConfirmed,
	}}, nil
}

// splitSeries applies a provider-side series split: the old base's rule now
// ends at the boundary and a new independent series continues after it.
func (p *Processor) splitSeries(ctx context.Context, userID string, a *Analysis) ([]ChangeRecord, error) {
	oldBase, err := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: a.BaseEvent.Id})
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, newResolutionError("series base not found for split", a.BaseEvent.Id)
		}
		return nil, wrapStoreError("find series base", err)
	}

	boundary, err := ParseUntil(a.SplitDate)
	if err != nil {
		return nil, &Error{Code: ErrCodeShape, Message: "invalid split boundary", EventID: a.BaseEvent.Id, Err: err}
	}

	var records []ChangeRecord

	// 1. The old series sheds every materialized instance at or past the
	// boundary; those occurrences now belong to the continuation.
	if _, err := p.store.Delete(ctx, EventFilter{
		UserID:         userID,
		BaseID:         oldBase.ID,
		StartAtOrAfter: &boundary,
	}); err != nil {
		return records, wrapStoreError("delete instances past boundary", err)
	}
	records = append(records, ChangeRecord{
		Title:      oldBase.Title,
		Category:   CategoryRecurrenceBase,
		Operation:  OpSeriesDeleted,
		Transition: TransitionBaseConfirmed,
	})

	// 2. The continuing series, when the provider delivered it in the same
	// batch, is created like any new series.
	if a.NewBaseEvent != nil {
		created, err := p.createSeries(ctx, userID, a.NewBaseEvent)
		if err != nil {
			return records, err
		}
		for i := range created {
			created[i].Transition = TransitionBaseConfirmed
		}
		records = append(records, created...)
	}

	// 3. The truncated rule lands on the old base.
	oldBase.Recurrence = &Recurrence{
		Rule:    append([]string(nil), a.BaseEvent.Recurrence...),
		EventID: oldBase.ID,
	}
	oldBase.UpdatedAt = time.Now().UTC()
	if err := p.store.Update(ctx, oldBase); err != nil {
		return records, wrapStoreError("update truncated base", err)
	}
	records = append(records, ChangeRecord{
		Title:      oldBase.Title,
		Category:   CategoryRecurrenceBase,
		Operation:  OpBaseUpdated,
		Transition: TransitionBaseConfirmed,
	})

	// 4. The remaining timed occurrences of the old series are regenerated up
	// to the boundary so the local grid matches the shortened rule.
	if !oldBase.IsAllDay {
		rule, rerr := NewRule(oldBase)
		if rerr != nil {
			return records, rerr
		}
		occurrences := rule.Between(oldBase.StartDate, boundary)
		if len(occurrences) > maxRegeneratedInstances {
			occurrences = occurrences[:maxRegeneratedInstances]
		}
		regenerated := make([]*Event, 0, len(occurrences))
		for _, occ := range occurrences {
			if !occ.Before(boundary) {
				continue
			}
			regenerated = append(regenerated, instanceOf(oldBase, occ))
		}
		if len(regenerated) > 0 {
			if err := p.store.BulkUpsert(ctx, regenerated); err != nil {
				return records, wrapStoreError("regenerate timed instances", err)
			}
		}
	}
	records = append(records, ChangeRecord{
		Title:      oldBase.Title,
		Category:   CategoryRecurrenceBase,
		Operation:  OpTimedInstancesUpdated,
		Transition: TransitionBaseConfirmed,
	})

	return records, nil
}

func (p *Processor) deleteSeries(ctx context.Context, userID string, items []*gcal.Event) ([]ChangeRecord, error) {
	var cancelled *gcal.Event
	for _, item := range items {
		if item.Status == statusCancelled && item.RecurringEventId == "" {
			cancelled = item
			break
		}
	}
	if cancelled == nil {
		return nil, newShapeError("delete-series batch has no cancelled root", "")
	}

	base, err := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: cancelled.Id})
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			// Already gone; webhook re-delivery is a no-op.
			return nil, nil
		}
		return nil, wrapStoreError("find series base", err)
	}

	if err := p.store.CascadeDeleteByBase(ctx, userID, base.ID); err != nil {
		return nil, wrapStoreError("cascade delete series", err)
	}

	return []ChangeRecord{{
		Category:   CategoryRecurrenceBase,
		Operation:  OpSeriesDeleted,
		Transition: TransitionBaseCancelled,
	}}, nil
}

func (p *Processor) deleteInstances(ctx context.Context, userID string, a *Analysis) ([]ChangeRecord, error) {
	item := a.ModifiedInstance

	if _, err := p.store.Delete(ctx, EventFilter{UserID: userID, ExternalID: item.Id}); err != nil {
		return nil, wrapStoreError("delete instance", err)
	}

	// A truncation that arrived with the cancellation still has to land on
	// the base rule.
	if a.BaseEvent != nil {
		base, err := p.store.FindOne(ctx, EventFilter{UserID: userID, ExternalID: a.BaseEvent.Id})
		if err == nil {
			base.Recurrence = &Recurrence{
				Rule:    append([]string(nil), a.BaseEvent.Recurrence...),
				EventID: base.ID,
			}
			base.UpdatedAt = time.Now().UTC()
			if uerr := p.store.Update(ctx, base); uerr != nil {
				return nil, wrapStoreError("update truncated base", uerr)
			}
		} else if !errors.Is(err, ErrEventNotFound) {
			return nil, wrapStoreError("find series base", err)
		}
	}

	return []ChangeRecord{{
		Title:      item.Summary,
		Category:   CategoryRecurrenceInstance,
		Operation:  OpInstanceDeleted,
		Transition: TransitionInstanceCancelled,
	}}, nil
}

// instanceOf materializes one occurrence of a series as an instance event.
func instanceOf(base *Event, start time.Time) *Event {
	occStart := start
	inst := &Event{
		ID:          uuid.NewString(),
		UserID:      base.UserID,
		CalendarID:  base.CalendarID,
		Title:       base.Title,
		Description: base.Description,
		StartDate:   start,
		EndDate:     start.Add(base.Duration()),
		IsAllDay:    base.IsAllDay,
		Origin:      base.Origin,
		Priority:    base.Priority,
		UpdatedAt:   time.Now().UTC(),
		Recurrence:  &Recurrence{EventID: base.ID},
	}
	inst.OriginalStartDate = &occStart
	if ext := base.ExternalID(); ext != "" {
		inst.Metadata = &Metadata{
			ExternalID:          fmt.Sprintf("%s_%s", ext, start.UTC().Format(UntilLayout)),
			ExternalRecurringID: ext,
		}
	}
	return inst
}
