package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
)

const (
	statusCancelled = "cancelled"
	dateOnlyLayout  = "2006-01-02"
)

// MapOptions carries the context a single provider item cannot supply itself.
type MapOptions struct {
	UserID     string
	CalendarID string
	Origin     Origin

	// Recurrence is the resolved base link for instance items. ToEvent fails
	// on an instance when the caller does not supply it.
	Recurrence *Recurrence
}

// ToEvent translates one provider event into the internal model.
//
// The item is classified as base (has a rule, no parent id), instance (has a
// parent id) or regular. Instances take their series link from
// opts.Recurrence and their OriginalStartDate from the provider's
// original-occurrence time.
func ToEvent(item *gcal.Event, opts MapOptions) (*Event, error) {
	if item.Id == "" {
		return nil, newShapeError("external event has no usable identifier", "")
	}

	start, end, allDay, err := mapEventTimes(item)
	if err != nil {
		return nil, &Error{Code: ErrCodeShape, Message: "unparseable event times", EventID: item.Id, Err: err}
	}

	e := &Event{
		ID:          uuid.NewString(),
		UserID:      opts.UserID,
		CalendarID:  opts.CalendarID,
		Title:       item.Summary,
		Description: item.Description,
		StartDate:   start,
		EndDate:     end,
		IsAllDay:    allDay,
		Origin:      opts.Origin,
		Priority:    PriorityUnassigned,
		UpdatedAt:   time.Now().UTC(),
		Metadata:    &Metadata{ExternalID: item.Id},
	}

	switch {
	case item.RecurringEventId != "":
		if opts.Recurrence == nil || opts.Recurrence.EventID == "" {
			return nil, newResolutionError("instance mapped without a resolved base", item.Id)
		}
		e.Recurrence = &Recurrence{EventID: opts.Recurrence.EventID}
		e.Metadata.ExternalRecurringID = item.RecurringEventId
		if item.OriginalStartTime != nil {
			if orig, _, _, oerr := parseEventDateTime(item.OriginalStartTime); oerr == nil {
				e.OriginalStartDate = &orig
			}
		}
	case len(item.Recurrence) > 0:
		e.Recurrence = &Recurrence{
			Rule:    append([]string(nil), item.Recurrence...),
			EventID: e.ID,
		}
	}

	return e, nil
}

// ToEvents translates a provider batch, dropping cancelled items and resolving
// every instance against a base mapped from the same batch.
//
// The output order is deterministic: regular events, then bases, then
// instances. Downstream upserts rely on it so a partially-applied batch never
// leaves an instance referencing a base that does not exist yet.
func ToEvents(userID, calendarID string, items []*gcal.Event, origin Origin) ([]*Event, error) {
	var regular, bases, instances []*gcal.Event
	for _, item := range items {
		switch {
		case item.Status == statusCancelled:
			// Cancelled occurrences only ever trigger deletions; they never
			// materialize as rows.
		case item.RecurringEventId != "":
			instances = append(instances, item)
		case len(item.Recurrence) > 0:
			bases = append(bases, item)
		default:
			regular = append(regular, item)
		}
	}

	opts := MapOptions{UserID: userID, CalendarID: calendarID, Origin: origin}
	out := make([]*Event, 0, len(regular)+len(bases)+len(instances))
	baseByExternalID := make(map[string]*Event, len(bases))

	for _, item := range regular {
		e, err := ToEvent(item, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for _, item := range bases {
		e, err := ToEvent(item, opts)
		if err != nil {
			return nil, err
		}
		baseByExternalID[item.Id] = e
		out = append(out, e)
	}
	for _, item := range instances {
		base, ok := baseByExternalID[item.RecurringEventId]
		if !ok {
			return nil, newResolutionError(
				fmt.Sprintf("base event not found for instance (parent=%s)", item.RecurringEventId),
				item.Id,
			)
		}
		instOpts := opts
		instOpts.Recurrence = &Recurrence{EventID: base.ID}
		e, err := ToEvent(item, instOpts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, nil
}

// FromEventOptions adjusts the outbound projection of an internal event.
type FromEventOptions struct {
	// Base is the resolved series anchor, needed to synthesize deterministic
	// provider ids for instances created locally.
	Base *Event

	// ClearRecurrence forces an explicit null recurrence onto the wire, the
	// provider-side signal that a series was detached.
	ClearRecurrence bool
}

// FromEvent projects an internal event into the provider's shape for
// push-back.
//
// Only bases carry a rule outward; the provider derives instance recurrence
// from the parent. Events with no provider metadata yet get a deterministic
// id: `<baseExternalID>_<startUTCCompact>` for instances, the internal id
// otherwise.
func FromEvent(e *Event, opts FromEventOptions) *gcal.Event {
	out := &gcal.Event{
		Summary:     e.Title,
		Description: e.Description,
		Status:      "confirmed",
	}

	if e.IsAllDay {
		out.Start = &gcal.EventDateTime{Date: e.StartDate.Format(dateOnlyLayout)}
		out.End = &gcal.EventDateTime{Date: e.EndDate.Format(dateOnlyLayout)}
	} else {
		out.Start = &gcal.EventDateTime{DateTime: e.StartDate.Format(time.RFC3339), TimeZone: "UTC"}
		out.End = &gcal.EventDateTime{DateTime: e.EndDate.Format(time.RFC3339), TimeZone: "UTC"}
	}

	if e.Kind() == KindBase {
		out.Recurrence = append([]string(nil), e.Recurrence.Rule...)
	}
	if opts.ClearRecurrence {
		out.Recurrence = nil
		out.ForceSendFields = append(out.ForceSendFields, "Recurrence")
	}

	out.Id = e.ExternalID()
	if e.Kind() == KindInstance {
		baseExternalID := e.ExternalRecurringID()
		if baseExternalID == "" && opts.Base != nil {
			baseExternalID = opts.Base.ExternalID()
		}
		out.RecurringEventId = baseExternalID
		if out.Id == "" && baseExternalID != "" {
			out.Id = fmt.Sprintf("%s_%s", baseExternalID, e.StartDate.UTC().Format(UntilLayout))
		}
		if e.OriginalStartDate != nil {
			out.OriginalStartTime = &gcal.EventDateTime{
				DateTime: e.OriginalStartDate.UTC().Format(time.RFC3339),
				TimeZone: "UTC",
			}
		}
	}
	if out.Id == "" {
		out.Id = e.ID
	}

	return out
}

func mapEventTimes(item *gcal.Event) (start, end time.Time, allDay bool, err error) {
	if item.Start == nil || item.End == nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("event %s is missing start or end", item.Id)
	}
	start, _, allDay, err = parseEventDateTime(item.Start)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	end, _, _, err = parseEventDateTime(item.End)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return start, end, allDay, nil
}

func parseEventDateTime(edt *gcal.EventDateTime) (t time.Time, tz string, allDay bool, err error) {
	if edt.Date != "" {
		t, err = time.Parse(dateOnlyLayout, edt.Date)
		return t, edt.TimeZone, true, err
	}
	t, err = time.Parse(time.RFC3339, edt.DateTime)
	return t, edt.TimeZone, false, err
}
