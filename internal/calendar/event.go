package calendar

import (
	"time"
)

// Origin identifies which system created an event.
type Origin string

const (
	OriginGoogle      Origin = "google"
	OriginLocal       Origin = "compass"
	OriginImport      Origin = "google_import"
	OriginUnspecified Origin = "unsure"
)

// Priority buckets events for the UI; the reconciliation engine only carries it along.
type Priority string

const (
	PriorityUnassigned Priority = "unassigned"
	PriorityWork       Priority = "work"
	PriorityRelations  Priority = "relations"
	PrioritySelf       Priority = "self"
)

// Recurrence is the optional sub-structure that makes an event part of a series.
//
// A base event carries a non-empty Rule and its own ID in EventID (the stable
// series anchor). An instance carries only EventID, pointing at its base; the
// rule is inherited from the base and never duplicated onto the instance.
type Recurrence struct {
	Rule    []string `json:"rule,omitempty"`
	EventID string   `json:"eventId,omitempty"`
}

// Metadata holds provider-side identifiers for an event that has been synced.
type Metadata struct {
	// ExternalID is the provider's id for this event.
	ExternalID string `json:"externalId,omitempty"`
	// ExternalRecurringID is the provider's id for the recurring root, set on
	// instances of a provider-managed series.
	ExternalRecurringID string `json:"externalRecurringId,omitempty"`
}

// Event is the internal, persisted representation of a calendar item.
//
// Exactly one of three shapes applies, reported by Kind: a Regular event has no
// Recurrence, a Base carries the series rule, an Instance links to its base.
type Event struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	UserID      string `gorm:"index:idx_events_user_calendar"`
	CalendarID  string `gorm:"index:idx_events_user_calendar"`
	Title       string
	Description string

	StartDate time.Time
	EndDate   time.Time
	IsAllDay  bool

	// IsSomeday marks a backlog item that lives outside the calendar grid.
	// Someday events never participate in recurrence.
	IsSomeday bool

	Origin   Origin
	Priority Priority

	UpdatedAt time.Time

	Recurrence *Recurrence `gorm:"serializer:json"`

	// OriginalStartDate is the unmodified occurrence time an instance was
	// generated for. It survives edits to the instance's own start so that
	// drift against the base rule stays detectable.
	OriginalStartDate *time.Time

	Metadata *Metadata `gorm:"serializer:json"`
}

// EventKind narrows the three event shapes.
type EventKind int

const (
	KindRegular EventKind = iota
	KindBase
	KindInstance
)

func (k EventKind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindInstance:
		return "instance"
	default:
		return "regular"
	}
}

// Kind reports the structural shape of the event.
func (e *Event) Kind() EventKind {
	switch {
	case e.Recurrence == nil:
		return KindRegular
	case len(e.Recurrence.Rule) > 0:
		return KindBase
	default:
		return KindInstance
	}
}

// BaseID returns the id of the series anchor this event belongs to. For a base
// that is its own id; for a regular event it is empty.
func (e *Event) BaseID() string {
	if e.Recurrence == nil {
		return ""
	}
	return e.Recurrence.EventID
}

// HasBaseLink reports whether the event points at a series anchor other than
// itself, i.e. whether it is an instance of some base.
func (e *Event) HasBaseLink() bool {
	return e.Recurrence != nil && e.Recurrence.EventID != "" && e.Recurrence.EventID != e.ID
}

// ExternalID returns the provider id, or the empty string for purely local events.
func (e *Event) ExternalID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.ExternalID
}

// ExternalRecurringID returns the provider's recurring-root id, if any.
func (e *Event) ExternalRecurringID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.ExternalRecurringID
}

// Duration returns the event's occurrence length.
func (e *Event) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	out := *e
	if e.Recurrence != nil {
		rec := Recurrence{EventID: e.Recurrence.EventID}
		if e.Recurrence.Rule != nil {
			rec.Rule = append([]string(nil), e.Recurrence.Rule...)
		}
		out.Recurrence = &rec
	}
	if e.Metadata != nil {
		meta := *e.Metadata
		out.Metadata = &meta
	}
	if e.OriginalStartDate != nil {
		t := *e.OriginalStartDate
		out.OriginalStartDate = &t
	}
	return &out
}
