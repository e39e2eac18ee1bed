package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
)

func timedItem(id, summary string, start time.Time) *gcal.Event {
	return &gcal.Event{
		Id:      id,
		Summary: summary,
		Status:  "confirmed",
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}
}

func TestToEvent_Regular(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	item := timedItem("ext-1", "Dentist", start)

	e, err := ToEvent(item, MapOptions{UserID: "user-1", CalendarID: "primary", Origin: OriginGoogle})
	require.NoError(t, err)

	assert.Equal(t, KindRegular, e.Kind())
	assert.Equal(t, "Dentist", e.Title)
	assert.Equal(t, start, e.StartDate)
	assert.Equal(t, "ext-1", e.ExternalID())
	assert.False(t, e.IsAllDay)
	assert.NotEmpty(t, e.ID)
}

func TestToEvent_AllDay(t *testing.T) {
	item := &gcal.Event{
		Id:    "ext-2",
		Start: &gcal.EventDateTime{Date: "2024-03-01"},
		End:   &gcal.EventDateTime{Date: "2024-03-02"},
	}

	e, err := ToEvent(item, MapOptions{UserID: "user-1", Origin: OriginGoogle})
	require.NoError(t, err)
	assert.True(t, e.IsAllDay)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), e.StartDate)
}

func TestToEvent_BaseAnchorsToItself(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	item := timedItem("ext-base", "Standup", start)
	item.Recurrence = []string{"RRULE:FREQ=DAILY"}

	e, err := ToEvent(item, MapOptions{UserID: "user-1", Origin: OriginGoogle})
	require.NoError(t, err)

	assert.Equal(t, KindBase, e.Kind())
	assert.Equal(t, e.ID, e.Recurrence.EventID)
	assert.Equal(t, []string{"RRULE:FREQ=DAILY"}, e.Recurrence.Rule)
}

func TestToEvent_InstanceNeedsResolvedBase(t *testing.T) {
	start := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	item := timedItem("ext-base_20240302T090000Z", "Standup", start)
	item.RecurringEventId = "ext-base"

	_, err := ToEvent(item, MapOptions{UserID: "user-1", Origin: OriginGoogle})
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))

	e, err := ToEvent(item, MapOptions{
		UserID:     "user-1",
		Origin:     OriginGoogle,
		Recurrence: &Recurrence{EventID: "local-base"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindInstance, e.Kind())
	assert.Equal(t, "local-base", e.BaseID())
	assert.Equal(t, "ext-base", e.ExternalRecurringID())
}

func TestToEvent_MissingID(t *testing.T) {
	_, err := ToEvent(&gcal.Event{}, MapOptions{UserID: "user-1"})
	require.Error(t, err)
	assert.True(t, IsShapeError(err))
}

func TestToEvents_OrderAndLinkage(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	base := timedItem("ext-base", "Standup", start)
	base.Recurrence = []string{"RRULE:FREQ=DAILY"}

	instance := timedItem("ext-base_20240302T090000Z", "Standup", start.Add(24*time.Hour))
	instance.RecurringEventId = "ext-base"

	regular := timedItem("ext-reg", "Dentist", start.Add(2*time.Hour))

	cancelled := timedItem("ext-gone", "Old", start)
	cancelled.Status = "cancelled"

	// Instances arrive before their base; the mapper must not care.
	events, err := ToEvents("user-1", "primary", []*gcal.Event{instance, cancelled, base, regular}, OriginImport)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, KindRegular, events[0].Kind())
	assert.Equal(t, KindBase, events[1].Kind())
	assert.Equal(t, KindInstance, events[2].Kind())
	assert.Equal(t, events[1].ID, events[2].BaseID())
}

func TestToEvents_InstanceWithoutBase(t *testing.T) {
	start := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	instance := timedItem("ext-orphan", "Standup", start)
	instance.RecurringEventId = "ext-missing"

	_, err := ToEvents("user-1", "primary", []*gcal.Event{instance}, OriginImport)
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))
	assert.Contains(t, err.Error(), "base event not found for instance")
}

func TestFromEvent_Base(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &Event{
		ID:         "local-base",
		Title:      "Standup",
		StartDate:  start,
		EndDate:    start.Add(30 * time.Minute),
		Recurrence: &Recurrence{Rule: []string{"RRULE:FREQ=DAILY"}, EventID: "local-base"},
		Metadata:   &Metadata{ExternalID: "ext-base"},
	}

	out := FromEvent(e, FromEventOptions{})
	assert.Equal(t, "ext-base", out.Id)
	assert.Equal(t, []string{"RRULE:FREQ=DAILY"}, out.Recurrence)
	assert.Equal(t, "confirmed", out.Status)
}

func TestFromEvent_InstanceSynthesizesID(t *testing.T) {
	start := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	base := &Event{
		ID:       "local-base",
		Metadata: &Metadata{ExternalID: "ext-base"},
	}
	e := &Event{
		ID:                "local-inst",
		StartDate:         start,
		EndDate:           start.Add(30 * time.Minute),
		Recurrence:        &Recurrence{EventID: "local-base"},
		OriginalStartDate: &start,
	}

	out := FromEvent(e, FromEventOptions{Base: base})
	assert.Equal(t, "ext-base_20240302T090000Z", out.Id)
	assert.Equal(t, "ext-base", out.RecurringEventId)
	require.NotNil(t, out.OriginalStartTime)
	assert.Empty(t, out.Recurrence, "instances never carry a rule outward")
}

func TestFromEvent_ClearRecurrence(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &Event{
		ID:        "local-1",
		StartDate: start,
		EndDate:   start.Add(time.Hour),
		Metadata:  &Metadata{ExternalID: "ext-1"},
	}

	out := FromEvent(e, FromEventOptions{ClearRecurrence: true})
	assert.Nil(t, out.Recurrence)
	assert.Contains(t, out.ForceSendFields, "Recurrence")
}

func TestRoundTrip_BasePreservesShape(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	original := &Event{
		ID:          "local-base",
		UserID:      "user-1",
		CalendarID:  "primary",
		Title:       "Standup",
		Description: "Daily sync",
		StartDate:   start,
		EndDate:     start.Add(30 * time.Minute),
		Recurrence:  &Recurrence{Rule: []string{"RRULE:FREQ=DAILY"}, EventID: "local-base"},
	}

	wire := FromEvent(original, FromEventOptions{})
	back, err := ToEvent(wire, MapOptions{UserID: "user-1", CalendarID: "primary", Origin: OriginLocal})
	require.NoError(t, err)

	assert.Equal(t, original.Title, back.Title)
	assert.Equal(t, original.Description, back.Description)
	assert.Equal(t, original.StartDate, back.StartDate)
	assert.Equal(t, original.EndDate, back.EndDate)
	assert.Equal(t, KindBase, back.Kind())
	assert.Equal(t, original.Recurrence.Rule, back.Recurrence.Rule)
}

func TestFromEvent_FallsBackToInternalID(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &Event{ID: "local-only", StartDate: start, EndDate: start.Add(time.Hour)}

	out := FromEvent(e, FromEventOptions{})
	assert.Equal(t, "local-only", out.Id)
}
