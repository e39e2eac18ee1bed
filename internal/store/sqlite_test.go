package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SwitchbackTech/compass-sub010/internal/calendar"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	return NewEventStore(db)
}

func seedBase(id, externalID string, start time.Time) *calendar.Event {
	return &calendar.Event{
		ID:        id,
		UserID:    "user-1",
		Title:     "Standup",
		StartDate: start,
		EndDate:   start.Add(30 * time.Minute),
		Recurrence: &calendar.Recurrence{
			Rule:    []string{"RRULE:FREQ=DAILY"},
			EventID: id,
		},
		Metadata: &calendar.Metadata{ExternalID: externalID},
	}
}

func seedInstance(id, baseID, externalID string, start time.Time) *calendar.Event {
	return &calendar.Event{
		ID:         id,
		UserID:     "user-1",
		Title:      "Standup",
		StartDate:  start,
		EndDate:    start.Add(30 * time.Minute),
		Recurrence: &calendar.Recurrence{EventID: baseID},
		Metadata:   &calendar.Metadata{ExternalID: externalID},
	}
}

func TestEventStore_FindByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, seedBase("base-1", "ext-base", start)))

	found, err := s.FindOne(ctx, calendar.EventFilter{UserID: "user-1", ExternalID: "ext-base"})
	require.NoError(t, err)
	assert.Equal(t, "base-1", found.ID)
	require.NotNil(t, found.Recurrence)
	assert.Equal(t, []string{"RRULE:FREQ=DAILY"}, found.Recurrence.Rule)

	_, err = s.FindOne(ctx, calendar.EventFilter{UserID: "user-2", ExternalID: "ext-base"})
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}

func TestEventStore_BaseFilterExcludesAnchor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, seedBase("base-1", "ext-base", start)))
	require.NoError(t, s.Insert(ctx, seedInstance("inst-1", "base-1", "ext-i1", start.Add(24*time.Hour))))
	require.NoError(t, s.Insert(ctx, seedInstance("inst-2", "base-1", "ext-i2", start.Add(48*time.Hour))))

	instances, err := s.Find(ctx, calendar.EventFilter{UserID: "user-1", BaseID: "base-1"})
	require.NoError(t, err)
	require.Len(t, instances, 2, "anchor row must not match its own base filter")
	assert.Equal(t, "inst-1", instances[0].ID)
	assert.Equal(t, "inst-2", instances[1].ID)
}

func TestEventStore_StartAtOrAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, seedBase("base-1", "ext-base", start)))
	require.NoError(t, s.Insert(ctx, seedInstance("inst-1", "base-1", "ext-i1", start.Add(24*time.Hour))))
	require.NoError(t, s.Insert(ctx, seedInstance("inst-2", "base-1", "ext-i2", start.Add(72*time.Hour))))

	boundary := start.Add(48 * time.Hour)
	n, err := s.Delete(ctx, calendar.EventFilter{UserID: "user-1", BaseID: "base-1", StartAtOrAfter: &boundary})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	remaining, err := s.Find(ctx, calendar.EventFilter{UserID: "user-1", BaseID: "base-1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "inst-1", remaining[0].ID)
}

func TestEventStore_UpsertKeepsIdentityOnRedelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, seedBase("base-1", "ext-base", start)))

	// The same provider event arrives again under a fresh internal id.
	redelivered := seedBase("base-other", "ext-base", start)
	redelivered.Title = "Standup v2"
	require.NoError(t, s.Upsert(ctx, redelivered))

	events, err := s.Find(ctx, calendar.EventFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, events, 1, "redelivery must not duplicate the row")
	assert.Equal(t, "base-1", events[0].ID, "stored identity wins")
	assert.Equal(t, "Standup v2", events[0].Title)
	assert.Equal(t, "base-1", events[0].Recurrence.EventID, "series anchor repointed to the kept id")
}

func TestEventStore_BulkUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	batch := []*calendar.Event{
		seedBase("base-1", "ext-base", start),
		seedInstance("inst-1", "base-1", "ext-i1", start.Add(24*time.Hour)),
	}
	require.NoError(t, s.BulkUpsert(ctx, batch))
	require.NoError(t, s.BulkUpsert(ctx, batch))

	events, err := s.Find(ctx, calendar.EventFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventStore_CascadeDeleteByBase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, seedBase("base-1", "ext-base", start)))
	require.NoError(t, s.Insert(ctx, seedInstance("inst-1", "base-1", "ext-i1", start.Add(24*time.Hour))))
	require.NoError(t, s.Insert(ctx, seedBase("base-2", "ext-other", start)))

	require.NoError(t, s.CascadeDeleteByBase(ctx, "user-1", "base-1"))

	events, err := s.Find(ctx, calendar.EventFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, events, 1, "unrelated series survives the cascade")
	assert.Equal(t, "base-2", events[0].ID)
}
