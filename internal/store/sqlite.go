// Package store persists calendar events in SQLite through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SwitchbackTech/compass-sub010/internal/calendar"
)

// NewDB opens the SQLite database and runs migrations.
func NewDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "compass.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(&calendar.Event{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return db, nil
}

// ensureDirForSQLite creates the parent dir for the SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// EventStore is the gorm-backed implementation of calendar.EventStore.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

var _ calendar.EventStore = (*EventStore)(nil)

// scope translates an EventFilter into a gorm query. Recurrence and metadata
// live in JSON columns, so linkage filters go through json_extract.
func (s *EventStore) scope(ctx context.Context, f calendar.EventFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&calendar.Event{}).Where("user_id = ?", f.UserID)
	if f.CalendarID != "" {
		q = q.Where("calendar_id = ?", f.CalendarID)
	}
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if f.ExternalID != "" {
		q = q.Where("json_extract(metadata, '$.externalId') = ?", f.ExternalID)
	}
	if f.BaseID != "" {
		// Instances only: the anchor row references itself and is excluded.
		q = q.Where("json_extract(recurrence, '$.eventId') = ? AND id <> ?", f.BaseID, f.BaseID)
	}
	if f.StartAtOrAfter != nil {
		q = q.Where("start_date >= ?", f.StartAtOrAfter.UTC())
	}
	return q
}

func (s *EventStore) Find(ctx context.Context, f calendar.EventFilter) ([]*calendar.Event, error) {
	var events []*calendar.Event
	if err := s.scope(ctx, f).Order("start_date").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return events, nil
}

func (s *EventStore) FindOne(ctx context.Context, f calendar.EventFilter) (*calendar.Event, error) {
	var e calendar.Event
	if err := s.scope(ctx, f).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, calendar.ErrEventNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &e, nil
}

func (s *EventStore) Insert(ctx context.Context, e *calendar.Event) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Upsert writes the event keyed on its provider id when present and on the
// internal id otherwise. An existing row keeps its internal identity so
// series linkage survives webhook re-delivery.
func (s *EventStore) Upsert(ctx context.Context, e *calendar.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertTx(ctx, tx, e)
	})
}

func (s *EventStore) BulkUpsert(ctx context.Context, events []*calendar.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range events {
			if err := upsertTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertTx(ctx context.Context, tx *gorm.DB, e *calendar.Event) error {
	var existing calendar.Event
	q := tx.WithContext(ctx).Where("user_id = ?", e.UserID)
	if ext := e.ExternalID(); ext != "" {
		q = q.Where("json_extract(metadata, '$.externalId') = ?", ext)
	} else {
		q = q.Where("id = ?", e.ID)
	}

	err := q.First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("upsert insert: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("upsert lookup: %w", err)
	}

	// Re-delivery: keep the stored identity, take the incoming fields. A
	// base keeps its id as the series anchor other instances point at.
	e.ID = existing.ID
	if e.Recurrence != nil && len(e.Recurrence.Rule) > 0 {
		e.Recurrence.EventID = existing.ID
	}
	if err := tx.Save(e).Error; err != nil {
		return fmt.Errorf("upsert save: %w", err)
	}
	return nil
}

func (s *EventStore) Update(ctx context.Context, e *calendar.Event) error {
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

func (s *EventStore) Delete(ctx context.Context, f calendar.EventFilter) (int64, error) {
	res := s.scope(ctx, f).Delete(&calendar.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CascadeDeleteByBase removes the series anchor and every instance that
// references it in one transaction.
func (s *EventStore) CascadeDeleteByBase(ctx context.Context, userID, baseID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND json_extract(recurrence, '$.eventId') = ?", userID, baseID).
			Delete(&calendar.Event{}).Error; err != nil {
			return fmt.Errorf("cascade delete instances: %w", err)
		}
		if err := tx.Where("user_id = ? AND id = ?", userID, baseID).
			Delete(&calendar.Event{}).Error; err != nil {
			return fmt.Errorf("cascade delete base: %w", err)
		}
		return nil
	})
}
