package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	gcal "google.golang.org/api/calendar/v3"
)

// WatchManager owns the lifecycle of provider watch channels: registration,
// cron-driven renewal before expiry, and teardown. Channel bookkeeping lives
// here so the reconciliation core never sees it.
type WatchManager struct {
	client  *Client
	address string
	cron    *cron.Cron
	log     *slog.Logger

	mu       sync.Mutex
	channels map[string]*gcal.Channel // calendarID -> active channel
}

// NewWatchManager schedules channel renewal on the given cron spec (e.g.
// "0 */6 * * *") against the webhook address.
func NewWatchManager(client *Client, address, renewSpec string, log *slog.Logger) (*WatchManager, error) {
	if log == nil {
		log = slog.Default()
	}

	m := &WatchManager{
		client:   client,
		address:  address,
		cron:     cron.New(),
		log:      log,
		channels: make(map[string]*gcal.Channel),
	}

	if _, err := m.cron.AddFunc(renewSpec, m.renewAll); err != nil {
		return nil, err
	}

	return m, nil
}

// Register opens a watch channel for the calendar, replacing any channel this
// manager already holds for it.
func (m *WatchManager) Register(ctx context.Context, calendarID string) error {
	ch, err := m.client.Watch(ctx, calendarID, uuid.NewString(), m.address)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.channels[calendarID]
	m.channels[calendarID] = ch
	m.mu.Unlock()

	if old != nil {
		if err := m.client.StopChannel(ctx, old); err != nil {
			m.log.Warn("failed to stop superseded watch channel", "calendar", calendarID, "error", err)
		}
	}

	m.log.Info("watch channel registered",
		"calendar", calendarID, "channel", ch.Id, "expiration", ch.Expiration)
	return nil
}

// Stop tears down the watch channel for the calendar, if any.
func (m *WatchManager) Stop(ctx context.Context, calendarID string) error {
	m.mu.Lock()
	ch := m.channels[calendarID]
	delete(m.channels, calendarID)
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	return m.client.StopChannel(ctx, ch)
}

// Start begins the renewal schedule.
func (m *WatchManager) Start() {
	m.cron.Start()
}

// Shutdown stops the renewal schedule and every active channel.
func (m *WatchManager) Shutdown(ctx context.Context) {
	m.cron.Stop()

	m.mu.Lock()
	calendars := make([]string, 0, len(m.channels))
	for id := range m.channels {
		calendars = append(calendars, id)
	}
	m.mu.Unlock()

	for _, id := range calendars {
		if err := m.Stop(ctx, id); err != nil {
			m.log.Warn("failed to stop watch channel", "calendar", id, "error", err)
		}
	}
}

func (m *WatchManager) renewAll() {
	m.mu.Lock()
	calendars := make([]string, 0, len(m.channels))
	for id := range m.channels {
		calendars = append(calendars, id)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range calendars {
		if err := m.Register(ctx, id); err != nil {
			m.log.Error("watch channel renewal failed", "calendar", id, "error", err)
		}
	}
}
