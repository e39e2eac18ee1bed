package googlecaltest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func newTestService(t *testing.T, server *Server) *calendar.Service {
	t.Helper()
	svc, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(&http.Client{}),
		option.WithEndpoint(server.URL))
	if err != nil {
		t.Fatalf("failed to create calendar service: %v", err)
	}
	return svc
}

func timedEvent(summary string, start time.Time) *calendar.Event {
	return &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}
}

func TestServer_InsertAndGet(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	created, err := svc.Events.Insert("primary", timedEvent("Standup", time.Now())).Do()
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	if created.Id == "" {
		t.Error("expected event ID to be set")
	}
	if created.Status != "confirmed" {
		t.Errorf("expected status 'confirmed', got %q", created.Status)
	}

	fetched, err := svc.Events.Get("primary", created.Id).Do()
	if err != nil {
		t.Fatalf("failed to get event: %v", err)
	}
	if fetched.Summary != "Standup" {
		t.Errorf("expected summary 'Standup', got %q", fetched.Summary)
	}
}

func TestServer_ListPagination(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	baseTime := time.Now()
	for i := 0; i < 10; i++ {
		if _, err := svc.Events.Insert("primary",
			timedEvent("Event "+string(rune('A'+i)), baseTime.Add(time.Duration(i)*time.Hour))).Do(); err != nil {
			t.Fatalf("failed to insert event %d: %v", i, err)
		}
	}

	var all []*calendar.Event
	pageToken := ""
	for {
		call := svc.Events.List("primary").MaxResults(3)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			t.Fatalf("failed to list events: %v", err)
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			if page.NextSyncToken == "" {
				t.Error("expected sync token on the final page")
			}
			break
		}
		pageToken = page.NextPageToken
	}

	if len(all) != 10 {
		t.Errorf("expected 10 events across pages, got %d", len(all))
	}
}

func TestServer_DeleteLeavesTombstone(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	created, err := svc.Events.Insert("primary", timedEvent("Doomed", time.Now())).Do()
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	if err := svc.Events.Delete("primary", created.Id).Do(); err != nil {
		t.Fatalf("failed to delete event: %v", err)
	}

	// Default listing hides the tombstone.
	visible, err := svc.Events.List("primary").Do()
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(visible.Items) != 0 {
		t.Errorf("expected no visible events, got %d", len(visible.Items))
	}

	// showDeleted surfaces it as cancelled.
	withDeleted, err := svc.Events.List("primary").ShowDeleted(true).Do()
	if err != nil {
		t.Fatalf("failed to list with showDeleted: %v", err)
	}
	if len(withDeleted.Items) != 1 || withDeleted.Items[0].Status != "cancelled" {
		t.Errorf("expected one cancelled tombstone, got %+v", withDeleted.Items)
	}
}

func TestServer_SyncTokenDelta(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	first, err := svc.Events.Insert("primary", timedEvent("Before", time.Now())).Do()
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	page, err := svc.Events.List("primary").Do()
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	token := page.NextSyncToken
	if token == "" {
		t.Fatal("expected sync token from full listing")
	}

	// No changes yet: the delta is empty.
	delta, err := svc.Events.List("primary").SyncToken(token).Do()
	if err != nil {
		t.Fatalf("failed to list delta: %v", err)
	}
	if len(delta.Items) != 0 {
		t.Errorf("expected empty delta, got %d items", len(delta.Items))
	}

	if _, err := svc.Events.Insert("primary", timedEvent("After", time.Now())).Do(); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	if err := svc.Events.Delete("primary", first.Id).Do(); err != nil {
		t.Fatalf("failed to delete event: %v", err)
	}

	delta, err = svc.Events.List("primary").SyncToken(token).ShowDeleted(true).Do()
	if err != nil {
		t.Fatalf("failed to list delta: %v", err)
	}
	if len(delta.Items) != 2 {
		t.Fatalf("expected 2 changed events in delta, got %d", len(delta.Items))
	}
}

func TestServer_ExpiredSyncToken(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	page, err := svc.Events.List("primary").Do()
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}

	server.ExpireSyncTokens()

	_, err = svc.Events.List("primary").SyncToken(page.NextSyncToken).Do()
	if err == nil {
		t.Fatal("expected error for expired sync token")
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusGone {
		t.Errorf("expected 410 Gone, got %v", err)
	}
}

func TestServer_WatchChannels(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	ch, err := svc.Events.Watch("primary", &calendar.Channel{
		Id:      "chan-1",
		Type:    "web_hook",
		Address: "https://example.com/notifications",
	}).Do()
	if err != nil {
		t.Fatalf("failed to register watch channel: %v", err)
	}
	if ch.Expiration == 0 {
		t.Error("expected channel expiration to be set")
	}

	if got := server.ActiveChannels(); len(got) != 1 || got[0] != "chan-1" {
		t.Errorf("expected active channel chan-1, got %v", got)
	}

	if err := svc.Channels.Stop(ch).Do(); err != nil {
		t.Fatalf("failed to stop channel: %v", err)
	}
	if got := server.ActiveChannels(); len(got) != 0 {
		t.Errorf("expected no active channels, got %v", got)
	}
}

func TestServer_Reset(t *testing.T) {
	server := NewServer()
	defer server.Close()
	svc := newTestService(t, server)

	if _, err := svc.Events.Insert("primary", timedEvent("Gone soon", time.Now())).Do(); err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	server.Reset()

	page, err := svc.Events.List("primary").Do()
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("expected 0 events after reset, got %d", len(page.Items))
	}
}
