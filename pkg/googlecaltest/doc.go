// Package googlecaltest provides a fake Google Calendar API server for
// testing, covering the Events API subset a sync engine exercises without
// authentication or network access.
//
// # Supported Operations
//
//   - Insert Event: POST /calendars/{calendarId}/events
//   - List Events: GET /calendars/{calendarId}/events (pagination, showDeleted, syncToken)
//   - Get Event: GET /calendars/{calendarId}/events/{eventId}
//   - Update Event: PUT/PATCH /calendars/{calendarId}/events/{eventId}
//   - Delete Event: DELETE /calendars/{calendarId}/events/{eventId} (leaves a cancelled tombstone)
//   - Watch: POST /calendars/{calendarId}/events/watch and POST /channels/stop
//
// # Basic Usage
//
//	server := googlecaltest.NewServer()
//	defer server.Close()
//
//	svc, err := calendar.NewService(ctx,
//	    option.WithHTTPClient(&http.Client{}),
//	    option.WithEndpoint(server.URL))
//
//	created, err := svc.Events.Insert("primary", &calendar.Event{
//	    Summary: "Standup",
//	    Start:   &calendar.EventDateTime{DateTime: time.Now().Format(time.RFC3339)},
//	    End:     &calendar.EventDateTime{DateTime: time.Now().Add(time.Hour).Format(time.RFC3339)},
//	}).Do()
//
// # Sync Tokens
//
// A full listing returns a NextSyncToken once the final page is served.
// Listing again with that token returns only events mutated since, cancelled
// tombstones included when showDeleted is set. ExpireSyncTokens invalidates
// every issued token, making subsequent incremental listings fail with 410
// Gone the way the real API expires stale tokens.
//
// # Test Helpers
//
//	server.AddEvent("primary", &calendar.Event{Id: "evt-1", Summary: "Seeded"})
//	events := server.Events("primary")       // live events, tombstones excluded
//	channels := server.ActiveChannels()      // watch channels not yet stopped
//	server.Reset()                           // clear everything between tests
package googlecaltest
