// Package googlecaltest provides a fake Google Calendar API server for
// testing. It implements the subset of the Events API the sync engine uses:
// listing with pagination and sync tokens, insert/update/delete with
// cancelled tombstones, and watch channel registration.
package googlecaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
)

const syncTokenPrefix = "st"

// Server is a fake Google Calendar API server.
//
// Deletions leave cancelled tombstones behind, the way the real API reports
// them through the changes feed; tombstones only appear in listings when
// showDeleted is set. Every mutation bumps an internal revision, and sync
// tokens are positions in that revision stream.
type Server struct {
	*httptest.Server

	mu        sync.RWMutex
	events    map[string]map[string]*calendar.Event // calendarID -> eventID -> event
	changedAt map[string]map[string]int64           // calendarID -> eventID -> revision
	rev       int64
	minRev    int64 // tokens below this are expired
	nextID    int
	channels  map[string]*calendar.Channel
}

// NewServer starts a fake calendar server.
func NewServer() *Server {
	s := &Server{
		events:    make(map[string]map[string]*calendar.Event),
		changedAt: make(map[string]map[string]int64),
		nextID:    1,
		channels:  make(map[string]*calendar.Channel),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/channels/stop") {
		s.stopChannel(w, r)
		return
	}

	idx := strings.Index(r.URL.Path, "/calendars/")
	if idx == -1 {
		http.Error(w, "unsupported endpoint", http.StatusNotFound)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path[idx+len("/calendars/"):], "/"), "/")
	if len(parts) < 2 || parts[1] != "events" {
		http.Error(w, "unsupported resource", http.StatusNotFound)
		return
	}
	calendarID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.listEvents(w, r, calendarID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.insertEvent(w, r, calendarID)
	case len(parts) == 3 && parts[2] == "watch" && r.Method == http.MethodPost:
		s.watch(w, r)
	case len(parts) == 3 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		s.updateEvent(w, r, calendarID, parts[2])
	case len(parts) == 3 && r.Method == http.MethodDelete:
		s.deleteEvent(w, r, calendarID, parts[2])
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.getEvent(w, r, calendarID, parts[2])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) touch(calendarID, eventID string) {
	s.rev++
	if s.changedAt[calendarID] == nil {
		s.changedAt[calendarID] = make(map[string]int64)
	}
	s.changedAt[calendarID][eventID] = s.rev
}

func (s *Server) insertEvent(w http.ResponseWriter, r *http.Request, calendarID string) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Id == "" {
		event.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	}
	if event.Status == "" {
		event.Status = "confirmed"
	}
	event.Created = time.Now().Format(time.RFC3339)
	event.Updated = event.Created

	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = &event
	s.touch(calendarID, event.Id)

	writeJSON(w, &event)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := r.URL.Query()
	showDeleted := query.Get("showDeleted") == "true"
	pageToken := query.Get("pageToken")
	syncToken := query.Get("syncToken")

	var sinceRev int64 = -1
	if syncToken != "" {
		rev, err := strconv.ParseInt(strings.TrimPrefix(syncToken, syncTokenPrefix), 10, 64)
		if err != nil || rev < s.minRev {
			http.Error(w, "sync token expired", http.StatusGone)
			return
		}
		sinceRev = rev
	}

	var events []*calendar.Event
	for id, evt := range s.events[calendarID] {
		if evt.Status == "cancelled" && !showDeleted {
			continue
		}
		if sinceRev >= 0 && s.changedAt[calendarID][id] <= sinceRev {
			continue
		}
		events = append(events, evt)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })

	startIdx := 0
	if pageToken != "" {
		startIdx, _ = strconv.Atoi(pageToken)
	}
	endIdx := len(events)
	if maxResults := query.Get("maxResults"); maxResults != "" {
		if n, err := strconv.Atoi(maxResults); err == nil && startIdx+n < endIdx {
			endIdx = startIdx + n
		}
	}
	if startIdx > len(events) {
		startIdx = len(events)
	}

	resp := &calendar.Events{
		Kind:    "calendar#events",
		Summary: calendarID,
		Items:   events[startIdx:endIdx],
	}
	if endIdx < len(events) {
		resp.NextPageToken = strconv.Itoa(endIdx)
	} else {
		resp.NextSyncToken = fmt.Sprintf("%s%d", syncTokenPrefix, s.rev)
	}

	writeJSON(w, resp)
}

func (s *Server) getEvent(w http.ResponseWriter, _ *http.Request, calendarID, eventID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event := s.events[calendarID][eventID]
	if event == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, event)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[calendarID][eventID]
	if existing == nil || existing.Status == "cancelled" {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	var updates calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	updates.Id = eventID
	if updates.Status == "" {
		updates.Status = "confirmed"
	}
	updates.Created = existing.Created
	updates.Updated = time.Now().Format(time.RFC3339)

	s.events[calendarID][eventID] = &updates
	s.touch(calendarID, eventID)

	writeJSON(w, &updates)
}

func (s *Server) deleteEvent(w http.ResponseWriter, _ *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.events[calendarID][eventID]
	if existing == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	// Tombstone instead of removal so the changes feed can report it.
	existing.Status = "cancelled"
	existing.Updated = time.Now().Format(time.RFC3339)
	s.touch(calendarID, eventID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	var ch calendar.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ch.ResourceId = fmt.Sprintf("resource-%s", ch.Id)
	ch.Expiration = time.Now().Add(time.Hour).UnixMilli()
	s.channels[ch.Id] = &ch
	s.mu.Unlock()

	writeJSON(w, &ch)
}

func (s *Server) stopChannel(w http.ResponseWriter, r *http.Request) {
	var ch calendar.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delete(s.channels, ch.Id)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Reset clears all events and channels.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]map[string]*calendar.Event)
	s.changedAt = make(map[string]map[string]int64)
	s.channels = make(map[string]*calendar.Channel)
	s.rev = 0
	s.minRev = 0
	s.nextID = 1
}

// ExpireSyncTokens invalidates every sync token issued so far; subsequent
// incremental listings with an old token get 410 Gone.
func (s *Server) ExpireSyncTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minRev = s.rev + 1
}

// AddEvent seeds an event without going through the HTTP surface.
func (s *Server) AddEvent(calendarID string, event *calendar.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Id == "" {
		event.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	}
	if event.Status == "" {
		event.Status = "confirmed"
	}
	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = event
	s.touch(calendarID, event.Id)
}

// Events returns the live events of a calendar, tombstones excluded.
func (s *Server) Events(calendarID string) []*calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*calendar.Event
	for _, evt := range s.events[calendarID] {
		if evt.Status == "cancelled" {
			continue
		}
		events = append(events, evt)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })
	return events
}

// ActiveChannels reports the ids of watch channels not yet stopped.
func (s *Server) ActiveChannels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
