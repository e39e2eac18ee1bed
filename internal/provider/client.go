// Package provider wraps the Google Calendar API surface the sync engine
// consumes: the changes feed, event push-back, and watch channels.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Client wraps the Google Calendar API service.
type Client struct {
	service *gcal.Service
}

// NewClient creates a new Calendar API client. Optionally accepts an endpoint
// URL for testing with mock servers.
func NewClient(ctx context.Context, httpClient *http.Client, endpoint ...string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}

	if len(endpoint) > 0 && endpoint[0] != "" {
		opts = append(opts, option.WithEndpoint(endpoint[0]))
	}

	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return &Client{service: srv}, nil
}

// ListAll pages through every event of the calendar, bases and overridden
// instances included (singleEvents off), and returns the sync token to resume
// incremental pulls from.
func (c *Client) ListAll(ctx context.Context, calendarID string) ([]*gcal.Event, string, error) {
	var (
		events    []*gcal.Event
		pageToken string
		syncToken string
	)

	for {
		call := c.service.Events.List(calendarID).Context(ctx).ShowDeleted(true)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, "", fmt.Errorf("unable to retrieve events: %w", err)
		}

		events = append(events, page.Items...)
		syncToken = page.NextSyncToken

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return events, syncToken, nil
}

// Changes pulls the incremental change batch since the given sync token. A
// rejected token (provider expired it) surfaces as ErrSyncTokenExpired so the
// caller can fall back to a full list.
func (c *Client) Changes(ctx context.Context, calendarID, syncToken string) ([]*gcal.Event, string, error) {
	var (
		events    []*gcal.Event
		pageToken string
		newToken  string
	)

	for {
		call := c.service.Events.List(calendarID).Context(ctx).ShowDeleted(true).SyncToken(syncToken)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
				return nil, "", ErrSyncTokenExpired
			}
			return nil, "", fmt.Errorf("unable to retrieve changes: %w", err)
		}

		events = append(events, page.Items...)
		newToken = page.NextSyncToken

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return events, newToken, nil
}

// ErrSyncTokenExpired signals that the provider invalidated the stored sync
// token and a full re-list is required.
var ErrSyncTokenExpired = errors.New("sync token expired")

// Get fetches a single event by its provider id.
func (c *Client) Get(ctx context.Context, calendarID, eventID string) (*gcal.Event, error) {
	event, err := c.service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve event: %w", err)
	}
	return event, nil
}

// Push upserts an event on the provider: update when it already exists,
// insert otherwise.
func (c *Client) Push(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	updated, err := c.service.Events.Update(calendarID, event.Id, event).Context(ctx).Do()
	if err == nil {
		return updated, nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || (gerr.Code != http.StatusNotFound && gerr.Code != http.StatusBadRequest) {
		return nil, fmt.Errorf("unable to update event: %w", err)
	}

	created, err := c.service.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create event: %w", err)
	}
	return created, nil
}

// Remove deletes an event from the provider.
func (c *Client) Remove(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("unable to delete event: %w", err)
	}
	return nil
}

// Watch registers a change-notification channel for the calendar.
func (c *Client) Watch(ctx context.Context, calendarID, channelID, address string) (*gcal.Channel, error) {
	ch := &gcal.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
	}
	registered, err := c.service.Events.Watch(calendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to register watch channel: %w", err)
	}
	return registered, nil
}

// StopChannel stops a previously registered notification channel.
func (c *Client) StopChannel(ctx context.Context, ch *gcal.Channel) error {
	if err := c.service.Channels.Stop(ch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to stop watch channel: %w", err)
	}
	return nil
}
