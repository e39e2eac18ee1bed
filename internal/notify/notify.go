// Package notify delivers change records to connected clients. The
// reconciliation core only produces records; delivery lives behind the Sink
// interface.
package notify

import (
	"context"
	"log/slog"

	"github.com/SwitchbackTech/compass-sub010/internal/calendar"
)

// Sink receives the change records a processed batch produced.
type Sink interface {
	Publish(ctx context.Context, userID string, records []calendar.ChangeRecord) error
}

// SlogSink logs change records; the default sink when no realtime transport
// is wired in.
type SlogSink struct {
	Log *slog.Logger
}

func (s SlogSink) Publish(_ context.Context, userID string, records []calendar.ChangeRecord) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	for _, r := range records {
		log.Info("calendar change",
			"user", userID,
			"title", r.Title,
			"category", string(r.Category),
			"operation", string(r.Operation),
			"from", r.Transition[0],
			"to", r.Transition[1],
		)
	}
	return nil
}
