// Package events publishes support-desk lifecycle events (connects,
// assignments, ended sessions) to the audit log and to a message broker.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	AgentConnected    = "agent.connected"
	AgentDisconnected = "agent.disconnected"
	UserConnected     = "user.connected"
	UserDisconnected  = "user.disconnected"
	UserQueued        = "user.queued"
	UserRejected      = "user.rejected"
	SessionAssigned   = "session.assigned"
	SessionEnded      = "session.ended"
)

// Event is a single lifecycle fact. Detail carries type-specific fields
// such as the assignment path ("via") or the end reason.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	AgentID string         `json:"agent_id,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
	Time    time.Time      `json:"time"`
}

// New returns an event with a fresh ID and the current time.
func New(typ, agentID, userID string, detail map[string]any) Event {
	return Event{
		ID:      uuid.New().String(),
		Type:    typ,
		AgentID: agentID,
		UserID:  userID,
		Detail:  detail,
		Time:    time.Now(),
	}
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks. Every sink is attempted; the
// returned error joins all failures.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps a sink so failures are logged instead of returned.
type Logged struct {
	Sink   Sink
	Logger *slog.Logger
}

func (l Logged) Publish(ctx context.Context, ev Event) error {
	if err := l.Sink.Publish(ctx, ev); err != nil {
		l.Logger.Warn("failed to publish event", "type", ev.Type, "event_id", ev.ID, "error", err)
	}
	return nil
}
