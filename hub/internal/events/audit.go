package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

// AuditSink records events in the store's audit log.
type AuditSink struct {
	Store store.Store
}

func (a AuditSink) Publish(ctx context.Context, ev Event) error {
	var detail json.RawMessage
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = b
	}
	return a.Store.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        ev.ID,
		Action:    ev.Type,
		AgentID:   ev.AgentID,
		UserID:    ev.UserID,
		Detail:    detail,
		CreatedAt: ev.Time,
	})
}
