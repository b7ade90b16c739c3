package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages. Payloads are the
// messagequeue schemas; dashboards consume the same shapes whether they
// listen on NATS or on this socket.
const (
	EventPoolCreated  = "pool.created"
	EventPoolDeleted  = "pool.deleted"
	EventPoolEvicted  = "pool.evicted"
	EventPoolDegraded = "pool.degraded"
)

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
