package collab

import (
	"encoding/json"
	"time"
)

// Outbound event types delivered to connected clients.
const (
	EventUserLeft         = "user_left"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
	EventRoomState        = "room_state"
	EventPresenceUpdated  = "presence_updated"
	EventLockAcquired     = "lock_acquired"
	EventLockReleased     = "lock_released"
	EventLockResponse     = "lock_response"
	EventLockReleaseReply = "lock_release_response"
	EventConflictDetected = "conflict_detected"
	EventConflictResolved = "conflict_resolved"
	EventConflictReply    = "conflict_resolution_response"
	EventBroadcast        = "broadcast"
	EventError            = "error"
)

// Event is a single outbound message. It marshals to a flat JSON object
// carrying the event type, the event-specific fields, and an ISO-8601
// timestamp.
type Event struct {
	Type      string
	Fields    map[string]any
	Timestamp time.Time
}

// NewEvent builds an outbound event stamped with the supplied time.
func NewEvent(eventType string, at time.Time, fields map[string]any) Event {
	return Event{
		Type:      eventType,
		Fields:    fields,
		Timestamp: at,
	}
}

// MarshalJSON flattens the event fields alongside the type and timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Fields)+2)
	for key, value := range e.Fields {
		if key == "type" || key == "timestamp" {
			continue
		}
		payload[key] = value
	}
	payload["type"] = e.Type
	payload["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	return json.Marshal(payload)
}

// Sink is the outbound half of a client connection. Send must not block
// indefinitely; a failed send marks the client as gone and the Coordinator
// disconnects it. Close is idempotent.
type Sink interface {
	Send(event Event) error
	Close() error
}
