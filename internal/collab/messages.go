package collab

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types accepted over the wire.
const (
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeUpdatePresence  = "update_presence"
	TypeAcquireLock     = "acquire_lock"
	TypeReleaseLock     = "release_lock"
	TypeResolveConflict = "resolve_conflict"
	TypeBroadcast       = "broadcast"
)

// Inbound is the closed set of decoded client messages. Unrecognised types
// decode into UnknownMessage so the dispatcher can drop them explicitly.
type Inbound interface {
	inboundType() string
}

// JoinRoomMessage asks to join a room, implicitly leaving the previous one.
type JoinRoomMessage struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomMessage asks to leave a room.
type LeaveRoomMessage struct {
	RoomID string `json:"room_id"`
}

// UpdatePresenceMessage merges the supplied fields into the sender's presence.
// Nil pointers leave the corresponding field untouched.
type UpdatePresenceMessage struct {
	FloorID       *string        `json:"floor_id"`
	CurrentAction *string        `json:"current_action"`
	Cursor        *CursorPoint   `json:"cursor_position"`
	Metadata      map[string]any `json:"metadata"`
}

// AcquireLockMessage requests a lease lock on a resource. RoomID optionally
// names the room lock events broadcast into; it defaults to the resource id.
type AcquireLockMessage struct {
	LockType     string         `json:"lock_type"`
	ResourceID   string         `json:"resource_id"`
	RoomID       string         `json:"room_id"`
	LeaseSeconds int            `json:"lease_seconds"`
	Metadata     map[string]any `json:"metadata"`
}

// ReleaseLockMessage releases a lock previously acquired by the sender.
type ReleaseLockMessage struct {
	LockID string `json:"lock_id"`
}

// ResolveConflictMessage marks a reported conflict as resolved.
type ResolveConflictMessage struct {
	ConflictID string `json:"conflict_id"`
	Resolution string `json:"resolution"`
}

// BroadcastMessage relays an opaque application payload to a room.
type BroadcastMessage struct {
	RoomID  string          `json:"room_id"`
	Message json.RawMessage `json:"message"`
}

// UnknownMessage carries the raw type tag of an unrecognised inbound message.
type UnknownMessage struct {
	Type string
}

func (JoinRoomMessage) inboundType() string        { return TypeJoinRoom }
func (LeaveRoomMessage) inboundType() string       { return TypeLeaveRoom }
func (UpdatePresenceMessage) inboundType() string  { return TypeUpdatePresence }
func (AcquireLockMessage) inboundType() string     { return TypeAcquireLock }
func (ReleaseLockMessage) inboundType() string     { return TypeReleaseLock }
func (ResolveConflictMessage) inboundType() string { return TypeResolveConflict }
func (BroadcastMessage) inboundType() string       { return TypeBroadcast }
func (m UnknownMessage) inboundType() string       { return m.Type }

// DecodeInbound parses a raw client payload into its typed message. Malformed
// JSON or a missing type tag returns an error; a well-formed message with an
// unrecognised type decodes into UnknownMessage without error.
func DecodeInbound(raw []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}

	messageType := strings.ToLower(strings.TrimSpace(envelope.Type))
	if messageType == "" {
		return nil, fmt.Errorf("decode inbound: missing message type")
	}

	var (
		message Inbound
		err     error
	)

	switch messageType {
	case TypeJoinRoom:
		var m JoinRoomMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeLeaveRoom:
		var m LeaveRoomMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeUpdatePresence:
		var m UpdatePresenceMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeAcquireLock:
		var m AcquireLockMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeReleaseLock:
		var m ReleaseLockMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeResolveConflict:
		var m ResolveConflictMessage
		err = json.Unmarshal(raw, &m)
		message = m
	case TypeBroadcast:
		var m BroadcastMessage
		err = json.Unmarshal(raw, &m)
		message = m
	default:
		return UnknownMessage{Type: messageType}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", messageType, err)
	}
	return message, nil
}
