package collab

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeInboundJoinRoom(t *testing.T) {
	message, err := DecodeInbound([]byte(`{"type":"join_room","room_id":"floor-1"}`))
	require.NoError(t, err)

	join, ok := message.(JoinRoomMessage)
	require.True(t, ok)
	require.Equal(t, "floor-1", join.RoomID)
}

func TestDecodeInboundUpdatePresencePartial(t *testing.T) {
	message, err := DecodeInbound([]byte(`{"type":"update_presence","current_action":"editing_wall"}`))
	require.NoError(t, err)

	update, ok := message.(UpdatePresenceMessage)
	require.True(t, ok)
	require.Nil(t, update.FloorID)
	require.Nil(t, update.Cursor)
	require.NotNil(t, update.CurrentAction)
	require.Equal(t, "editing_wall", *update.CurrentAction)
}

func TestDecodeInboundAcquireLock(t *testing.T) {
	raw := []byte(`{"type":"acquire_lock","lock_type":"floor_edit","resource_id":"floor-2","lease_seconds":60,"metadata":{"tool":"wall"}}`)

	message, err := DecodeInbound(raw)
	require.NoError(t, err)

	acquire, ok := message.(AcquireLockMessage)
	require.True(t, ok)
	require.Equal(t, "floor_edit", acquire.LockType)
	require.Equal(t, "floor-2", acquire.ResourceID)
	require.Equal(t, 60, acquire.LeaseSeconds)
	require.Equal(t, "wall", acquire.Metadata["tool"])
}

func TestDecodeInboundBroadcastKeepsRawPayload(t *testing.T) {
	message, err := DecodeInbound([]byte(`{"type":"broadcast","room_id":"floor-1","message":{"op":"move","dx":4}}`))
	require.NoError(t, err)

	broadcast, ok := message.(BroadcastMessage)
	require.True(t, ok)
	require.JSONEq(t, `{"op":"move","dx":4}`, string(broadcast.Message))
}

func TestDecodeInboundMalformedJSON(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":`))
	require.Error(t, err)
}

func TestDecodeInboundMissingType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"room_id":"floor-1"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing message type")
}

func TestDecodeInboundUnknownType(t *testing.T) {
	message, err := DecodeInbound([]byte(`{"type":"teleport"}`))
	require.NoError(t, err)

	unknown, ok := message.(UnknownMessage)
	require.True(t, ok)
	require.Equal(t, "teleport", unknown.Type)
}

func TestEventMarshalFlattensFields(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	event := NewEvent(EventUserJoinedRoom, at, map[string]any{
		"room_id": "floor-1",
		"user_id": "u1",
	})

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, EventUserJoinedRoom, decoded["type"])
	require.Equal(t, "floor-1", decoded["room_id"])
	require.Equal(t, "u1", decoded["user_id"])
	require.Equal(t, "2025-03-14T09:26:53Z", decoded["timestamp"])
}

func TestEventMarshalReservesTypeAndTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	event := NewEvent(EventError, at, map[string]any{
		"type":      "spoofed",
		"timestamp": "spoofed",
		"message":   "boom",
	})

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, EventError, decoded["type"])
	require.Equal(t, "2025-03-14T09:26:53Z", decoded["timestamp"])
	require.Equal(t, "boom", decoded["message"])
}
