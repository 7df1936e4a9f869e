package collab

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string { return &s }

func TestTouchCreatesAndMergesRecord(t *testing.T) {
	tracker := NewPresenceTracker()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.timeNow = func() time.Time { return base }

	presence := tracker.Touch("u1", PresenceUpdate{
		DisplayName: stringPtr("Alice"),
		RoomID:      stringPtr("floor-1"),
	})
	require.Equal(t, "u1", presence.UserID)
	require.Equal(t, "Alice", presence.DisplayName)
	require.Equal(t, "floor-1", presence.RoomID)
	require.Equal(t, base, presence.LastSeen)

	// Partial updates leave untouched fields intact.
	tracker.timeNow = func() time.Time { return base.Add(time.Minute) }
	presence = tracker.Touch("u1", PresenceUpdate{
		CurrentAction: stringPtr("editing_wall"),
		Cursor:        &CursorPoint{X: 10, Y: 20},
	})
	require.Equal(t, "Alice", presence.DisplayName)
	require.Equal(t, "floor-1", presence.RoomID)
	require.Equal(t, "editing_wall", presence.CurrentAction)
	require.Equal(t, &CursorPoint{X: 10, Y: 20}, presence.Cursor)
	require.Equal(t, base.Add(time.Minute), presence.LastSeen)
}

func TestTouchClearsWithEmptyPointer(t *testing.T) {
	tracker := NewPresenceTracker()

	tracker.Touch("u1", PresenceUpdate{RoomID: stringPtr("floor-1")})
	presence := tracker.Touch("u1", PresenceUpdate{RoomID: stringPtr("")})
	require.Empty(t, presence.RoomID)
}

func TestTouchMergesMetadata(t *testing.T) {
	tracker := NewPresenceTracker()

	tracker.Touch("u1", PresenceUpdate{Metadata: map[string]any{"tool": "wall", "zoom": 2}})
	presence := tracker.Touch("u1", PresenceUpdate{Metadata: map[string]any{"tool": "door"}})

	require.Equal(t, "door", presence.Metadata["tool"])
	require.Equal(t, 2, presence.Metadata["zoom"])
}

func TestGetReturnsCopy(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.Touch("u1", PresenceUpdate{
		Cursor:   &CursorPoint{X: 1, Y: 2},
		Metadata: map[string]any{"tool": "wall"},
	})

	first, ok := tracker.Get("u1")
	require.True(t, ok)
	first.Cursor.X = 99
	first.Metadata["tool"] = "mutated"

	second, ok := tracker.Get("u1")
	require.True(t, ok)
	require.Equal(t, float64(1), second.Cursor.X)
	require.Equal(t, "wall", second.Metadata["tool"])
}

func TestSnapshotFiltersRoomAndOrdersByRecency(t *testing.T) {
	tracker := NewPresenceTracker()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tracker.timeNow = func() time.Time { return base }
	tracker.Touch("old", PresenceUpdate{RoomID: stringPtr("floor-1")})
	tracker.timeNow = func() time.Time { return base.Add(time.Minute) }
	tracker.Touch("recent", PresenceUpdate{RoomID: stringPtr("floor-1")})
	tracker.Touch("other", PresenceUpdate{RoomID: stringPtr("floor-2")})

	snapshot := tracker.Snapshot("floor-1")
	require.Len(t, snapshot, 2)
	require.Equal(t, "recent", snapshot[0].UserID)
	require.Equal(t, "old", snapshot[1].UserID)
}

func TestSnapshotEmptyRoomID(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.Touch("u1", PresenceUpdate{})

	require.Empty(t, tracker.Snapshot(""))
}

func TestRemove(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.Touch("u1", PresenceUpdate{})

	require.True(t, tracker.Remove("u1"))
	require.False(t, tracker.Remove("u1"))
	require.Equal(t, 0, tracker.Count())
}

func TestInactiveSince(t *testing.T) {
	tracker := NewPresenceTracker()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tracker.timeNow = func() time.Time { return base }
	tracker.Touch("stale-a", PresenceUpdate{})
	tracker.Touch("stale-b", PresenceUpdate{})
	tracker.timeNow = func() time.Time { return base.Add(10 * time.Minute) }
	tracker.Touch("fresh", PresenceUpdate{})

	inactive := tracker.InactiveSince(base.Add(5 * time.Minute))
	sort.Strings(inactive)
	require.Equal(t, []string{"stale-a", "stale-b"}, inactive)
}
