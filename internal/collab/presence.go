package collab

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// CursorPoint is a 2-D cursor position within a floor plan.
type CursorPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the ephemeral state of one connected user.
type Presence struct {
	UserID        string         `json:"user_id"`
	DisplayName   string         `json:"display_name"`
	RoomID        string         `json:"floor_id,omitempty"`
	CurrentAction string         `json:"current_action,omitempty"`
	Cursor        *CursorPoint   `json:"cursor_position,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LastSeen      time.Time      `json:"last_seen"`
}

// PresenceUpdate carries the fields merged into a presence record. Nil
// pointers leave the existing value untouched; a pointer to the empty string
// clears it.
type PresenceUpdate struct {
	DisplayName   *string
	RoomID        *string
	CurrentAction *string
	Cursor        *CursorPoint
	Metadata      map[string]any
}

// PresenceTracker owns per-user presence records and produces room snapshots.
type PresenceTracker struct {
	mu      sync.RWMutex
	records map[string]*Presence
	timeNow func() time.Time
}

// NewPresenceTracker constructs an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		records: make(map[string]*Presence),
		timeNow: time.Now,
	}
}

// Touch merges the update into the user's presence record, creating it if
// absent, and refreshes the last-seen timestamp.
func (t *PresenceTracker) Touch(userID string, update PresenceUpdate) Presence {
	userID = strings.TrimSpace(userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.records[userID]
	if !exists {
		record = &Presence{UserID: userID}
		t.records[userID] = record
	}

	if update.DisplayName != nil {
		record.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.RoomID != nil {
		record.RoomID = strings.TrimSpace(*update.RoomID)
	}
	if update.CurrentAction != nil {
		record.CurrentAction = strings.TrimSpace(*update.CurrentAction)
	}
	if update.Cursor != nil {
		cursor := *update.Cursor
		record.Cursor = &cursor
	}
	if update.Metadata != nil {
		if record.Metadata == nil {
			record.Metadata = make(map[string]any, len(update.Metadata))
		}
		for key, value := range update.Metadata {
			record.Metadata[key] = value
		}
	}
	record.LastSeen = t.timeNow()

	return *clonePresence(record)
}

// Get returns a copy of the user's presence record.
func (t *PresenceTracker) Get(userID string) (Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[userID]
	if !ok {
		return Presence{}, false
	}
	return *clonePresence(record), true
}

// Snapshot returns the presence records of every user currently mapped to the
// room, most recently seen first.
func (t *PresenceTracker) Snapshot(roomID string) []Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Presence
	for _, record := range t.records {
		if record.RoomID == roomID && roomID != "" {
			out = append(out, *clonePresence(record))
		}
	}
	sortPresences(out)
	return out
}

// Remove deletes the user's presence record. It reports whether a record
// existed.
func (t *PresenceTracker) Remove(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[userID]; !ok {
		return false
	}
	delete(t.records, userID)
	return true
}

// InactiveSince returns the ids of users whose last-seen timestamp is older
// than the threshold. It is a pure query; eviction is the caller's job.
func (t *PresenceTracker) InactiveSince(threshold time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for userID, record := range t.records {
		if record.LastSeen.Before(threshold) {
			out = append(out, userID)
		}
	}
	return out
}

// Count returns the number of tracked presence records.
func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func clonePresence(record *Presence) *Presence {
	clone := *record
	if record.Cursor != nil {
		cursor := *record.Cursor
		clone.Cursor = &cursor
	}
	if record.Metadata != nil {
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			meta[key] = value
		}
		clone.Metadata = meta
	}
	return &clone
}

func sortPresences(records []Presence) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastSeen.After(records[j].LastSeen)
	})
}
