package collab

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrAlreadyConnected indicates a user id is registered with a live sink.
var ErrAlreadyConnected = errors.New("collab: user already connected")

// ErrNotConnected indicates an operation referenced a user without a live sink.
var ErrNotConnected = errors.New("collab: user not connected")

type connectionEntry struct {
	displayName string
	sink        Sink
}

// ConnectionRegistry tracks reachable users and their room membership. A user
// belongs to at most one room at a time; joining a new room leaves the
// previous one.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	conns      map[string]*connectionEntry
	rooms      map[string]map[string]struct{}
	memberRoom map[string]string
}

// NewConnectionRegistry constructs an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:      make(map[string]*connectionEntry),
		rooms:      make(map[string]map[string]struct{}),
		memberRoom: make(map[string]string),
	}
}

// Register records a new connection. It fails if the user id is already
// registered; the caller must unregister first.
func (r *ConnectionRegistry) Register(userID, displayName string, sink Sink) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("collab: user id is required")
	}
	if sink == nil {
		return errors.New("collab: sink is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[userID]; exists {
		return ErrAlreadyConnected
	}
	r.conns[userID] = &connectionEntry{
		displayName: strings.TrimSpace(displayName),
		sink:        sink,
	}
	return nil
}

// Unregister removes the connection and any room membership, closing the
// sink. It reports the room the user occupied, if any. Unregistering an
// unknown user id is a no-op.
func (r *ConnectionRegistry) Unregister(userID string) (roomID string, ok bool) {
	r.mu.Lock()
	entry, exists := r.conns[userID]
	if !exists {
		r.mu.Unlock()
		return "", false
	}
	delete(r.conns, userID)
	roomID = r.memberRoom[userID]
	r.removeMembershipLocked(userID)
	r.mu.Unlock()

	_ = entry.sink.Close()
	return roomID, true
}

// Join adds the user to the room, removing them from any prior room. The
// previous room id is returned so the caller can announce the departure.
// moved is false when the user was already a member and nothing changed.
func (r *ConnectionRegistry) Join(roomID, userID string) (previous string, moved bool, err error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", false, errors.New("collab: room id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[userID]; !exists {
		return "", false, ErrNotConnected
	}

	previous = r.memberRoom[userID]
	if previous == roomID {
		return "", false, nil
	}
	r.removeMembershipLocked(userID)

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][userID] = struct{}{}
	r.memberRoom[userID] = roomID
	return previous, true, nil
}

// Leave removes the user from the room. It reports whether the user was a
// member.
func (r *ConnectionRegistry) Leave(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	if _, member := members[userID]; !member {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	delete(r.memberRoom, userID)
	return true
}

// Members returns the sorted user ids belonging to the room.
func (r *ConnectionRegistry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// RoomOf reports the room the user currently occupies.
func (r *ConnectionRegistry) RoomOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.memberRoom[userID]
	return roomID, ok
}

// DisplayName returns the display name recorded at registration.
func (r *ConnectionRegistry) DisplayName(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[userID]
	if !ok {
		return "", false
	}
	return entry.displayName, true
}

// Connected reports whether the user has a live sink.
func (r *ConnectionRegistry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[userID]
	return ok
}

// Users returns the sorted ids of every registered connection.
func (r *ConnectionRegistry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast delivers the event to every member of the room, excluding the
// listed user ids. Sends happen outside the registry lock; user ids whose
// sink failed are returned so the caller can disconnect them. Delivery is
// best-effort and at-most-once.
func (r *ConnectionRegistry) Broadcast(roomID string, event Event, exclude ...string) (failed []string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, userID := range exclude {
		skip[userID] = struct{}{}
	}

	type target struct {
		userID string
		sink   Sink
	}

	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]target, 0, len(members))
	for userID := range members {
		if _, skipped := skip[userID]; skipped {
			continue
		}
		if entry, ok := r.conns[userID]; ok {
			targets = append(targets, target{userID: userID, sink: entry.sink})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.sink.Send(event); err != nil {
			failed = append(failed, t.userID)
		}
	}
	return failed
}

// Unicast delivers the event to a single user. A missing user id is silently
// ignored; a failed send is reported so the caller can disconnect the user.
func (r *ConnectionRegistry) Unicast(userID string, event Event) (sendFailed bool) {
	r.mu.RLock()
	entry, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return entry.sink.Send(event) != nil
}

func (r *ConnectionRegistry) removeMembershipLocked(userID string) {
	roomID, ok := r.memberRoom[userID]
	if !ok {
		return
	}
	if members := r.rooms[roomID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.memberRoom, userID)
}
