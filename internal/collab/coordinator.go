package collab

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/floorwise/collab/pkg/logger"
	"github.com/floorwise/collab/pkg/metrics"
)

// DefaultInactivityThreshold is how long a user may stay silent before the
// sweep evicts them.
const DefaultInactivityThreshold = 5 * time.Minute

// Recorder receives engine events for optional append-only persistence.
// Implementations must not block message dispatch.
type Recorder interface {
	LockEvent(action string, lock EditLock)
	ConflictEvent(action string, conflict Conflict)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// LockLease is the default lease applied to acquisitions that do not
	// request one. Zero means DefaultLockLease.
	LockLease time.Duration
	// InactivityThreshold is the silence window after which the sweep
	// disconnects a user. Zero means DefaultInactivityThreshold.
	InactivityThreshold time.Duration
	// Recorder optionally persists lock and conflict events.
	Recorder Recorder
}

// Coordinator is the single entry point for inbound messages. It dispatches
// to the registry, presence tracker, lock manager, and conflict tracker, and
// is the only component that writes outbound traffic.
type Coordinator struct {
	registry   *ConnectionRegistry
	presence   *PresenceTracker
	locks      *LockManager
	conflicts  *ConflictTracker
	recorder   Recorder
	inactivity time.Duration
	log        *zap.Logger
	timeNow    func() time.Time
}

// NewCoordinator constructs the engine with freshly built state stores.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	inactivity := opts.InactivityThreshold
	if inactivity <= 0 {
		inactivity = DefaultInactivityThreshold
	}

	return &Coordinator{
		registry:   NewConnectionRegistry(),
		presence:   NewPresenceTracker(),
		locks:      NewLockManager(opts.LockLease),
		conflicts:  NewConflictTracker(),
		recorder:   opts.Recorder,
		inactivity: inactivity,
		log:        logger.WithModule("collab"),
		timeNow:    time.Now,
	}
}

// Connect registers a new connection and seeds the user's presence record.
func (c *Coordinator) Connect(userID, displayName string, sink Sink) error {
	if err := c.registry.Register(userID, displayName, sink); err != nil {
		return err
	}
	c.presence.Touch(userID, PresenceUpdate{DisplayName: &displayName})
	metrics.ConnectedUsers.Set(float64(c.registry.Count()))

	c.log.Info("user connected",
		zap.String("user_id", userID),
		zap.String("display_name", displayName),
	)
	return nil
}

// Disconnect tears down a connection: releases the user's locks, removes
// their presence, unregisters the sink, and announces the departure to the
// room they occupied. Idempotent; a second invocation is a no-op.
func (c *Coordinator) Disconnect(userID string) {
	now := c.timeNow()
	displayName, _ := c.registry.DisplayName(userID)

	released := c.locks.ReleaseAllFor(userID)
	c.presence.Remove(userID)
	roomID, wasConnected := c.registry.Unregister(userID)

	for _, lock := range released {
		c.record(func(r Recorder) { r.LockEvent("released", lock) })
		c.broadcastRoom(lock.RoomID, c.lockEvent(EventLockReleased, lock, now, "disconnect"))
	}

	if !wasConnected && len(released) == 0 {
		return
	}

	metrics.ConnectedUsers.Set(float64(c.registry.Count()))
	metrics.ActiveLocks.Set(float64(c.locks.Count()))

	if roomID != "" {
		fields := map[string]any{
			"room_id":      roomID,
			"user_id":      userID,
			"display_name": displayName,
		}
		c.broadcastRoom(roomID, NewEvent(EventUserLeft, now, fields))
	}

	c.log.Info("user disconnected", zap.String("user_id", userID))
}

// HandleMessage decodes one inbound payload from the user and dispatches it.
// Malformed or unknown messages are logged and dropped; recoverable business
// failures are reported back to the sender only; a panic while processing is
// caught, logged, and answered with a generic error event.
func (c *Coordinator) HandleMessage(userID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message handler panic",
				zap.String("user_id", userID),
				zap.Any("error", r),
			)
			metrics.InboundMessages.WithLabelValues("unknown", "error").Inc()
			c.unicast(userID, NewEvent(EventError, c.timeNow(), map[string]any{
				"message": "failed to process message",
			}))
		}
	}()

	message, err := DecodeInbound(raw)
	if err != nil {
		c.log.Warn("dropping malformed message",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		metrics.InboundMessages.WithLabelValues("malformed", "dropped").Inc()
		return
	}

	switch m := message.(type) {
	case JoinRoomMessage:
		c.handleJoinRoom(userID, m)
	case LeaveRoomMessage:
		c.handleLeaveRoom(userID, m)
	case UpdatePresenceMessage:
		c.handleUpdatePresence(userID, m)
	case AcquireLockMessage:
		c.handleAcquireLock(userID, m)
	case ReleaseLockMessage:
		c.handleReleaseLock(userID, m)
	case ResolveConflictMessage:
		c.handleResolveConflict(userID, m)
	case BroadcastMessage:
		c.handleBroadcast(userID, m)
	case UnknownMessage:
		c.log.Warn("dropping message with unknown type",
			zap.String("user_id", userID),
			zap.String("type", m.Type),
		)
		metrics.InboundMessages.WithLabelValues("unknown", "dropped").Inc()
	}
}

func (c *Coordinator) handleJoinRoom(userID string, m JoinRoomMessage) {
	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" {
		c.log.Warn("join_room without room id", zap.String("user_id", userID))
		metrics.InboundMessages.WithLabelValues(TypeJoinRoom, "dropped").Inc()
		return
	}

	previous, moved, err := c.registry.Join(roomID, userID)
	if err != nil {
		c.log.Warn("join_room for unregistered user", zap.String("user_id", userID))
		metrics.InboundMessages.WithLabelValues(TypeJoinRoom, "dropped").Inc()
		return
	}
	c.presence.Touch(userID, PresenceUpdate{RoomID: &roomID})
	metrics.InboundMessages.WithLabelValues(TypeJoinRoom, "ok").Inc()

	now := c.timeNow()
	displayName, _ := c.registry.DisplayName(userID)

	// Snapshot is taken after the membership mutation so the new member sees
	// the room exactly as it is at the moment of join.
	c.unicast(userID, NewEvent(EventRoomState, now, map[string]any{
		"room_id":  roomID,
		"members":  c.registry.Members(roomID),
		"presence": c.presence.Snapshot(roomID),
		"locks":    c.locks.ForRoom(roomID, now),
	}))

	// A failed snapshot send tears the user down inside unicast; membership
	// changes would then be stale, so nothing is announced. A rejoin of the
	// current room is answered with the snapshot alone.
	if !moved || !c.registry.Connected(userID) {
		return
	}

	c.broadcastRoom(roomID, NewEvent(EventUserJoinedRoom, now, map[string]any{
		"room_id":      roomID,
		"user_id":      userID,
		"display_name": displayName,
	}), userID)

	if previous != "" {
		c.broadcastRoom(previous, NewEvent(EventUserLeftRoom, now, map[string]any{
			"room_id":      previous,
			"user_id":      userID,
			"display_name": displayName,
		}))
	}
}

func (c *Coordinator) handleLeaveRoom(userID string, m LeaveRoomMessage) {
	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" || !c.registry.Leave(roomID, userID) {
		metrics.InboundMessages.WithLabelValues(TypeLeaveRoom, "dropped").Inc()
		return
	}

	empty := ""
	c.presence.Touch(userID, PresenceUpdate{RoomID: &empty})
	metrics.InboundMessages.WithLabelValues(TypeLeaveRoom, "ok").Inc()

	displayName, _ := c.registry.DisplayName(userID)
	c.broadcastRoom(roomID, NewEvent(EventUserLeftRoom, c.timeNow(), map[string]any{
		"room_id":      roomID,
		"user_id":      userID,
		"display_name": displayName,
	}))
}

func (c *Coordinator) handleUpdatePresence(userID string, m UpdatePresenceMessage) {
	presence := c.presence.Touch(userID, PresenceUpdate{
		RoomID:        m.FloorID,
		CurrentAction: m.CurrentAction,
		Cursor:        m.Cursor,
		Metadata:      m.Metadata,
	})
	metrics.InboundMessages.WithLabelValues(TypeUpdatePresence, "ok").Inc()

	roomID, ok := c.registry.RoomOf(userID)
	if !ok || roomID == "" {
		return
	}
	c.broadcastRoom(roomID, NewEvent(EventPresenceUpdated, c.timeNow(), map[string]any{
		"room_id":  roomID,
		"presence": presence,
	}), userID)
}

func (c *Coordinator) handleAcquireLock(userID string, m AcquireLockMessage) {
	now := c.timeNow()

	kind, err := ParseLockKind(m.LockType)
	if err != nil {
		metrics.InboundMessages.WithLabelValues(TypeAcquireLock, "rejected").Inc()
		c.unicast(userID, NewEvent(EventLockResponse, now, map[string]any{
			"success": false,
			"result":  "unknown lock type: " + m.LockType,
		}))
		return
	}

	displayName, _ := c.registry.DisplayName(userID)
	result := c.locks.Acquire(AcquireRequest{
		UserID:      userID,
		DisplayName: displayName,
		Kind:        kind,
		ResourceID:  m.ResourceID,
		RoomID:      m.RoomID,
		Lease:       time.Duration(m.LeaseSeconds) * time.Second,
		Metadata:    m.Metadata,
	})

	if !result.Granted {
		if result.Lock.HolderID != "" {
			metrics.LockContention.Inc()
		}
		metrics.InboundMessages.WithLabelValues(TypeAcquireLock, "rejected").Inc()
		c.unicast(userID, NewEvent(EventLockResponse, now, map[string]any{
			"success": false,
			"result":  result.Reason,
		}))
		return
	}

	metrics.InboundMessages.WithLabelValues(TypeAcquireLock, "ok").Inc()
	metrics.ActiveLocks.Set(float64(c.locks.Count()))

	action := "acquired"
	if result.Renewed {
		action = "renewed"
	}
	c.record(func(r Recorder) { r.LockEvent(action, result.Lock) })

	c.unicast(userID, NewEvent(EventLockResponse, now, map[string]any{
		"success": true,
		"result":  result.Lock.ID,
		"lock":    result.Lock,
	}))
	// If the reply could not be delivered the holder was disconnected and the
	// lock already released; announcing the acquisition now would leave the
	// room believing a dead lock is held.
	if !c.registry.Connected(userID) {
		return
	}
	c.broadcastRoom(result.Lock.RoomID, c.lockEvent(EventLockAcquired, result.Lock, now, action))
}

func (c *Coordinator) handleReleaseLock(userID string, m ReleaseLockMessage) {
	now := c.timeNow()

	lock, err := c.locks.Release(strings.TrimSpace(m.LockID), userID)
	if err != nil {
		reason := "lock not found"
		if errors.Is(err, ErrNotLockHolder) {
			reason = "lock is held by another user"
		}
		metrics.InboundMessages.WithLabelValues(TypeReleaseLock, "rejected").Inc()
		c.unicast(userID, NewEvent(EventLockReleaseReply, now, map[string]any{
			"success": false,
			"result":  reason,
		}))
		return
	}

	metrics.InboundMessages.WithLabelValues(TypeReleaseLock, "ok").Inc()
	metrics.ActiveLocks.Set(float64(c.locks.Count()))
	c.record(func(r Recorder) { r.LockEvent("released", lock) })

	c.unicast(userID, NewEvent(EventLockReleaseReply, now, map[string]any{
		"success": true,
		"lock_id": lock.ID,
	}))
	c.broadcastRoom(lock.RoomID, c.lockEvent(EventLockReleased, lock, now, "released"))
}

func (c *Coordinator) handleResolveConflict(userID string, m ResolveConflictMessage) {
	now := c.timeNow()

	conflict, err := c.conflicts.Resolve(strings.TrimSpace(m.ConflictID), m.Resolution, userID)
	if err != nil {
		reason := "conflict not found"
		if errors.Is(err, ErrConflictResolved) {
			reason = "conflict already resolved"
		}
		metrics.InboundMessages.WithLabelValues(TypeResolveConflict, "rejected").Inc()
		c.unicast(userID, NewEvent(EventConflictReply, now, map[string]any{
			"success": false,
			"result":  reason,
		}))
		return
	}

	metrics.InboundMessages.WithLabelValues(TypeResolveConflict, "ok").Inc()
	c.record(func(r Recorder) { r.ConflictEvent("resolved", conflict) })

	c.unicast(userID, NewEvent(EventConflictReply, now, map[string]any{
		"success":     true,
		"conflict_id": conflict.ID,
	}))
	c.notifyConflictParties(EventConflictResolved, conflict, now)
}

func (c *Coordinator) handleBroadcast(userID string, m BroadcastMessage) {
	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" {
		metrics.InboundMessages.WithLabelValues(TypeBroadcast, "dropped").Inc()
		return
	}
	metrics.InboundMessages.WithLabelValues(TypeBroadcast, "ok").Inc()

	displayName, _ := c.registry.DisplayName(userID)
	c.broadcastRoom(roomID, NewEvent(EventBroadcast, c.timeNow(), map[string]any{
		"room_id":     roomID,
		"sender_id":   userID,
		"sender_name": displayName,
		"message":     json.RawMessage(m.Message),
	}), userID)
}

// ReportConflict records a conflict detected by an external collaborator and
// notifies the two involved users directly. Conflicts are private to the
// involved parties; no room broadcast happens.
func (c *Coordinator) ReportConflict(report ConflictReport) (Conflict, error) {
	if strings.TrimSpace(report.ResourceID) == "" {
		return Conflict{}, errors.New("collab: resource id is required")
	}
	if strings.TrimSpace(report.UserA) == "" || strings.TrimSpace(report.UserB) == "" {
		return Conflict{}, errors.New("collab: both user ids are required")
	}
	if _, err := ParseSeverity(string(report.Severity)); err != nil {
		return Conflict{}, err
	}

	conflict := c.conflicts.Report(report)
	metrics.ConflictsReported.WithLabelValues(string(conflict.Severity)).Inc()
	c.record(func(r Recorder) { r.ConflictEvent("reported", conflict) })

	c.log.Info("conflict reported",
		zap.String("conflict_id", conflict.ID),
		zap.String("resource_id", conflict.ResourceID),
		zap.String("severity", string(conflict.Severity)),
	)

	c.notifyConflictParties(EventConflictDetected, conflict, c.timeNow())
	return conflict, nil
}

// SweepLocks expires stale locks and broadcasts a release per expired lock.
// It returns the number of locks removed.
func (c *Coordinator) SweepLocks(now time.Time) int {
	expired := c.locks.SweepExpired(now)
	for _, lock := range expired {
		c.record(func(r Recorder) { r.LockEvent("expired", lock) })
		c.broadcastRoom(lock.RoomID, c.lockEvent(EventLockReleased, lock, now, "expired"))
	}
	if len(expired) > 0 {
		metrics.ActiveLocks.Set(float64(c.locks.Count()))
		c.log.Info("expired locks swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// EvictInactive disconnects every user whose presence is older than the
// inactivity threshold. It returns the number of users evicted.
func (c *Coordinator) EvictInactive(now time.Time) int {
	stale := c.presence.InactiveSince(now.Add(-c.inactivity))
	for _, userID := range stale {
		c.log.Info("evicting inactive user", zap.String("user_id", userID))
		c.Disconnect(userID)
	}
	return len(stale)
}

// RoomState is a point-in-time view of one room.
type RoomState struct {
	RoomID   string     `json:"room_id"`
	Members  []string   `json:"members"`
	Presence []Presence `json:"presence"`
	Locks    []EditLock `json:"locks"`
}

// Room returns a live snapshot of the room's membership, presence, and locks.
func (c *Coordinator) Room(roomID string) RoomState {
	now := c.timeNow()
	return RoomState{
		RoomID:   roomID,
		Members:  c.registry.Members(roomID),
		Presence: c.presence.Snapshot(roomID),
		Locks:    c.locks.ForRoom(roomID, now),
	}
}

// ActiveLocks returns every unexpired lock.
func (c *Coordinator) ActiveLocks() []EditLock {
	return c.locks.Active(c.timeNow())
}

// Conflicts lists recorded conflicts.
func (c *Coordinator) Conflicts(opts ListOptions) []Conflict {
	return c.conflicts.List(opts)
}

// ConnectedUsers returns the number of live connections.
func (c *Coordinator) ConnectedUsers() int {
	return c.registry.Count()
}

// Shutdown disconnects every connected user, emitting the usual departure
// broadcasts.
func (c *Coordinator) Shutdown() {
	for _, userID := range c.registry.Users() {
		c.Disconnect(userID)
	}
}

func (c *Coordinator) broadcastRoom(roomID string, event Event, exclude ...string) {
	if roomID == "" {
		return
	}
	failed := c.registry.Broadcast(roomID, event, exclude...)
	metrics.BroadcastDeliveries.WithLabelValues(event.Type).Inc()

	// A failed send means the client is gone; tear it down like a disconnect.
	for _, userID := range failed {
		c.log.Warn("send failed during broadcast; disconnecting user",
			zap.String("user_id", userID),
			zap.String("event", event.Type),
		)
		c.Disconnect(userID)
	}
}

func (c *Coordinator) unicast(userID string, event Event) {
	if c.registry.Unicast(userID, event) {
		c.log.Warn("unicast send failed; disconnecting user",
			zap.String("user_id", userID),
			zap.String("event", event.Type),
		)
		c.Disconnect(userID)
	}
}

func (c *Coordinator) notifyConflictParties(eventType string, conflict Conflict, now time.Time) {
	event := NewEvent(eventType, now, map[string]any{"conflict": conflict})
	c.unicast(conflict.UserA, event)
	c.unicast(conflict.UserB, event)
}

func (c *Coordinator) lockEvent(eventType string, lock EditLock, now time.Time, reason string) Event {
	return NewEvent(eventType, now, map[string]any{
		"lock":   lock,
		"reason": reason,
	})
}

func (c *Coordinator) record(fn func(Recorder)) {
	if c.recorder != nil {
		fn(c.recorder)
	}
}
