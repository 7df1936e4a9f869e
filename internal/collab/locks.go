package collab

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockLease is the lease duration applied when an acquisition does not
// request one.
const DefaultLockLease = 300 * time.Second

// LockKind enumerates the editing surfaces that can be locked.
type LockKind string

const (
	LockFloorEdit       LockKind = "floor_edit"
	LockObjectEdit      LockKind = "object_edit"
	LockRouteEdit       LockKind = "route_edit"
	LockGridCalibration LockKind = "grid_calibration"
	LockAnalyticsView   LockKind = "analytics_view"
)

// ParseLockKind validates a wire-level lock type tag.
func ParseLockKind(value string) (LockKind, error) {
	kind := LockKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case LockFloorEdit, LockObjectEdit, LockRouteEdit, LockGridCalibration, LockAnalyticsView:
		return kind, nil
	default:
		return "", fmt.Errorf("collab: unknown lock type %q", value)
	}
}

// ErrLockNotFound indicates a release referenced an unknown lock id.
var ErrLockNotFound = errors.New("collab: lock not found")

// ErrNotLockHolder indicates a release by a user who does not hold the lock.
var ErrNotLockHolder = errors.New("collab: lock held by another user")

// EditLock is a lease-based exclusive claim on one resource.
type EditLock struct {
	ID         string         `json:"lock_id"`
	Kind       LockKind       `json:"lock_type"`
	ResourceID string         `json:"resource_id"`
	RoomID     string         `json:"room_id"`
	HolderID   string         `json:"user_id"`
	HolderName string         `json:"display_name,omitempty"`
	AcquiredAt time.Time      `json:"acquired_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AcquireRequest carries the parameters of one lock acquisition.
type AcquireRequest struct {
	UserID      string
	DisplayName string
	Kind        LockKind
	ResourceID  string
	RoomID      string
	Lease       time.Duration
	Metadata    map[string]any
}

// AcquireResult reports the outcome of an acquisition attempt.
type AcquireResult struct {
	Granted bool
	Renewed bool
	Lock    EditLock
	Reason  string
}

type lockKey struct {
	kind     LockKind
	resource string
}

// LockManager provides lease-based mutual exclusion over (kind, resource id)
// pairs. Expired locks are evicted lazily on lookup and in bulk by the sweep.
type LockManager struct {
	mu      sync.RWMutex
	locks   map[lockKey]*EditLock
	byID    map[string]lockKey
	lease   time.Duration
	timeNow func() time.Time
}

// NewLockManager constructs a LockManager with the supplied default lease.
// A non-positive lease falls back to DefaultLockLease.
func NewLockManager(lease time.Duration) *LockManager {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	return &LockManager{
		locks:   make(map[lockKey]*EditLock),
		byID:    make(map[string]lockKey),
		lease:   lease,
		timeNow: time.Now,
	}
}

// Acquire obtains or renews the lock for (kind, resource id). Re-acquisition
// by the current holder extends the lease on the existing lock id; a lock
// held by another user fails with a reason naming the holder.
func (m *LockManager) Acquire(req AcquireRequest) AcquireResult {
	resourceID := strings.TrimSpace(req.ResourceID)
	if resourceID == "" {
		return AcquireResult{Reason: "resource id is required"}
	}

	lease := req.Lease
	if lease <= 0 {
		lease = m.lease
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		roomID = resourceID
	}

	key := lockKey{kind: req.Kind, resource: resourceID}
	now := m.timeNow()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[key]; ok {
		if !existing.ExpiresAt.After(now) {
			// Lazy expiry: the sweep has not run yet.
			delete(m.locks, key)
			delete(m.byID, existing.ID)
		} else if existing.HolderID == req.UserID {
			existing.ExpiresAt = now.Add(lease)
			return AcquireResult{Granted: true, Renewed: true, Lock: *cloneLock(existing)}
		} else {
			holder := existing.HolderName
			if holder == "" {
				holder = existing.HolderID
			}
			return AcquireResult{
				Reason: fmt.Sprintf("resource is locked by %s", holder),
				Lock:   *cloneLock(existing),
			}
		}
	}

	lock := &EditLock{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		ResourceID: resourceID,
		RoomID:     roomID,
		HolderID:   req.UserID,
		HolderName: strings.TrimSpace(req.DisplayName),
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
		Metadata:   cloneLockMetadata(req.Metadata),
	}
	m.locks[key] = lock
	m.byID[lock.ID] = key

	return AcquireResult{Granted: true, Lock: *cloneLock(lock)}
}

// Release removes the lock if it exists and is held by the supplied user.
func (m *LockManager) Release(lockID, userID string) (EditLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[lockID]
	if !ok {
		return EditLock{}, ErrLockNotFound
	}
	lock := m.locks[key]
	if lock.HolderID != userID {
		return EditLock{}, ErrNotLockHolder
	}

	delete(m.locks, key)
	delete(m.byID, lockID)
	return *cloneLock(lock), nil
}

// ReleaseAllFor removes every lock held by the user and returns them. Safe to
// call for a user holding no locks.
func (m *LockManager) ReleaseAllFor(userID string) []EditLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []EditLock
	for key, lock := range m.locks {
		if lock.HolderID != userID {
			continue
		}
		delete(m.locks, key)
		delete(m.byID, lock.ID)
		released = append(released, *cloneLock(lock))
	}
	sortLocks(released)
	return released
}

// SweepExpired removes and returns every lock whose expiry has passed.
func (m *LockManager) SweepExpired(now time.Time) []EditLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []EditLock
	for key, lock := range m.locks {
		if lock.ExpiresAt.After(now) {
			continue
		}
		delete(m.locks, key)
		delete(m.byID, lock.ID)
		expired = append(expired, *cloneLock(lock))
	}
	sortLocks(expired)
	return expired
}

// Get returns a copy of the lock with the supplied id.
func (m *LockManager) Get(lockID string) (EditLock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byID[lockID]
	if !ok {
		return EditLock{}, false
	}
	return *cloneLock(m.locks[key]), true
}

// ForRoom returns the unexpired locks broadcasting into the room.
func (m *LockManager) ForRoom(roomID string, now time.Time) []EditLock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EditLock
	for _, lock := range m.locks {
		if lock.RoomID == roomID && lock.ExpiresAt.After(now) {
			out = append(out, *cloneLock(lock))
		}
	}
	sortLocks(out)
	return out
}

// Active returns copies of every unexpired lock.
func (m *LockManager) Active(now time.Time) []EditLock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EditLock, 0, len(m.locks))
	for _, lock := range m.locks {
		if lock.ExpiresAt.After(now) {
			out = append(out, *cloneLock(lock))
		}
	}
	sortLocks(out)
	return out
}

// Count returns the number of tracked locks, expired entries included.
func (m *LockManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locks)
}

func cloneLock(lock *EditLock) *EditLock {
	clone := *lock
	clone.Metadata = cloneLockMetadata(lock.Metadata)
	return &clone
}

func cloneLockMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}

func sortLocks(locks []EditLock) {
	sort.SliceStable(locks, func(i, j int) bool {
		if locks[i].AcquiredAt.Equal(locks[j].AcquiredAt) {
			return locks[i].ID < locks[j].ID
		}
		return locks[i].AcquiredAt.Before(locks[j].AcquiredAt)
	})
}
