package collab

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity orders conflicts from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity tag.
func ParseSeverity(value string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(value)))
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return severity, nil
	default:
		return "", fmt.Errorf("collab: unknown severity %q", value)
	}
}

// Rank returns the ordering position of the severity, low first.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// ErrConflictNotFound indicates an unknown conflict id.
var ErrConflictNotFound = errors.New("collab: conflict not found")

// ErrConflictResolved indicates the conflict was already resolved.
var ErrConflictResolved = errors.New("collab: conflict already resolved")

// Conflict records a detected disagreement between two users over a resource.
// Records are append-only; resolution is the only mutation and happens once.
type Conflict struct {
	ID           string     `json:"conflict_id"`
	ResourceID   string     `json:"resource_id"`
	ConflictType string     `json:"conflict_type"`
	Severity     Severity   `json:"severity"`
	UserA        string     `json:"user_a"`
	UserB        string     `json:"user_b"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
	Resolved     bool       `json:"resolved"`
	Resolution   string     `json:"resolution,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// ConflictReport carries the parameters of one reported conflict.
type ConflictReport struct {
	ResourceID   string
	ConflictType string
	Severity     Severity
	UserA        string
	UserB        string
	Description  string
}

// ConflictTracker keeps the append-only conflict log.
type ConflictTracker struct {
	mu        sync.RWMutex
	order     []string
	conflicts map[string]*Conflict
	timeNow   func() time.Time
}

// NewConflictTracker constructs an empty tracker.
func NewConflictTracker() *ConflictTracker {
	return &ConflictTracker{
		conflicts: make(map[string]*Conflict),
		timeNow:   time.Now,
	}
}

// Report records a new unresolved conflict and returns it.
func (t *ConflictTracker) Report(report ConflictReport) Conflict {
	conflict := &Conflict{
		ID:           uuid.NewString(),
		ResourceID:   strings.TrimSpace(report.ResourceID),
		ConflictType: strings.TrimSpace(report.ConflictType),
		Severity:     report.Severity,
		UserA:        strings.TrimSpace(report.UserA),
		UserB:        strings.TrimSpace(report.UserB),
		Description:  report.Description,
		CreatedAt:    t.timeNow(),
	}

	t.mu.Lock()
	t.conflicts[conflict.ID] = conflict
	t.order = append(t.order, conflict.ID)
	t.mu.Unlock()

	return *conflict
}

// Resolve performs the one-way unresolved-to-resolved transition. Resolving an
// unknown or already resolved conflict fails without altering state.
func (t *ConflictTracker) Resolve(conflictID, resolution, resolvedBy string) (Conflict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conflict, ok := t.conflicts[conflictID]
	if !ok {
		return Conflict{}, ErrConflictNotFound
	}
	if conflict.Resolved {
		return Conflict{}, ErrConflictResolved
	}

	now := t.timeNow()
	conflict.Resolved = true
	conflict.Resolution = strings.TrimSpace(resolution)
	conflict.ResolvedBy = strings.TrimSpace(resolvedBy)
	conflict.ResolvedAt = &now

	return *conflict, nil
}

// Get returns a copy of the conflict with the supplied id.
func (t *ConflictTracker) Get(conflictID string) (Conflict, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conflict, ok := t.conflicts[conflictID]
	if !ok {
		return Conflict{}, false
	}
	return *conflict, true
}

// ListOptions filters conflict listings.
type ListOptions struct {
	ResourceID      string
	IncludeResolved bool
}

// List returns conflicts in report order, oldest first.
func (t *ConflictTracker) List(opts ListOptions) []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Conflict, 0, len(t.order))
	for _, id := range t.order {
		conflict := t.conflicts[id]
		if opts.ResourceID != "" && conflict.ResourceID != opts.ResourceID {
			continue
		}
		if !opts.IncludeResolved && conflict.Resolved {
			continue
		}
		out = append(out, *conflict)
	}
	return out
}

// Count returns the total number of recorded conflicts.
func (t *ConflictTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conflicts)
}
