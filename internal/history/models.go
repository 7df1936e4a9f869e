package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LockEvent is one row of the append-only lock audit trail.
type LockEvent struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	Action     string         `gorm:"not null;index" json:"action"`
	LockID     string         `gorm:"index" json:"lock_id"`
	LockType   string         `gorm:"index" json:"lock_type"`
	ResourceID string         `gorm:"index" json:"resource_id"`
	RoomID     string         `gorm:"index" json:"room_id"`
	HolderID   string         `gorm:"index" json:"user_id"`
	HolderName string         `json:"display_name"`
	AcquiredAt time.Time      `json:"acquired_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (e *LockEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// ConflictRecord mirrors a tracked conflict for durable auditing. The primary
// key is the conflict id, so resolution updates the reported row in place.
type ConflictRecord struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	ResourceID   string     `gorm:"index" json:"resource_id"`
	ConflictType string     `json:"conflict_type"`
	Severity     string     `gorm:"index" json:"severity"`
	UserA        string     `gorm:"index" json:"user_a"`
	UserB        string     `gorm:"index" json:"user_b"`
	Description  string     `json:"description"`
	Resolved     bool       `gorm:"index" json:"resolved"`
	Resolution   string     `json:"resolution,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AutoMigrate creates or updates the history tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LockEvent{}, &ConflictRecord{})
}
