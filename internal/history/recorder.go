package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/logger"
)

const writeQueueSize = 256

// Recorder persists engine events behind a single writer goroutine so that
// message dispatch never waits on the database. When the queue is full the
// event is dropped with a warning; the engine's in-memory state stays
// authoritative.
type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	queue chan func(*gorm.DB) error
	wg    sync.WaitGroup
	once  sync.Once
}

// NewRecorder migrates the history schema and starts the write-behind worker.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("history: db is required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	r := &Recorder{
		db:    db,
		log:   logger.WithModule("history"),
		queue: make(chan func(*gorm.DB) error, writeQueueSize),
	}

	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// LockEvent records one lock transition (acquired, renewed, released, expired).
func (r *Recorder) LockEvent(action string, lock collab.EditLock) {
	row := LockEvent{
		Action:     action,
		LockID:     lock.ID,
		LockType:   string(lock.Kind),
		ResourceID: lock.ResourceID,
		RoomID:     lock.RoomID,
		HolderID:   lock.HolderID,
		HolderName: lock.HolderName,
		AcquiredAt: lock.AcquiredAt,
		ExpiresAt:  lock.ExpiresAt,
		Metadata:   marshalMetadata(lock.Metadata),
	}
	r.enqueue(func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

// ConflictEvent records a reported conflict or updates it on resolution.
func (r *Recorder) ConflictEvent(action string, conflict collab.Conflict) {
	switch action {
	case "reported":
		row := ConflictRecord{
			ID:           conflict.ID,
			ResourceID:   conflict.ResourceID,
			ConflictType: conflict.ConflictType,
			Severity:     string(conflict.Severity),
			UserA:        conflict.UserA,
			UserB:        conflict.UserB,
			Description:  conflict.Description,
			CreatedAt:    conflict.CreatedAt,
		}
		r.enqueue(func(db *gorm.DB) error {
			return db.Create(&row).Error
		})
	case "resolved":
		updates := map[string]any{
			"resolved":    true,
			"resolution":  conflict.Resolution,
			"resolved_by": conflict.ResolvedBy,
			"resolved_at": conflict.ResolvedAt,
		}
		r.enqueue(func(db *gorm.DB) error {
			return db.Model(&ConflictRecord{}).Where("id = ?", conflict.ID).Updates(updates).Error
		})
	default:
		r.log.Warn("unknown conflict action", zap.String("action", action))
	}
}

// ListLockEvents returns recent lock events, newest first, optionally
// filtered by resource id.
func (r *Recorder) ListLockEvents(ctx context.Context, resourceID string, limit int) ([]LockEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := r.db.WithContext(ctx).
		Model(&LockEvent{}).
		Order("created_at DESC").
		Limit(limit)
	if resourceID != "" {
		query = query.Where("resource_id = ?", resourceID)
	}

	var rows []LockEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListConflicts returns persisted conflict records, newest first.
func (r *Recorder) ListConflicts(ctx context.Context, includeResolved bool, limit int) ([]ConflictRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := r.db.WithContext(ctx).
		Model(&ConflictRecord{}).
		Order("created_at DESC").
		Limit(limit)
	if !includeResolved {
		query = query.Where("resolved = ?", false)
	}

	var rows []ConflictRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Close flushes the queue and stops the worker.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

func (r *Recorder) enqueue(write func(*gorm.DB) error) {
	defer func() {
		// Close may race with a late event from a draining connection.
		if recover() != nil {
			r.log.Warn("dropping history event after close")
		}
	}()

	select {
	case r.queue <- write:
	default:
		r.log.Warn("history queue full; dropping event")
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for write := range r.queue {
		if err := write(r.db); err != nil {
			r.log.Warn("history write failed", zap.Error(err))
		}
	}
}

func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

var _ collab.Recorder = (*Recorder)(nil)
