package collab

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/floorwise/collab/pkg/logger"
)

const defaultSweepSpec = "@every 30s"

// Sweeper periodically expires stale locks and evicts silent users. A failure
// or panic in one iteration is logged and never terminates the loop.
type Sweeper struct {
	coordinator *Coordinator
	cron        *cron.Cron
	schedule    string
	now         func() time.Time
	log         *zap.Logger
}

// SweeperOption customises the Sweeper.
type SweeperOption func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) SweeperOption {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper bound to the supplied coordinator.
func NewSweeper(coordinator *Coordinator, opts ...SweeperOption) (*Sweeper, error) {
	if coordinator == nil {
		return nil, errors.New("collab: coordinator is required")
	}

	sweeper := &Sweeper{
		coordinator: coordinator,
		schedule:    defaultSweepSpec,
		now:         time.Now,
		log:         logger.WithModule("sweeper"),
	}
	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return sweeper, nil
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runIteration); err != nil {
		return fmt.Errorf("collab: register sweep job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to complete.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce executes a single sweep iteration immediately.
func (s *Sweeper) RunOnce() {
	s.runIteration()
}

func (s *Sweeper) runIteration() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep iteration panic", zap.Any("error", r))
		}
	}()

	now := s.now()
	expired := s.coordinator.SweepLocks(now)
	evicted := s.coordinator.EvictInactive(now)

	if expired > 0 || evicted > 0 {
		s.log.Info("sweep completed",
			zap.Int("expired_locks", expired),
			zap.Int("evicted_users", evicted),
		)
	}
}
