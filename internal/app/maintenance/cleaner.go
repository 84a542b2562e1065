package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	defaultIdleSpec    = "@every 1m"
	defaultRoomSpec    = "@every 1m"
)

// Cleaner coordinates background maintenance tasks: closing idle connections
// and tearing down rooms that are past their retention window.
type Cleaner struct {
	registry *realtime.Registry
	manager  *battle.Manager
	cron     *cron.Cron
	log      *zap.Logger
	enabled  bool

	idleTimeout  time.Duration
	idleSchedule string
	roomSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithIdleTimeout adjusts how long a connection may stay silent before it is closed.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(cleaner *Cleaner) {
		if timeout > 0 {
			cleaner.idleTimeout = timeout
		}
	}
}

// WithIdleSchedule overrides the cron specification for the idle connection sweep.
func WithIdleSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.idleSchedule = spec
		}
	}
}

// WithRoomSchedule overrides the cron specification for the room retention sweep.
func WithRoomSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.roomSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(registry *realtime.Registry, manager *battle.Manager, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		registry:     registry,
		manager:      manager,
		idleTimeout:  defaultIdleTimeout,
		idleSchedule: defaultIdleSpec,
		roomSchedule: defaultRoomSpec,
		log:          logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.registry != nil || cleaner.manager != nil

	return cleaner
}

// Start registers the sweeps with the cron scheduler and launches it if at
// least one sweep is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.registry != nil {
		if _, err := c.cron.AddFunc(c.idleSchedule, func() {
			closed := c.registry.SweepIdle(c.idleTimeout)
			if len(closed) > 0 {
				c.log.Info("closed idle connections", zap.Int("count", len(closed)))
			}
		}); err != nil {
			return err
		}
	}

	if c.manager != nil {
		if _, err := c.cron.AddFunc(c.roomSchedule, func() {
			if removed := c.manager.SweepExpired(); removed > 0 {
				c.log.Info("removed expired rooms", zap.Int("count", removed))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.registry != nil {
		c.registry.SweepIdle(c.idleTimeout)
	}
	if c.manager != nil {
		c.manager.SweepExpired()
	}

	return ctx.Err()
}
