package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/myassin/authflow/internal/models"
	"github.com/myassin/authflow/pkg/logger"
)

const defaultSchedule = "@hourly"

// Cleaner periodically clears expired verification and reset challenges from
// account records. Expired challenges are already unusable (consumption
// checks the expiry), so this is hygiene: it keeps the "no dangling token"
// invariant visible in the data itself.
type Cleaner struct {
	db       *gorm.DB
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	schedule string
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

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification for challenge cleanup.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:       db,
		now:      time.Now,
		schedule: defaultSchedule,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return errors.New("maintenance: db is required")
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("challenge cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler and returns a context that completes once any
// in-flight job finishes.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce clears all expired verification and reset challenges immediately.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if c.db == nil {
		return errors.New("maintenance: db is required")
	}

	now := c.now()
	var errs error

	res := c.db.WithContext(ctx).Model(&models.Account{}).
		Where("verification_expires_at IS NOT NULL AND verification_expires_at <= ?", now).
		Updates(map[string]any{
			"verification_code":       nil,
			"verification_expires_at": nil,
		})
	if res.Error != nil {
		errs = multierr.Append(errs, res.Error)
	} else if res.RowsAffected > 0 {
		c.log.Info("expired verification challenges cleared", zap.Int64("count", res.RowsAffected))
	}

	res = c.db.WithContext(ctx).Model(&models.Account{}).
		Where("reset_expires_at IS NOT NULL AND reset_expires_at <= ?", now).
		Updates(map[string]any{
			"reset_token_hash": nil,
			"reset_expires_at": nil,
		})
	if res.Error != nil {
		errs = multierr.Append(errs, res.Error)
	} else if res.RowsAffected > 0 {
		c.log.Info("expired reset challenges cleared", zap.Int64("count", res.RowsAffected))
	}

	return errs
}
