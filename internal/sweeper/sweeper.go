// Package sweeper removes expired session rows in bounded batches.
//
// A sweep reads its settings fresh on every run, computes one cutoff instant
// and uses it for both the count and the delete. When the sweep is disabled
// it returns without touching storage or the log.
package sweeper

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Configuration keys.
const (
	KeyEnabled     = "session.enabled"
	KeyExpiryLimit = "session.expiry_limit"
	KeyDeleteLimit = "session.delete_limit"
)

const (
	DefaultBatchLimit = 1000
	secondsPerDay     = 86400
	maxGraceDays      = math.MaxInt64 / secondsPerDay
)

// Config looks up a setting by path. found is false when the key is unset.
type Config interface {
	Lookup(ctx context.Context, path string) (value string, found bool, err error)
}

// Store counts and deletes expired rows of a single table. A row is expired
// when its expiry (Unix seconds) is at or before cutoff.
type Store interface {
	Table() string
	CountExpired(ctx context.Context, cutoff int64, limit int) (int64, error)
	DeleteExpired(ctx context.Context, cutoff int64, limit int) (int64, error)
}

// Logger is satisfied by *logrus.Logger and *logrus.Entry.
type Logger interface {
	WithContext(ctx context.Context) *logrus.Entry
}

// Settings is the coerced configuration of one run.
type Settings struct {
	Enabled    bool  `json:"enabled"`
	GraceDays  int64 `json:"grace_days"`
	BatchLimit int   `json:"batch_limit"`
}

// Result describes one run. Removed is the number counted before the
// delete; Deleted is what the driver reported for the delete itself. The two
// differ only when other writers touch the table between the statements.
type Result struct {
	Skipped    bool      `json:"skipped"`
	Table      string    `json:"table,omitempty"`
	GraceDays  int64     `json:"grace_days"`
	BatchLimit int       `json:"batch_limit"`
	Cutoff     time.Time `json:"cutoff"`
	Removed    int64     `json:"removed"`
	Deleted    int64     `json:"deleted"`
}

type Sweeper struct {
	cfg   Config
	store Store
	log   Logger
	now   func() time.Time
}

type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(cfg Config, store Store, log Logger, opts ...Option) *Sweeper {
	s := &Sweeper{cfg: cfg, store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Settings reads and coerces the sweep configuration.
//
// A missing or non-numeric grace period means 0 days; a missing, zero or
// non-numeric batch limit means DefaultBatchLimit. Values that had to be
// coerced are reported with a warning. Negative values are rejected.
func (s *Sweeper) Settings(ctx context.Context) (Settings, error) {
	enabled, err := s.enabled(ctx)
	if err != nil {
		return Settings{}, err
	}
	out, err := s.limits(ctx)
	out.Enabled = enabled
	return out, err
}

func (s *Sweeper) enabled(ctx context.Context) (bool, error) {
	v, _, err := s.cfg.Lookup(ctx, KeyEnabled)
	if err != nil {
		return false, &ConfigurationError{Key: KeyEnabled, Err: err}
	}
	return enabledValue(v), nil
}

func (s *Sweeper) limits(ctx context.Context) (Settings, error) {
	var out Settings
	grace, err := s.intSetting(ctx, KeyExpiryLimit)
	if err != nil {
		return out, err
	}
	if grace > maxGraceDays {
		grace = maxGraceDays
	}
	out.GraceDays = grace

	limit, err := s.intSetting(ctx, KeyDeleteLimit)
	if err != nil {
		return out, err
	}
	switch {
	case limit == 0:
		out.BatchLimit = DefaultBatchLimit
	case limit > math.MaxInt32:
		out.BatchLimit = math.MaxInt32
	default:
		out.BatchLimit = int(limit)
	}
	return out, nil
}

func (s *Sweeper) intSetting(ctx context.Context, key string) (int64, error) {
	v, found, err := s.cfg.Lookup(ctx, key)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Err: err}
	}
	if !found || v == "" {
		return 0, nil
	}
	n, clean := toInt(v)
	if n < 0 {
		return 0, &ConfigurationError{Key: key, Value: v, Err: ErrNegative}
	}
	if !clean {
		s.log.WithContext(ctx).WithField("key", key).WithField("value", v).
			Warnf("sessions: %s is not an integer, using %d", key, n)
	}
	return n, nil
}

// Run performs one sweep. Count always precedes delete and both use the same
// cutoff. A failed count aborts the run before anything is deleted.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	on, err := s.enabled(ctx)
	if err != nil {
		return Result{}, err
	}
	if !on {
		return Result{Skipped: true}, nil
	}
	set, err := s.limits(ctx)
	if err != nil {
		return Result{}, err
	}

	table := s.store.Table()
	log := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"table":      table,
		"grace_days": set.GraceDays,
		"limit":      set.BatchLimit,
	})
	log.Infof("sessions: removing sessions expired more than %d day(s) ago", set.GraceDays)

	now := s.now()
	cutoff := now.Unix() - set.GraceDays*secondsPerDay
	res := Result{
		Table:      table,
		GraceDays:  set.GraceDays,
		BatchLimit: set.BatchLimit,
		Cutoff:     time.Unix(cutoff, 0).In(now.Location()),
	}

	res.Removed, err = s.store.CountExpired(ctx, cutoff, set.BatchLimit)
	if err != nil {
		return res, &StorageError{Op: "count", Table: table, Err: err}
	}
	res.Deleted, err = s.store.DeleteExpired(ctx, cutoff, set.BatchLimit)
	if err != nil {
		return res, &StorageError{Op: "delete", Table: table, Err: err}
	}

	log.WithField("removed", res.Removed).WithField("deleted", res.Deleted).
		Infof("sessions: removed %d expired session(s)", res.Removed)
	return res, nil
}
