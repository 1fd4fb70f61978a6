package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/maniack/sessionsweep/internal/logging"
)

// Session is a stored user session. Expires holds Unix seconds.
type Session struct {
	SessionID      string `gorm:"type:varchar(255);primaryKey" json:"session_id"`
	SessionExpires int64  `gorm:"not null;default:0;index" json:"session_expires"`
	SessionData    []byte `json:"-"`
}

// Setting is a configuration value addressed by a dotted path
// ("session.enabled").
type Setting struct {
	Path      string    `gorm:"type:varchar(255);primaryKey" json:"path"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options tune how Open connects and which tables it manages.
type Options struct {
	// TablePrefix is prepended to every table name ("shop_" -> "shop_session").
	TablePrefix string
	// Migrate creates or updates the session and setting tables.
	Migrate bool
	// SlowThreshold marks statements slower than this as slow in the log.
	SlowThreshold time.Duration
}

type Store struct {
	DB       *gorm.DB
	sessions Target
	// settings is false when the database has no setting table, as with a
	// host schema opened without Migrate.
	settings bool
}

// Open connects to the session database. DSNs that look like PostgreSQL
// ("postgres://", "postgresql://" or host=/user=/dbname= pairs) use the
// postgres driver; anything else is a SQLite path or URI.
func Open(dsn string, opts Options) (*Store, error) {
	log := logging.L()
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 500 * time.Millisecond
	}

	dialector, kind := dialectorFor(dsn)
	log.WithField("driver", kind).Info("storage: opening session database")
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.NewGormLogger(log, opts.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   opts.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", kind, err)
	}

	if kind == "sqlite" {
		pool, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite pool: %w", err)
		}
		// one connection keeps shared in-memory databases and writes consistent
		pool.SetMaxOpenConns(1)
	}

	if opts.Migrate {
		if err := db.AutoMigrate(&Session{}, &Setting{}); err != nil {
			return nil, fmt.Errorf("migrate session tables: %w", err)
		}
		log.Debug("storage: session and setting tables migrated")
	}

	target, err := resolveTarget(db, &Session{}, "SessionExpires")
	if err != nil {
		return nil, err
	}
	log.WithField("table", target.Table).Debug("storage: session table resolved")

	settings := db.Migrator().HasTable(&Setting{})
	if !settings {
		log.WithField("migrate", opts.Migrate).Info("storage: no setting table, database settings are unset")
	}

	return &Store{DB: db, sessions: target, settings: settings}, nil
}

func dialectorFor(dsn string) (gorm.Dialector, string) {
	if isPostgresDSN(dsn) {
		return postgres.Open(dsn), "postgres"
	}
	return sqlite.Open(dsn), "sqlite"
}

func isPostgresDSN(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(d, scheme) {
			return true
		}
	}
	// keyword/value form understood by pgx
	for _, kw := range []string{"host=", "user=", "dbname="} {
		if strings.Contains(d, kw) {
			return true
		}
	}
	return false
}

// Sessions returns the expiry queries bound to the session table.
func (s *Store) Sessions() *Expiring {
	return &Expiring{db: s.DB, target: s.sessions}
}

// Ping checks that the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.WithContext(ctx).Exec("select 1").Error
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HasSettings reports whether the setting table existed when the store was
// opened.
func (s *Store) HasSettings() bool { return s.settings }

// Lookup returns the stored value for path. A missing row, or a missing
// setting table, is reported as found == false, not as an error.
func (s *Store) Lookup(ctx context.Context, path string) (string, bool, error) {
	if !s.settings {
		return "", false, nil
	}
	var sett Setting
	err := s.DB.WithContext(ctx).Where("path = ?", path).Take(&sett).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", path, err)
	}
	return sett.Value, true, nil
}

func (s *Store) SaveSetting(ctx context.Context, path, value string) error {
	if path == "" {
		return fmt.Errorf("setting path required")
	}
	sett := Setting{Path: path, Value: value}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&sett).Error
}

// EnsureSettings creates the setting table if it is missing. The session
// table is left alone.
func (s *Store) EnsureSettings(ctx context.Context) error {
	if s.settings {
		return nil
	}
	if err := s.DB.WithContext(ctx).AutoMigrate(&Setting{}); err != nil {
		return fmt.Errorf("create setting table: %w", err)
	}
	s.settings = true
	return nil
}

// DeleteSetting removes path and reports whether it existed.
func (s *Store) DeleteSetting(ctx context.Context, path string) (bool, error) {
	if !s.settings {
		return false, nil
	}
	res := s.DB.WithContext(ctx).Where("path = ?", path).Delete(&Setting{})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	if !s.settings {
		return nil, nil
	}
	var out []Setting
	err := s.DB.WithContext(ctx).Order("path").Find(&out).Error
	return out, err
}
