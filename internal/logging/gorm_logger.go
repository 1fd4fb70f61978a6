package logging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// NewGormLogger routes GORM output into l. Statements are traced only when l
// is at debug level; failures and statements slower than slow always are.
func NewGormLogger(l *logrus.Logger, slow time.Duration) gormlogger.Interface {
	level := gormlogger.Warn
	if l.IsLevelEnabled(logrus.DebugLevel) {
		level = gormlogger.Info
	}
	return &sqlLogger{out: l, slow: slow, level: level}
}

type sqlLogger struct {
	out   *logrus.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func (s *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *s
	cp.level = level
	return &cp
}

func (s *sqlLogger) at(ctx context.Context, min gormlogger.LogLevel) (*logrus.Entry, bool) {
	if s.level < min {
		return nil, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.out.WithContext(ctx), true
}

func (s *sqlLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if e, ok := s.at(ctx, gormlogger.Info); ok {
		e.Infof("sql: "+msg, data...)
	}
}

func (s *sqlLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if e, ok := s.at(ctx, gormlogger.Warn); ok {
		e.Warnf("sql: "+msg, data...)
	}
}

func (s *sqlLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if e, ok := s.at(ctx, gormlogger.Error); ok {
		e.Errorf("sql: "+msg, data...)
	}
}

// statementVerb returns the lowercased leading keyword of a statement.
func statementVerb(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \t\n("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToLower(sql)
}

func (s *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if s.level <= gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	withStatement := func(e *logrus.Entry) *logrus.Entry {
		sql, rows := fc()
		return e.WithFields(logrus.Fields{
			"verb":        statementVerb(sql),
			"sql":         sql,
			"rows":        rows,
			"duration_ms": float64(took.Microseconds()) / 1e3,
		})
	}

	if err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) {
		if e, ok := s.at(ctx, gormlogger.Error); ok {
			withStatement(e).WithError(err).Error("sql: statement failed")
		}
		return
	}
	if s.slow > 0 && took > s.slow {
		if e, ok := s.at(ctx, gormlogger.Warn); ok {
			withStatement(e).WithField("threshold_ms", s.slow.Milliseconds()).Warn("sql: slow statement")
		}
		return
	}
	if e, ok := s.at(ctx, gormlogger.Info); ok {
		withStatement(e).Debug("sql: statement")
	}
}
