package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

const slowQuery = 250 * time.Millisecond

// queryLogger sends GORM's query trace through the service logger. Only
// failed and slow statements are logged; record-not-found is an expected
// outcome for lookups and stays quiet.
type queryLogger struct {
	logg  *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newQueryLogger(logg *logger.Logger) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, level: gormlogger.Warn, slow: slowQuery}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *queryLogger) Info(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Info {
		l.logg.Info(ctx, msg)
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Warn {
		l.logg.Warn(ctx, msg)
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, _ ...any) {
	if l.level >= gormlogger.Error {
		l.logg.Error(ctx, msg, nil)
	}
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !failed && (elapsed < l.slow || l.level < gormlogger.Warn) {
		return
	}

	query, rows := fc()
	fields := map[string]any{
		"sql":         query,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	}
	if failed {
		l.logg.Error(l.logg.WithFields(ctx, fields), "db.query failed", err)
		return
	}
	l.logg.Warn(l.logg.WithFields(ctx, fields), "db.query slow")
}
