package historystore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/hlsrec/internal/config"
)

// Store wraps a GORM connection scoped to the recording-history ledger.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database named by cfg.DSN and migrates the
// Recording schema. Only the sqlite driver is supported: a single-instance
// recorder daemon has no multi-database requirement.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := cfg.DSN
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(30000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel, log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening recording-history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("migrating recording-history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Create inserts a new ledger row for a recording that has just started.
func (s *Store) Create(ctx context.Context, rec *Recording) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating recording row: %w", err)
	}
	return nil
}

// Complete records a recording's terminal state: end time, stop reason,
// optional error id, and final section/segment/byte counters.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, stopReason string, stopErrorID string, sections, segments int, bytesWritten int64) error {
	now := time.Now()
	updates := map[string]any{
		"ended_at":         &now,
		"stop_reason":      &stopReason,
		"sections_written": sections,
		"segments_written": segments,
		"bytes_written":    bytesWritten,
	}
	if stopErrorID != "" {
		updates["stop_error_id"] = &stopErrorID
	}

	result := s.db.WithContext(ctx).Model(&Recording{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("completing recording row %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("completing recording row %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Get retrieves one recording by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Recording, error) {
	var rec Recording
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording %s: %w", id, err)
	}
	return &rec, nil
}

// List returns every recording, most recently started first.
func (s *Store) List(ctx context.Context) ([]*Recording, error) {
	var recs []*Recording
	if err := s.db.WithContext(ctx).Order("started_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// gormLogLevel maps string log levels to GORM logger levels.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// newGormLogger creates a GORM logger that writes through slog.
func newGormLogger(level string, log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: gormLogLevel(level)}
}

// slogGormLogger implements GORM's logger.Interface using slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

const slowQueryThreshold = 1 * time.Second

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.level >= logger.Error:
		l.logger.ErrorContext(ctx, "gorm query failed", slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		l.logger.WarnContext(ctx, "slow gorm query", slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed))
	case l.level >= logger.Info:
		l.logger.InfoContext(ctx, "gorm query", slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed))
	}
}
