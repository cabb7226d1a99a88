// Package auditlog writes the bot's durable decision trail: newline-delimited
// JSON records, one file per calendar day, retained for seven days. Dispenser
// lifecycle outcomes are additionally appended to a dedicated file so award
// history survives routine log pruning reviews.
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Type identifies an audit record.
type Type string

// Audit record types. These values are part of the log format.
const (
	TypeBotStarted    Type = "bot_started"
	TypeEventSeen     Type = "upvote_event_seen"
	TypeAwarded       Type = "nft_awarded"
	TypeAwardFailed   Type = "award_failed"
	TypeDepleted      Type = "dispenser_depleted"
	TypeConfigChanged Type = "config_changed"
	TypeBotStopped    Type = "bot_stopped"
)

// Record severity levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const retentionDays = 7

// dispenserTypes marks which records also land in the dedicated dispenser file.
var dispenserTypes = map[Type]struct{}{
	TypeAwarded:     {},
	TypeAwardFailed: {},
	TypeDepleted:    {},
}

// Logger is the append-only action log.
type Logger struct {
	mu        sync.Mutex
	daily     *lumberjack.Logger
	dispenser *lumberjack.Logger
	day       string
	now       func() time.Time
}

// Option customises a Logger.
type Option func(*Logger)

// WithClock sets the function used to timestamp records.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) { l.now = clock }
}

// New creates the log directory if needed and opens both log files.
func New(dir string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logger := &Logger{
		daily: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "audit.log"),
			MaxAge:     retentionDays,
			MaxBackups: retentionDays,
			MaxSize:    256, // megabytes; a safety valve, rotation is normally daily
		},
		dispenser: &lumberjack.Logger{
			Filename: filepath.Join(dir, "dispenser.log"),
			MaxSize:  256,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(logger)
	}
	logger.day = logger.now().UTC().Format("2006-01-02")
	return logger, nil
}

// Write appends one record. Extra fields are merged beside the type, level,
// and timestamp keys. Audit failures are returned, not fatal; callers log and
// carry on.
func (l *Logger) Write(typ Type, level string, fields map[string]any) error {
	now := l.now().UTC()
	record := make(map[string]any, len(fields)+3)
	for key, value := range fields {
		record[key] = value
	}
	record["type"] = string(typ)
	record["level"] = level
	record["timestamp"] = now.Format(time.RFC3339)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if day := now.Format("2006-01-02"); day != l.day {
		// Calendar day rolled over; start a fresh file.
		if err := l.daily.Rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
		l.day = day
	}
	if _, err := l.daily.Write(line); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	if _, lifecycle := dispenserTypes[typ]; lifecycle {
		if _, err := l.dispenser.Write(line); err != nil {
			return fmt.Errorf("append dispenser record: %w", err)
		}
	}
	return nil
}

// Info writes an info-level record.
func (l *Logger) Info(typ Type, fields map[string]any) error {
	return l.Write(typ, LevelInfo, fields)
}

// Warn writes a warn-level record.
func (l *Logger) Warn(typ Type, fields map[string]any) error {
	return l.Write(typ, LevelWarn, fields)
}

// Error writes an error-level record.
func (l *Logger) Error(typ Type, fields map[string]any) error {
	return l.Write(typ, LevelError, fields)
}

// Close flushes and closes both files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dailyErr := l.daily.Close()
	dispenserErr := l.dispenser.Close()
	if dailyErr != nil {
		return dailyErr
	}
	return dispenserErr
}
