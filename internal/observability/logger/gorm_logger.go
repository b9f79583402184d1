package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures SQL logging for the ledger store.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LockSlowThreshold applies to SELECT ... FOR UPDATE. Balance debits hold
	// these row locks for the whole transaction, so a slow claim stalls every
	// other consume on the same wallet.
	LockSlowThreshold    time.Duration
	IgnoreRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		LockSlowThreshold:    50 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// ParseGormLevel maps silent, error, warn and info to gorm levels.
func ParseGormLevel(level string) (gormlogger.LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent, true
	case "error":
		return gormlogger.Error, true
	case "warn", "warning":
		return gormlogger.Warn, true
	case "info", "debug":
		return gormlogger.Info, true
	default:
		return 0, false
	}
}

// GormLogger writes gorm statements through the request-scoped zap logger
// with the ledger table and lock mode attached.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	defaults := DefaultGormLoggerConfig()
	if cfg.Level == 0 {
		cfg.Level = defaults.Level
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = defaults.SlowThreshold
	}
	if cfg.LockSlowThreshold <= 0 {
		cfg.LockSlowThreshold = defaults.LockSlowThreshold
	}
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		FromContext(ctx).Info(msg, l.messageFields(data)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Warn {
		FromContext(ctx).Warn(msg, l.messageFields(data)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.Level >= gormlogger.Error {
		FromContext(ctx).Error(msg, l.messageFields(data)...)
	}
}

func (l *GormLogger) messageFields(data []interface{}) []zap.Field {
	fields := []zap.Field{zap.String("component", "ledger.store")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	return fields
}

// Trace reports failed statements, statements over their slow threshold and,
// at info level, everything else.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	failed := err != nil && !(l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound))
	elapsed := time.Since(begin)
	if !failed && l.cfg.Level < gormlogger.Info && elapsed <= min(l.cfg.SlowThreshold, l.cfg.LockSlowThreshold) {
		return
	}

	sql, rows := fc()
	stmt := classifyStatement(sql)
	threshold := l.cfg.SlowThreshold
	if stmt.locking {
		threshold = l.cfg.LockSlowThreshold
	}
	slow := elapsed > threshold

	fields := []zap.Field{
		zap.String("component", "ledger.store"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Bool("row_lock", stmt.locking),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	log := FromContext(ctx)
	switch {
	case failed:
		log.Error("ledger.store.query_failed", append(fields, zap.Error(err))...)
	case slow && l.cfg.Level >= gormlogger.Warn:
		fields = append(fields, zap.Int64("threshold_ms", threshold.Milliseconds()))
		if stmt.locking {
			log.Warn("ledger.store.slow_lock", fields...)
			return
		}
		log.Warn("ledger.store.slow_query", fields...)
	case l.cfg.Level >= gormlogger.Info:
		log.Debug("ledger.store.query", fields...)
	}
}

// ParamsFilter drops bound values; account ids and metadata stay out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

type statement struct {
	operation string
	table     string
	locking   bool
}

// classifyStatement reads the verb, the first table after FROM, INTO or
// UPDATE, and whether the statement takes row locks.
func classifyStatement(sql string) statement {
	stmt := statement{operation: "UNKNOWN", table: "unknown"}
	tokens := strings.Fields(strings.ToUpper(sql))
	raw := strings.Fields(sql)
	for i, token := range tokens {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "DELETE", "MERGE":
			if stmt.operation == "UNKNOWN" {
				stmt.operation = token
			}
		case "UPDATE":
			if i > 0 && tokens[i-1] == "FOR" {
				stmt.locking = true
				continue
			}
			if stmt.operation == "UNKNOWN" {
				stmt.operation = token
			}
			if stmt.table == "unknown" && i+1 < len(raw) {
				stmt.table = tableName(raw[i+1])
			}
		case "FROM", "INTO":
			if stmt.table == "unknown" && i+1 < len(raw) {
				stmt.table = tableName(raw[i+1])
			}
		}
	}
	return stmt
}

func tableName(token string) string {
	token = strings.Trim(token, "`\"();")
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		token = token[idx+1:]
	}
	token = strings.Trim(token, "`\"")
	if token == "" {
		return "unknown"
	}
	return strings.ToLower(token)
}

var _ gormlogger.Interface = (*GormLogger)(nil)
