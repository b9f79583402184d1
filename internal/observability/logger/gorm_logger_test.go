package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func statementFunc(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestClassifyStatement(t *testing.T) {
	cases := []struct {
		sql  string
		want statement
	}{
		{
			sql:  `SELECT * FROM balance_records WHERE account_id = ? FOR UPDATE`,
			want: statement{operation: "SELECT", table: "balance_records", locking: true},
		},
		{
			sql:  `SELECT * FROM "allocation_records" WHERE period_end <= ? LIMIT 200 FOR UPDATE SKIP LOCKED`,
			want: statement{operation: "SELECT", table: "allocation_records", locking: true},
		},
		{
			sql:  `UPDATE balance_records SET plan_grant_used = ? WHERE id = ?`,
			want: statement{operation: "UPDATE", table: "balance_records"},
		},
		{
			sql:  "INSERT INTO `usage_entries` (`id`,`kind`) VALUES (?,?)",
			want: statement{operation: "INSERT", table: "usage_entries"},
		},
		{
			sql:  ``,
			want: statement{operation: "UNKNOWN", table: "unknown"},
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyStatement(tc.sql), tc.sql)
	}
}

func TestGormLoggerFlagsSlowRowLocks(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     time.Hour,
		LockSlowThreshold: 10 * time.Millisecond,
	})

	begin := time.Now().Add(-50 * time.Millisecond)
	l.Trace(context.Background(), begin, statementFunc(`SELECT * FROM balance_records WHERE account_id = ? FOR UPDATE`, 1), nil)
	l.Trace(context.Background(), begin, statementFunc(`SELECT * FROM usage_entries WHERE account_id = ?`, 3), nil)

	entries := logs.All()
	require.Len(t, entries, 1, "only the lock wait crosses its threshold")
	entry := entries[0]
	assert.Equal(t, "ledger.store.slow_lock", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "balance_records", fields["table"])
	assert.Equal(t, true, fields["row_lock"])
	assert.Equal(t, int64(10), fields["threshold_ms"])
}

func TestGormLoggerReportsFailuresAndIgnoresMissingRows(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, IgnoreRecordNotFound: true})

	now := time.Now()
	l.Trace(context.Background(), now, statementFunc(`SELECT * FROM accounts WHERE id = ?`, 0), gormlogger.ErrRecordNotFound)
	l.Trace(context.Background(), now, statementFunc(`UPDATE allocation_records SET used_points = ?`, 0), errors.New("deadlock detected"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ledger.store.query_failed", entries[0].Message)
	assert.Equal(t, "allocation_records", entries[0].ContextMap()["table"])
}

func TestGormLoggerSilentAndInfoLevels(t *testing.T) {
	logs := observeGlobal(t)
	now := time.Now()
	sql := statementFunc(`SELECT * FROM accounts`, 2)

	NewGormLogger(GormLoggerConfig{}).LogMode(gormlogger.Silent).Trace(context.Background(), now, sql, errors.New("boom"))
	assert.Equal(t, 0, logs.Len())

	NewGormLogger(GormLoggerConfig{Level: gormlogger.Info}).Trace(context.Background(), now, sql, nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "ledger.store.query", entry.Message)
	assert.Equal(t, int64(2), entry.ContextMap()["rows_affected"])
}

func TestParseGormLevel(t *testing.T) {
	level, ok := ParseGormLevel(" WARN ")
	assert.True(t, ok)
	assert.Equal(t, gormlogger.Warn, level)

	level, ok = ParseGormLevel("silent")
	assert.True(t, ok)
	assert.Equal(t, gormlogger.Silent, level)

	_, ok = ParseGormLevel("verbose")
	assert.False(t, ok)
}
