package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigLedgerSQLSettings(t *testing.T) {
	t.Setenv("DB_LOG_LEVEL", "error")
	t.Setenv("DB_SLOW_QUERY_THRESHOLD", "750ms")
	t.Setenv("LEDGER_LOCK_SLOW_THRESHOLD", "20ms")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{AppName: "pointledger", Environment: "production"})
	assert.Equal(t, "error", cfg.DBLogLevel)
	assert.Equal(t, 750*time.Millisecond, cfg.DBSlowQueryThreshold)
	assert.Equal(t, 20*time.Millisecond, cfg.DBLockSlowThreshold)

	gormCfg := provideGormLoggerConfig(cfg)
	assert.Equal(t, gormlogger.Error, gormCfg.Level)
	assert.Equal(t, 750*time.Millisecond, gormCfg.SlowThreshold)
	assert.Equal(t, 20*time.Millisecond, gormCfg.LockSlowThreshold)
	assert.True(t, gormCfg.IgnoreRecordNotFound)
}

func TestLoadConfigLedgerSQLDefaults(t *testing.T) {
	t.Setenv("DB_LOG_LEVEL", "")
	t.Setenv("DB_SLOW_QUERY_THRESHOLD", "soon")
	t.Setenv("LEDGER_LOCK_SLOW_THRESHOLD", "-5ms")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "pointledger", cfg.ServiceName)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowQueryThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.DBLockSlowThreshold)
	assert.Equal(t, gormlogger.Warn, provideGormLoggerConfig(cfg).Level)
}

func TestGormLoggerConfigDebugLogsEveryStatement(t *testing.T) {
	t.Setenv("DB_LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{Environment: "local"})
	assert.True(t, cfg.Debug())
	assert.Equal(t, gormlogger.Info, provideGormLoggerConfig(cfg).Level)

	cfg.DBLogLevel = "silent"
	assert.Equal(t, gormlogger.Silent, provideGormLoggerConfig(cfg).Level)
}
