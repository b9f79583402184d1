package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/migration"
	"github.com/smallbiznis/pointledger/internal/points"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresLedger runs the ledger on a real pool so concurrent debits
// contend on SELECT ... FOR UPDATE instead of sqlite's single connection.
func setupPostgresLedger(t *testing.T) *harness {
	t.Helper()

	dsn := os.Getenv("POINTLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POINTLEDGER_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Apply(db))
	require.NoError(t, db.Exec(
		`TRUNCATE usage_entries, allocation_records, balance_records, accounts`,
	).Error)

	return newHarness(t, db)
}

func TestPostgresConcurrentConsumeNoOverdraft(t *testing.T) {
	h := setupPostgresLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	// Create the balance row up front so every worker locks the same row.
	_, err := h.svc.Resolve(ctx, user)
	require.NoError(t, err)

	const workers = 45
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Consume(ctx, consumeSonnet(user))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, successes)
	assert.Equal(t, points.Whole(30), h.balance(t, user.AccountID).PlanGrantUsed)
	assert.Equal(t, 30, h.countEntries(t, usagedomain.EntryKindConsume))
}
