package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/ledger/repository"
	planservice "github.com/smallbiznis/pointledger/internal/plan/service"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
	usagerepository "github.com/smallbiznis/pointledger/internal/usage/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	svc   ledgerdomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	hub   *liveevents.Hub
}

func setupLedger(t *testing.T) *harness {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.BalanceRecord{},
		&ledgerdomain.AllocationRecord{},
		&usagedomain.UsageEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return newHarness(t, db)
}

// newHarness builds the service over an already migrated database.
func newHarness(t *testing.T, db *gorm.DB) *harness {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	holder, err := config.NewStaticCatalogHolder(config.DefaultCatalogConfig())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC))
	hub := liveevents.NewHub()
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Config:     config.Config{Ledger: config.LedgerConfig{LowBalanceConversations: 5, MaxAttempts: 3}},
		Catalog:    planservice.NewService(planservice.Params{Holder: holder}),
		Repo:       repository.Provide(),
		UsageRepo:  usagerepository.Provide(),
		LiveEvents: hub,
	})

	return &harness{svc: svc, db: db, clock: fake, node: node, hub: hub}
}

func (h *harness) account(t *testing.T, kind ledgerdomain.AccountKind, planID string, orgID *snowflake.ID) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	_, err := h.svc.UpsertAccount(context.Background(), ledgerdomain.UpsertAccountRequest{
		ID:             id,
		Kind:           kind,
		PlanID:         planID,
		OrganizationID: orgID,
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	return id
}

func (h *harness) individual(t *testing.T, planID string) ledgerdomain.Identity {
	t.Helper()
	id := h.account(t, ledgerdomain.AccountKindUser, planID, nil)
	return ledgerdomain.Identity{AccountID: id, Role: ledgerdomain.RoleIndividual}
}

func (h *harness) organization(t *testing.T, planID string) snowflake.ID {
	t.Helper()
	return h.account(t, ledgerdomain.AccountKindOrganization, planID, nil)
}

func (h *harness) member(t *testing.T, orgID snowflake.ID, role ledgerdomain.Role) ledgerdomain.Identity {
	t.Helper()
	id := h.account(t, ledgerdomain.AccountKindUser, "", &orgID)
	return ledgerdomain.Identity{AccountID: id, Role: role, OrganizationID: orgID}
}

func (h *harness) countEntries(t *testing.T, kind usagedomain.EntryKind) int {
	t.Helper()
	var count int
	if err := h.db.Raw(`SELECT COUNT(1) FROM usage_entries WHERE kind = ?`, kind).Scan(&count).Error; err != nil {
		t.Fatalf("count usage entries: %v", err)
	}
	return count
}

func (h *harness) balance(t *testing.T, accountID snowflake.ID) ledgerdomain.BalanceRecord {
	t.Helper()
	var rec ledgerdomain.BalanceRecord
	if err := h.db.Where("account_id = ?", accountID).First(&rec).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return rec
}
