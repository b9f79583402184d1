package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	"github.com/smallbiznis/pointledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	balanceColumns = `id, account_id, plan_grant_used, purchased_balance, purchased_used,
		period_start, period_end, created_at, updated_at`
	allocationColumns = `id, organization_id, member_id, allocated_points, used_points,
		period_start, period_end, created_at, updated_at`
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) FindAccount(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.Account, error) {
	var rows []ledgerdomain.Account
	err := tx.WithContext(ctx).Raw(
		`SELECT id, kind, plan_id, organization_id, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) UpsertAccount(ctx context.Context, tx *gorm.DB, account *ledgerdomain.Account) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "plan_id", "organization_id", "updated_at"}),
	}).Create(account).Error
}

// EnsureBalance inserts record unless the account already has one.
func (r *repo) EnsureBalance(ctx context.Context, tx *gorm.DB, record *ledgerdomain.BalanceRecord) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (r *repo) LockBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*ledgerdomain.BalanceRecord, error) {
	var rows []ledgerdomain.BalanceRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+`
		 FROM balance_records WHERE account_id = ?`+db.ForUpdate(tx),
		accountID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SaveBalanceRollover writes a rolled record. The period guard makes a second
// writer for the same month a no-op.
func (r *repo) SaveBalanceRollover(ctx context.Context, tx *gorm.DB, record *ledgerdomain.BalanceRecord, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE balance_records
		 SET plan_grant_used = ?,
		     purchased_balance = ?,
		     purchased_used = ?,
		     period_start = ?,
		     period_end = ?,
		     updated_at = ?
		 WHERE id = ? AND period_end <= ?`,
		record.PlanGrantUsed,
		record.PurchasedBalance,
		record.PurchasedUsed,
		record.PeriodStart,
		record.PeriodEnd,
		now.UTC(),
		record.ID,
		now.UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DebitBalance(ctx context.Context, tx *gorm.DB, id snowflake.ID, plan, purchased points.Amount, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE balance_records
		 SET plan_grant_used = plan_grant_used + ?,
		     purchased_used = purchased_used + ?,
		     updated_at = ?
		 WHERE id = ?`,
		plan,
		purchased,
		now.UTC(),
		id,
	).Error
}

func (r *repo) CreditPurchased(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE balance_records
		 SET purchased_balance = purchased_balance + ?,
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		now.UTC(),
		id,
	).Error
}

func (r *repo) ClaimExpiredBalances(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]ledgerdomain.BalanceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ledgerdomain.BalanceRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+`
		 FROM balance_records
		 WHERE period_end <= ?
		 ORDER BY id ASC
		 LIMIT ?`+db.ForUpdateSkipLocked(tx),
		now.UTC(),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) EnsureAllocation(ctx context.Context, tx *gorm.DB, record *ledgerdomain.AllocationRecord) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (r *repo) LockAllocation(ctx context.Context, tx *gorm.DB, orgID, memberID snowflake.ID) (*ledgerdomain.AllocationRecord, error) {
	var rows []ledgerdomain.AllocationRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+`
		 FROM allocation_records
		 WHERE organization_id = ? AND member_id = ?`+db.ForUpdate(tx),
		orgID,
		memberID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) SaveAllocationRollover(ctx context.Context, tx *gorm.DB, record *ledgerdomain.AllocationRecord, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE allocation_records
		 SET allocated_points = ?,
		     used_points = ?,
		     period_start = ?,
		     period_end = ?,
		     updated_at = ?
		 WHERE id = ? AND period_end <= ?`,
		record.AllocatedPoints,
		record.UsedPoints,
		record.PeriodStart,
		record.PeriodEnd,
		now.UTC(),
		record.ID,
		now.UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DebitAllocation(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE allocation_records
		 SET used_points = used_points + ?,
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		now.UTC(),
		id,
	).Error
}

func (r *repo) SetAllocated(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE allocation_records
		 SET allocated_points = ?,
		     updated_at = ?
		 WHERE id = ?`,
		amount,
		now.UTC(),
		id,
	).Error
}

func (r *repo) ListAllocations(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) ([]ledgerdomain.AllocationRecord, error) {
	var rows []ledgerdomain.AllocationRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+`
		 FROM allocation_records
		 WHERE organization_id = ?
		 ORDER BY member_id ASC`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ClaimExpiredAllocations(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]ledgerdomain.AllocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ledgerdomain.AllocationRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT `+allocationColumns+`
		 FROM allocation_records
		 WHERE period_end <= ?
		 ORDER BY id ASC
		 LIMIT ?`+db.ForUpdateSkipLocked(tx),
		now.UTC(),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
