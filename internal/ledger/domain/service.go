package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/points"
	"gorm.io/gorm"
)

type ConsumeRequest struct {
	Identity
	Tier        string         `json:"tier"`
	WorkUnits   *int64         `json:"work_units,omitempty"`
	ActivityRef *string        `json:"activity_ref,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ConsumeResult struct {
	EntryID           snowflake.ID  `json:"entry_id"`
	WalletKind        WalletKind    `json:"wallet_kind"`
	ConsumedPoints    points.Amount `json:"consumed_points"`
	RemainingAfter    points.Amount `json:"remaining_after"`
	LowBalanceWarning bool          `json:"low_balance_warning"`
	Split             Split         `json:"split"`
}

type TopUpRequest struct {
	Identity
	Points    points.Amount `json:"points"`
	Reference string        `json:"reference,omitempty"`
}

type UpsertAccountRequest struct {
	ID             snowflake.ID  `json:"id"`
	Kind           AccountKind   `json:"kind"`
	PlanID         string        `json:"plan_id"`
	OrganizationID *snowflake.ID `json:"organization_id,omitempty"`
}

type Service interface {
	Resolve(ctx context.Context, identity Identity) (BalanceView, error)
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
	AddPurchased(ctx context.Context, req TopUpRequest) (BalanceView, error)
	UpsertAccount(ctx context.Context, req UpsertAccountRequest) (*Account, error)
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
}

// Repository is stateless; every call runs on the db or transaction passed
// in. Lock* methods must be called inside a transaction.
type Repository interface {
	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	UpsertAccount(ctx context.Context, db *gorm.DB, account *Account) error

	EnsureBalance(ctx context.Context, db *gorm.DB, record *BalanceRecord) error
	LockBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*BalanceRecord, error)
	SaveBalanceRollover(ctx context.Context, db *gorm.DB, record *BalanceRecord, now time.Time) (bool, error)
	DebitBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, plan, purchased points.Amount, now time.Time) error
	CreditPurchased(ctx context.Context, db *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error
	ClaimExpiredBalances(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]BalanceRecord, error)

	EnsureAllocation(ctx context.Context, db *gorm.DB, record *AllocationRecord) error
	LockAllocation(ctx context.Context, db *gorm.DB, orgID, memberID snowflake.ID) (*AllocationRecord, error)
	SaveAllocationRollover(ctx context.Context, db *gorm.DB, record *AllocationRecord, now time.Time) (bool, error)
	DebitAllocation(ctx context.Context, db *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error
	SetAllocated(ctx context.Context, db *gorm.DB, id snowflake.ID, amount points.Amount, now time.Time) error
	ListAllocations(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]AllocationRecord, error)
	ClaimExpiredAllocations(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]AllocationRecord, error)
}
