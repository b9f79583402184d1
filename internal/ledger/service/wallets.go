package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	plandomain "github.com/smallbiznis/pointledger/internal/plan/domain"
	"gorm.io/gorm"
)

// WalletStore resolves and locks wallets inside a caller-owned transaction,
// creating missing records and rolling expired ones on the way.
type WalletStore struct {
	repo    ledgerdomain.Repository
	catalog plandomain.Catalog
	genID   *snowflake.Node
}

func NewWalletStore(repo ledgerdomain.Repository, catalog plandomain.Catalog, genID *snowflake.Node) *WalletStore {
	return &WalletStore{repo: repo, catalog: catalog, genID: genID}
}

// Load resolves the wallet of identity under row lock.
func (w *WalletStore) Load(ctx context.Context, tx *gorm.DB, identity ledgerdomain.Identity, now time.Time) (*ledgerdomain.Wallet, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	account, err := w.repo.FindAccount(ctx, tx, identity.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Kind != ledgerdomain.AccountKindUser {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	switch identity.Role {
	case ledgerdomain.RoleIndividual:
		return w.balanceWallet(ctx, tx, account, now)

	case ledgerdomain.RoleOrganizationAdmin:
		org, err := w.Organization(ctx, tx, identity.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !account.BelongsTo(org.ID) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return w.balanceWallet(ctx, tx, org, now)

	default:
		org, err := w.Organization(ctx, tx, identity.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !account.BelongsTo(org.ID) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		record, err := w.LockAllocation(ctx, tx, org.ID, account.ID, now)
		if err != nil {
			return nil, err
		}
		return &ledgerdomain.Wallet{
			Kind:           ledgerdomain.WalletKindAllocation,
			OwnerID:        account.ID,
			OrganizationID: org.ID,
			PlanID:         org.PlanID,
			PlanGrant:      w.catalog.PlanGrant(org.PlanID),
			Allocation:     record,
		}, nil
	}
}

// Organization loads an organization account.
func (w *WalletStore) Organization(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (*ledgerdomain.Account, error) {
	org, err := w.repo.FindAccount(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil || org.Kind != ledgerdomain.AccountKindOrganization {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return org, nil
}

func (w *WalletStore) balanceWallet(ctx context.Context, tx *gorm.DB, owner *ledgerdomain.Account, now time.Time) (*ledgerdomain.Wallet, error) {
	record, err := w.LockBalance(ctx, tx, owner.ID, now)
	if err != nil {
		return nil, err
	}
	wallet := &ledgerdomain.Wallet{
		Kind:      ledgerdomain.WalletKindAccount,
		OwnerID:   owner.ID,
		PlanID:    owner.PlanID,
		PlanGrant: w.catalog.PlanGrant(owner.PlanID),
		Balance:   record,
	}
	if owner.Kind == ledgerdomain.AccountKindOrganization {
		wallet.OrganizationID = owner.ID
	} else if owner.OrganizationID != nil {
		wallet.OrganizationID = *owner.OrganizationID
	}
	return wallet, nil
}

// LockBalance returns the locked, current-period balance record of accountID.
func (w *WalletStore) LockBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, now time.Time) (*ledgerdomain.BalanceRecord, error) {
	record, err := w.repo.LockBalance(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		period := ledgerdomain.CurrentPeriod(now)
		if err := w.repo.EnsureBalance(ctx, tx, &ledgerdomain.BalanceRecord{
			ID:          w.genID.Generate(),
			AccountID:   accountID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			CreatedAt:   now.UTC(),
			UpdatedAt:   now.UTC(),
		}); err != nil {
			return nil, err
		}
		if record, err = w.repo.LockBalance(ctx, tx, accountID); err != nil {
			return nil, err
		}
		if record == nil {
			return nil, ledgerdomain.ErrAccountNotFound
		}
	}

	if ledgerdomain.RollBalance(record, now) {
		if _, err := w.repo.SaveBalanceRollover(ctx, tx, record, now); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// LockAllocation returns the locked, current-period allocation of memberID.
func (w *WalletStore) LockAllocation(ctx context.Context, tx *gorm.DB, orgID, memberID snowflake.ID, now time.Time) (*ledgerdomain.AllocationRecord, error) {
	record, err := w.repo.LockAllocation(ctx, tx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		period := ledgerdomain.CurrentPeriod(now)
		if err := w.repo.EnsureAllocation(ctx, tx, &ledgerdomain.AllocationRecord{
			ID:             w.genID.Generate(),
			OrganizationID: orgID,
			MemberID:       memberID,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			CreatedAt:      now.UTC(),
			UpdatedAt:      now.UTC(),
		}); err != nil {
			return nil, err
		}
		if record, err = w.repo.LockAllocation(ctx, tx, orgID, memberID); err != nil {
			return nil, err
		}
		if record == nil {
			return nil, ledgerdomain.ErrAccountNotFound
		}
	}

	if ledgerdomain.RollAllocation(record, now) {
		if _, err := w.repo.SaveAllocationRollover(ctx, tx, record, now); err != nil {
			return nil, err
		}
	}
	return record, nil
}
