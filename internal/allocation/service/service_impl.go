package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/smallbiznis/pointledger/internal/allocation/domain"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/pointledger/internal/ledger/service"
	"github.com/smallbiznis/pointledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pointledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/pointledger/internal/plan/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	Config     config.Config
	Catalog    plandomain.Catalog
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	catalog    plandomain.Catalog
	repo       ledgerdomain.Repository
	wallets    *ledgerservice.WalletStore
	obsMetrics *obsmetrics.Metrics
	retry      ledgerservice.RetryPolicy
}

func NewService(p Params) allocationdomain.Service {
	log := p.Log.Named("allocation.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        log,
		clock:      clk,
		catalog:    p.Catalog,
		repo:       p.Repo,
		wallets:    ledgerservice.NewWalletStore(p.Repo, p.Catalog, p.GenID),
		obsMetrics: p.ObsMetrics,
		retry: ledgerservice.RetryPolicy{
			MaxAttempts: p.Config.Ledger.MaxAttempts,
			Log:         log,
			Metrics:     p.ObsMetrics,
		},
	}
}

// SetAllocation overwrites a member's allocation for the current period.
// Writes for one organization serialize on the organization's balance row.
func (s *Service) SetAllocation(ctx context.Context, req allocationdomain.SetAllocationRequest) (allocationdomain.AllocationView, error) {
	if req.Points < 0 {
		return allocationdomain.AllocationView{}, ledgerdomain.ErrInvalidPoints
	}
	if req.OrganizationID == 0 {
		return allocationdomain.AllocationView{}, ledgerdomain.ErrInvalidOrganization
	}
	if req.MemberID == 0 {
		return allocationdomain.AllocationView{}, ledgerdomain.ErrInvalidAccount
	}

	view, err := ledgerservice.Retry(ctx, s.retry, "set_allocation", func(ctx context.Context) (allocationdomain.AllocationView, error) {
		now := s.clock.Now()
		var view allocationdomain.AllocationView
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			org, err := s.member(ctx, tx, req.OrganizationID, req.MemberID)
			if err != nil {
				return err
			}
			if _, err := s.wallets.LockBalance(ctx, tx, org.ID, now); err != nil {
				return err
			}
			record, err := s.wallets.LockAllocation(ctx, tx, org.ID, req.MemberID, now)
			if err != nil {
				return err
			}

			rows, err := s.repo.ListAllocations(ctx, tx, org.ID)
			if err != nil {
				return err
			}
			var others points.Amount
			for i := range rows {
				if rows[i].MemberID == req.MemberID || rows[i].Expired(now) {
					continue
				}
				others += rows[i].AllocatedPoints
			}

			grant := s.catalog.PlanGrant(org.PlanID)
			if others+req.Points > grant {
				return &ledgerdomain.AllocationExceedsBudgetError{Remainder: (grant - others).NonNegative()}
			}

			if err := s.repo.SetAllocated(ctx, tx, record.ID, req.Points, now); err != nil {
				return err
			}
			record.AllocatedPoints = req.Points
			view = toView(record)
			return nil
		})
		return view, err
	})
	if err != nil {
		s.obsMetrics.RecordAllocationUpdate(ctx, outcome(err))
		return allocationdomain.AllocationView{}, err
	}

	s.obsMetrics.RecordAllocationUpdate(ctx, "ok")
	logger.WithContext(ctx, s.log).Info("allocation updated",
		zap.String("organization_id", req.OrganizationID.String()),
		zap.String("member_id", req.MemberID.String()),
		zap.String("points", req.Points.String()),
	)
	return view, nil
}

// GetAllocation returns the member's current allocation. A member without a
// record reads as a zero allocation.
func (s *Service) GetAllocation(ctx context.Context, orgID, memberID snowflake.ID) (allocationdomain.AllocationView, error) {
	if orgID == 0 {
		return allocationdomain.AllocationView{}, ledgerdomain.ErrInvalidOrganization
	}
	if memberID == 0 {
		return allocationdomain.AllocationView{}, ledgerdomain.ErrInvalidAccount
	}

	return ledgerservice.Retry(ctx, s.retry, "get_allocation", func(ctx context.Context) (allocationdomain.AllocationView, error) {
		now := s.clock.Now()
		var view allocationdomain.AllocationView
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.member(ctx, tx, orgID, memberID); err != nil {
				return err
			}
			record, err := s.repo.LockAllocation(ctx, tx, orgID, memberID)
			if err != nil {
				return err
			}
			if record == nil {
				period := ledgerdomain.CurrentPeriod(now)
				view = toView(&ledgerdomain.AllocationRecord{
					OrganizationID: orgID,
					MemberID:       memberID,
					PeriodStart:    period.Start,
					PeriodEnd:      period.End,
				})
				return nil
			}
			if ledgerdomain.RollAllocation(record, now) {
				if _, err := s.repo.SaveAllocationRollover(ctx, tx, record, now); err != nil {
					return err
				}
			}
			view = toView(record)
			return nil
		})
		return view, err
	})
}

// ListAllocations reports the organization's grant and how much of it is
// handed out this period. Expired rows count as zero.
func (s *Service) ListAllocations(ctx context.Context, orgID snowflake.ID) (allocationdomain.OrganizationBudget, error) {
	if orgID == 0 {
		return allocationdomain.OrganizationBudget{}, ledgerdomain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	org, err := s.wallets.Organization(ctx, s.db.WithContext(ctx), orgID)
	if err != nil {
		return allocationdomain.OrganizationBudget{}, ledgerdomain.WrapStoreError(err)
	}
	rows, err := s.repo.ListAllocations(ctx, s.db, orgID)
	if err != nil {
		return allocationdomain.OrganizationBudget{}, ledgerdomain.WrapStoreError(err)
	}

	period := ledgerdomain.CurrentPeriod(now)
	budget := allocationdomain.OrganizationBudget{
		OrganizationID: org.ID.String(),
		PlanID:         org.PlanID,
		Grant:          s.catalog.PlanGrant(org.PlanID),
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		Members:        make([]allocationdomain.AllocationView, 0, len(rows)),
	}
	for i := range rows {
		ledgerdomain.RollAllocation(&rows[i], now)
		budget.Allocated += rows[i].AllocatedPoints
		budget.Members = append(budget.Members, toView(&rows[i]))
	}
	budget.Unallocated = (budget.Grant - budget.Allocated).NonNegative()
	return budget, nil
}

// member checks that memberID is a user of orgID and returns the organization.
func (s *Service) member(ctx context.Context, tx *gorm.DB, orgID, memberID snowflake.ID) (*ledgerdomain.Account, error) {
	org, err := s.wallets.Organization(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Kind != ledgerdomain.AccountKindUser || !account.BelongsTo(org.ID) {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return org, nil
}

func toView(record *ledgerdomain.AllocationRecord) allocationdomain.AllocationView {
	return allocationdomain.AllocationView{
		OrganizationID:  record.OrganizationID.String(),
		MemberID:        record.MemberID.String(),
		AllocatedPoints: record.AllocatedPoints,
		UsedPoints:      record.UsedPoints,
		RemainingPoints: (record.AllocatedPoints - record.UsedPoints).NonNegative(),
		PeriodStart:     record.PeriodStart.UTC(),
		PeriodEnd:       record.PeriodEnd.UTC(),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledgerdomain.ErrAllocationExceedsBudget):
		return "exceeds_budget"
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return "not_found"
	default:
		return "error"
	}
}
