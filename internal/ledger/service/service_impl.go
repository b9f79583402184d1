package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pointledger/internal/observability/metrics"
	"github.com/smallbiznis/pointledger/internal/observability/tracing"
	plandomain "github.com/smallbiznis/pointledger/internal/plan/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
	"github.com/smallbiznis/pointledger/internal/usage/stream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLowBalanceConversations = 5

var tracer = otel.Tracer("pointledger/ledger")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Catalog    plandomain.Catalog
	Repo       ledgerdomain.Repository
	UsageRepo  usagedomain.Repository
	Publisher  *stream.Publisher   `optional:"true"`
	LiveEvents *liveevents.Hub     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	catalog    plandomain.Catalog
	calculator *points.Calculator
	repo       ledgerdomain.Repository
	usageRepo  usagedomain.Repository
	wallets    *WalletStore
	publisher  *stream.Publisher
	liveEvents *liveevents.Hub
	obsMetrics *obsmetrics.Metrics

	lowBalanceConversations int64
	txTimeout               time.Duration
	retry                   RetryPolicy
}

func NewService(p Params) ledgerdomain.Service {
	log := p.Log.Named("ledger.service")
	lowBalance := p.Config.Ledger.LowBalanceConversations
	if lowBalance <= 0 {
		lowBalance = defaultLowBalanceConversations
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		clock:      clk,
		catalog:    p.Catalog,
		calculator: points.NewCalculator(p.Catalog),
		repo:       p.Repo,
		usageRepo:  p.UsageRepo,
		wallets:    NewWalletStore(p.Repo, p.Catalog, p.GenID),
		publisher:  p.Publisher,
		liveEvents: p.LiveEvents,
		obsMetrics: p.ObsMetrics,

		lowBalanceConversations: lowBalance,
		txTimeout:               p.Config.Ledger.TxTimeout,
		retry: RetryPolicy{
			MaxAttempts: p.Config.Ledger.MaxAttempts,
			Log:         log,
			Metrics:     p.ObsMetrics,
		},
	}
}

// Resolve returns the caller's balance. It writes only when the stored
// period has expired and the record is rolled over.
func (s *Service) Resolve(ctx context.Context, identity ledgerdomain.Identity) (ledgerdomain.BalanceView, error) {
	return Retry(ctx, s.retry, "resolve", func(ctx context.Context) (ledgerdomain.BalanceView, error) {
		ctx, cancel := s.withTxTimeout(ctx)
		defer cancel()

		now := s.clock.Now()
		var view ledgerdomain.BalanceView
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			wallet, err := s.wallets.Load(ctx, tx, identity, now)
			if err != nil {
				return err
			}
			view = wallet.View()
			return nil
		})
		return view, err
	})
}

// Consume prices the response, checks the wallet and debits it in one
// transaction. Side effects outside the store run only after commit.
func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (ledgerdomain.ConsumeResult, error) {
	req.Tier = strings.TrimSpace(req.Tier)
	ctx, span := tracer.Start(ctx, "ledger.consume")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("ledger.tier", req.Tier),
		attribute.String("ledger.wallet_kind", string(req.Identity.WalletKind())),
	)...)

	var attempt int
	var entry *usagedomain.UsageEntry
	result, err := Retry(ctx, s.retry, "consume", func(ctx context.Context) (ledgerdomain.ConsumeResult, error) {
		attempt++
		span.SetAttributes(attribute.Int("ledger.attempt", attempt))
		res, written, err := s.consumeOnce(ctx, req)
		entry = written
		return res, err
	})
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "consume failed")
		if isInsufficient(err) {
			s.obsMetrics.RecordInsufficientBalance(ctx, req.Tier, string(req.Identity.WalletKind()))
		}
		logger.WithContext(ctx, s.log).Debug("consume rejected",
			zap.String("account_id", req.AccountID.String()),
			zap.String("tier", req.Tier),
			zap.Error(err),
		)
		return ledgerdomain.ConsumeResult{}, err
	}

	s.obsMetrics.RecordConsume(ctx, req.Tier, string(result.WalletKind), int64(result.ConsumedPoints), result.LowBalanceWarning)
	s.emit(ctx, entry, result.RemainingAfter, result.LowBalanceWarning)
	return result, nil
}

func (s *Service) consumeOnce(ctx context.Context, req ledgerdomain.ConsumeRequest) (ledgerdomain.ConsumeResult, *usagedomain.UsageEntry, error) {
	cost, err := s.calculator.Cost(req.Tier, req.WorkUnits)
	if err != nil {
		return ledgerdomain.ConsumeResult{}, nil, err
	}
	tierMax, err := s.calculator.MaxCost(req.Tier)
	if err != nil {
		return ledgerdomain.ConsumeResult{}, nil, err
	}

	ctx, cancel := s.withTxTimeout(ctx)
	defer cancel()

	now := s.clock.Now()
	var result ledgerdomain.ConsumeResult
	var entry *usagedomain.UsageEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.wallets.Load(ctx, tx, req.Identity, now)
		if err != nil {
			return err
		}
		if !s.catalog.TierAvailable(wallet.PlanID, req.Tier) {
			return ledgerdomain.ErrTierNotAvailable
		}

		before := wallet.TotalRemaining()
		if before < cost {
			return &ledgerdomain.InsufficientBalanceError{Required: cost, Available: before}
		}

		split := wallet.PlanDebit(cost)
		switch wallet.Kind {
		case ledgerdomain.WalletKindAllocation:
			err = s.repo.DebitAllocation(ctx, tx, wallet.Allocation.ID, split.Allocation, now)
		default:
			err = s.repo.DebitBalance(ctx, tx, wallet.Balance.ID, split.Plan, split.Purchased, now)
		}
		if err != nil {
			return err
		}

		entry = s.newEntry(usagedomain.EntryKindConsume, req.Identity, wallet, split, now)
		entry.Tier = req.Tier
		entry.ActivityRef = normalizeRef(req.ActivityRef)
		if len(req.Metadata) > 0 {
			entry.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if err := s.usageRepo.Insert(ctx, tx, entry); err != nil {
			return err
		}

		remaining := before - cost
		result = ledgerdomain.ConsumeResult{
			EntryID:           entry.ID,
			WalletKind:        wallet.Kind,
			ConsumedPoints:    cost,
			RemainingAfter:    remaining,
			LowBalanceWarning: remaining < tierMax*points.Amount(s.lowBalanceConversations),
			Split:             split,
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.ConsumeResult{}, nil, err
	}
	return result, entry, nil
}

// AddPurchased credits top-up points to an individual or organization wallet.
func (s *Service) AddPurchased(ctx context.Context, req ledgerdomain.TopUpRequest) (ledgerdomain.BalanceView, error) {
	if req.Points <= 0 {
		return ledgerdomain.BalanceView{}, ledgerdomain.ErrInvalidPoints
	}
	if req.Role == ledgerdomain.RoleOrganizationMember {
		return ledgerdomain.BalanceView{}, ledgerdomain.ErrInvalidRole
	}

	var entry *usagedomain.UsageEntry
	view, err := Retry(ctx, s.retry, "top_up", func(ctx context.Context) (ledgerdomain.BalanceView, error) {
		ctx, cancel := s.withTxTimeout(ctx)
		defer cancel()

		now := s.clock.Now()
		var view ledgerdomain.BalanceView
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			wallet, err := s.wallets.Load(ctx, tx, req.Identity, now)
			if err != nil {
				return err
			}
			if err := s.repo.CreditPurchased(ctx, tx, wallet.Balance.ID, req.Points, now); err != nil {
				return err
			}

			entry = s.newEntry(usagedomain.EntryKindTopUp, req.Identity, wallet, ledgerdomain.Split{Purchased: req.Points}, now)
			if ref := strings.TrimSpace(req.Reference); ref != "" {
				entry.ActivityRef = &ref
			}
			if err := s.usageRepo.Insert(ctx, tx, entry); err != nil {
				return err
			}

			wallet.Balance.PurchasedBalance += req.Points
			view = wallet.View()
			return nil
		})
		return view, err
	})
	if err != nil {
		return ledgerdomain.BalanceView{}, err
	}

	s.obsMetrics.RecordTopUp(ctx, string(view.WalletKind))
	logger.WithContext(ctx, s.log).Info("points topped up",
		zap.String("account_id", req.AccountID.String()),
		zap.String("points", req.Points.String()),
	)
	s.emit(ctx, entry, view.TotalRemaining, false)
	return view, nil
}

// UpsertAccount mirrors an account from the identity and subscription side.
func (s *Service) UpsertAccount(ctx context.Context, req ledgerdomain.UpsertAccountRequest) (*ledgerdomain.Account, error) {
	if req.ID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	switch req.Kind {
	case ledgerdomain.AccountKindUser:
		if req.OrganizationID != nil && (*req.OrganizationID == 0 || *req.OrganizationID == req.ID) {
			return nil, ledgerdomain.ErrInvalidOrganization
		}
	case ledgerdomain.AccountKindOrganization:
		if req.OrganizationID != nil {
			return nil, ledgerdomain.ErrInvalidOrganization
		}
	default:
		return nil, ledgerdomain.ErrInvalidAccountKind
	}

	now := s.clock.Now().UTC()
	account := &ledgerdomain.Account{
		ID:             req.ID,
		Kind:           req.Kind,
		PlanID:         strings.TrimSpace(req.PlanID),
		OrganizationID: req.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.UpsertAccount(ctx, s.db, account); err != nil {
		return nil, ledgerdomain.WrapStoreError(err)
	}
	return s.GetAccount(ctx, req.ID)
}

func (s *Service) GetAccount(ctx context.Context, id snowflake.ID) (*ledgerdomain.Account, error) {
	if id == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	account, err := s.repo.FindAccount(ctx, s.db, id)
	if err != nil {
		return nil, ledgerdomain.WrapStoreError(err)
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) newEntry(kind usagedomain.EntryKind, identity ledgerdomain.Identity, wallet *ledgerdomain.Wallet, split ledgerdomain.Split, now time.Time) *usagedomain.UsageEntry {
	entry := &usagedomain.UsageEntry{
		ID:               s.genID.Generate(),
		Kind:             kind,
		AccountID:        identity.AccountID,
		WalletKind:       string(wallet.Kind),
		Points:           split.Total(),
		PlanPoints:       split.Plan,
		PurchasedPoints:  split.Purchased,
		AllocationPoints: split.Allocation,
		RecordedAt:       now.UTC(),
		CreatedAt:        now.UTC(),
	}
	if wallet.OrganizationID != 0 {
		orgID := wallet.OrganizationID
		entry.OrganizationID = &orgID
	}
	return entry
}

// emit hands the committed entry to the stream publisher and the live hub.
// Neither can block or fail the caller.
func (s *Service) emit(ctx context.Context, entry *usagedomain.UsageEntry, remaining points.Amount, lowBalance bool) {
	if entry == nil {
		return
	}
	rec := entry.Record(remaining, lowBalance)
	s.publisher.Publish(ctx, rec)
	s.liveEvents.Broadcast(rec)
}

func (s *Service) withTxTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.txTimeout)
}

func normalizeRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isInsufficient(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInsufficientBalance)
}
