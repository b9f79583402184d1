package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/points"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/internal/usage/liveevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consumeSonnet(identity ledgerdomain.Identity) ledgerdomain.ConsumeRequest {
	return ledgerdomain.ConsumeRequest{Identity: identity, Tier: "sonnet"}
}

func TestIndividualGrantExhaustion(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	for i := 1; i <= 30; i++ {
		res, err := h.svc.Consume(ctx, consumeSonnet(user))
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if res.ConsumedPoints != points.Whole(1) {
			t.Fatalf("consume %d: expected 1.00 points, got %s", i, res.ConsumedPoints)
		}
	}

	_, err := h.svc.Consume(ctx, consumeSonnet(user))
	var insufficient *ledgerdomain.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError on call 31, got %v", err)
	}
	if insufficient.Available != 0 || insufficient.Required != points.Whole(1) {
		t.Fatalf("unexpected shortfall %+v", insufficient)
	}

	if got := h.countEntries(t, usagedomain.EntryKindConsume); got != 30 {
		t.Fatalf("expected 30 usage entries, got %d", got)
	}
	if rec := h.balance(t, user.AccountID); rec.PlanGrantUsed != points.Whole(30) {
		t.Fatalf("expected 30 plan points used, got %s", rec.PlanGrantUsed)
	}
}

func TestConsumeLowBalanceWarning(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	var last ledgerdomain.ConsumeResult
	for i := 1; i <= 25; i++ {
		res, err := h.svc.Consume(ctx, consumeSonnet(user))
		require.NoError(t, err)
		last = res
	}
	assert.Equal(t, points.Whole(5), last.RemainingAfter)
	assert.False(t, last.LowBalanceWarning)

	res, err := h.svc.Consume(ctx, consumeSonnet(user))
	require.NoError(t, err)
	assert.Equal(t, points.Whole(4), res.RemainingAfter)
	assert.True(t, res.LowBalanceWarning)
}

func TestConsumeSpendsPlanBeforePurchased(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	_, err := h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: user, Points: points.Whole(10), Reference: "order-1"})
	require.NoError(t, err)
	require.NoError(t, h.db.Exec(`UPDATE balance_records SET plan_grant_used = ? WHERE account_id = ?`, points.FromFloat(29.5), user.AccountID).Error)

	res, err := h.svc.Consume(ctx, consumeSonnet(user))
	require.NoError(t, err)
	assert.Equal(t, points.FromFloat(0.5), res.Split.Plan)
	assert.Equal(t, points.FromFloat(0.5), res.Split.Purchased)
	assert.Equal(t, points.FromFloat(9.5), res.RemainingAfter)

	rec := h.balance(t, user.AccountID)
	assert.Equal(t, points.Whole(30), rec.PlanGrantUsed)
	assert.Equal(t, points.FromFloat(0.5), rec.PurchasedUsed)
	assert.Equal(t, points.Whole(10), rec.PurchasedBalance)
}

func TestConsumeGraduatedCost(t *testing.T) {
	h := setupLedger(t)
	user := h.individual(t, "pro")

	zero := int64(0)
	res, err := h.svc.Consume(context.Background(), ledgerdomain.ConsumeRequest{Identity: user, Tier: "opus", WorkUnits: &zero})
	require.NoError(t, err)
	assert.Equal(t, "0.30", res.ConsumedPoints.String())

	full := int64(2400)
	res, err = h.svc.Consume(context.Background(), ledgerdomain.ConsumeRequest{Identity: user, Tier: "opus", WorkUnits: &full})
	require.NoError(t, err)
	assert.Equal(t, "1.60", res.ConsumedPoints.String())
	assert.Equal(t, "298.10", res.RemainingAfter.String())
}

func TestConsumeValidation(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	_, err := h.svc.Consume(ctx, ledgerdomain.ConsumeRequest{Identity: user, Tier: "opus"})
	assert.ErrorIs(t, err, ledgerdomain.ErrTierNotAvailable)

	_, err = h.svc.Consume(ctx, ledgerdomain.ConsumeRequest{Identity: user, Tier: "haiku"})
	assert.ErrorIs(t, err, ledgerdomain.ErrUnknownTier)

	_, err = h.svc.Consume(ctx, consumeSonnet(ledgerdomain.Identity{AccountID: h.node.Generate(), Role: ledgerdomain.RoleIndividual}))
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = h.svc.Consume(ctx, consumeSonnet(ledgerdomain.Identity{Role: ledgerdomain.RoleIndividual}))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)

	assert.Equal(t, 0, h.countEntries(t, usagedomain.EntryKindConsume))
}

func TestConsumeConcurrentNoOverdraft(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	const workers = 45
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
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
				insufficient++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 30 {
		t.Fatalf("expected exactly 30 successful debits, got %d", successes)
	}
	if insufficient != workers-30 {
		t.Fatalf("expected %d rejections, got %d", workers-30, insufficient)
	}
	if rec := h.balance(t, user.AccountID); rec.PlanGrantUsed != points.Whole(30) {
		t.Fatalf("expected 30 plan points used, got %s", rec.PlanGrantUsed)
	}
	if got := h.countEntries(t, usagedomain.EntryKindConsume); got != 30 {
		t.Fatalf("expected 30 usage entries, got %d", got)
	}
}

func TestConsumeCanceledContextWritesNothing(t *testing.T) {
	h := setupLedger(t)
	user := h.individual(t, "free")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Consume(ctx, consumeSonnet(user))
	require.Error(t, err)

	assert.Equal(t, 0, h.countEntries(t, usagedomain.EntryKindConsume))
}

func TestResolveRollsOverExpiredPeriod(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	_, err := h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: user, Points: points.Whole(10)})
	require.NoError(t, err)
	for i := 0; i < 34; i++ {
		_, err := h.svc.Consume(ctx, consumeSonnet(user))
		require.NoError(t, err)
	}

	view, err := h.svc.Resolve(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, points.Amount(0), view.PlanRemaining)
	assert.Equal(t, points.Whole(6), view.PurchasedRemaining)

	h.clock.Advance(21 * 24 * time.Hour)
	view, err = h.svc.Resolve(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, points.Whole(30), view.PlanRemaining)
	assert.Equal(t, points.Whole(6), view.PurchasedRemaining)
	assert.Equal(t, points.Whole(36), view.TotalRemaining)
	assert.True(t, view.PeriodStart.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, view.PeriodEnd.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))

	rec := h.balance(t, user.AccountID)
	assert.Equal(t, points.Amount(0), rec.PlanGrantUsed)
	assert.Equal(t, points.Amount(0), rec.PurchasedUsed)
	assert.Equal(t, points.Whole(6), rec.PurchasedBalance)
}

func TestResolveClampsDriftedRecord(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "free")

	_, err := h.svc.Resolve(ctx, user)
	require.NoError(t, err)
	require.NoError(t, h.db.Exec(
		`UPDATE balance_records SET plan_grant_used = ?, purchased_balance = ?, purchased_used = ? WHERE account_id = ?`,
		points.Whole(45), points.Whole(2), points.Whole(7), user.AccountID,
	).Error)

	view, err := h.svc.Resolve(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, points.Amount(0), view.PlanRemaining)
	assert.Equal(t, points.Amount(0), view.PurchasedRemaining)
	assert.Equal(t, points.Amount(0), view.TotalRemaining)
}

func TestResolveUnknownPlanGrantsNothing(t *testing.T) {
	h := setupLedger(t)
	user := h.individual(t, "legacy")

	view, err := h.svc.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, points.Amount(0), view.TotalRemaining)
}

func TestConsumeUnknownPlanSpendsPurchased(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	user := h.individual(t, "legacy")

	view, err := h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: user, Points: points.Whole(10)})
	require.NoError(t, err)
	assert.Equal(t, points.Whole(10), view.TotalRemaining)

	res, err := h.svc.Consume(ctx, consumeSonnet(user))
	require.NoError(t, err)
	assert.Equal(t, points.Whole(1), res.ConsumedPoints)
	assert.Equal(t, points.Whole(9), res.RemainingAfter)
	assert.Equal(t, points.Whole(1), res.Split.Purchased)

	res, err = h.svc.Consume(ctx, ledgerdomain.ConsumeRequest{Identity: user, Tier: "opus"})
	require.NoError(t, err)
	assert.Equal(t, points.FromFloat(1.6), res.ConsumedPoints)

	_, err = h.svc.Consume(ctx, ledgerdomain.ConsumeRequest{Identity: user, Tier: "haiku"})
	assert.ErrorIs(t, err, ledgerdomain.ErrUnknownTier)

	rec := h.balance(t, user.AccountID)
	assert.Equal(t, points.Amount(0), rec.PlanGrantUsed)
	assert.Equal(t, points.FromFloat(2.6), rec.PurchasedUsed)
}

func TestOrganizationWallets(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	orgID := h.organization(t, "team")
	admin := h.member(t, orgID, ledgerdomain.RoleOrganizationAdmin)
	member := h.member(t, orgID, ledgerdomain.RoleOrganizationMember)

	view, err := h.svc.Resolve(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WalletKindAccount, view.WalletKind)
	assert.Equal(t, points.Whole(5000), view.TotalRemaining)

	view, err = h.svc.Resolve(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.WalletKindAllocation, view.WalletKind)
	require.NotNil(t, view.AllocatedRemaining)
	assert.Equal(t, points.Amount(0), view.TotalRemaining)

	_, err = h.svc.Consume(ctx, consumeSonnet(member))
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	require.NoError(t, h.db.Exec(
		`UPDATE allocation_records SET allocated_points = ? WHERE organization_id = ? AND member_id = ?`,
		points.Whole(2), orgID, member.AccountID,
	).Error)

	res, err := h.svc.Consume(ctx, consumeSonnet(member))
	require.NoError(t, err)
	assert.Equal(t, points.Whole(1), res.Split.Allocation)
	assert.Equal(t, points.Whole(1), res.RemainingAfter)

	view, err = h.svc.Resolve(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, points.Whole(5000), view.TotalRemaining, "member debits never touch the organization balance")

	res, err = h.svc.Consume(ctx, consumeSonnet(admin))
	require.NoError(t, err)
	assert.Equal(t, points.Whole(4999), res.RemainingAfter)
}

func TestOrganizationMembershipIsChecked(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	orgA := h.organization(t, "team")
	orgB := h.organization(t, "team")
	member := h.member(t, orgA, ledgerdomain.RoleOrganizationMember)

	member.OrganizationID = orgB
	_, err := h.svc.Resolve(ctx, member)
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	outsider := h.individual(t, "free")
	_, err = h.svc.Resolve(ctx, ledgerdomain.Identity{AccountID: outsider.AccountID, Role: ledgerdomain.RoleOrganizationAdmin, OrganizationID: orgA})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = h.svc.Resolve(ctx, ledgerdomain.Identity{AccountID: outsider.AccountID, Role: ledgerdomain.RoleOrganizationMember, OrganizationID: outsider.AccountID})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestAddPurchased(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()
	orgID := h.organization(t, "team")
	admin := h.member(t, orgID, ledgerdomain.RoleOrganizationAdmin)
	member := h.member(t, orgID, ledgerdomain.RoleOrganizationMember)

	_, err := h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: member, Points: points.Whole(5)})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidRole)

	_, err = h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: admin, Points: 0})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPoints)

	view, err := h.svc.AddPurchased(ctx, ledgerdomain.TopUpRequest{Identity: admin, Points: points.Whole(250)})
	require.NoError(t, err)
	assert.Equal(t, points.Whole(250), view.PurchasedRemaining)
	assert.Equal(t, points.Whole(5250), view.TotalRemaining)
	assert.Equal(t, 1, h.countEntries(t, usagedomain.EntryKindTopUp))
}

func TestConsumeBroadcastsCommittedEntry(t *testing.T) {
	h := setupLedger(t)
	user := h.individual(t, "free")

	sub, _, err := h.hub.Subscribe(liveevents.AccountKey(user.AccountID.String()))
	require.NoError(t, err)
	defer sub.Close()

	res, err := h.svc.Consume(context.Background(), consumeSonnet(user))
	require.NoError(t, err)

	select {
	case rec := <-sub.Events():
		assert.Equal(t, res.EntryID.String(), rec.EntryID)
		assert.Equal(t, usagedomain.EntryKindConsume, rec.Kind)
		assert.Equal(t, points.Whole(29), rec.RemainingAfter)
	case <-time.After(time.Second):
		t.Fatalf("usage record not broadcast")
	}

	_, err = h.svc.Consume(context.Background(), ledgerdomain.ConsumeRequest{Identity: user, Tier: "opus"})
	require.Error(t, err)
	select {
	case rec := <-sub.Events():
		t.Fatalf("rejected consume must not broadcast, got %+v", rec)
	default:
	}
}

func TestUpsertAccountValidation(t *testing.T) {
	h := setupLedger(t)
	ctx := context.Background()

	_, err := h.svc.UpsertAccount(ctx, ledgerdomain.UpsertAccountRequest{Kind: ledgerdomain.AccountKindUser})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)

	_, err = h.svc.UpsertAccount(ctx, ledgerdomain.UpsertAccountRequest{ID: h.node.Generate(), Kind: "robot"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccountKind)

	orgID := h.node.Generate()
	_, err = h.svc.UpsertAccount(ctx, ledgerdomain.UpsertAccountRequest{ID: orgID, Kind: ledgerdomain.AccountKindOrganization, OrganizationID: &orgID})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidOrganization)

	id := h.account(t, ledgerdomain.AccountKindUser, "free", nil)
	account, err := h.svc.UpsertAccount(ctx, ledgerdomain.UpsertAccountRequest{ID: id, Kind: ledgerdomain.AccountKindUser, PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "pro", account.PlanID)
}
