package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const RoleSystem = "system"

const (
	ObjectBalance    = "balance"
	ObjectUsage      = "usage"
	ObjectTopUp      = "top_up"
	ObjectAllocation = "allocation"
	ObjectAccount    = "account"
	ObjectSweep      = "sweep"
)

const (
	ActionBalanceView = "balance.view"
	ActionConsume     = "balance.consume"

	ActionUsageView = "usage.view"
	ActionUsageLive = "usage.live"

	ActionTopUpCreate = "top_up.create"

	ActionAllocationSet  = "allocation.set"
	ActionAllocationView = "allocation.view"
	ActionAllocationList = "allocation.list"

	ActionAccountUpsert = "account.upsert"
	ActionAccountView   = "account.view"

	ActionSweepRun = "sweep.run"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// ActorFromIdentity maps an authenticated ledger caller to an actor.
func ActorFromIdentity(identity ledgerdomain.Identity) Actor {
	actor := Actor{
		AccountID: identity.AccountID.String(),
		Role:      string(identity.Role),
	}
	if identity.OrganizationID != 0 {
		actor.OrganizationID = identity.OrganizationID.String()
	}
	return actor
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, domain, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.logDenied(actor, object, action, err)
		return err
	}
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, object, action, ErrForbidden)
		return ErrForbidden
	}
	return nil
}

// resolveActor returns the casbin subject, role and domain of actor.
// Organization roles are checked against the stored membership.
func (s *ServiceImpl) resolveActor(ctx context.Context, actor Actor) (string, string, string, error) {
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if role == RoleSystem {
		return RoleSystem, "role:system", "system", nil
	}

	accountID, err := snowflake.ParseString(strings.TrimSpace(actor.AccountID))
	if err != nil || accountID == 0 {
		return "", "", "", ErrInvalidActor
	}
	subject := fmt.Sprintf("account:%s", accountID)

	switch ledgerdomain.Role(role) {
	case ledgerdomain.RoleIndividual:
		return subject, "role:individual", subject, nil
	case ledgerdomain.RoleOrganizationAdmin, ledgerdomain.RoleOrganizationMember:
		orgID, err := snowflake.ParseString(strings.TrimSpace(actor.OrganizationID))
		if err != nil || orgID == 0 {
			return "", "", "", ErrInvalidOrganization
		}
		if err := s.checkMembership(ctx, orgID, accountID); err != nil {
			return "", "", "", err
		}
		return subject, "role:" + role, fmt.Sprintf("org:%s", orgID), nil
	default:
		return "", "", "", ErrInvalidActor
	}
}

func (s *ServiceImpl) checkMembership(ctx context.Context, orgID, accountID snowflake.ID) error {
	var row struct {
		OrganizationID *int64 `gorm:"column:organization_id"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT organization_id
		 FROM accounts
		 WHERE id = ? AND kind = ?
		 LIMIT 1`,
		accountID,
		ledgerdomain.AccountKindUser,
	).Scan(&row).Error; err != nil {
		return err
	}
	if row.OrganizationID == nil || snowflake.ID(*row.OrganizationID) != orgID {
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(actor Actor, object string, action string, reason error) {
	s.log.Info("authorization denied",
		zap.String("account_id", actor.AccountID),
		zap.String("role", actor.Role),
		zap.String("organization_id", actor.OrganizationID),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(reason),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:individual", ObjectBalance, ActionBalanceView},
		{"role:individual", ObjectBalance, ActionConsume},
		{"role:individual", ObjectUsage, ActionUsageView},
		{"role:individual", ObjectUsage, ActionUsageLive},
		{"role:individual", ObjectTopUp, ActionTopUpCreate},

		// Members spend their allocation and may read it, nothing else.
		{"role:organization_member", ObjectBalance, ActionBalanceView},
		{"role:organization_member", ObjectBalance, ActionConsume},
		{"role:organization_member", ObjectUsage, ActionUsageView},
		{"role:organization_member", ObjectUsage, ActionUsageLive},
		{"role:organization_member", ObjectAllocation, ActionAllocationView},

		{"role:organization_admin", ObjectBalance, ActionBalanceView},
		{"role:organization_admin", ObjectBalance, ActionConsume},
		{"role:organization_admin", ObjectUsage, ActionUsageView},
		{"role:organization_admin", ObjectUsage, ActionUsageLive},
		{"role:organization_admin", ObjectTopUp, ActionTopUpCreate},
		{"role:organization_admin", ObjectAllocation, ActionAllocationSet},
		{"role:organization_admin", ObjectAllocation, ActionAllocationView},
		{"role:organization_admin", ObjectAllocation, ActionAllocationList},

		{"role:system", ObjectAccount, ActionAccountUpsert},
		{"role:system", ObjectAccount, ActionAccountView},
		{"role:system", ObjectSweep, ActionSweepRun},
		{"role:system", ObjectAllocation, ActionAllocationSet},
		{"role:system", ObjectAllocation, ActionAllocationView},
		{"role:system", ObjectAllocation, ActionAllocationList},
		{"role:system", ObjectUsage, ActionUsageView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
