package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pointledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	obscontext "github.com/smallbiznis/pointledger/internal/observability/context"
)

// Identity headers are set by the gateway after authentication.
const (
	HeaderAccountID      = "X-Account-Id"
	HeaderAccountRole    = "X-Account-Role"
	HeaderOrganizationID = "X-Organization-Id"

	contextActorKey    = "actor"
	contextIdentityKey = "identity"
)

// IdentityRequired reads the caller identity headers. System callers carry no
// ledger identity; every other role must name an account.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, identity, err := readIdentity(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		bindActor(c, actor, identity)
		c.Next()
	}
}

// SystemRequired admits only the system role.
func (s *Server) SystemRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, identity, err := readIdentity(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if actor.Role != authorization.RoleSystem {
			AbortWithError(c, ErrForbidden)
			return
		}
		bindActor(c, actor, identity)
		c.Next()
	}
}

func readIdentity(c *gin.Context) (authorization.Actor, *ledgerdomain.Identity, error) {
	rawRole := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderAccountRole)))
	if rawRole == "" {
		return authorization.Actor{}, nil, ErrUnauthorized
	}
	if rawRole == authorization.RoleSystem {
		return authorization.SystemActor(), nil, nil
	}

	role, err := ledgerdomain.ParseRole(rawRole)
	if err != nil {
		return authorization.Actor{}, nil, ErrUnauthorized
	}
	accountID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderAccountID)))
	if err != nil || accountID == 0 {
		return authorization.Actor{}, nil, ErrUnauthorized
	}

	identity := ledgerdomain.Identity{AccountID: accountID, Role: role}
	if rawOrg := strings.TrimSpace(c.GetHeader(HeaderOrganizationID)); rawOrg != "" {
		orgID, err := snowflake.ParseString(rawOrg)
		if err != nil || orgID == 0 {
			return authorization.Actor{}, nil, ledgerdomain.ErrInvalidOrganization
		}
		identity.OrganizationID = orgID
	}
	if err := identity.Validate(); err != nil {
		return authorization.Actor{}, nil, err
	}
	return authorization.ActorFromIdentity(identity), &identity, nil
}

func bindActor(c *gin.Context, actor authorization.Actor, identity *ledgerdomain.Identity) {
	c.Set(contextActorKey, actor)
	if identity != nil {
		c.Set(contextIdentityKey, *identity)
		c.Set(obscontext.GinKeyWalletKind, string(identity.WalletKind()))
	}

	ctx := c.Request.Context()
	ctx = obscontext.WithActor(ctx, actor.Role, actor.AccountID)
	if actor.AccountID != "" {
		ctx = obscontext.WithAccountID(ctx, actor.AccountID)
	}
	if actor.OrganizationID != "" {
		ctx = obscontext.WithOrgID(ctx, actor.OrganizationID)
	}
	c.Request = c.Request.WithContext(ctx)
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	return actor, ok
}

// identityFromContext is empty for system callers, which hold no wallet.
func identityFromContext(c *gin.Context) (ledgerdomain.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return ledgerdomain.Identity{}, false
	}
	identity, ok := value.(ledgerdomain.Identity)
	return identity, ok
}

func isSystem(actor authorization.Actor) bool {
	return actor.Role == authorization.RoleSystem
}
