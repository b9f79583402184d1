package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pointledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, object, action)
}

// requireOrganizationScope pins organization routes to the caller's own
// organization. System callers may address any organization.
func (s *Server) requireOrganizationScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := organizationIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !isSystem(actor) && actor.OrganizationID != orgID.String() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// authorizeAllocationView lets members read only their own allocation.
func (s *Server) authorizeAllocationView() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, authorization.ObjectAllocation, authorization.ActionAllocationView); err != nil {
			AbortWithError(c, err)
			return
		}
		identity, ok := identityFromContext(c)
		if ok && identity.Role == ledgerdomain.RoleOrganizationMember {
			memberID, err := memberIDParam(c)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			if memberID != identity.AccountID {
				AbortWithError(c, ErrForbidden)
				return
			}
		}
		c.Next()
	}
}

func organizationIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidOrganization
	}
	return id, nil
}

func memberIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("member_id")))
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return id, nil
}
