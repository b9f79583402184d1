package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pointledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
)

func (s *Server) ListUsage(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	since, err := parseOptionalTime(c.Query("since"))
	if err != nil {
		AbortWithError(c, newValidationError("since", "invalid_time", "since must be an RFC 3339 timestamp"))
		return
	}
	until, err := parseOptionalTime(c.Query("until"))
	if err != nil {
		AbortWithError(c, newValidationError("until", "invalid_time", "until must be an RFC 3339 timestamp"))
		return
	}

	req := usagedomain.ListUsageRequest{
		Kind:      strings.TrimSpace(c.Query("kind")),
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pageSize,
		Since:     since,
		Until:     until,
	}
	scopeUsageRequest(c, actor, &req)

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// scopeUsageRequest narrows a listing to what the caller may see: their own
// entries, or their organization's when they administer it. System callers
// choose the filter themselves.
func scopeUsageRequest(c *gin.Context, actor authorization.Actor, req *usagedomain.ListUsageRequest) {
	if isSystem(actor) {
		req.AccountID = strings.TrimSpace(c.Query("account_id"))
		req.OrganizationID = strings.TrimSpace(c.Query("organization_id"))
		return
	}

	switch ledgerdomain.Role(actor.Role) {
	case ledgerdomain.RoleOrganizationAdmin:
		req.OrganizationID = actor.OrganizationID
		req.AccountID = strings.TrimSpace(c.Query("account_id"))
	case ledgerdomain.RoleOrganizationMember:
		req.OrganizationID = actor.OrganizationID
		req.AccountID = actor.AccountID
	default:
		req.AccountID = actor.AccountID
	}
}
