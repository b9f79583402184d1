package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
)

type upsertAccountRequest struct {
	Kind           string `json:"kind"`
	PlanID         string `json:"plan_id"`
	OrganizationID string `json:"organization_id"`
}

func (s *Server) UpsertAccount(c *gin.Context) {
	id, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req upsertAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseOptionalSnowflakeID(req.OrganizationID)
	if err != nil {
		AbortWithError(c, ledgerdomain.ErrInvalidOrganization)
		return
	}

	account, err := s.ledgerSvc.UpsertAccount(c.Request.Context(), ledgerdomain.UpsertAccountRequest{
		ID:             id,
		Kind:           ledgerdomain.AccountKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		PlanID:         strings.TrimSpace(req.PlanID),
		OrganizationID: orgID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := accountIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func accountIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return id, nil
}
