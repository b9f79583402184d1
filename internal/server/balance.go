package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	obscontext "github.com/smallbiznis/pointledger/internal/observability/context"
	"github.com/smallbiznis/pointledger/internal/points"
)

type consumeRequest struct {
	Tier        string         `json:"tier"`
	WorkUnits   *int64         `json:"work_units"`
	ActivityRef *string        `json:"activity_ref"`
	Metadata    map[string]any `json:"metadata"`
}

type topUpRequest struct {
	Points    points.Amount `json:"points"`
	Reference string        `json:"reference"`
}

func (s *Server) GetBalance(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	view, err := s.ledgerSvc.Resolve(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) Consume(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	tier := strings.TrimSpace(req.Tier)
	if tier == "" {
		AbortWithError(c, newValidationError("tier", "required", "tier is required"))
		return
	}
	if req.WorkUnits != nil && *req.WorkUnits < 0 {
		AbortWithError(c, newValidationError("work_units", "invalid_work_units", "work_units must not be negative"))
		return
	}
	c.Set(obscontext.GinKeyTier, tier)

	res, err := s.ledgerSvc.Consume(c.Request.Context(), ledgerdomain.ConsumeRequest{
		Identity:    identity,
		Tier:        tier,
		WorkUnits:   req.WorkUnits,
		ActivityRef: req.ActivityRef,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) TopUp(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.ledgerSvc.AddPurchased(c.Request.Context(), ledgerdomain.TopUpRequest{
		Identity:  identity,
		Points:    req.Points,
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}
