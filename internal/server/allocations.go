package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/pointledger/internal/allocation/domain"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/points"
)

type setAllocationRequest struct {
	Points *points.Amount `json:"points"`
}

func (s *Server) SetAllocation(c *gin.Context) {
	orgID, err := organizationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	memberID, err := memberIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Admins spend from the organization balance, so an allocation to the
	// calling admin could never be used.
	if actor, ok := actorFromContext(c); ok &&
		ledgerdomain.Role(actor.Role) == ledgerdomain.RoleOrganizationAdmin &&
		actor.AccountID == memberID.String() {
		AbortWithError(c, newValidationError("member_id", "invalid_member", "administrators cannot allocate points to themselves"))
		return
	}

	var req setAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Points == nil {
		AbortWithError(c, newValidationError("points", "required", "points is required"))
		return
	}

	view, err := s.allocationSvc.SetAllocation(c.Request.Context(), allocationdomain.SetAllocationRequest{
		OrganizationID: orgID,
		MemberID:       memberID,
		Points:         *req.Points,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetAllocation(c *gin.Context) {
	orgID, err := organizationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	memberID, err := memberIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.allocationSvc.GetAllocation(c.Request.Context(), orgID, memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListAllocations(c *gin.Context) {
	orgID, err := organizationIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	budget, err := s.allocationSvc.ListAllocations(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": budget})
}
