package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/points"
)

type Service interface {
	SetAllocation(ctx context.Context, req SetAllocationRequest) (AllocationView, error)
	GetAllocation(ctx context.Context, orgID, memberID snowflake.ID) (AllocationView, error)
	ListAllocations(ctx context.Context, orgID snowflake.ID) (OrganizationBudget, error)
}

type SetAllocationRequest struct {
	OrganizationID snowflake.ID  `json:"organization_id"`
	MemberID       snowflake.ID  `json:"member_id"`
	Points         points.Amount `json:"points"`
}

// AllocationView is a member's allocation for the current period.
type AllocationView struct {
	OrganizationID  string        `json:"organization_id"`
	MemberID        string        `json:"member_id"`
	AllocatedPoints points.Amount `json:"allocated_points"`
	UsedPoints      points.Amount `json:"used_points"`
	RemainingPoints points.Amount `json:"remaining_points"`
	PeriodStart     time.Time     `json:"period_start"`
	PeriodEnd       time.Time     `json:"period_end"`
}

// OrganizationBudget summarizes how an organization's monthly grant is split
// across its members.
type OrganizationBudget struct {
	OrganizationID string           `json:"organization_id"`
	PlanID         string           `json:"plan_id"`
	Grant          points.Amount    `json:"grant"`
	Allocated      points.Amount    `json:"allocated"`
	Unallocated    points.Amount    `json:"unallocated"`
	PeriodStart    time.Time        `json:"period_start"`
	PeriodEnd      time.Time        `json:"period_end"`
	Members        []AllocationView `json:"members"`
}
