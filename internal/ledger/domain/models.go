package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/points"
)

type AccountKind string

const (
	AccountKindUser         AccountKind = "user"
	AccountKindOrganization AccountKind = "organization"
)

// Account is an individual user or an organization. Users that belong to an
// organization carry its id.
type Account struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	Kind           AccountKind   `gorm:"type:text;not null" json:"kind"`
	PlanID         string        `gorm:"type:text;not null;default:''" json:"plan_id"`
	OrganizationID *snowflake.ID `gorm:"index" json:"organization_id,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// BelongsTo reports whether the account is a member of orgID.
func (a Account) BelongsTo(orgID snowflake.ID) bool {
	return a.OrganizationID != nil && *a.OrganizationID == orgID
}

// BalanceRecord is the two-pool wallet of an individual or an organization.
// It is rolled over in place and never deleted.
type BalanceRecord struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	AccountID        snowflake.ID  `gorm:"not null;uniqueIndex:ux_balance_records_account"`
	PlanGrantUsed    points.Amount `gorm:"not null;default:0"`
	PurchasedBalance points.Amount `gorm:"not null;default:0"`
	PurchasedUsed    points.Amount `gorm:"not null;default:0"`
	PeriodStart      time.Time     `gorm:"not null"`
	PeriodEnd        time.Time     `gorm:"not null;index"`
	CreatedAt        time.Time     `gorm:"not null"`
	UpdatedAt        time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (BalanceRecord) TableName() string { return "balance_records" }

// AllocationRecord is a member's slice of its organization's monthly grant.
type AllocationRecord struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	OrganizationID  snowflake.ID  `gorm:"not null;uniqueIndex:ux_allocation_records_org_member,priority:1"`
	MemberID        snowflake.ID  `gorm:"not null;uniqueIndex:ux_allocation_records_org_member,priority:2"`
	AllocatedPoints points.Amount `gorm:"not null;default:0"`
	UsedPoints      points.Amount `gorm:"not null;default:0"`
	PeriodStart     time.Time     `gorm:"not null"`
	PeriodEnd       time.Time     `gorm:"not null;index"`
	CreatedAt       time.Time     `gorm:"not null"`
	UpdatedAt       time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (AllocationRecord) TableName() string { return "allocation_records" }
