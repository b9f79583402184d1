// Package domain contains the append-only point usage trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/points"
	"gorm.io/datatypes"
)

type EntryKind string

const (
	EntryKindConsume EntryKind = "consume"
	EntryKindTopUp   EntryKind = "top_up"
)

// UsageEntry is written in the same transaction as the balance change it
// describes and is never updated afterwards.
type UsageEntry struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	Kind             EntryKind         `gorm:"type:text;not null" json:"kind"`
	AccountID        snowflake.ID      `gorm:"not null;index:ix_usage_entries_account,priority:1" json:"account_id"`
	OrganizationID   *snowflake.ID     `gorm:"index:ix_usage_entries_org,priority:1" json:"organization_id,omitempty"`
	ActivityRef      *string           `gorm:"type:text" json:"activity_ref,omitempty"`
	Tier             string            `gorm:"type:text;not null;default:''" json:"tier,omitempty"`
	WalletKind       string            `gorm:"type:text;not null" json:"wallet_kind"`
	Points           points.Amount     `gorm:"not null" json:"points"`
	PlanPoints       points.Amount     `gorm:"not null;default:0" json:"plan_points"`
	PurchasedPoints  points.Amount     `gorm:"not null;default:0" json:"purchased_points"`
	AllocationPoints points.Amount     `gorm:"not null;default:0" json:"allocation_points"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	RecordedAt       time.Time         `gorm:"not null;index:ix_usage_entries_account,priority:2;index:ix_usage_entries_org,priority:2" json:"recorded_at"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEntry) TableName() string { return "usage_entries" }

// UsageRecord is the outbound form of a usage entry, shared by the stream
// publisher and the live hub.
type UsageRecord struct {
	EntryID          string        `json:"entry_id"`
	Kind             EntryKind     `json:"kind"`
	AccountID        string        `json:"account_id"`
	OrganizationID   string        `json:"organization_id,omitempty"`
	ActivityRef      string        `json:"activity_ref,omitempty"`
	Tier             string        `json:"tier,omitempty"`
	WalletKind       string        `json:"wallet_kind"`
	Points           points.Amount `json:"points"`
	PlanPoints       points.Amount `json:"plan_points"`
	PurchasedPoints  points.Amount `json:"purchased_points"`
	AllocationPoints points.Amount `json:"allocation_points"`
	RemainingAfter   points.Amount `json:"remaining_after"`
	LowBalance       bool          `json:"low_balance"`
	RecordedAt       string        `json:"recorded_at"`
}

// Record converts the entry. remainingAfter and lowBalance are not stored on
// the entry and are passed in by the writer.
func (e *UsageEntry) Record(remainingAfter points.Amount, lowBalance bool) UsageRecord {
	rec := UsageRecord{
		EntryID:          e.ID.String(),
		Kind:             e.Kind,
		AccountID:        e.AccountID.String(),
		Tier:             e.Tier,
		WalletKind:       e.WalletKind,
		Points:           e.Points,
		PlanPoints:       e.PlanPoints,
		PurchasedPoints:  e.PurchasedPoints,
		AllocationPoints: e.AllocationPoints,
		RemainingAfter:   remainingAfter,
		LowBalance:       lowBalance,
		RecordedAt:       e.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.OrganizationID != nil {
		rec.OrganizationID = e.OrganizationID.String()
	}
	if e.ActivityRef != nil {
		rec.ActivityRef = *e.ActivityRef
	}
	return rec
}
