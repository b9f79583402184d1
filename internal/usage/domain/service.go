package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/pointledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListUsageRequest struct {
	AccountID      string `form:"account_id" json:"account_id"`
	OrganizationID string `form:"organization_id" json:"organization_id"`
	Kind           string `form:"kind" json:"kind"`
	PageToken      string `form:"page_token" json:"page_token"`
	PageSize       int    `form:"page_size" json:"page_size"`
	// Since and Until bound recorded_at as a half-open window.
	Since *time.Time `form:"since" json:"since,omitempty"`
	Until *time.Time `form:"until" json:"until,omitempty"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	Entries []*UsageEntry `json:"entries"`
}

type Service interface {
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
}

// Repository writes entries inside a caller-owned transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *UsageEntry) error
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrMissingFilter       = errors.New("missing_filter")
	ErrInvalidRange        = errors.New("invalid_range")
)
