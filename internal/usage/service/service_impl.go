package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/pkg/db/option"
	"github.com/smallbiznis/pointledger/pkg/db/pagination"
	"github.com/smallbiznis/pointledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	usagerepo repository.Repository[usagedomain.UsageEntry]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		usagerepo: repository.NewStore[usagedomain.UsageEntry](p.DB),
	}
}

// List pages through entries newest first.
func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	filter := usagedomain.UsageEntry{}

	if accountID := strings.TrimSpace(req.AccountID); accountID != "" {
		id, err := snowflake.ParseString(accountID)
		if err != nil || id == 0 {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidAccount
		}
		filter.AccountID = id
	}
	if orgID := strings.TrimSpace(req.OrganizationID); orgID != "" {
		id, err := snowflake.ParseString(orgID)
		if err != nil || id == 0 {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidOrganization
		}
		filter.OrganizationID = &id
	}
	if filter.AccountID == 0 && filter.OrganizationID == nil {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrMissingFilter
	}

	switch kind := usagedomain.EntryKind(strings.TrimSpace(req.Kind)); kind {
	case "":
	case usagedomain.EntryKindConsume, usagedomain.EntryKindTopUp:
		filter.Kind = kind
	default:
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidKind
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var opts []option.QueryOption
	if req.Since != nil && req.Until != nil && !req.Since.Before(*req.Until) {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidRange
	}
	if req.Since != nil {
		opts = append(opts, option.WithWhere("recorded_at >= ?", req.Since.UTC()))
	}
	if req.Until != nil {
		opts = append(opts, option.WithWhere("recorded_at < ?", req.Until.UTC()))
	}

	var before snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPageToken
		}
		before, err = snowflake.ParseString(cursor.ID)
		if err != nil || before <= 0 {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPageToken
		}
	}

	rows, err := s.usagerepo.Page(ctx, &filter, before, pageSize, opts...)
	if err != nil {
		s.log.Error("list usage entries failed", zap.Error(err))
		return usagedomain.ListUsageResponse{}, err
	}

	page, pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(e *usagedomain.UsageEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
		if err != nil {
			return ""
		}
		return token
	})

	return usagedomain.ListUsageResponse{
		PageInfo: *pageInfo,
		Entries:  page,
	}, nil
}
