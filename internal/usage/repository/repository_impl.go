package repository

import (
	"context"

	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *usagedomain.UsageEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}
