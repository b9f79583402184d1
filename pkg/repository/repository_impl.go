package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db       *gorm.DB
	idColumn string
}

func NewStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db, idColumn: "id"}
}

func (r *store[T]) Page(ctx context.Context, filter *T, before snowflake.ID, size int, opts ...option.QueryOption) ([]*T, error) {
	if size <= 0 {
		return nil, ErrInvalidPageSize
	}

	stmt := r.db.WithContext(ctx).Model(new(T)).Where(filter)
	if before != 0 {
		stmt = stmt.Where(r.idColumn+" < ?", before)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}

	var rows []*T
	err := stmt.Order(r.idColumn + " DESC").Limit(size + 1).Find(&rows).Error
	return rows, err
}
