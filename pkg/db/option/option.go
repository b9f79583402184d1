package option

import (
	"strings"

	"gorm.io/gorm"
)

// QueryOption narrows a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

// WithWhere adds a condition; an empty query is a no-op.
func WithWhere(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if strings.TrimSpace(query) == "" {
			return db
		}
		return db.Where(query, args...)
	})
}
