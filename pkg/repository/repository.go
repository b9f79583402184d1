package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/pkg/db/option"
)

var ErrInvalidPageSize = errors.New("invalid_page_size")

// Repository reads an append-only ledger table keyed by snowflake ids. Ids
// grow with time, so id order is recording order and the last id of a page is
// a stable cursor.
type Repository[T any] interface {
	// Page returns up to size+1 rows matching filter, newest first and older
	// than before when before is set. The extra row tells the caller whether
	// another page exists.
	Page(ctx context.Context, filter *T, before snowflake.ID, size int, opts ...option.QueryOption) ([]*T, error)
}
