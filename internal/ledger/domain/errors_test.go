package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/pointledger/internal/points"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &InsufficientBalanceError{Required: points.Whole(1), Available: 0}
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.ErrorIs(t, fmt.Errorf("consume: %w", err), ErrInsufficientBalance)

	err = &AllocationExceedsBudgetError{Remainder: points.Whole(500)}
	assert.ErrorIs(t, err, ErrAllocationExceedsBudget)

	var exceeded *AllocationExceedsBudgetError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, points.Whole(500), exceeded.Remainder)
}

func TestWrapStoreError(t *testing.T) {
	assert.NoError(t, WrapStoreError(nil))
	assert.Same(t, ErrAccountNotFound, WrapStoreError(ErrAccountNotFound))
	assert.ErrorIs(t, WrapStoreError(context.Canceled), context.Canceled)

	conflict := WrapStoreError(&pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, conflict, ErrTransactionConflict)
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(conflict, &pgErr))

	down := WrapStoreError(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, down, ErrPersistenceUnavailable)
	assert.NotErrorIs(t, down, ErrTransactionConflict)

	assert.Same(t, down, WrapStoreError(down))
}

func TestIdentityValidate(t *testing.T) {
	assert.ErrorIs(t, Identity{Role: RoleIndividual}.Validate(), ErrInvalidAccount)
	assert.ErrorIs(t, Identity{AccountID: 1, Role: "owner"}.Validate(), ErrInvalidRole)
	assert.ErrorIs(t, Identity{AccountID: 1, Role: RoleOrganizationMember}.Validate(), ErrInvalidOrganization)
	assert.NoError(t, Identity{AccountID: 1, Role: RoleOrganizationAdmin, OrganizationID: 2}.Validate())

	role, err := ParseRole(" Organization_Member ")
	require.NoError(t, err)
	assert.Equal(t, RoleOrganizationMember, role)
	assert.Equal(t, WalletKindAllocation, Identity{Role: role}.WalletKind())
}
