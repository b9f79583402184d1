package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/pointledger/internal/points"
	"github.com/smallbiznis/pointledger/pkg/db"
)

var (
	ErrAccountNotFound         = errors.New("account_not_found")
	ErrInsufficientBalance     = errors.New("insufficient_balance")
	ErrAllocationExceedsBudget = errors.New("allocation_exceeds_organization_budget")
	ErrTransactionConflict     = errors.New("transaction_conflict")
	ErrPersistenceUnavailable  = errors.New("persistence_unavailable")

	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPoints       = errors.New("invalid_points")
	ErrInvalidAccountKind  = errors.New("invalid_account_kind")
	ErrUnknownTier         = points.ErrUnknownTier
	ErrTierNotAvailable    = errors.New("tier_not_available")
)

// InsufficientBalanceError reports how far a wallet fell short.
type InsufficientBalanceError struct {
	Required  points.Amount
	Available points.Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s", ErrInsufficientBalance, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// AllocationExceedsBudgetError carries the largest allocation that would
// still fit in the organization grant.
type AllocationExceedsBudgetError struct {
	Remainder points.Amount
}

func (e *AllocationExceedsBudgetError) Error() string {
	return fmt.Sprintf("%s: remainder %s", ErrAllocationExceedsBudget, e.Remainder)
}

func (e *AllocationExceedsBudgetError) Is(target error) bool {
	return target == ErrAllocationExceedsBudget
}

// StoreError wraps a store failure under ErrTransactionConflict or
// ErrPersistenceUnavailable while keeping the driver error in the chain.
type StoreError struct {
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *StoreError) Is(target error) bool {
	return target == e.Kind
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStoreError classifies a store error. Domain errors and context
// cancellation pass through unchanged.
func WrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || db.IsCanceled(err) {
		return err
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	if db.IsConflict(err) {
		return &StoreError{Kind: ErrTransactionConflict, Err: err}
	}
	return &StoreError{Kind: ErrPersistenceUnavailable, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrAccountNotFound,
		ErrInsufficientBalance,
		ErrAllocationExceedsBudget,
		ErrInvalidAccount,
		ErrInvalidRole,
		ErrInvalidOrganization,
		ErrInvalidPoints,
		ErrInvalidAccountKind,
		ErrUnknownTier,
		ErrTierNotAvailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
