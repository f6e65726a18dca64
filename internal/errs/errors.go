// Package errs defines the failure reasons surfaced to callers.
// Every error returned by the core either is one of these sentinels or
// matches one through errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// Authorization
	ErrUnauthorized = errors.New("unauthorized")

	// Not found
	ErrNotSupported   = errors.New("asset is not supported")
	ErrOracleNotFound = errors.New("no oracle registered for asset")

	// State consistency
	ErrAlreadyRegistered      = errors.New("asset already supported")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAssetIsZero            = errors.New("balance of this asset is zero")
	ErrCannotBecomeCollateral = errors.New("balance would become positive and asset can not be used as collateral")
	ErrNotBorrowable          = errors.New("asset is not supported as collateral and has no outstanding borrow")
	ErrWrongAssetKind         = errors.New("operation not allowed for this asset kind")
	ErrTokenMismatch          = errors.New("token contract does not match registered asset")
	ErrDuplicateCall          = errors.New("call already processed")

	// Arithmetic
	ErrOverflow = errors.New("arithmetic overflow")

	// Solvency
	ErrInsufficientTotalCollateral = errors.New("not enough total collateral")

	// Oracle
	ErrPriceUnavailable = errors.New("price unavailable from every registered source")

	// Validation
	ErrInvalidAsset   = errors.New("invalid asset definition")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// InsufficientBalanceError carries the amounts involved in a failed debit.
// Amounts are decimal strings in raw asset units.
type InsufficientBalanceError struct {
	Asset     string
	Current   string
	Requested string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance of %s: current=%s, requested=%s",
		e.Asset, e.Current, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// AssetError attaches the asset name and operation to an underlying reason.
type AssetError struct {
	Op    string
	Asset string
	Err   error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Asset, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// Asset wraps err with operation and asset context.
func Asset(op, asset string, err error) error {
	return &AssetError{Op: op, Asset: asset, Err: err}
}

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassInternal Class = iota
	ClassAuthorization
	ClassNotFound
	ClassState
	ClassArithmetic
	ClassSolvency
	ClassValidation
	ClassUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassNotFound:
		return "not_found"
	case ClassState:
		return "state"
	case ClassArithmetic:
		return "arithmetic"
	case ClassSolvency:
		return "solvency"
	case ClassValidation:
		return "validation"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// ClassOf returns the class of err, ClassInternal if it matches no sentinel.
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, ErrNotSupported), errors.Is(err, ErrOracleNotFound):
		return ClassNotFound
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAssetIsZero),
		errors.Is(err, ErrCannotBecomeCollateral),
		errors.Is(err, ErrNotBorrowable),
		errors.Is(err, ErrWrongAssetKind),
		errors.Is(err, ErrTokenMismatch),
		errors.Is(err, ErrDuplicateCall):
		return ClassState
	case errors.Is(err, ErrOverflow):
		return ClassArithmetic
	case errors.Is(err, ErrInsufficientTotalCollateral):
		return ClassSolvency
	case errors.Is(err, ErrInvalidAsset),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidAmount):
		return ClassValidation
	case errors.Is(err, ErrPriceUnavailable):
		return ClassUnavailable
	default:
		return ClassInternal
	}
}

// Reason returns a short machine-readable label for metrics and responses.
func Reason(err error) string {
	sentinels := []struct {
		err    error
		reason string
	}{
		{ErrUnauthorized, "unauthorized"},
		{ErrNotSupported, "not_supported"},
		{ErrOracleNotFound, "oracle_not_found"},
		{ErrAlreadyRegistered, "already_registered"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrAssetIsZero, "asset_is_zero"},
		{ErrCannotBecomeCollateral, "cannot_become_collateral"},
		{ErrNotBorrowable, "not_borrowable"},
		{ErrWrongAssetKind, "wrong_asset_kind"},
		{ErrTokenMismatch, "token_mismatch"},
		{ErrDuplicateCall, "duplicate"},
		{ErrOverflow, "overflow"},
		{ErrInsufficientTotalCollateral, "insufficient_total_collateral"},
		{ErrPriceUnavailable, "price_unavailable"},
		{ErrInvalidAsset, "invalid_asset"},
		{ErrInvalidAddress, "invalid_address"},
		{ErrInvalidAmount, "invalid_amount"},
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.reason
		}
	}
	return "internal"
}
