package math

import (
	"fmt"

	"CollateralLedger/internal/errs"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ValuePrecision is the number of fractional digits kept in account values.
const ValuePrecision = 18

// MaxDecimals bounds the scale of a registered asset.
const MaxDecimals = 30

// ValueCeiling is the largest value representable in the 128-bit
// 18-decimal fixed-point space: (2^128-1) / 10^18.
var ValueCeiling = decimal.NewFromBigInt(MaxAmount.ToBig(), -ValuePrecision)

type RoundingMode int

const (
	// RoundDown is used for collateral: never overstate what backs a debt.
	RoundDown RoundingMode = iota
	// RoundUp is used for debt.
	RoundUp
)

// ToDecimal converts a raw amount into whole units: amount / 10^decimals.
func ToDecimal(amount *uint256.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}

// Value computes amount / 10^decimals * price * factor with a checked
// ceiling on every product, rounded to ValuePrecision digits per mode.
// Pass decimal.NewFromInt(1) as factor for undiscounted valuation.
func Value(amount *uint256.Int, decimals uint8, price, factor decimal.Decimal, mode RoundingMode) (decimal.Decimal, error) {
	if price.IsNegative() || factor.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price or factor", errs.ErrInvalidAmount)
	}

	units := ToDecimal(amount, decimals)
	v, err := CheckedMul(units, price)
	if err != nil {
		return decimal.Zero, err
	}
	v, err = CheckedMul(v, factor)
	if err != nil {
		return decimal.Zero, err
	}

	if mode == RoundUp {
		return v.RoundCeil(ValuePrecision), nil
	}
	return v.RoundFloor(ValuePrecision), nil
}

// CheckedMul multiplies and fails with ErrOverflow above ValueCeiling.
func CheckedMul(a, b decimal.Decimal) (decimal.Decimal, error) {
	p := a.Mul(b)
	if p.GreaterThan(ValueCeiling) {
		return decimal.Zero, fmt.Errorf("%w: %s * %s", errs.ErrOverflow, a.String(), b.String())
	}
	return p, nil
}

// CheckedAdd adds and fails with ErrOverflow above ValueCeiling.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	s := a.Add(b)
	if s.GreaterThan(ValueCeiling) {
		return decimal.Zero, fmt.Errorf("%w: %s + %s", errs.ErrOverflow, a.String(), b.String())
	}
	return s, nil
}

// ValidRatio reports whether r is in [0, 1].
func ValidRatio(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}
