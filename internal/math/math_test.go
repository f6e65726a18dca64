package math_test

import (
	"testing"

	"CollateralLedger/internal/errs"
	fpmath "CollateralLedger/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	v, err := fpmath.ParseAmount("1000000")
	require.NoError(t, err)
	require.Equal(t, "1000000", v.Dec())

	_, err = fpmath.ParseAmount("-5")
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = fpmath.ParseAmount("abc")
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	// 2^128
	_, err = fpmath.ParseAmount("340282366920938463463374607431768211456")
	require.ErrorIs(t, err, errs.ErrOverflow)
}

func TestAddAmount_Overflow(t *testing.T) {
	one := fpmath.MustAmount("1")
	_, err := fpmath.AddAmount(fpmath.MaxAmount, one)
	require.ErrorIs(t, err, errs.ErrOverflow)

	sum, err := fpmath.AddAmount(fpmath.MustAmount("2"), one)
	require.NoError(t, err)
	require.Equal(t, "3", sum.Dec())
}

func TestSubAmount_Underflow(t *testing.T) {
	_, underflow := fpmath.SubAmount(fpmath.MustAmount("1"), fpmath.MustAmount("2"))
	require.True(t, underflow)

	d, underflow := fpmath.SubAmount(fpmath.MustAmount("5"), fpmath.MustAmount("2"))
	require.False(t, underflow)
	require.Equal(t, "3", d.Dec())
}

func TestEncodeDecodeAmount(t *testing.T) {
	b := fpmath.EncodeAmount(fpmath.MaxAmount)
	require.Len(t, b, 16)

	v, err := fpmath.DecodeAmount(b)
	require.NoError(t, err)
	require.True(t, v.Eq(fpmath.MaxAmount))

	_, err = fpmath.DecodeAmount([]byte{1, 2})
	require.Error(t, err)
}

func TestValue_ScalesByDecimalsPriceAndRatio(t *testing.T) {
	// 1,000,000 raw at 6 decimals = 1 unit; price 10; ratio 0.9 => 9
	v, err := fpmath.Value(fpmath.MustAmount("1000000"), 6,
		decimal.NewFromInt(10), decimal.RequireFromString("0.9"), fpmath.RoundDown)
	require.NoError(t, err)
	require.True(t, v.Equal(decimal.NewFromInt(9)), v.String())
}

func TestValue_RoundingDirection(t *testing.T) {
	// Price with more fractional digits than ValuePrecision
	price := decimal.RequireFromString("0.0000000000000000011")

	down, err := fpmath.Value(fpmath.MustAmount("1"), 0, price, decimal.NewFromInt(1), fpmath.RoundDown)
	require.NoError(t, err)
	require.True(t, down.Equal(decimal.RequireFromString("0.000000000000000001")), down.String())

	up, err := fpmath.Value(fpmath.MustAmount("1"), 0, price, decimal.NewFromInt(1), fpmath.RoundUp)
	require.NoError(t, err)
	require.True(t, up.Equal(decimal.RequireFromString("0.000000000000000002")), up.String())
}

func TestValue_CeilingOverflow(t *testing.T) {
	_, err := fpmath.Value(fpmath.MaxAmount, 0, decimal.NewFromInt(2), decimal.NewFromInt(1), fpmath.RoundDown)
	require.ErrorIs(t, err, errs.ErrOverflow)
}

func TestCheckedAdd(t *testing.T) {
	_, err := fpmath.CheckedAdd(fpmath.ValueCeiling, decimal.NewFromInt(1))
	require.ErrorIs(t, err, errs.ErrOverflow)

	s, err := fpmath.CheckedAdd(decimal.NewFromInt(1), decimal.NewFromInt(2))
	require.NoError(t, err)
	require.True(t, s.Equal(decimal.NewFromInt(3)))
}

func TestValidRatio(t *testing.T) {
	require.True(t, fpmath.ValidRatio(decimal.Zero))
	require.True(t, fpmath.ValidRatio(decimal.NewFromInt(1)))
	require.False(t, fpmath.ValidRatio(decimal.RequireFromString("1.01")))
	require.False(t, fpmath.ValidRatio(decimal.RequireFromString("-0.1")))
}
