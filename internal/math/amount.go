package math

import (
	"fmt"

	"CollateralLedger/internal/errs"

	"github.com/holiman/uint256"
)

// AmountBits is the width raw asset amounts are bounded to.
const AmountBits = 128

// MaxAmount is the largest representable raw amount, 2^128-1.
var MaxAmount = new(uint256.Int).Sub(
	new(uint256.Int).Lsh(uint256.NewInt(1), AmountBits),
	uint256.NewInt(1),
)

// ZeroAmount returns a fresh zero amount.
func ZeroAmount() *uint256.Int {
	return new(uint256.Int)
}

// ParseAmount parses a base-10 raw amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidAmount, s)
	}
	if v.BitLen() > AmountBits {
		return nil, fmt.Errorf("%w: %s exceeds 128 bits", errs.ErrOverflow, s)
	}
	return v, nil
}

// MustAmount parses s and panics on failure. Test and fixture use only.
func MustAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// AddAmount returns a+b, failing with ErrOverflow past MaxAmount.
func AddAmount(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || sum.BitLen() > AmountBits {
		return nil, fmt.Errorf("%w: %s + %s", errs.ErrOverflow, a.Dec(), b.Dec())
	}
	return sum, nil
}

// SubAmount returns a-b and false, or nil and true when b > a.
func SubAmount(a, b *uint256.Int) (*uint256.Int, bool) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, true
	}
	return diff, false
}

// EncodeAmount renders an amount for storage as a fixed 16-byte big-endian value.
func EncodeAmount(a *uint256.Int) []byte {
	b32 := a.Bytes32()
	out := make([]byte, 16)
	copy(out, b32[16:])
	return out
}

// DecodeAmount reverses EncodeAmount.
func DecodeAmount(b []byte) (*uint256.Int, error) {
	if len(b) != 16 {
		return nil, fmt.Errorf("decode amount: want 16 bytes, got %d", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}
