package registry

import (
	"fmt"

	"CollateralLedger/internal/errs"
	fpmath "CollateralLedger/internal/math"

	"github.com/shopspring/decimal"
)

// Kind tags how an asset enters and leaves the system.
type Kind string

const (
	KindNative        Kind = "native"
	KindContractToken Kind = "contract_token"
	KindFutureAsset   Kind = "future_asset"
)

func (k Kind) Valid() bool {
	switch k {
	case KindNative, KindContractToken, KindFutureAsset:
		return true
	}
	return false
}

// Asset is a supported asset definition. Kind never changes once stored;
// the only way to alter it is remove then re-add.
type Asset struct {
	Name     string          `json:"name"`
	Kind     Kind            `json:"kind"`
	Ratio    decimal.Decimal `json:"ratio"`
	Decimals uint8           `json:"decimals"`
	// PriceKey is the identifier handed to the price resolver.
	PriceKey string `json:"price_key"`

	// Native
	Denom string `json:"denom,omitempty"`

	// ContractToken and FutureAsset
	ContractAddr string `json:"contract_addr,omitempty"`

	// FutureAsset
	Collateralizeable bool   `json:"collateralizeable,omitempty"`
	Underlying        string `json:"underlying,omitempty"`
}

// Normalize fills defaulted fields in place.
func (a *Asset) Normalize() {
	if a.PriceKey == "" {
		a.PriceKey = a.Name
	}
	if a.Kind == KindNative && a.Denom == "" {
		a.Denom = a.Name
	}
}

// Validate checks the definition for internal consistency.
func (a *Asset) Validate() error {
	validName := ValidateAddress
	if a.Kind == KindNative {
		validName = ValidateDenom
	}
	if err := validName(a.Name); err != nil {
		return fmt.Errorf("%w: name: %v", errs.ErrInvalidAsset, err)
	}
	if !fpmath.ValidRatio(a.Ratio) {
		return fmt.Errorf("%w: ratio %s outside [0, 1]", errs.ErrInvalidAsset, a.Ratio.String())
	}
	if a.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("%w: decimals %d above %d", errs.ErrInvalidAsset, a.Decimals, fpmath.MaxDecimals)
	}
	if a.PriceKey == "" {
		return fmt.Errorf("%w: empty price key", errs.ErrInvalidAsset)
	}

	switch a.Kind {
	case KindNative:
		if a.Denom != a.Name {
			return fmt.Errorf("%w: native denom %q must equal name %q", errs.ErrInvalidAsset, a.Denom, a.Name)
		}
		if a.ContractAddr != "" || a.Collateralizeable || a.Underlying != "" {
			return fmt.Errorf("%w: native asset carries token fields", errs.ErrInvalidAsset)
		}
	case KindContractToken:
		if err := ValidateAddress(a.ContractAddr); err != nil {
			return err
		}
		if a.Denom != "" || a.Collateralizeable || a.Underlying != "" {
			return fmt.Errorf("%w: contract token carries foreign fields", errs.ErrInvalidAsset)
		}
	case KindFutureAsset:
		if err := ValidateAddress(a.ContractAddr); err != nil {
			return err
		}
		if a.Denom != "" {
			return fmt.Errorf("%w: future asset carries a denom", errs.ErrInvalidAsset)
		}
		if a.Underlying != "" {
			if err := ValidateDenom(a.Underlying); err != nil {
				return fmt.Errorf("%w: underlying: %v", errs.ErrInvalidAsset, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", errs.ErrInvalidAsset, a.Kind)
	}
	return nil
}

// IsRestricted reports whether deposits may only repay borrow.
func (a *Asset) IsRestricted() bool {
	return a.Kind == KindFutureAsset && !a.Collateralizeable
}

// ValidateAddress checks an account, contract or asset identifier:
// 3 to 128 characters from [a-z0-9_-.].
func ValidateAddress(addr string) error {
	if len(addr) < 3 || len(addr) > 128 {
		return fmt.Errorf("%w: %q length %d not in [3, 128]", errs.ErrInvalidAddress, addr, len(addr))
	}
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
		default:
			return fmt.Errorf("%w: %q has invalid character %q", errs.ErrInvalidAddress, addr, c)
		}
	}
	return nil
}

// ValidateDenom checks a bank denom: a letter, then 2 to 127 characters
// from [a-zA-Z0-9/:._-]. IBC denoms such as "ibc/27394F..." pass.
func ValidateDenom(denom string) error {
	if len(denom) < 3 || len(denom) > 128 {
		return fmt.Errorf("%w: denom %q length %d not in [3, 128]", errs.ErrInvalidAsset, denom, len(denom))
	}
	if c := denom[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return fmt.Errorf("%w: denom %q must start with a letter", errs.ErrInvalidAsset, denom)
	}
	for i := 1; i < len(denom); i++ {
		c := denom[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '/', c == ':', c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: denom %q has invalid character %q", errs.ErrInvalidAsset, denom, c)
		}
	}
	return nil
}
