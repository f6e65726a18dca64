package oracle

import (
	"encoding/json"
	"fmt"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/store"

	"github.com/shopspring/decimal"
)

const sourcesNamespace = "price_sources"

// SourceKind selects how a price source is queried.
type SourceKind string

const (
	// SourceFixed always reports the configured price.
	SourceFixed SourceKind = "fixed"
	// SourceNative reads the exchange rate of a native denom against the
	// stable asset.
	SourceNative SourceKind = "native"
	// SourceTWAP reads the time-weighted average price of a pool.
	SourceTWAP SourceKind = "twap"
)

// Source is one registered price source for a price key.
type Source struct {
	Kind  SourceKind      `json:"kind"`
	Price decimal.Decimal `json:"price,omitempty"`
	Denom string          `json:"denom,omitempty"`
	Pool  string          `json:"pool,omitempty"`
}

func (s Source) Validate() error {
	switch s.Kind {
	case SourceFixed:
		if s.Price.IsNegative() {
			return fmt.Errorf("%w: negative fixed price %s", errs.ErrInvalidAsset, s.Price.String())
		}
	case SourceNative:
		if s.Denom == "" {
			return fmt.Errorf("%w: native source without denom", errs.ErrInvalidAsset)
		}
	case SourceTWAP:
		if err := registry.ValidateAddress(s.Pool); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", errs.ErrInvalidAsset, s.Kind)
	}
	return nil
}

// Authorizer gates privileged writes.
type Authorizer interface {
	AssertAdmin(caller string) error
}

// SourceTable stores the ordered source list of every price key.
type SourceTable struct {
	kv   store.KV
	auth Authorizer
}

func NewSourceTable(kv store.KV, auth Authorizer) *SourceTable {
	return &SourceTable{kv: kv, auth: auth}
}

func sourcesKey(priceKey string) []byte {
	return store.Key(sourcesNamespace, priceKey)
}

// Sources returns the registered sources for priceKey, nil if none.
func (t *SourceTable) Sources(priceKey string) ([]Source, error) {
	data, ok, err := t.kv.Get(sourcesKey(priceKey))
	if err != nil || !ok {
		return nil, err
	}
	var out []Source
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal sources for %s: %w", priceKey, err)
	}
	return out, nil
}

// Add appends src to the list of priceKey. Admin only.
func (t *SourceTable) Add(caller, priceKey string, src Source) error {
	if err := t.auth.AssertAdmin(caller); err != nil {
		return err
	}
	if priceKey == "" {
		return fmt.Errorf("%w: empty price key", errs.ErrInvalidAsset)
	}
	if err := src.Validate(); err != nil {
		return err
	}

	list, err := t.Sources(priceKey)
	if err != nil {
		return err
	}
	list = append(list, src)

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal sources for %s: %w", priceKey, err)
	}
	return t.kv.Set(sourcesKey(priceKey), data)
}
