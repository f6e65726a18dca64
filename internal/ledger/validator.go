package ledger

import (
	"errors"
	"fmt"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/registry"

	"github.com/google/uuid"
)

// AssetLookup resolves an asset definition by name.
type AssetLookup interface {
	GetAsset(name string) (*registry.Asset, error)
}

// InvariantValidator checks ledger invariants on the positions a call touched.
type InvariantValidator struct {
	ledger *PositionLedger
	assets AssetLookup
}

func NewInvariantValidator(ledger *PositionLedger, assets AssetLookup) *InvariantValidator {
	return &InvariantValidator{
		ledger: ledger,
		assets: assets,
	}
}

// ValidateBatch checks every journal's arithmetic.
func (v *InvariantValidator) ValidateBatch(batchID uuid.UUID) error {
	batch := Batch{BatchID: batchID, Journals: v.ledger.Journals()}
	return batch.Validate()
}

// ValidatePosition checks a single position against its asset rules:
// a restricted future asset never holds collateral, and a future asset
// never holds collateral and borrow at the same time.
// Positions in assets no longer registered are not checked.
func (v *InvariantValidator) ValidatePosition(key PositionKey) error {
	pos, err := v.ledger.Balance(key.Account, key.Asset)
	if err != nil {
		return err
	}

	asset, err := v.assets.GetAsset(key.Asset)
	if errors.Is(err, errs.ErrNotSupported) {
		return nil
	}
	if err != nil {
		return err
	}

	if asset.IsRestricted() && !pos.Collateral.IsZero() {
		return fmt.Errorf("restricted asset %s has collateral %s for %s",
			key.Asset, pos.Collateral.Dec(), key.Account)
	}
	if asset.Kind == registry.KindFutureAsset && !pos.Collateral.IsZero() && !pos.Borrow.IsZero() {
		return fmt.Errorf("future asset %s has both collateral %s and borrow %s for %s",
			key.Asset, pos.Collateral.Dec(), pos.Borrow.Dec(), key.Account)
	}
	return nil
}

// ValidateTouched runs ValidatePosition over every touched position.
func (v *InvariantValidator) ValidateTouched() error {
	for _, key := range v.ledger.Touched() {
		if err := v.ValidatePosition(key); err != nil {
			return err
		}
	}
	return nil
}
