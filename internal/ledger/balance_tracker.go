package ledger

import (
	"fmt"

	"CollateralLedger/internal/errs"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/store"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionLedger updates the collateral and borrow tables through a KV,
// normally the Txn of the call in progress. Every mutation is journaled.
// A row whose amount reaches zero is removed.
type PositionLedger struct {
	kv       store.KV
	journals []Journal
	touched  map[PositionKey]struct{}
	order    []PositionKey
}

func NewPositionLedger(kv store.KV) *PositionLedger {
	return &PositionLedger{
		kv:      kv,
		touched: make(map[PositionKey]struct{}),
	}
}

// Amount returns the balance of one table row, zero if absent.
func (pl *PositionLedger) Amount(side Side, account, asset string) (*uint256.Int, error) {
	key := PositionKey{Account: account, Asset: asset}
	v, ok, err := pl.kv.Get(key.storeKey(side))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key.Path(side), err)
	}
	if !ok {
		return fpmath.ZeroAmount(), nil
	}
	return fpmath.DecodeAmount(v)
}

// Balance returns both sides of a position.
func (pl *PositionLedger) Balance(account, asset string) (Position, error) {
	c, err := pl.Amount(SideCollateral, account, asset)
	if err != nil {
		return Position{}, err
	}
	b, err := pl.Amount(SideBorrow, account, asset)
	if err != nil {
		return Position{}, err
	}
	return Position{Account: account, Asset: asset, Collateral: c, Borrow: b}, nil
}

// RangeAccount lists the non-zero rows of one table for account, ordered
// by asset name.
func (pl *PositionLedger) RangeAccount(side Side, account string) ([]Entry, error) {
	prefix := accountPrefix(side, account)
	pairs, err := pl.kv.RangePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("range %s:%s: %w", side, account, err)
	}

	out := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		amount, err := fpmath.DecodeAmount(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Asset: string(p.Key[len(prefix):]), Amount: amount})
	}
	return out, nil
}

func (pl *PositionLedger) set(side Side, key PositionKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return pl.kv.Delete(key.storeKey(side))
	}
	return pl.kv.Set(key.storeKey(side), fpmath.EncodeAmount(amount))
}

func (pl *PositionLedger) record(side Side, key PositionKey, credit bool, amount, before, after *uint256.Int) {
	pl.journals = append(pl.journals, Journal{
		JournalID:   uuid.New(),
		Key:         key,
		Side:        side,
		JournalType: journalTypeFor(side, credit),
		Amount:      amount.Clone(),
		Before:      before,
		After:       after,
	})
	if _, ok := pl.touched[key]; !ok {
		pl.touched[key] = struct{}{}
		pl.order = append(pl.order, key)
	}
}

func (pl *PositionLedger) credit(side Side, account, asset string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	key := PositionKey{Account: account, Asset: asset}
	before, err := pl.Amount(side, account, asset)
	if err != nil {
		return err
	}
	after, err := fpmath.AddAmount(before, amount)
	if err != nil {
		return errs.Asset("credit_"+side.String(), asset, err)
	}
	if err := pl.set(side, key, after); err != nil {
		return err
	}
	pl.record(side, key, true, amount, before, after)
	return nil
}

func (pl *PositionLedger) debit(side Side, account, asset string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	key := PositionKey{Account: account, Asset: asset}
	before, err := pl.Amount(side, account, asset)
	if err != nil {
		return err
	}
	after, underflow := fpmath.SubAmount(before, amount)
	if underflow {
		return &errs.InsufficientBalanceError{
			Asset:     asset,
			Current:   before.Dec(),
			Requested: amount.Dec(),
		}
	}
	if err := pl.set(side, key, after); err != nil {
		return err
	}
	pl.record(side, key, false, amount, before, after)
	return nil
}

func (pl *PositionLedger) CreditCollateral(account, asset string, amount *uint256.Int) error {
	return pl.credit(SideCollateral, account, asset, amount)
}

func (pl *PositionLedger) DebitCollateral(account, asset string, amount *uint256.Int) error {
	return pl.debit(SideCollateral, account, asset, amount)
}

func (pl *PositionLedger) CreditBorrow(account, asset string, amount *uint256.Int) error {
	return pl.credit(SideBorrow, account, asset, amount)
}

func (pl *PositionLedger) DebitBorrow(account, asset string, amount *uint256.Int) error {
	return pl.debit(SideBorrow, account, asset, amount)
}

// NetDepositAgainstBorrow applies a deposit into a collateralizeable future
// asset: outstanding borrow is repaid first and only the excess becomes
// collateral. Returns the repaid and credited parts.
func (pl *PositionLedger) NetDepositAgainstBorrow(account, asset string, amount *uint256.Int) (repaid, credited *uint256.Int, err error) {
	borrow, err := pl.Amount(SideBorrow, account, asset)
	if err != nil {
		return nil, nil, err
	}

	if amount.Lt(borrow) {
		if err := pl.DebitBorrow(account, asset, amount); err != nil {
			return nil, nil, err
		}
		return amount.Clone(), fpmath.ZeroAmount(), nil
	}

	excess := new(uint256.Int).Sub(amount, borrow)
	if err := pl.DebitBorrow(account, asset, borrow); err != nil {
		return nil, nil, err
	}
	if err := pl.CreditCollateral(account, asset, excess); err != nil {
		return nil, nil, err
	}
	return borrow, excess, nil
}

// RestrictedDeposit applies a deposit into a future asset that can never be
// collateral: it may only repay outstanding borrow.
func (pl *PositionLedger) RestrictedDeposit(account, asset string, amount *uint256.Int) error {
	borrow, err := pl.Amount(SideBorrow, account, asset)
	if err != nil {
		return err
	}
	if borrow.IsZero() {
		return errs.Asset("deposit", asset, errs.ErrNotBorrowable)
	}
	if amount.Gt(borrow) {
		return errs.Asset("deposit", asset, errs.ErrCannotBecomeCollateral)
	}
	return pl.DebitBorrow(account, asset, amount)
}

// BorrowAgainstCollateral takes amount out of a future asset position:
// existing collateral in the same asset is consumed first and the rest is
// added to borrow. Returns the consumed and borrowed parts.
func (pl *PositionLedger) BorrowAgainstCollateral(account, asset string, amount *uint256.Int) (consumed, borrowed *uint256.Int, err error) {
	collateral, err := pl.Amount(SideCollateral, account, asset)
	if err != nil {
		return nil, nil, err
	}

	if !amount.Gt(collateral) {
		if err := pl.DebitCollateral(account, asset, amount); err != nil {
			return nil, nil, err
		}
		return amount.Clone(), fpmath.ZeroAmount(), nil
	}

	rest := new(uint256.Int).Sub(amount, collateral)
	if err := pl.DebitCollateral(account, asset, collateral); err != nil {
		return nil, nil, err
	}
	if err := pl.CreditBorrow(account, asset, rest); err != nil {
		return nil, nil, err
	}
	return collateral, rest, nil
}

// Journals returns the movements recorded so far, in order.
func (pl *PositionLedger) Journals() []Journal {
	return pl.journals
}

// Touched returns every position mutated so far, in first-touch order.
func (pl *PositionLedger) Touched() []PositionKey {
	return pl.order
}
