// Package solvency aggregates an account's positions into one value and
// decides whether a prospective withdrawal or borrow keeps it solvent.
package solvency

import (
	"context"
	"fmt"

	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/oracle"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// PositionReader lists an account's rows in one balance table.
type PositionReader interface {
	RangeAccount(side ledger.Side, account string) ([]ledger.Entry, error)
}

// Line is the valuation of one position row.
type Line struct {
	Asset  string
	Side   ledger.Side
	Amount *uint256.Int
	Price  decimal.Decimal
	Ratio  decimal.Decimal
	Value  decimal.Decimal
}

// Report is the aggregate valuation of one account.
type Report struct {
	Account         string
	CollateralValue decimal.Decimal // discounted by each asset's ratio
	DebtValue       decimal.Decimal // at full price
	Lines           []Line
}

// Solvent reports whether discounted collateral covers debt.
func (r *Report) Solvent() bool {
	return r.CollateralValue.GreaterThanOrEqual(r.DebtValue)
}

// Headroom is collateral value minus debt value; negative when insolvent.
func (r *Report) Headroom() decimal.Decimal {
	return r.CollateralValue.Sub(r.DebtValue)
}

// Evaluator values positions with fresh prices on every call.
type Evaluator struct {
	assets    ledger.AssetLookup
	positions PositionReader
	prices    oracle.PriceResolver
}

func NewEvaluator(assets ledger.AssetLookup, positions PositionReader, prices oracle.PriceResolver) *Evaluator {
	return &Evaluator{
		assets:    assets,
		positions: positions,
		prices:    prices,
	}
}

// Evaluate values every collateral and borrow row of account.
// Collateral is discounted by the asset ratio and rounded down; debt is
// taken at full price and rounded up.
func (e *Evaluator) Evaluate(ctx context.Context, account string) (*Report, error) {
	report := &Report{
		Account:         account,
		CollateralValue: decimal.Zero,
		DebtValue:       decimal.Zero,
	}

	collateral, err := e.positions.RangeAccount(ledger.SideCollateral, account)
	if err != nil {
		return nil, err
	}
	for _, entry := range collateral {
		line, err := e.value(ctx, ledger.SideCollateral, entry.Asset, entry.Amount)
		if err != nil {
			return nil, err
		}
		report.CollateralValue, err = fpmath.CheckedAdd(report.CollateralValue, line.Value)
		if err != nil {
			return nil, err
		}
		report.Lines = append(report.Lines, line)
	}

	borrows, err := e.positions.RangeAccount(ledger.SideBorrow, account)
	if err != nil {
		return nil, err
	}
	for _, entry := range borrows {
		line, err := e.value(ctx, ledger.SideBorrow, entry.Asset, entry.Amount)
		if err != nil {
			return nil, err
		}
		report.DebtValue, err = fpmath.CheckedAdd(report.DebtValue, line.Value)
		if err != nil {
			return nil, err
		}
		report.Lines = append(report.Lines, line)
	}

	return report, nil
}

// CanWithdraw reports whether account stays solvent after taking amount of
// asset out. The withdrawal is counted as additional debt at full price,
// whichever table the asset sits in.
func (e *Evaluator) CanWithdraw(ctx context.Context, account, asset string, amount *uint256.Int) (bool, error) {
	report, err := e.Evaluate(ctx, account)
	if err != nil {
		return false, err
	}
	return e.coversProspective(ctx, report, asset, amount)
}

// CanBorrow applies the same test to a prospective borrow of asset.
func (e *Evaluator) CanBorrow(ctx context.Context, account, asset string, amount *uint256.Int) (bool, error) {
	return e.CanWithdraw(ctx, account, asset, amount)
}

func (e *Evaluator) coversProspective(ctx context.Context, report *Report, asset string, amount *uint256.Int) (bool, error) {
	line, err := e.value(ctx, ledger.SideBorrow, asset, amount)
	if err != nil {
		return false, err
	}
	debt, err := fpmath.CheckedAdd(report.DebtValue, line.Value)
	if err != nil {
		return false, err
	}
	return report.CollateralValue.GreaterThanOrEqual(debt), nil
}

func (e *Evaluator) value(ctx context.Context, side ledger.Side, assetName string, amount *uint256.Int) (Line, error) {
	asset, err := e.assets.GetAsset(assetName)
	if err != nil {
		return Line{}, err
	}

	price, err := e.prices.GetPrice(ctx, asset.PriceKey)
	if err != nil {
		return Line{}, err
	}

	ratio := decimal.NewFromInt(1)
	mode := fpmath.RoundUp
	if side == ledger.SideCollateral {
		ratio = asset.Ratio
		mode = fpmath.RoundDown
	}

	v, err := fpmath.Value(amount, asset.Decimals, price, ratio, mode)
	if err != nil {
		return Line{}, fmt.Errorf("value %s %s: %w", side, assetName, err)
	}
	return Line{
		Asset:  assetName,
		Side:   side,
		Amount: amount,
		Price:  price,
		Ratio:  ratio,
		Value:  v,
	}, nil
}
