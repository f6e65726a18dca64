package core

import (
	"context"
	"fmt"
	"strconv"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/event"
	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/transfer"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func (c *CollateralCore) dispatch(ctx context.Context, cl *call, cmd event.Command) error {
	switch e := cmd.(type) {
	case *event.Instantiate:
		return c.handleInstantiate(cl)
	case *event.NativeDeposit:
		return c.handleNativeDeposit(cl, e)
	case *event.NativeWithdraw:
		return c.handleNativeWithdraw(ctx, cl, e)
	case *event.TokenDeposit:
		return c.handleTokenDeposit(cl, e)
	case *event.TokenWithdraw:
		return c.handleTokenWithdraw(ctx, cl, e)
	case *event.FutureBorrow:
		return c.handleFutureBorrow(ctx, cl, e)
	case *event.AddSupportedAsset:
		return c.handleAddSupportedAsset(cl, e)
	case *event.RemoveSupportedAsset:
		return c.handleRemoveSupportedAsset(cl, e)
	case *event.UpdateAdmin:
		return c.handleUpdateAdmin(cl, e)
	case *event.AddPriceSource:
		return c.handleAddPriceSource(cl, e)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// parsePositive parses a raw amount and rejects zero.
func parsePositive(asset, raw string) (*uint256.Int, error) {
	amount, err := fpmath.ParseAmount(raw)
	if err != nil {
		return nil, errs.Asset("parse_amount", asset, err)
	}
	if amount.IsZero() {
		return nil, errs.Asset("parse_amount", asset, fmt.Errorf("%w: zero", errs.ErrInvalidAmount))
	}
	return amount, nil
}

// === Admin ===

func (c *CollateralCore) handleInstantiate(cl *call) error {
	if err := cl.registry.Instantiate(cl.sender); err != nil {
		return err
	}
	cl.attr("action", "instantiate")
	cl.attr("admin", cl.sender)
	return nil
}

func (c *CollateralCore) handleAddSupportedAsset(cl *call, e *event.AddSupportedAsset) error {
	if err := cl.registry.AddAsset(cl.sender, e.Asset); err != nil {
		return err
	}
	cl.attr("action", "add_supported_asset")
	cl.attr("asset", e.Asset.Name)
	cl.attr("kind", string(e.Asset.Kind))
	return nil
}

func (c *CollateralCore) handleRemoveSupportedAsset(cl *call, e *event.RemoveSupportedAsset) error {
	if err := cl.registry.RemoveAsset(cl.sender, e.AssetName); err != nil {
		return err
	}
	cl.attr("action", "remove_supported_asset")
	cl.attr("asset", e.AssetName)
	return nil
}

func (c *CollateralCore) handleUpdateAdmin(cl *call, e *event.UpdateAdmin) error {
	if err := cl.registry.UpdateAdmin(cl.sender, e.NewAdmin); err != nil {
		return err
	}
	cl.attr("action", "update_admin")
	cl.attr("new_admin", e.NewAdmin)
	return nil
}

func (c *CollateralCore) handleAddPriceSource(cl *call, e *event.AddPriceSource) error {
	if err := cl.sources.Add(cl.sender, e.PriceKey, e.Source); err != nil {
		return err
	}
	cl.attr("action", "add_price_source")
	cl.attr("price_key", e.PriceKey)
	cl.attr("source_kind", string(e.Source.Kind))
	return nil
}

// === Deposits ===

func (c *CollateralCore) handleNativeDeposit(cl *call, e *event.NativeDeposit) error {
	if len(e.Funds) == 0 {
		return fmt.Errorf("%w: no funds attached", errs.ErrInvalidAmount)
	}

	cl.attr("action", "deposit_native")
	for _, coin := range e.Funds {
		asset, err := cl.registry.GetAsset(coin.Denom)
		if err != nil {
			return err
		}
		if asset.Kind != registry.KindNative {
			return errs.Asset("deposit_native", asset.Name, errs.ErrWrongAssetKind)
		}
		amount, err := parsePositive(asset.Name, coin.Amount)
		if err != nil {
			return err
		}
		if err := cl.ledger.CreditCollateral(cl.sender, asset.Name, amount); err != nil {
			return err
		}
		cl.attr("asset", asset.Name)
		cl.attr("amount", amount.Dec())
	}
	return nil
}

func (c *CollateralCore) handleTokenDeposit(cl *call, e *event.TokenDeposit) error {
	asset, err := cl.registry.GetAsset(e.AssetName)
	if err != nil {
		return err
	}
	if asset.Kind == registry.KindNative {
		return errs.Asset("deposit_token", asset.Name, errs.ErrWrongAssetKind)
	}
	if e.TokenContract != asset.ContractAddr {
		return errs.Asset("deposit_token", asset.Name,
			fmt.Errorf("%w: got %q, registered %q", errs.ErrTokenMismatch, e.TokenContract, asset.ContractAddr))
	}
	amount, err := parsePositive(asset.Name, e.Amount)
	if err != nil {
		return err
	}

	cl.attr("action", "deposit_token")
	cl.attr("asset", asset.Name)
	cl.attr("amount", amount.Dec())

	switch {
	case asset.Kind == registry.KindContractToken:
		return cl.ledger.CreditCollateral(cl.sender, asset.Name, amount)

	case asset.Collateralizeable:
		repaid, credited, err := cl.ledger.NetDepositAgainstBorrow(cl.sender, asset.Name, amount)
		if err != nil {
			return err
		}
		cl.attr("repaid", repaid.Dec())
		cl.attr("credited", credited.Dec())
		return nil

	default:
		if err := cl.ledger.RestrictedDeposit(cl.sender, asset.Name, amount); err != nil {
			return err
		}
		cl.attr("repaid", amount.Dec())
		return nil
	}
}

// === Withdrawals ===

func (c *CollateralCore) handleNativeWithdraw(ctx context.Context, cl *call, e *event.NativeWithdraw) error {
	asset, err := cl.registry.GetAsset(e.Denom)
	if err != nil {
		return err
	}
	if asset.Kind != registry.KindNative {
		return errs.Asset("withdraw_native", asset.Name, errs.ErrWrongAssetKind)
	}
	amount, err := parsePositive(asset.Name, e.Amount)
	if err != nil {
		return err
	}
	if err := c.withdraw(ctx, cl, asset, amount); err != nil {
		return err
	}

	cl.attr("action", "withdraw_native")
	c.addTransfer(cl, transfer.Instruction{
		Kind:      transfer.KindBankSend,
		Recipient: cl.sender,
		Asset:     asset.Name,
		Denom:     asset.Denom,
		Amount:    amount.Dec(),
	})
	return nil
}

func (c *CollateralCore) handleTokenWithdraw(ctx context.Context, cl *call, e *event.TokenWithdraw) error {
	asset, err := cl.registry.GetAsset(e.AssetName)
	if err != nil {
		return err
	}
	if asset.Kind == registry.KindNative {
		return errs.Asset("withdraw_token", asset.Name, errs.ErrWrongAssetKind)
	}
	amount, err := parsePositive(asset.Name, e.Amount)
	if err != nil {
		return err
	}
	if err := c.withdraw(ctx, cl, asset, amount); err != nil {
		return err
	}

	cl.attr("action", "withdraw_token")
	c.addTransfer(cl, transfer.Instruction{
		Kind:      transfer.KindTokenTransfer,
		Recipient: cl.sender,
		Asset:     asset.Name,
		Contract:  asset.ContractAddr,
		Amount:    amount.Dec(),
	})
	return nil
}

// withdraw runs the checks shared by every withdrawal, in order: nonzero
// collateral, amount within collateral, solvency. Collateral is debited
// only after all of them pass.
func (c *CollateralCore) withdraw(ctx context.Context, cl *call, asset *registry.Asset, amount *uint256.Int) error {
	current, err := cl.ledger.Amount(ledger.SideCollateral, cl.sender, asset.Name)
	if err != nil {
		return err
	}
	if current.IsZero() {
		return errs.Asset("withdraw", asset.Name, errs.ErrAssetIsZero)
	}
	if amount.Gt(current) {
		return &errs.InsufficientBalanceError{
			Asset:     asset.Name,
			Current:   current.Dec(),
			Requested: amount.Dec(),
		}
	}

	ok, err := cl.evaluator.CanWithdraw(ctx, cl.sender, asset.Name, amount)
	if err != nil {
		return err
	}
	c.recordDecision("withdraw", ok)
	if !ok {
		return errs.Asset("withdraw", asset.Name, errs.ErrInsufficientTotalCollateral)
	}

	if err := cl.ledger.DebitCollateral(cl.sender, asset.Name, amount); err != nil {
		return err
	}
	cl.attr("asset", asset.Name)
	cl.attr("amount", amount.Dec())
	return nil
}

// === Borrow ===

func (c *CollateralCore) handleFutureBorrow(ctx context.Context, cl *call, e *event.FutureBorrow) error {
	asset, err := cl.registry.GetAsset(e.AssetName)
	if err != nil {
		return err
	}
	if asset.Kind != registry.KindFutureAsset {
		return errs.Asset("borrow", asset.Name, errs.ErrWrongAssetKind)
	}
	amount, err := parsePositive(asset.Name, e.Amount)
	if err != nil {
		return err
	}

	ok, err := cl.evaluator.CanBorrow(ctx, cl.sender, asset.Name, amount)
	if err != nil {
		return err
	}
	c.recordDecision("borrow", ok)
	if !ok {
		return errs.Asset("borrow", asset.Name, errs.ErrInsufficientTotalCollateral)
	}

	consumed, borrowed, err := cl.ledger.BorrowAgainstCollateral(cl.sender, asset.Name, amount)
	if err != nil {
		return err
	}

	cl.attr("action", "borrow")
	cl.attr("asset", asset.Name)
	cl.attr("amount", amount.Dec())
	cl.attr("consumed", consumed.Dec())
	cl.attr("borrowed", borrowed.Dec())
	c.addTransfer(cl, transfer.Instruction{
		Kind:      transfer.KindMint,
		Recipient: cl.sender,
		Asset:     asset.Name,
		Contract:  asset.ContractAddr,
		Amount:    amount.Dec(),
	})
	return nil
}

func (c *CollateralCore) recordDecision(operation string, allowed bool) {
	if c.metrics == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	c.metrics.SolvencyDecisions.WithLabelValues(operation, outcome).Inc()
}

// addTransfer assigns an id derived from the command id and the
// instruction index, then queues the instruction.
func (c *CollateralCore) addTransfer(cl *call, ins transfer.Instruction) {
	seed := cl.commandID + ":" + strconv.Itoa(len(cl.transfers))
	ins.TransferID = uuid.NewSHA1(transferNamespace, []byte(seed))
	cl.transfers = append(cl.transfers, ins)
}
