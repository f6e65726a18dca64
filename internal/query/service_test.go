package query_test

import (
	"context"
	"errors"
	"testing"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/query"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const admin = "admin-addr"

func seeded(t *testing.T) *query.QueryService {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New(st)
	require.NoError(t, reg.Instantiate(admin))

	require.NoError(t, reg.AddAsset(admin, registry.Asset{
		Name: "uluna", Kind: registry.KindNative, Ratio: decimal.RequireFromString("0.5"), Decimals: 6,
	}))
	require.NoError(t, reg.AddAsset(admin, registry.Asset{
		Name: "mfut", Kind: registry.KindFutureAsset, Ratio: decimal.NewFromInt(1), Decimals: 6,
		ContractAddr: "mfut-contract",
	}))

	sources := oracle.NewSourceTable(st, reg)
	require.NoError(t, sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceFixed, Price: decimal.NewFromInt(10)}))
	require.NoError(t, sources.Add(admin, "mfut", oracle.Source{Kind: oracle.SourceFixed, Price: decimal.NewFromInt(2)}))

	pl := ledger.NewPositionLedger(st)
	require.NoError(t, pl.CreditCollateral("alice-addr", "uluna", fpmath.MustAmount("3000000")))
	require.NoError(t, pl.CreditBorrow("alice-addr", "mfut", fpmath.MustAmount("1000000")))

	prices := oracle.NewManager(oracle.DefaultStableAsset, nil, nil, nil)
	return query.NewQueryService(st, prices, nil, nil)
}

func TestGetBalance(t *testing.T) {
	qs := seeded(t)
	ctx := context.Background()

	b, err := qs.GetBalance(ctx, "alice-addr", "uluna")
	require.NoError(t, err)
	assert.Equal(t, "3000000", b.Collateral)
	assert.Equal(t, "0", b.Borrow)

	b, err = qs.GetBalance(ctx, "bob-addr", "uluna")
	require.NoError(t, err)
	assert.Equal(t, "0", b.Collateral, "untouched position reads as zero")

	b, err = qs.GetBalance(ctx, "alice-addr", "unknown")
	require.NoError(t, err)
	assert.Equal(t, "0", b.Collateral)

	_, err = qs.GetBalance(ctx, "A!", "uluna")
	assert.True(t, errors.Is(err, errs.ErrInvalidAddress))
}

func TestGetBalance_RemovedAssetStillVisible(t *testing.T) {
	st := store.NewMemStore()
	reg := registry.New(st)
	require.NoError(t, reg.Instantiate(admin))
	require.NoError(t, reg.AddAsset(admin, registry.Asset{
		Name: "uluna", Kind: registry.KindNative, Ratio: decimal.RequireFromString("0.5"), Decimals: 6,
	}))
	require.NoError(t, ledger.NewPositionLedger(st).CreditCollateral("alice-addr", "uluna", fpmath.MustAmount("3000000")))
	require.NoError(t, reg.RemoveAsset(admin, "uluna"))

	qs := query.NewQueryService(st, oracle.NewManager(oracle.DefaultStableAsset, nil, nil, nil), nil, nil)
	b, err := qs.GetBalance(context.Background(), "alice-addr", "uluna")
	require.NoError(t, err)
	assert.Equal(t, "3000000", b.Collateral)
	assert.Equal(t, "0", b.Borrow)
}

func TestGetAssetAndList(t *testing.T) {
	qs := seeded(t)
	ctx := context.Background()

	a, err := qs.GetAsset(ctx, "mfut")
	require.NoError(t, err)
	assert.Equal(t, registry.KindFutureAsset, a.Asset.Kind)
	assert.Equal(t, "mfut-contract", a.Asset.ContractAddr)

	_, err = qs.GetAsset(ctx, "absent")
	assert.True(t, errors.Is(err, errs.ErrNotSupported))

	list, err := qs.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, list.Assets, 2)
	assert.Equal(t, "mfut", list.Assets[0].Name)
	assert.Equal(t, "uluna", list.Assets[1].Name)
}

func TestGetAccountHealth(t *testing.T) {
	qs := seeded(t)

	h, err := qs.GetAccountHealth(context.Background(), "alice-addr")
	require.NoError(t, err)

	// 3 uluna at 10 with ratio 0.5 against 1 mfut at 2.
	assert.True(t, decimal.RequireFromString(h.CollateralValue).Equal(decimal.NewFromInt(15)))
	assert.True(t, decimal.RequireFromString(h.DebtValue).Equal(decimal.NewFromInt(2)))
	assert.True(t, decimal.RequireFromString(h.Headroom).Equal(decimal.NewFromInt(13)))
	assert.True(t, h.Solvent)
	assert.Len(t, h.Positions, 2)
}

func TestGetAccountHealth_InvalidAccount(t *testing.T) {
	qs := seeded(t)
	_, err := qs.GetAccountHealth(context.Background(), "A")
	assert.True(t, errors.Is(err, errs.ErrInvalidAddress))
}

func TestHistoryWithoutEventLog(t *testing.T) {
	qs := seeded(t)
	ctx := context.Background()

	_, err := qs.GetJournalHistory(ctx, "alice-addr", 10, nil)
	assert.ErrorIs(t, err, query.ErrNoEventLog)

	_, err = qs.VerifyIntegrity(ctx)
	assert.ErrorIs(t, err, query.ErrNoEventLog)
}
