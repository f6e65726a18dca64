package ledger_test

import (
	"testing"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/ledger"
	fpmath "CollateralLedger/internal/math"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/store"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice-addr"
	bob   = "bob-addr"
)

func amt(s string) *uint256.Int {
	return fpmath.MustAmount(s)
}

// ============================================================================
// Test: PositionKey
// ============================================================================

func TestPositionKey_Path(t *testing.T) {
	key := ledger.PositionKey{Account: alice, Asset: "uluna"}
	assert.Equal(t, "collateral:alice-addr:uluna", key.Path(ledger.SideCollateral))
	assert.Equal(t, "borrow:alice-addr:uluna", key.Path(ledger.SideBorrow))
}

// ============================================================================
// Test: Credit / Debit
// ============================================================================

func TestPositionLedger_InitialBalanceZero(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())

	pos, err := pl.Balance(alice, "uluna")
	require.NoError(t, err)
	assert.Equal(t, "0", pos.Collateral.Dec())
	assert.Equal(t, "0", pos.Borrow.Dec())
}

func TestPositionLedger_CreditDebitCollateral(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())

	require.NoError(t, pl.CreditCollateral(alice, "uluna", amt("100")))
	require.NoError(t, pl.DebitCollateral(alice, "uluna", amt("40")))

	got, err := pl.Amount(ledger.SideCollateral, alice, "uluna")
	require.NoError(t, err)
	assert.Equal(t, "60", got.Dec())
}

func TestPositionLedger_DebitPastBalanceFails(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())
	require.NoError(t, pl.CreditCollateral(alice, "uluna", amt("10")))

	err := pl.DebitCollateral(alice, "uluna", amt("11"))
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	var ibe *errs.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "10", ibe.Current)
	assert.Equal(t, "11", ibe.Requested)

	got, _ := pl.Amount(ledger.SideCollateral, alice, "uluna")
	assert.Equal(t, "10", got.Dec(), "collateral unchanged")
}

func TestPositionLedger_CreditOverflow(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())
	require.NoError(t, pl.CreditCollateral(alice, "uluna", fpmath.MaxAmount))

	require.ErrorIs(t, pl.CreditCollateral(alice, "uluna", amt("1")), errs.ErrOverflow)
}

func TestPositionLedger_ZeroRowRemoved(t *testing.T) {
	s := store.NewMemStore()
	pl := ledger.NewPositionLedger(s)

	require.NoError(t, pl.CreditBorrow(alice, "fut", amt("5")))
	require.Equal(t, 1, s.Len())

	require.NoError(t, pl.DebitBorrow(alice, "fut", amt("5")))
	assert.Equal(t, 0, s.Len(), "row should be removed at zero")
}

func TestPositionLedger_RangeAccount(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())
	require.NoError(t, pl.CreditCollateral(alice, "uluna", amt("3")))
	require.NoError(t, pl.CreditCollateral(alice, "uatom", amt("1")))
	require.NoError(t, pl.CreditCollateral(bob, "uluna", amt("9")))
	require.NoError(t, pl.CreditBorrow(alice, "fut", amt("7")))

	entries, err := pl.RangeAccount(ledger.SideCollateral, alice)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "uatom", entries[0].Asset)
	assert.Equal(t, "uluna", entries[1].Asset)
	assert.Equal(t, "3", entries[1].Amount.Dec())

	borrows, err := pl.RangeAccount(ledger.SideBorrow, alice)
	require.NoError(t, err)
	require.Len(t, borrows, 1)
	assert.Equal(t, "fut", borrows[0].Asset)
}

// ============================================================================
// Test: Borrow netting
// ============================================================================

func TestNetDepositAgainstBorrow(t *testing.T) {
	cases := []struct {
		name           string
		collateral     string
		borrow         string
		deposit        string
		wantCollateral string
		wantBorrow     string
	}{
		{"no borrow", "0", "0", "50", "50", "0"},
		{"partial repay", "0", "30", "10", "0", "20"},
		{"exact repay", "0", "30", "30", "0", "0"},
		{"repay with excess", "0", "30", "45", "15", "0"},
		{"excess adds to collateral", "5", "0", "10", "15", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pl := ledger.NewPositionLedger(store.NewMemStore())
			require.NoError(t, pl.CreditCollateral(alice, "fut", amt(tc.collateral)))
			require.NoError(t, pl.CreditBorrow(alice, "fut", amt(tc.borrow)))

			_, _, err := pl.NetDepositAgainstBorrow(alice, "fut", amt(tc.deposit))
			require.NoError(t, err)

			pos, err := pl.Balance(alice, "fut")
			require.NoError(t, err)
			assert.Equal(t, tc.wantCollateral, pos.Collateral.Dec(), "collateral")
			assert.Equal(t, tc.wantBorrow, pos.Borrow.Dec(), "borrow")
		})
	}
}

func TestRestrictedDeposit(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())

	require.ErrorIs(t, pl.RestrictedDeposit(alice, "fut", amt("1")), errs.ErrNotBorrowable, "no borrow yet")

	require.NoError(t, pl.CreditBorrow(alice, "fut", amt("3")))

	require.ErrorIs(t, pl.RestrictedDeposit(alice, "fut", amt("5")), errs.ErrCannotBecomeCollateral)
	require.NoError(t, pl.RestrictedDeposit(alice, "fut", amt("2")))

	pos, err := pl.Balance(alice, "fut")
	require.NoError(t, err)
	assert.Equal(t, "1", pos.Borrow.Dec())
	assert.Equal(t, "0", pos.Collateral.Dec())

	// Full repay is allowed
	require.NoError(t, pl.RestrictedDeposit(alice, "fut", amt("1")))
	pos, _ = pl.Balance(alice, "fut")
	assert.Equal(t, "0", pos.Borrow.Dec())
}

func TestBorrowAgainstCollateral(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())
	require.NoError(t, pl.CreditCollateral(alice, "fut", amt("4")))

	consumed, borrowed, err := pl.BorrowAgainstCollateral(alice, "fut", amt("10"))
	require.NoError(t, err)
	assert.Equal(t, "4", consumed.Dec())
	assert.Equal(t, "6", borrowed.Dec())

	pos, err := pl.Balance(alice, "fut")
	require.NoError(t, err)
	assert.Equal(t, "0", pos.Collateral.Dec())
	assert.Equal(t, "6", pos.Borrow.Dec())
}

// ============================================================================
// Test: Journals and invariants
// ============================================================================

func TestJournals_RecordEveryMovement(t *testing.T) {
	pl := ledger.NewPositionLedger(store.NewMemStore())
	require.NoError(t, pl.CreditBorrow(alice, "fut", amt("30")))
	_, _, err := pl.NetDepositAgainstBorrow(alice, "fut", amt("45"))
	require.NoError(t, err)

	journals := pl.Journals()
	require.Len(t, journals, 3)
	want := []ledger.JournalType{
		ledger.JournalTypeBorrowCredit,
		ledger.JournalTypeBorrowDebit,
		ledger.JournalTypeCollateralCredit,
	}
	for i, j := range journals {
		assert.Equal(t, want[i], j.JournalType, "journal %d", i)
	}

	batch := ledger.Batch{BatchID: uuid.New(), Journals: journals}
	assert.NoError(t, batch.Validate())
	assert.Len(t, pl.Touched(), 1)
}

func TestBatch_ValidateRejectsInconsistentJournal(t *testing.T) {
	batch := ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID:   uuid.New(),
			JournalType: ledger.JournalTypeCollateralCredit,
			Amount:      amt("5"),
			Before:      amt("1"),
			After:       amt("7"),
		}},
	}
	assert.Error(t, batch.Validate())
}

func TestInvariantValidator_RestrictedAssetCollateral(t *testing.T) {
	s := store.NewMemStore()
	reg := registry.New(s)
	require.NoError(t, reg.Instantiate("admin-addr"))
	require.NoError(t, reg.AddAsset("admin-addr", registry.Asset{
		Name: "fut", Kind: registry.KindFutureAsset, ContractAddr: "fut-contract",
		Ratio: decimal.NewFromInt(1), Decimals: 6,
	}))

	pl := ledger.NewPositionLedger(s)
	v := ledger.NewInvariantValidator(pl, reg)

	require.NoError(t, pl.CreditBorrow(alice, "fut", amt("3")))
	require.NoError(t, v.ValidateTouched(), "borrow only should pass")

	// Bypass the deposit rules to force a broken state
	require.NoError(t, pl.CreditCollateral(alice, "fut", amt("1")))
	assert.Error(t, v.ValidateTouched())
}

func TestInvariantValidator_RemovedAssetSkipped(t *testing.T) {
	s := store.NewMemStore()
	reg := registry.New(s)
	pl := ledger.NewPositionLedger(s)
	v := ledger.NewInvariantValidator(pl, reg)

	require.NoError(t, pl.CreditCollateral(alice, "gone", amt("3")))
	assert.NoError(t, v.ValidateTouched(), "orphaned position should not fail validation")
}
