package store_test

import (
	"context"
	"testing"

	"CollateralLedger/internal/persistence"
	"CollateralLedger/internal/store"
	"CollateralLedger/internal/testutil"

	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	require.NoError(t, persistence.NewMigrator(db, testutil.MigrationsDir()).Up(context.Background()))
	return store.NewPostgresStore(db)
}

func TestPostgresStore_TxnCommitAndRange(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Set(store.Key("collateral", "alice-addr", "uluna"), []byte{1}))
	require.NoError(t, txn.Set(store.Key("collateral", "alice-addr", "uatom"), []byte{2}))
	require.NoError(t, txn.Set(store.Key("collateral", "bob-addr", "uluna"), []byte{3}))
	require.NoError(t, txn.Commit(ctx))

	pairs, err := s.RangePrefix(store.Prefix("collateral", "alice-addr"))
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, []byte{2}, pairs[0].Value, "range is ordered by key")
	require.Equal(t, []byte{1}, pairs[1].Value)
}

func TestPostgresStore_DiscardWritesNothing(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Set([]byte("k"), []byte("v")))
	txn.Discard()

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPostgresStore_DeleteInTxn(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set([]byte("k"), []byte("v")))

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Delete([]byte("k")))
	_, ok, err := txn.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "txn sees its own delete")
	require.NoError(t, txn.Commit(ctx))

	_, ok, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}
