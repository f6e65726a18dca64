package store_test

import (
	"context"
	"testing"

	"CollateralLedger/internal/store"

	"github.com/stretchr/testify/require"
)

func TestMemStore_GetSetDelete(t *testing.T) {
	s := store.NewMemStore()

	_, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	v, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete([]byte("a")))
	_, ok, _ = s.Get([]byte("a"))
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestMemStore_RangePrefixOrdered(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.Set(store.Key("collateral", "alice", "uluna"), []byte("3")))
	require.NoError(t, s.Set(store.Key("collateral", "alice", "uatom"), []byte("1")))
	require.NoError(t, s.Set(store.Key("collateral", "alicia", "uluna"), []byte("9")))
	require.NoError(t, s.Set(store.Key("borrow", "alice", "uluna"), []byte("7")))

	pairs, err := s.RangePrefix(store.Prefix("collateral", "alice"))
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, store.Key("collateral", "alice", "uatom"), pairs[0].Key)
	require.Equal(t, store.Key("collateral", "alice", "uluna"), pairs[1].Key)
}

func TestTxn_ReadsOwnWrites(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.Set([]byte("k1"), []byte("base")))

	txn, err := s.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, txn.Set([]byte("k1"), []byte("staged")))
	require.NoError(t, txn.Set([]byte("k2"), []byte("new")))

	v, ok, err := txn.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("staged"), v)

	// Base is untouched until commit
	v, _, _ = s.Get([]byte("k1"))
	require.Equal(t, []byte("base"), v)
	_, ok, _ = s.Get([]byte("k2"))
	require.False(t, ok)
}

func TestTxn_RangeMergesStagedWrites(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.Set([]byte("p/a"), []byte("1")))
	require.NoError(t, s.Set([]byte("p/b"), []byte("2")))
	require.NoError(t, s.Set([]byte("q/a"), []byte("x")))

	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Delete([]byte("p/a")))
	require.NoError(t, txn.Set([]byte("p/c"), []byte("3")))
	require.NoError(t, txn.Set([]byte("p/b"), []byte("22")))

	pairs, err := txn.RangePrefix([]byte("p/"))
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, "p/b", string(pairs[0].Key))
	require.Equal(t, "22", string(pairs[0].Value))
	require.Equal(t, "p/c", string(pairs[1].Key))
}

func TestTxn_CommitAppliesAll(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.Set([]byte("gone"), []byte("1")))

	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Set([]byte("a"), []byte("1")))
	require.NoError(t, txn.Set([]byte("b"), []byte("2")))
	require.NoError(t, txn.Delete([]byte("gone")))
	require.NoError(t, txn.Commit(context.Background()))

	require.Equal(t, 2, s.Len())
	_, ok, _ := s.Get([]byte("gone"))
	require.False(t, ok)

	require.ErrorIs(t, txn.Commit(context.Background()), store.ErrTxnClosed)
}

func TestTxn_DiscardLeavesBaseUntouched(t *testing.T) {
	s := store.NewMemStore()
	require.NoError(t, s.Set([]byte("a"), []byte("1")))

	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Set([]byte("a"), []byte("2")))
	require.NoError(t, txn.Delete([]byte("a")))
	require.NoError(t, txn.Set([]byte("b"), []byte("3")))
	txn.Discard()

	v, ok, _ := s.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	require.Equal(t, 1, s.Len())

	_, _, err = txn.Get([]byte("a"))
	require.ErrorIs(t, err, store.ErrTxnClosed)
}

func TestKey_LengthPrefixAvoidsCollisions(t *testing.T) {
	// ("ab","c") and ("a","bc") must not share a key
	require.NotEqual(t, store.Key("ns", "ab", "c"), store.Key("ns", "a", "bc"))
	require.True(t, len(store.Prefix("ns", "ab")) > 0)
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("ab"), store.PrefixEnd([]byte("aa")))
	require.Equal(t, []byte("b"), store.PrefixEnd([]byte{'a', 0xff}))
	require.Nil(t, store.PrefixEnd([]byte{0xff, 0xff}))
}
