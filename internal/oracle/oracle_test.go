package oracle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/oracle"
	"CollateralLedger/internal/registry"
	"CollateralLedger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const admin = "admin-addr"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	kv      *store.MemStore
	sources *oracle.SourceTable
	rates   *oracle.RateBook
	pools   *oracle.TWAPBook
	manager *oracle.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := store.NewMemStore()
	reg := registry.New(kv)
	require.NoError(t, reg.Instantiate(admin))

	pools, err := oracle.NewTWAPBook(oracle.DefaultTWAPWindow)
	require.NoError(t, err)
	rates := oracle.NewRateBook(0)

	return &fixture{
		kv:      kv,
		sources: oracle.NewSourceTable(kv, reg),
		rates:   rates,
		pools:   pools,
		manager: oracle.NewManager("", rates, pools, nil),
	}
}

func (f *fixture) addFixed(t *testing.T, key, price string) {
	t.Helper()
	require.NoError(t, f.sources.Add(admin, key, oracle.Source{Kind: oracle.SourceFixed, Price: d(price)}))
}

func TestLowerMedian(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"7"}, "7"},
		{[]string{"3", "1", "2"}, "2"},
		{[]string{"4", "1", "3", "2"}, "2"},
		{[]string{"10", "20"}, "10"},
		{[]string{"5", "5", "1", "9", "7"}, "5"},
	}
	for _, tc := range cases {
		prices := make([]decimal.Decimal, len(tc.in))
		for i, s := range tc.in {
			prices[i] = d(s)
		}
		got := oracle.LowerMedian(prices)
		require.True(t, got.Equal(d(tc.want)), "median of %v: got %s want %s", tc.in, got, tc.want)
	}
}

func TestGetPrice_StableIsOne(t *testing.T) {
	f := newFixture(t)
	// A source registered for the stable asset is never consulted
	f.addFixed(t, "uusd", "3")

	p, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uusd")
	require.NoError(t, err)
	require.True(t, p.Equal(decimal.NewFromInt(1)))
}

func TestGetPrice_NoSources(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uluna")
	require.ErrorIs(t, err, errs.ErrOracleNotFound)
}

func TestGetPrice_EvenCountTakesLowerMiddle(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"4", "1", "3", "2"} {
		f.addFixed(t, "uluna", p)
	}

	p, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uluna")
	require.NoError(t, err)
	require.True(t, p.Equal(d("2")), p.String())
}

func TestGetPrice_FailingSourcesSkipped(t *testing.T) {
	f := newFixture(t)
	f.addFixed(t, "uluna", "10")
	// No rate published for this denom
	require.NoError(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceNative, Denom: "uluna"}))

	p, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uluna")
	require.NoError(t, err)
	require.True(t, p.Equal(d("10")))
}

func TestGetPrice_AllSourcesFail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceNative, Denom: "uluna"}))
	require.NoError(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceTWAP, Pool: "pool-luna-ust"}))

	_, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uluna")
	require.ErrorIs(t, err, errs.ErrPriceUnavailable)
}

func TestGetPrice_NativeUsesExchangeRate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceNative, Denom: "uluna"}))
	require.NoError(t, f.rates.SetRate("uluna", "uusd", d("87.5"), time.Now()))

	p, err := f.manager.Resolver(f.kv).GetPrice(context.Background(), "uluna")
	require.NoError(t, err)
	require.True(t, p.Equal(d("87.5")))
}

func TestSourceTable_AdminOnly(t *testing.T) {
	f := newFixture(t)
	err := f.sources.Add("mallory", "uluna", oracle.Source{Kind: oracle.SourceFixed, Price: d("1")})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	got, err := f.sources.Sources("uluna")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSourceTable_Validation(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: "astro"}), errs.ErrInvalidAsset)
	require.ErrorIs(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceFixed, Price: d("-1")}), errs.ErrInvalidAsset)
	require.ErrorIs(t, f.sources.Add(admin, "uluna", oracle.Source{Kind: oracle.SourceTWAP}), errs.ErrInvalidAddress)
}

func TestRateBook_Staleness(t *testing.T) {
	b := oracle.NewRateBook(time.Minute)
	require.NoError(t, b.SetRate("uluna", "uusd", d("1"), time.Now().Add(-2*time.Minute)))

	_, err := b.GetExchangeRate(context.Background(), "uluna", "uusd")
	require.True(t, errors.Is(err, oracle.ErrRateStale), "got %v", err)

	_, err = b.GetExchangeRate(context.Background(), "uatom", "uusd")
	require.ErrorIs(t, err, oracle.ErrRateNotFound)
}

func TestTWAPBook_TimeWeighted(t *testing.T) {
	b, err := oracle.NewTWAPBook(oracle.DefaultTWAPWindow)
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.Record("pool-a", d("10"), t0)
	b.Record("pool-a", d("20"), t0.Add(10*time.Minute))

	// 10 for 10m, 20 for 10m
	p, err := b.TWAPAt("pool-a", t0.Add(20*time.Minute))
	require.NoError(t, err)
	require.True(t, p.Equal(d("15")), p.String())
}

func TestTWAPBook_SubSecondIntervalsWeighted(t *testing.T) {
	b, err := oracle.NewTWAPBook(oracle.DefaultTWAPWindow)
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.Record("pool-a", d("10"), t0)
	b.Record("pool-a", d("30"), t0.Add(500*time.Millisecond))

	// 10 for 500ms, 30 for 500ms
	p, err := b.TWAPAt("pool-a", t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, p.Equal(d("20")), p.String())
}

func TestTWAPBook_FallbackAndEmpty(t *testing.T) {
	b, err := oracle.NewTWAPBook(time.Minute)
	require.NoError(t, err)
	require.Equal(t, oracle.MinTWAPWindow, b.Window())

	_, err = b.TWAPAt("pool-a", time.Now())
	require.ErrorIs(t, err, oracle.ErrNoObservations)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.Record("pool-a", d("7"), t0)
	p, err := b.TWAPAt("pool-a", t0.Add(8*time.Minute))
	require.NoError(t, err)
	require.True(t, p.Equal(d("7")))

	_, err = oracle.NewTWAPBook(0)
	require.ErrorIs(t, err, oracle.ErrInvalidWindow)
}
