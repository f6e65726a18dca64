// Package oracle resolves asset prices in the stable reference unit.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultStableAsset is priced at exactly 1 without consulting any source.
const DefaultStableAsset = "uusd"

// PriceResolver returns the price of one whole unit of an asset.
type PriceResolver interface {
	GetPrice(ctx context.Context, priceKey string) (decimal.Decimal, error)
}

// ExchangeRates reports how much of quote buys one unit of base.
type ExchangeRates interface {
	GetExchangeRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// PoolPrices reports the time-weighted average price of a pool.
type PoolPrices interface {
	GetTWAP(ctx context.Context, pool string) (decimal.Decimal, error)
}

// Manager holds the live feeds. Source lists live in the KV store, so a
// resolver is bound to the store view of the call in progress.
type Manager struct {
	stable  string
	rates   ExchangeRates
	pools   PoolPrices
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewManager(stable string, rates ExchangeRates, pools PoolPrices, metrics *observability.Metrics) *Manager {
	if stable == "" {
		stable = DefaultStableAsset
	}
	return &Manager{
		stable:  stable,
		rates:   rates,
		pools:   pools,
		logger:  observability.NewLogger("oracle"),
		metrics: metrics,
	}
}

// StableAsset returns the reference asset name.
func (m *Manager) StableAsset() string {
	return m.stable
}

// Resolver binds the manager to the source table stored in kv.
func (m *Manager) Resolver(kv store.KV) *Resolver {
	return &Resolver{manager: m, sources: NewSourceTable(kv, nil)}
}

// Resolver is a PriceResolver over one store view.
type Resolver struct {
	manager *Manager
	sources *SourceTable
}

// GetPrice resolves priceKey. Every source is queried fresh; sources that
// fail or report a negative price are skipped, and the lower median of the
// rest is returned.
func (r *Resolver) GetPrice(ctx context.Context, priceKey string) (decimal.Decimal, error) {
	m := r.manager
	if priceKey == m.stable {
		return decimal.NewFromInt(1), nil
	}

	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.OracleFetchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	sources, err := r.sources.Sources(priceKey)
	if err != nil {
		return decimal.Zero, err
	}
	if len(sources) == 0 {
		return decimal.Zero, errs.Asset("get_price", priceKey, errs.ErrOracleNotFound)
	}

	prices := make([]decimal.Decimal, 0, len(sources))
	for _, src := range sources {
		p, err := m.query(ctx, src)
		if err == nil && p.IsNegative() {
			err = fmt.Errorf("negative price %s", p.String())
		}
		if err != nil {
			m.logger.Warn().
				Str("price_key", priceKey).
				Str("source_kind", string(src.Kind)).
				Err(err).
				Msg("price source skipped")
			if m.metrics != nil {
				m.metrics.OracleSourceFailures.WithLabelValues(string(src.Kind)).Inc()
			}
			continue
		}
		prices = append(prices, p)
	}

	if len(prices) == 0 {
		return decimal.Zero, errs.Asset("get_price", priceKey, errs.ErrPriceUnavailable)
	}
	return LowerMedian(prices), nil
}

func (m *Manager) query(ctx context.Context, src Source) (decimal.Decimal, error) {
	switch src.Kind {
	case SourceFixed:
		return src.Price, nil
	case SourceNative:
		if m.rates == nil {
			return decimal.Zero, errors.New("no exchange rate feed configured")
		}
		return m.rates.GetExchangeRate(ctx, src.Denom, m.stable)
	case SourceTWAP:
		if m.pools == nil {
			return decimal.Zero, errors.New("no pool feed configured")
		}
		return m.pools.GetTWAP(ctx, src.Pool)
	default:
		return decimal.Zero, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// LowerMedian sorts prices ascending and returns the middle element, the
// lower of the two middle elements for an even count. prices must be
// non-empty; it is sorted in place.
func LowerMedian(prices []decimal.Decimal) decimal.Decimal {
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	return prices[(len(prices)-1)/2]
}
