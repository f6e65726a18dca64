package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound indicates no exchange rate was published for a pair.
	ErrRateNotFound = errors.New("exchange rate not found")

	// ErrRateStale indicates the latest rate is older than the allowed age.
	ErrRateStale = errors.New("exchange rate is stale")

	// ErrNoObservations indicates no pool observations are available.
	ErrNoObservations = errors.New("no price observations available")

	// ErrInvalidWindow indicates an invalid TWAP window duration.
	ErrInvalidWindow = errors.New("TWAP window must be positive")
)

const (
	// DefaultTWAPWindow is the default averaging window.
	DefaultTWAPWindow = 30 * time.Minute
	// MinTWAPWindow is the smallest accepted window.
	MinTWAPWindow = 5 * time.Minute
	// MaxObservations caps the history kept per pool.
	MaxObservations = 1000
)

// === Exchange rates ===

type rate struct {
	value     decimal.Decimal
	updatedAt time.Time
}

// RateBook keeps the latest published exchange rate per (base, quote).
type RateBook struct {
	mu     sync.RWMutex
	rates  map[string]rate
	maxAge time.Duration
	now    func() time.Time
}

// NewRateBook creates a book. A zero maxAge disables staleness checks.
func NewRateBook(maxAge time.Duration) *RateBook {
	return &RateBook{
		rates:  make(map[string]rate),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func pairKey(base, quote string) string {
	return base + "/" + quote
}

// SetRate records how much quote buys one unit of base.
func (b *RateBook) SetRate(base, quote string, value decimal.Decimal, at time.Time) error {
	if value.IsNegative() {
		return fmt.Errorf("negative rate %s for %s", value.String(), pairKey(base, quote))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.rates[pairKey(base, quote)]; ok && at.Before(prev.updatedAt) {
		return nil
	}
	b.rates[pairKey(base, quote)] = rate{value: value, updatedAt: at}
	return nil
}

func (b *RateBook) GetExchangeRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rates[pairKey(base, quote)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, pairKey(base, quote))
	}
	if b.maxAge > 0 && b.now().Sub(r.updatedAt) > b.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s updated %s", ErrRateStale, pairKey(base, quote), r.updatedAt)
	}
	return r.value, nil
}

// === Pool TWAP ===

type observation struct {
	price decimal.Decimal
	at    time.Time
}

// TWAPBook keeps a rolling window of price observations per pool.
type TWAPBook struct {
	mu     sync.RWMutex
	pools  map[string][]observation
	window time.Duration
	now    func() time.Time
}

// NewTWAPBook creates a book. Windows under MinTWAPWindow are raised to it.
func NewTWAPBook(window time.Duration) (*TWAPBook, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if window < MinTWAPWindow {
		window = MinTWAPWindow
	}
	return &TWAPBook{
		pools:  make(map[string][]observation),
		window: window,
		now:    time.Now,
	}, nil
}

// Window returns the effective averaging window.
func (b *TWAPBook) Window() time.Duration {
	return b.window
}

// Record adds an observation. Non-positive prices are ignored.
func (b *TWAPBook) Record(pool string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obs := append(b.pools[pool], observation{price: price, at: at})
	b.pools[pool] = prune(obs, at.Add(-2*b.window))
}

// prune drops observations at or before cutoff and caps the history.
func prune(obs []observation, cutoff time.Time) []observation {
	start := 0
	for start < len(obs) && !obs[start].at.After(cutoff) {
		start++
	}
	obs = obs[start:]
	if len(obs) > MaxObservations {
		obs = obs[len(obs)-MaxObservations:]
	}
	return obs
}

func (b *TWAPBook) GetTWAP(ctx context.Context, pool string) (decimal.Decimal, error) {
	return b.TWAPAt(pool, b.now())
}

// TWAPAt returns the time-weighted average over (at-window, at]. With no
// observation inside the window the latest earlier one is returned.
func (b *TWAPBook) TWAPAt(pool string, at time.Time) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obs := b.pools[pool]
	if len(obs) == 0 {
		return decimal.Zero, fmt.Errorf("%w: pool %s", ErrNoObservations, pool)
	}

	windowStart := at.Add(-b.window)
	var inWindow []observation
	for _, o := range obs {
		if o.at.After(windowStart) && !o.at.After(at) {
			inWindow = append(inWindow, o)
		}
	}

	if len(inWindow) == 0 {
		for i := len(obs) - 1; i >= 0; i-- {
			if !obs[i].at.After(at) {
				return obs[i].price, nil
			}
		}
		return decimal.Zero, fmt.Errorf("%w: pool %s", ErrNoObservations, pool)
	}
	if len(inWindow) == 1 {
		return inWindow[0].price, nil
	}

	// TWAP = sum(price_i * duration_i) / total_duration, weighted in nanoseconds
	weighted := decimal.Zero
	var total int64
	for i := 0; i < len(inWindow); i++ {
		end := at
		if i+1 < len(inWindow) {
			end = inWindow[i+1].at
		}
		span := int64(end.Sub(inWindow[i].at))
		if span <= 0 {
			continue
		}
		weighted = weighted.Add(inWindow[i].price.Mul(decimal.NewFromInt(span)))
		total += span
	}

	if total == 0 {
		return inWindow[len(inWindow)-1].price, nil
	}
	return weighted.DivRound(decimal.NewFromInt(total), 18), nil
}
