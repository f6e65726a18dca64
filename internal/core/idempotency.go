package core

import (
	"fmt"
	"time"

	"CollateralLedger/internal/observability"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// DefaultLRUCapacity bounds the in-memory dedup tier.
const DefaultLRUCapacity = 100_000

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(callType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an LRU of recently
// applied keys, then the persisted event log.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    observability.NewLogger("idempotency"),
	}, nil
}

func compositeKey(callType, idempotencyKey string) string {
	return callType + ":" + idempotencyKey
}

// IsDuplicate checks if a call has been applied (two-tier lookup). A failed
// tier-2 lookup is returned as an error: state commits before the event log
// is written, so an unchecked replay would apply twice.
func (ic *IdempotencyChecker) IsDuplicate(callType string, idempotencyKey string) (bool, error) {
	key := compositeKey(callType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(callType, "lru")
		return true, nil
	}

	if ic.dbChecker == nil {
		return false, nil
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(callType, idempotencyKey)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ic.logger.Warn().Err(err).Str("call_type", callType).Msg("tier-2 dedup lookup failed")
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if isDup {
		ic.recordDuplicate(callType, "postgres")
		ic.lru.Add(key, struct{}{})
		return true, nil
	}
	return false, nil
}

// MarkProcessed adds key to LRU after a call has been applied
func (ic *IdempotencyChecker) MarkProcessed(callType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(callType, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads composite keys (call_type:key) of recent calls into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Size returns current number of LRU entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(callType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(callType, tier).Inc()
	}
}
