package core

import (
	"DexLedger/internal/observability"
	"DexLedger/internal/store"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const prefixProcessed = "processed:"

func processedKey(actionType, idempotencyKey string) string {
	return fmt.Sprintf("%s%s:%s", prefixProcessed, actionType, idempotencyKey)
}

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: in-memory ARC cache
	cache *lru.ARCCache

	// Tier 2: durable lookup (store marker or Postgres receipts)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for the durable dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(actionType string, idempotencyKey string) (bool, error)
}

// StoreIdempotencyChecker answers from the processed markers the engine
// commits alongside each action's writes.
type StoreIdempotencyChecker struct {
	r store.Reader
}

func NewStoreIdempotencyChecker(r store.Reader) *StoreIdempotencyChecker {
	return &StoreIdempotencyChecker{r: r}
}

func (s *StoreIdempotencyChecker) IsDuplicate(actionType, idempotencyKey string) (bool, error) {
	_, err := s.r.Get(processedKey(actionType, idempotencyKey))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// AnyChecker reports a duplicate if any of its checkers does
type AnyChecker []DBIdempotencyChecker

func (a AnyChecker) IsDuplicate(actionType, idempotencyKey string) (bool, error) {
	for _, c := range a {
		dup, err := c.IsDuplicate(actionType, idempotencyKey)
		if err != nil || dup {
			return dup, err
		}
	}
	return false, nil
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	cache, err := lru.NewARC(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
	}, nil
}

// IsDuplicate checks if an action has been applied (two-tier lookup).
// A tier-2 failure is returned; the caller must not apply the action blind.
func (ic *IdempotencyChecker) IsDuplicate(actionType string, idempotencyKey string) (bool, error) {
	compositeKey := actionType + ":" + idempotencyKey

	if ic.cache.Contains(compositeKey) {
		ic.recordDuplicate(actionType, "cache")
		return true, nil
	}

	if ic.dbChecker == nil {
		return false, nil
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(actionType, idempotencyKey)
	if ic.metrics != nil {
		ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false, fmt.Errorf("durable dedup lookup: %w", err)
	}

	if isDup {
		ic.recordDuplicate(actionType, "durable")
		ic.cache.Add(compositeKey, struct{}{})
		return true, nil
	}
	return false, nil
}

// MarkProcessed adds key to the cache after a successful commit
func (ic *IdempotencyChecker) MarkProcessed(actionType string, idempotencyKey string) {
	ic.cache.Add(actionType+":"+idempotencyKey, struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupCacheSize.Set(float64(ic.cache.Len()))
	}
}

// Warm loads recently processed composite keys ("type:key") into the cache
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.cache.Add(k, struct{}{})
	}
	if ic.metrics != nil {
		ic.metrics.DedupCacheSize.Set(float64(ic.cache.Len()))
	}
}

// Size returns current number of cached keys
func (ic *IdempotencyChecker) Size() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(actionType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(actionType, tier).Inc()
	}
}
