// Package cache implements the engine's two verification caches:
// PreSimCache (fingerprint→plan, LRU + per-block TTL) and MicroVerifyCache
// (per-(user,blockTag) HF snapshot with in-flight deduplication).
package cache

import (
	"container/list"
	"sync"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// Plan is a cached pre-simulation result for one liquidation opportunity.
type Plan struct {
	User              string
	DebtAsset         string
	CollateralAsset   string
	BlockTag          uint64
	DebtAmount        string
	ExpectedCollateral string
	EstimatedProfitUSD float64
	Timestamp         int64
}

// Fingerprint is the PreSimCache key (spec.md §3).
type Fingerprint struct {
	User            string
	DebtAsset       string
	CollateralAsset string
	DebtAmount      string
}

func (f Fingerprint) normalized() Fingerprint {
	return Fingerprint{
		User:            addrnorm.Normalize(f.User),
		DebtAsset:       addrnorm.Normalize(f.DebtAsset),
		CollateralAsset: addrnorm.Normalize(f.CollateralAsset),
		DebtAmount:      f.DebtAmount,
	}
}

type presimEntry struct {
	fp   Fingerprint
	plan Plan
}

// PreSimCache is an LRU-bounded, per-block-TTL cache of pre-simulation
// plans.
type PreSimCache struct {
	ttlBlocks uint64
	maxSize   int

	mu      sync.Mutex
	items   map[Fingerprint]*list.Element
	lru     *list.List
}

// NewPreSimCache builds a PreSimCache with the given TTL (in blocks) and
// maximum entry count.
func NewPreSimCache(ttlBlocks uint64, maxSize int) *PreSimCache {
	return &PreSimCache{
		ttlBlocks: ttlBlocks,
		maxSize:   maxSize,
		items:     make(map[Fingerprint]*list.Element),
		lru:       list.New(),
	}
}

// Get returns the cached plan for fp iff currentBlock − plan.BlockTag ≤
// ttlBlocks.
func (c *PreSimCache) Get(fp Fingerprint, currentBlock uint64) (Plan, bool) {
	key := fp.normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Plan{}, false
	}
	entry := elem.Value.(*presimEntry)
	if currentBlock-entry.plan.BlockTag > c.ttlBlocks {
		return Plan{}, false
	}

	c.lru.MoveToFront(elem)
	return entry.plan, true
}

// Set inserts or refreshes a plan, evicting the least-recently-used entry
// on overflow.
func (c *PreSimCache) Set(plan Plan) {
	fp := Fingerprint{User: plan.User, DebtAsset: plan.DebtAsset, CollateralAsset: plan.CollateralAsset, DebtAmount: plan.DebtAmount}
	key := fp.normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*presimEntry).plan = plan
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&presimEntry{fp: key, plan: plan})
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*presimEntry).fp)
		}
	}
}

// Size reports the current entry count.
func (c *PreSimCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
