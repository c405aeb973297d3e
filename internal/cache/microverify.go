package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// HFSnapshot is a single-user, single-block verified health-factor result.
type HFSnapshot struct {
	User               string
	BlockTag           uint64
	HF                 float64
	TotalCollateralBase float64
	TotalDebtBase       float64
	LiquidationThreshold int
	LTV                int
}

// BuildFunc produces a fresh HFSnapshot for a (user, blockTag) pair.
type BuildFunc func(ctx context.Context) (HFSnapshot, error)

type microEntry struct {
	snapshot HFSnapshot
}

// MicroVerifyCache deduplicates concurrent verification requests for the
// same (user, blockTag) and caches the resolved result until the block
// goes stale.
type MicroVerifyCache struct {
	group singleflight.Group

	mu          sync.RWMutex
	resolved    map[string]microEntry
	currentBlock uint64
}

// NewMicroVerifyCache builds an empty cache.
func NewMicroVerifyCache() *MicroVerifyCache {
	return &MicroVerifyCache{resolved: make(map[string]microEntry)}
}

func microKey(user string, blockTag uint64) string {
	return fmt.Sprintf("%s@%d", addrnorm.Normalize(user), blockTag)
}

// GetOrCreateInflight returns the cached snapshot if present; otherwise it
// invokes build exactly once across all concurrent callers sharing the same
// key and caches the result.
func (c *MicroVerifyCache) GetOrCreateInflight(ctx context.Context, user string, blockTag uint64, build BuildFunc) (HFSnapshot, error) {
	key := microKey(user, blockTag)

	c.mu.RLock()
	if entry, ok := c.resolved[key]; ok {
		c.mu.RUnlock()
		return entry.snapshot, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		snapshot, err := build(ctx)
		if err != nil {
			return HFSnapshot{}, err
		}
		c.mu.Lock()
		c.resolved[key] = microEntry{snapshot: snapshot}
		c.mu.Unlock()
		return snapshot, nil
	})
	if err != nil {
		return HFSnapshot{}, err
	}
	return v.(HFSnapshot), nil
}

// AdvanceBlock purges cached entries for blocks older than current; it
// should be called once per new head.
func (c *MicroVerifyCache) AdvanceBlock(current uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentBlock = current
	for key, entry := range c.resolved {
		if entry.snapshot.BlockTag < current {
			delete(c.resolved, key)
		}
	}
}

// Size reports the number of cached resolved entries.
func (c *MicroVerifyCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resolved)
}
