// Package verify implements MicroVerifier: throttled on-chain health-factor
// verification, one user per call through an AccountDataReader, backed by
// the in-flight dedup cache in internal/cache. Reads are not batched into a
// multicall.
package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
	"github.com/onyxlabs/liqsentinel/internal/cache"
)

// TriggerType enumerates why a verification was scheduled.
type TriggerType string

const (
	TriggerProjectionCross    TriggerType = "projection_cross"
	TriggerNearThreshold      TriggerType = "near_threshold"
	TriggerReserveFast        TriggerType = "reserve_fast"
	TriggerHeadCritical       TriggerType = "head_critical"
	TriggerSprinter           TriggerType = "sprinter"
	TriggerIndexJump          TriggerType = "index_jump"
	TriggerPriceShock         TriggerType = "price_shock"
	TriggerLiquidationRefresh TriggerType = "liquidation_refresh"
)

// fastLane triggers bypass hedging to minimize latency (spec.md §4.I).
var fastLane = map[TriggerType]struct{}{
	TriggerHeadCritical: {},
	TriggerPriceShock:   {},
	TriggerSprinter:     {},
}

// IsFastLane reports whether t should bypass the hedged read path.
func IsFastLane(t TriggerType) bool {
	_, ok := fastLane[t]
	return ok
}

// AccountDataReader performs the single on-chain getUserAccountData read.
type AccountDataReader interface {
	GetUserAccountData(ctx context.Context, user string, blockTag uint64) (cache.HFSnapshot, error)
}

// Verifier throttles single-user account-data reads, de-duplicating by
// per-block user under a per-block call cap.
type Verifier struct {
	reader      AccountDataReader
	microCache  *cache.MicroVerifyCache
	limiter     *rate.Limiter
	maxPerBlock int

	mu         sync.Mutex
	blockSeen  map[uint64]map[string]struct{}
	blockCalls map[uint64]int
	errorCount int
}

// NewVerifier builds a Verifier. intervalMs is the minimum inter-call
// interval; maxPerBlock caps verifications per block.
func NewVerifier(reader AccountDataReader, microCache *cache.MicroVerifyCache, intervalMs, maxPerBlock int) *Verifier {
	interval := time.Duration(intervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Verifier{
		reader:      reader,
		microCache:  microCache,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		maxPerBlock: maxPerBlock,
		blockSeen:   make(map[uint64]map[string]struct{}),
		blockCalls:  make(map[uint64]int),
	}
}

// ErrBlockCapReached is returned when a block's per-block verification cap
// has been exhausted.
var ErrBlockCapReached = fmt.Errorf("verify: per-block cap reached")

// Verify performs (or dedups) a single-user HF verification for
// (user, blockTag). Errors do not consume the per-block cap, but increment
// the error counter.
func (v *Verifier) Verify(ctx context.Context, user string, blockTag uint64, trigger TriggerType) (cache.HFSnapshot, error) {
	key := addrnorm.Normalize(user)

	if !v.admit(blockTag, key) {
		return cache.HFSnapshot{}, ErrBlockCapReached
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return cache.HFSnapshot{}, fmt.Errorf("verify: rate limiter: %w", err)
	}

	snapshot, err := v.microCache.GetOrCreateInflight(ctx, key, blockTag, func(ctx context.Context) (cache.HFSnapshot, error) {
		return v.reader.GetUserAccountData(ctx, key, blockTag)
	})
	if err != nil {
		v.mu.Lock()
		v.errorCount++
		v.blockCalls[blockTag]-- // errors do not consume the per-block cap
		delete(v.blockSeen[blockTag], key)
		v.mu.Unlock()
		return cache.HFSnapshot{}, fmt.Errorf("verify: %s trigger %s: %w", key, trigger, err)
	}

	return snapshot, nil
}

func (v *Verifier) admit(blockTag uint64, user string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen, ok := v.blockSeen[blockTag]
	if !ok {
		seen = make(map[string]struct{})
		v.blockSeen[blockTag] = seen
	}
	if _, dup := seen[user]; dup {
		return true // per-block user de-dup: already counted, still allow re-verify via cache
	}

	if v.blockCalls[blockTag] >= v.maxPerBlock {
		return false
	}

	seen[user] = struct{}{}
	v.blockCalls[blockTag]++
	return true
}

// ErrorCount reports the cumulative verification error counter.
func (v *Verifier) ErrorCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errorCount
}

// ForgetBlock drops per-block bookkeeping for blocks older than keepFrom,
// bounding memory growth.
func (v *Verifier) ForgetBlock(keepFrom uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for block := range v.blockSeen {
		if block < keepFrom {
			delete(v.blockSeen, block)
			delete(v.blockCalls, block)
		}
	}
}
