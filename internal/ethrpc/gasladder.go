// Package ethrpc provides the engine's tiered gas-fee planner (GasLadder)
// and dual-RPC hedged read path (HedgedProvider).
package ethrpc

import (
	"math/big"
	"sync"
)

// Tier selects a fee aggressiveness level.
type Tier string

const (
	TierFast Tier = "fast"
	TierMid  Tier = "mid"
	TierSafe Tier = "safe"
)

// GasPlan is one tier's {baseFee, tip} pair (wei).
type GasPlan struct {
	BaseFee *big.Int
	Tip     *big.Int
}

// GasLadder derives three fee tiers (fast > mid > safe) and refreshes them
// periodically. getGasPlan is O(1): it reads the last-refreshed snapshot.
type GasLadder struct {
	mu    sync.RWMutex
	plans map[Tier]GasPlan
}

// NewGasLadder builds an empty ladder; call Refresh before first use.
func NewGasLadder() *GasLadder {
	return &GasLadder{plans: make(map[Tier]GasPlan)}
}

// minLadderTip is the smallest suggested tip (wei) Refresh will derive
// tiers from directly. Below it, floor division collapses mid and safe to
// the same wei value (e.g. suggestedTip=1 gives mid=1, safe=0→1); Refresh
// instead derives the ladder from this floor so fast>mid>safe always holds.
const minLadderTip = 6

// Refresh recomputes the ladder from a suggested tip and the latest base
// fee: fast = tip*2, mid = tip, safe = tip/2, preserving the invariant
// fast.Tip > mid.Tip > safe.Tip even at degenerately small suggested tips.
func (g *GasLadder) Refresh(baseFee, suggestedTip *big.Int) {
	if suggestedTip == nil || suggestedTip.Sign() <= 0 {
		suggestedTip = big.NewInt(1)
	}

	scaled := suggestedTip
	if scaled.Cmp(big.NewInt(minLadderTip)) < 0 {
		scaled = big.NewInt(minLadderTip)
	}

	fastTip := new(big.Int).Mul(scaled, big.NewInt(2))
	midTip := new(big.Int).Set(scaled)
	safeTip := new(big.Int).Div(scaled, big.NewInt(2))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans[TierFast] = GasPlan{BaseFee: baseFee, Tip: fastTip}
	g.plans[TierMid] = GasPlan{BaseFee: baseFee, Tip: midTip}
	g.plans[TierSafe] = GasPlan{BaseFee: baseFee, Tip: safeTip}
}

// GetGasPlan returns the current plan for tier.
func (g *GasLadder) GetGasPlan(tier Tier) (GasPlan, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.plans[tier]
	return p, ok
}
