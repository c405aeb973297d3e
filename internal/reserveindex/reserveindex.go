// Package reserveindex tracks per-reserve liquidity/variable-borrow indices
// (RAY-scaled) and predicts health-factor movement from their deltas.
package reserveindex

import (
	"math/big"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

const maxDeltaBps = 100000

// Snapshot is a reserve's last-known indices.
type Snapshot struct {
	LiquidityIndex     *big.Int
	VariableBorrowIndex *big.Int
}

// Delta is the bps change for a reserve update.
type Delta struct {
	Reserve             string
	LiquidityDeltaBps   int64
	VariableBorrowDeltaBps int64
	SkipRecheck         bool
}

// Tracker stores the last observed indices per reserve.
type Tracker struct {
	minIndexDeltaBps int64
	snapshots        map[string]Snapshot
}

// NewTracker builds a Tracker. minIndexDeltaBps is the "skip recheck"
// threshold (default 2 per spec.md §4.E).
func NewTracker(minIndexDeltaBps int64) *Tracker {
	if minIndexDeltaBps <= 0 {
		minIndexDeltaBps = 2
	}
	return &Tracker{
		minIndexDeltaBps: minIndexDeltaBps,
		snapshots:        make(map[string]Snapshot),
	}
}

// Update records a new (liquidityIndex, variableBorrowIndex) observation for
// reserve and returns the computed Delta. The first observation for a
// reserve always yields SkipRecheck=true (no prior value to diff against).
func (t *Tracker) Update(reserve string, liquidityIndex, variableBorrowIndex *big.Int) Delta {
	key := addrnorm.Normalize(reserve)

	prev, had := t.snapshots[key]
	t.snapshots[key] = Snapshot{LiquidityIndex: liquidityIndex, VariableBorrowIndex: variableBorrowIndex}

	if !had {
		return Delta{Reserve: key, SkipRecheck: true}
	}

	liqDelta := bpsDelta(prev.LiquidityIndex, liquidityIndex)
	borrowDelta := bpsDelta(prev.VariableBorrowIndex, variableBorrowIndex)

	maxAbs := liqDelta
	if abs(borrowDelta) > abs(maxAbs) {
		maxAbs = borrowDelta
	}

	return Delta{
		Reserve:                key,
		LiquidityDeltaBps:      liqDelta,
		VariableBorrowDeltaBps: borrowDelta,
		SkipRecheck:            abs(maxAbs) < t.minIndexDeltaBps,
	}
}

// Get returns the last observed indices for reserve, if any have been
// recorded via Update.
func (t *Tracker) Get(reserve string) (Snapshot, bool) {
	snap, ok := t.snapshots[addrnorm.Normalize(reserve)]
	return snap, ok
}

// bpsDelta computes the signed (new-old)*10000/old via integer math,
// clamped to ±maxDeltaBps.
func bpsDelta(old, updated *big.Int) int64 {
	if old == nil || old.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(updated, old)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, old)

	bps := diff.Int64()
	if bps > maxDeltaBps {
		bps = maxDeltaBps
	}
	if bps < -maxDeltaBps {
		bps = -maxDeltaBps
	}
	return bps
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Predictor approximates HF movement from reserve index deltas without
// doing a full on-chain re-read.
type Predictor struct {
	hfPredCritical float64
}

// NewPredictor builds a Predictor. hfPredCritical is the projected-HF
// threshold below which a user is flagged "predicted critical".
func NewPredictor(hfPredCritical float64) *Predictor {
	return &Predictor{hfPredCritical: hfPredCritical}
}

// ProjectHF applies the rule ΔHF ≈ -(borrowΔ-liquidityΔ)/100·0.001 to
// currentHF given the largest observed deltas for the reserves backing the
// user's position.
func (p *Predictor) ProjectHF(currentHF float64, borrowDeltaBps, liquidityDeltaBps int64) float64 {
	deltaHF := -float64(borrowDeltaBps-liquidityDeltaBps) / 100.0 * 0.001
	return currentHF + deltaHF
}

// PredictedCritical reports whether the projected HF falls below the
// critical threshold.
func (p *Predictor) PredictedCritical(currentHF float64, borrowDeltaBps, liquidityDeltaBps int64) bool {
	return p.ProjectHF(currentHF, borrowDeltaBps, liquidityDeltaBps) < p.hfPredCritical
}
