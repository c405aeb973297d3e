package reserveindex

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFirstObservationSkipsRecheck(t *testing.T) {
	tr := NewTracker(2)
	d := tr.Update("0xUSDC", big.NewInt(1e9), big.NewInt(1e9))
	assert.True(t, d.SkipRecheck)
}

func TestUpdateComputesBpsDelta(t *testing.T) {
	tr := NewTracker(2)
	old := big.NewInt(1_000_000_000)
	tr.Update("0xUSDC", old, old)

	updated := big.NewInt(1_001_000_000) // +0.1% = 10 bps
	d := tr.Update("0xUSDC", updated, updated)

	assert.Equal(t, int64(10), d.LiquidityDeltaBps)
	assert.False(t, d.SkipRecheck)
}

func TestUpdateSkipsRecheckBelowMinDelta(t *testing.T) {
	tr := NewTracker(50)
	old := big.NewInt(1_000_000_000)
	tr.Update("0xUSDC", old, old)

	updated := big.NewInt(1_001_000_000) // 10 bps < min 50
	d := tr.Update("0xUSDC", updated, updated)
	assert.True(t, d.SkipRecheck)
}

func TestUpdateClampsExtremeDeltas(t *testing.T) {
	tr := NewTracker(2)
	old := big.NewInt(1)
	tr.Update("0xUSDC", old, old)

	huge := big.NewInt(1_000_000_000)
	d := tr.Update("0xUSDC", huge, huge)
	assert.Equal(t, int64(maxDeltaBps), d.LiquidityDeltaBps)
}

func TestGetReturnsLastObservedSnapshot(t *testing.T) {
	tr := NewTracker(2)
	_, ok := tr.Get("0xUSDC")
	assert.False(t, ok)

	idx := big.NewInt(1_000_000_000)
	tr.Update("0xUSDC", idx, idx)

	snap, ok := tr.Get("0xusdc") // case-insensitive, like addrnorm elsewhere
	require.True(t, ok)
	assert.Equal(t, 0, snap.LiquidityIndex.Cmp(idx))
}

func TestProjectHFIdentityDeltasNoChange(t *testing.T) {
	p := NewPredictor(1.0)
	assert.Equal(t, 1.5, p.ProjectHF(1.5, 0, 0))
}

func TestPredictedCriticalBelowThreshold(t *testing.T) {
	p := NewPredictor(1.0)
	// borrowDelta much larger than liquidityDelta pushes HF down.
	assert.True(t, p.PredictedCritical(1.0005, 100000, 0))
}
