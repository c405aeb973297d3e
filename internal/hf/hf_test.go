package hf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func snap() UserSnapshot {
	return UserSnapshot{
		Address: "0xuser",
		Reserves: []ReserveSnapshot{
			{Asset: "weth", CollateralUSD: 2000, LiquidationBps: 8000},
			{Asset: "usdc", DebtUSD: 1000},
		},
	}
}

func TestCalculate(t *testing.T) {
	got := Calculate(snap())
	assert.InDelta(t, 1.6, got, 1e-9) // (2000*0.8)/1000
}

func TestCalculateZeroDebtIsInfinite(t *testing.T) {
	s := UserSnapshot{Reserves: []ReserveSnapshot{{Asset: "weth", CollateralUSD: 100, LiquidationBps: 8000}}}
	assert.True(t, math.IsInf(Calculate(s), 1))
}

func TestProjectHFWithIdentityMultiplierMatchesCalculate(t *testing.T) {
	s := snap()
	identity := map[string]float64{"weth": 1, "usdc": 1}
	assert.InDelta(t, Calculate(s), ProjectHF(s, identity), 1e-12)
}

func TestProjectHFPriceDrop(t *testing.T) {
	s := snap()
	projected := ProjectHF(s, map[string]float64{"weth": 0.9})
	assert.Less(t, projected, Calculate(s))
}

func TestBatchCalculate(t *testing.T) {
	out := BatchCalculate([]UserSnapshot{snap()})
	assert.InDelta(t, 1.6, out["0xuser"], 1e-9)
}
