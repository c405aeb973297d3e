package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	pages []Page
	idx   int
	err   error
}

func (f *fakeLister) ListUsers(ctx context.Context, pageSize int, cursor string) (Page, string, error) {
	if f.err != nil {
		return Page{}, "", f.err
	}
	if f.idx >= len(f.pages) {
		return Page{}, "", nil
	}
	p := f.pages[f.idx]
	f.idx++
	return p, "next", nil
}

var defaultWeights = Weights{Debt: 1, Collateral: 0.2, HFPenalty: 1, HFCeiling: 1.5, LowHFBoost: 2}

func TestRunKeepsTopNByScore(t *testing.T) {
	lister := &fakeLister{pages: []Page{
		{Users: []SubgraphUser{
			{Address: "0xA", DebtUSD: 1000, CollateralUSD: 2000, HF: 1.01},
			{Address: "0xB", DebtUSD: 500, CollateralUSD: 1000, HF: 2.0},
			{Address: "0xC", DebtUSD: 10000, CollateralUSD: 20000, HF: 1.02},
		}, HasMore: false},
	}}

	r := NewRunner(lister, Config{TargetSize: 2, MaxScanUsers: 1000, PageSize: 100, Timeout: time.Second, Weights: defaultWeights})
	snap, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Users, 2)
	assert.Contains(t, snap.Users, "0xc") // highest debt+low HF should survive
}

func TestRunVersionIsMonotonic(t *testing.T) {
	lister := &fakeLister{pages: []Page{{Users: []SubgraphUser{{Address: "0xA", DebtUSD: 100}}, HasMore: false}}}
	r := NewRunner(lister, Config{TargetSize: 10, MaxScanUsers: 1000, PageSize: 100, Timeout: time.Second, Weights: defaultWeights})

	snap1, err := r.Run(context.Background())
	require.NoError(t, err)

	lister.idx = 0
	snap2, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, snap2.Version, snap1.Version)
}

func TestRunOnErrorKeepsPriorSnapshot(t *testing.T) {
	lister := &fakeLister{pages: []Page{{Users: []SubgraphUser{{Address: "0xA", DebtUSD: 100}}, HasMore: false}}}
	r := NewRunner(lister, Config{TargetSize: 10, MaxScanUsers: 1000, PageSize: 100, Timeout: time.Second, Weights: defaultWeights})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	firstVersion := r.Latest().Version

	lister.err = errors.New("subgraph down")
	_, err = r.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, firstVersion, r.Latest().Version)
	assert.EqualValues(t, 1, r.ErrorCount())
}

func TestRunStopsAtMaxScanUsers(t *testing.T) {
	lister := &fakeLister{pages: []Page{
		{Users: []SubgraphUser{{Address: "0xA", DebtUSD: 100}, {Address: "0xB", DebtUSD: 100}}, HasMore: true},
		{Users: []SubgraphUser{{Address: "0xC", DebtUSD: 100}}, HasMore: true},
	}}
	r := NewRunner(lister, Config{TargetSize: 10, MaxScanUsers: 2, PageSize: 100, Timeout: time.Second, Weights: defaultWeights})

	snap, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Stats.ScannedUsers)
}
