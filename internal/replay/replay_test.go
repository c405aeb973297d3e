package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxlabs/liqsentinel/internal/candidate"
	"github.com/onyxlabs/liqsentinel/internal/config"
)

func TestGroundTruthLoader_PaginatesUntilLastPage(t *testing.T) {
	pager := &fakePager{
		pages: []GroundTruthPage{
			{Events: []GroundTruthEvent{{ID: "1"}}, HasMore: true},
			{Events: []GroundTruthEvent{{ID: "2"}}, HasMore: false},
		},
	}
	loader := NewGroundTruthLoader(pager, 1000, 0)
	res := loader.Load(context.Background(), 0, 100)
	require.False(t, res.Partial)
	assert.Len(t, res.Events, 2)
}

func TestGroundTruthLoader_AuthErrorYieldsPartial(t *testing.T) {
	pager := &fakePager{
		pages: []GroundTruthPage{
			{Events: []GroundTruthEvent{{ID: "1"}}, HasMore: true},
		},
		errAfter: 1,
	}
	loader := NewGroundTruthLoader(pager, 1000, 0)
	res := loader.Load(context.Background(), 0, 100)
	assert.True(t, res.Partial)
	assert.Len(t, res.Events, 1)
	assert.Error(t, res.Err)
}

type fakePager struct {
	pages    []GroundTruthPage
	errAfter int // 1-indexed page number after which to fail; 0 = never
	calls    int
}

func (p *fakePager) ListLiquidationCalls(ctx context.Context, start, end uint64, pageSize int, cursor string) (GroundTruthPage, string, error) {
	p.calls++
	if p.errAfter > 0 && p.calls > p.errAfter {
		return GroundTruthPage{}, "", assertErr
	}
	page := p.pages[p.calls-1]
	return page, "", nil
}

var assertErr = &authError{}

type authError struct{}

func (*authError) Error() string { return "auth error" }

// --- ReplayController scenario 5 (spec.md §8) ------------------------------

type fakeBatchReader struct {
	byBlock map[uint64]map[string]AccountDataResult
}

func (f *fakeBatchReader) GetUserAccountDataBatch(ctx context.Context, users []string, blockTag uint64) (map[string]AccountDataResult, error) {
	out := make(map[string]AccountDataResult, len(users))
	block := f.byBlock[blockTag]
	for _, u := range users {
		if res, ok := block[u]; ok {
			out[u] = res
		} else {
			out[u] = AccountDataResult{HF: 1.5}
		}
	}
	return out, nil
}

type fakeHeaderReader struct{}

func (fakeHeaderReader) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	return time.Unix(int64(block)*12, 0), nil
}

func TestReplayController_DeterministicScenario(t *testing.T) {
	set := candidate.NewSet(1.2, 3, 1.03, 1000)

	gt := map[string]GroundTruthEvent{
		"0xa": {User: "0xa", BlockNumber: 103},
		"0xb": {User: "0xb", BlockNumber: 110}, // outside [100,105] -> pending
	}
	SeedUniverse(set, gt, 100)
	set.Upsert("0xc", 1.5, 100, candidate.ReasonReplaySeed) // never liquidated, never detected: clean
	set.Upsert("0xd", 1.5, 100, candidate.ReasonReplaySeed) // not in ground truth, but goes critical: false positive

	reader := &fakeBatchReader{byBlock: map[uint64]map[string]AccountDataResult{
		101: {"0xa": {HF: 0.98, DebtUSD: 500, CollateralUSD: 400}},
		102: {"0xa": {HF: 0.95, DebtUSD: 500, CollateralUSD: 380}, "0xd": {HF: 0.9}},
		103: {"0xa": {HF: 0.9, DebtUSD: 500, CollateralUSD: 350}},
	}}

	dir := t.TempDir()
	reporter, err := NewReporter(dir)
	require.NoError(t, err)

	ctrl := NewController(set, reader, fakeHeaderReader{}, nil, reporter, gt, true, false)
	br, err := config.ParseBlockRange("100-105")
	require.NoError(t, err)

	summary, err := ctrl.Run(context.Background(), br)
	require.NoError(t, err)
	require.NoError(t, reporter.Close())

	assert.Equal(t, 2, summary.GroundTruthCount)
	assert.Equal(t, 1, summary.Detected) // 0xa
	assert.Equal(t, 0, summary.Missed)
	assert.Equal(t, 1, summary.Pending) // 0xb (liquidation outside range)
	assert.InDelta(t, 0.5, summary.CoverageRatio, 1e-9)

	lines := readJSONL(t, filepath.Join(dir, "candidates.jsonl"))
	require.Len(t, lines, 3) // 0xa, 0xb, plus 0xd (false positive, never in GT)

	var users []string
	for _, l := range lines {
		users = append(users, l["user"].(string))
	}
	assert.Equal(t, []string{"0xa", "0xb", "0xd"}, users) // sorted
}

func readJSONL(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}
