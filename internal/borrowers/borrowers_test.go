package borrowers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	chunks [][2]uint64
	fail   map[uint64]bool
}

func (f *fakeScanner) ScanTransfers(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]string, []string, error) {
	f.chunks = append(f.chunks, [2]uint64{fromBlock, toBlock})
	if f.fail[fromBlock] {
		return nil, nil, errors.New("rpc error")
	}
	return []string{"0xSENDER"}, []string{"0xRECIPIENT"}, nil
}

func TestAddBorrowerUpdatesReserveAndUnion(t *testing.T) {
	idx := NewIndex(ModeMemory, nil, nil)

	require.NoError(t, idx.AddBorrower(context.Background(), "0xUSDC", "0xAlice"))

	assert.Equal(t, []string{"0xalice"}, idx.GetBorrowers("0xusdc"))
	assert.Equal(t, []string{"0xalice"}, idx.GetAllBorrowers())
}

func TestNewIndexDegradesToMemoryWithoutStore(t *testing.T) {
	idx := NewIndex(ModeRedis, nil, nil)
	assert.Equal(t, ModeMemory, idx.Mode())
}

func TestInitializeBackfillsInChunks(t *testing.T) {
	idx := NewIndex(ModeMemory, nil, nil, WithBackfillWindow(10, 5))
	scanner := &fakeScanner{}

	idx.Initialize(context.Background(), map[string]string{"0xUSDC": "0xDebtToken"}, scanner, 20)

	assert.Len(t, scanner.chunks, 3) // from=10,to=20,chunk=5 -> 10-14, 15-19, 20-20
	borrowers := idx.GetBorrowers("0xUSDC")
	assert.Contains(t, borrowers, "0xsender")
	assert.Contains(t, borrowers, "0xrecipient")
}

func TestInitializeContinuesPastChunkFailure(t *testing.T) {
	idx := NewIndex(ModeMemory, nil, nil, WithBackfillWindow(10, 5))
	scanner := &fakeScanner{fail: map[uint64]bool{10: true}}

	assert.NotPanics(t, func() {
		idx.Initialize(context.Background(), map[string]string{"0xUSDC": "0xDebtToken"}, scanner, 20)
	})
	// later chunks should still have contributed borrowers despite the first chunk failing.
	assert.NotEmpty(t, idx.GetBorrowers("0xUSDC"))
}
