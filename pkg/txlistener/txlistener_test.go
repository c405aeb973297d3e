package txlistener

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	callsBeforeReady int
	calls            int
}

func (f *fakeFetcher) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.calls++
	if f.calls <= f.callsBeforeReady {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func TestWaitForTransactionEventuallySucceeds(t *testing.T) {
	f := &fakeFetcher{callsBeforeReady: 2}
	l := NewTxListener(f, WithPollInterval(time.Millisecond), WithTimeout(time.Second))

	receipt, err := l.WaitForTransaction(context.Background(), common.Hash{})
	assert.NoError(t, err)
	assert.Equal(t, uint64(types.ReceiptStatusSuccessful), receipt.Status)
	assert.GreaterOrEqual(t, f.calls, 3)
}

func TestWaitForTransactionTimesOut(t *testing.T) {
	f := &fakeFetcher{callsBeforeReady: 1000}
	l := NewTxListener(f, WithPollInterval(time.Millisecond), WithTimeout(5*time.Millisecond))

	_, err := l.WaitForTransaction(context.Background(), common.Hash{})
	assert.ErrorIs(t, err, ErrTimeout)
}
