// Package txlistener polls for transaction receipts the way the teacher's
// strategy bot waits for its own approve/mint/stake transactions to land,
// generalized here so the executor driver (module M in SPEC_FULL.md §0) can
// wait on its own public submissions.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTimeout is returned when a transaction doesn't confirm within the
// configured timeout.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

// ReceiptFetcher is the subset of ethclient.Client the listener needs; a
// narrow interface keeps the listener mockable without a live RPC endpoint.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxListener waits for a submitted transaction to be mined.
type TxListener struct {
	client        ReceiptFetcher
	pollInterval  time.Duration
	timeout       time.Duration
}

// Option configures a TxListener.
type Option func(*TxListener)

// WithPollInterval sets how often the listener polls for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will wait before failing.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a listener with sane defaults, overridable via Option.
func NewTxListener(client ReceiptFetcher, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: 3 * time.Second,
		timeout:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls until the receipt is available, the timeout
// elapses, or ctx is cancelled.
func (l *TxListener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("txlistener: fetch receipt %s: %w", txHash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
