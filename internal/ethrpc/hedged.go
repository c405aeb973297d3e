package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HedgedFunc is an RPC-style read performed against one endpoint.
type HedgedFunc func(ctx context.Context) (interface{}, error)

// HedgedProvider issues a read to the primary endpoint and, if it hasn't
// completed after hedgeDelay, also issues it to the secondary. The first
// successful result wins; the loser is cancelled best-effort and its
// result discarded.
type HedgedProvider struct {
	hedgeDelay time.Duration
}

// NewHedgedProvider builds a HedgedProvider with the given hedge delay.
func NewHedgedProvider(hedgeDelay time.Duration) *HedgedProvider {
	return &HedgedProvider{hedgeDelay: hedgeDelay}
}

type hedgedResult struct {
	value interface{}
	err   error
}

// HedgedCall races primary against secondary (started after hedgeDelay) and
// returns the first success. If both fail, returns an aggregate error.
func (h *HedgedProvider) HedgedCall(ctx context.Context, opName string, primary, secondary HedgedFunc) (interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan hedgedResult, 2)
	launch := func(fn HedgedFunc) {
		v, err := fn(ctx)
		results <- hedgedResult{value: v, err: err}
	}

	go launch(primary)

	timer := time.NewTimer(h.hedgeDelay)
	defer timer.Stop()

	secondaryLaunched := false
	var firstErr, secondErr error
	received := 0

	for received < 2 {
		select {
		case res := <-results:
			received++
			if res.err == nil {
				return res.value, nil
			}
			if firstErr == nil {
				firstErr = res.err
			} else {
				secondErr = res.err
			}
			if !secondaryLaunched {
				secondaryLaunched = true
				go launch(secondary)
			}
		case <-timer.C:
			if !secondaryLaunched {
				secondaryLaunched = true
				go launch(secondary)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("ethrpc: %s: %w", opName, ctx.Err())
		}
	}

	return nil, fmt.Errorf("ethrpc: %s: both endpoints failed: %w", opName, errors.Join(firstErr, secondErr))
}
