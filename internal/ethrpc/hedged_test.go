package ethrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHedgedCallReturnsPrimaryWhenFast(t *testing.T) {
	h := NewHedgedProvider(50 * time.Millisecond)

	primary := func(ctx context.Context) (interface{}, error) { return "primary", nil }
	secondary := func(ctx context.Context) (interface{}, error) {
		t.Error("secondary should not be called when primary is fast")
		return nil, nil
	}

	v, err := h.HedgedCall(context.Background(), "getUserAccountData", primary, secondary)
	require.NoError(t, err)
	assert.Equal(t, "primary", v)
}

func TestHedgedCallFallsBackToSecondaryAfterDelay(t *testing.T) {
	h := NewHedgedProvider(5 * time.Millisecond)

	primary := func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	secondary := func(ctx context.Context) (interface{}, error) { return "secondary", nil }

	v, err := h.HedgedCall(context.Background(), "getUserAccountData", primary, secondary)
	require.NoError(t, err)
	assert.Equal(t, "secondary", v)
}

func TestHedgedCallReturnsAggregateErrorWhenBothFail(t *testing.T) {
	h := NewHedgedProvider(2 * time.Millisecond)

	primary := func(ctx context.Context) (interface{}, error) { return nil, errors.New("primary down") }
	secondary := func(ctx context.Context) (interface{}, error) { return nil, errors.New("secondary down") }

	_, err := h.HedgedCall(context.Background(), "getUserAccountData", primary, secondary)
	assert.Error(t, err)
}
