package subgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_DiffAndFIFOEviction(t *testing.T) {
	tr := NewTracker(2)

	novel := tr.Diff([]LiquidationEvent{{ID: "a"}, {ID: "b"}})
	assert.Len(t, novel, 2)
	assert.Equal(t, 2, tr.Len())

	novel = tr.Diff([]LiquidationEvent{{ID: "a"}, {ID: "c"}})
	require.Len(t, novel, 1)
	assert.Equal(t, "c", novel[0].ID)
	assert.Equal(t, 2, tr.Len()) // "a" evicted by FIFO cap of 2

	novel = tr.Diff([]LiquidationEvent{{ID: "a"}})
	assert.Len(t, novel, 1) // "a" was evicted, so it's novel again
}

type stubLister struct {
	events []LiquidationEvent
	err    error
	calls  int
}

func (s *stubLister) ListRecentLiquidations(ctx context.Context, limit int) ([]LiquidationEvent, error) {
	s.calls++
	return s.events, s.err
}

type stubResolver struct{ hf float64 }

func (s stubResolver) ResolveHF(ctx context.Context, user string) (float64, error) { return s.hf, nil }

type erroringResolver struct{}

func (erroringResolver) ResolveHF(ctx context.Context, user string) (float64, error) {
	return 0, errors.New("rpc down")
}

func TestPoller_PollOnceNotifiesAllAndNovel(t *testing.T) {
	lister := &stubLister{events: []LiquidationEvent{{ID: "a", User: "0xUSER"}}}
	var all, new []LiquidationEvent
	p := NewPoller(lister, time.Millisecond, 10, 100,
		WithHFResolver(stubResolver{hf: 0.9}),
		OnLiquidations(func(e []LiquidationEvent) { all = e }),
		OnNewLiquidations(func(e []LiquidationEvent) { new = e }),
	)

	p.pollOnce(context.Background())
	assert.Len(t, all, 1)
	require.Len(t, new, 1)
	assert.Equal(t, "0xuser", new[0].User)
	assert.Equal(t, 0.9, new[0].ResolvedHF)

	// second poll with the same event: no longer novel
	new = nil
	p.pollOnce(context.Background())
	assert.Nil(t, new)
}

func TestPoller_ResolverErrorDoesNotBlock(t *testing.T) {
	lister := &stubLister{events: []LiquidationEvent{{ID: "a", User: "0xuser"}}}
	var new []LiquidationEvent
	p := NewPoller(lister, time.Millisecond, 10, 100,
		WithHFResolver(erroringResolver{}),
		OnNewLiquidations(func(e []LiquidationEvent) { new = e }),
	)

	p.pollOnce(context.Background())
	require.Len(t, new, 1)
	assert.Equal(t, float64(0), new[0].ResolvedHF)
}

func TestPoller_ListerErrorSwallowed(t *testing.T) {
	lister := &stubLister{err: errors.New("subgraph down")}
	p := NewPoller(lister, time.Millisecond, 10, 100)
	p.pollOnce(context.Background()) // must not panic
}
