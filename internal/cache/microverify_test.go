package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreateInflightDedupesConcurrentBuilders(t *testing.T) {
	c := NewMicroVerifyCache()

	var builds int32
	build := func(ctx context.Context) (HFSnapshot, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(10 * time.Millisecond)
		return HFSnapshot{User: "0xa", BlockTag: 100, HF: 0.95}, nil
	}

	var wg sync.WaitGroup
	results := make([]HFSnapshot, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.GetOrCreateInflight(context.Background(), "0xA", 100, build)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, builds)
	for _, r := range results {
		assert.Equal(t, 0.95, r.HF)
	}
}

func TestAdvanceBlockPurgesStaleEntries(t *testing.T) {
	c := NewMicroVerifyCache()
	build := func(ctx context.Context) (HFSnapshot, error) {
		return HFSnapshot{User: "0xa", BlockTag: 100, HF: 1.1}, nil
	}
	_, err := c.GetOrCreateInflight(context.Background(), "0xA", 100, build)
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Size())

	c.AdvanceBlock(101)
	assert.Equal(t, 0, c.Size())
}
