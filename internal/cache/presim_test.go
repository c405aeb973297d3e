package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fp(user string) Fingerprint {
	return Fingerprint{User: user, DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1000"}
}

func TestPreSimCacheHitWithinTTL(t *testing.T) {
	c := NewPreSimCache(3, 10)
	c.Set(Plan{User: "0xA", DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1000", BlockTag: 12345678})

	_, ok := c.Get(fp("0xA"), 12345678)
	assert.True(t, ok)

	_, ok = c.Get(fp("0xA"), 12345678+3)
	assert.True(t, ok) // exactly at ttl boundary

	_, ok = c.Get(fp("0xA"), 12345678+4)
	assert.False(t, ok) // past ttl
}

func TestPreSimCacheSizeNeverExceedsMax(t *testing.T) {
	c := NewPreSimCache(100, 2)
	c.Set(Plan{User: "0xA", DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1", BlockTag: 1})
	c.Set(Plan{User: "0xB", DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1", BlockTag: 1})
	c.Set(Plan{User: "0xC", DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1", BlockTag: 1})

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get(fp("0xA"), 1) // evicted as least-recently-used
	assert.False(t, ok)
}

func TestFivePlansHitRateScenario(t *testing.T) {
	c := NewPreSimCache(3, 10)
	users := []string{"0x01", "0x02", "0x03", "0x04", "0x05"}
	for _, u := range users {
		c.Set(Plan{User: u, DebtAsset: "0xUSDC", CollateralAsset: "0xWETH", DebtAmount: "1000", BlockTag: 12345678})
	}

	hits := 0
	for _, u := range users {
		if _, ok := c.Get(fp(u), 12345678); ok {
			hits++
		}
	}
	assert.Equal(t, 5, hits)
	assert.Equal(t, 5, c.Size())

	hitsAfterTTL := 0
	for _, u := range users {
		if _, ok := c.Get(fp(u), 12345678+4); ok {
			hitsAfterTTL++
		}
	}
	assert.Equal(t, 0, hitsAfterTTL)
}
