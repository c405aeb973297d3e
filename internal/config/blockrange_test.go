package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockRangeValid(t *testing.T) {
	r, err := ParseBlockRange("1000-2000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), r.Start)
	assert.Equal(t, uint64(2000), r.End)
	assert.Equal(t, uint64(1001), r.Count())
}

func TestParseBlockRangeRejectsInvertedRange(t *testing.T) {
	_, err := ParseBlockRange("2000-1000")
	assert.Error(t, err)
}

func TestParseBlockRangeRejectsOversizedSpan(t *testing.T) {
	_, err := ParseBlockRange("0-200000")
	assert.Error(t, err)
}

func TestParseBlockRangeRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "1000", "1000-", "-1000", "abc-def"} {
		_, err := ParseBlockRange(s)
		assert.Error(t, err, "input %q should be rejected", s)
	}
}

func TestParseBlockRangeAcceptsMaxSpan(t *testing.T) {
	_, err := ParseBlockRange("0-100000")
	assert.NoError(t, err)
}
