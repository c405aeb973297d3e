package chainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHex2Bytes(t *testing.T) {
	assert.Equal(t, []byte{0xde, 0xad}, Hex2Bytes("0xdead"))
	assert.Equal(t, []byte{0xde, 0xad}, Hex2Bytes("dead"))
}

func TestExtractGasCost(t *testing.T) {
	cost, err := ExtractGasCost("0x5208", "0x3b9aca00") // 21000 gas * 1 gwei
	assert.NoError(t, err)
	assert.Equal(t, "21000000000000", cost.String())
}

func TestExtractGasCostInvalid(t *testing.T) {
	_, err := ExtractGasCost("not-a-number", "0x1")
	assert.Error(t, err)
}
