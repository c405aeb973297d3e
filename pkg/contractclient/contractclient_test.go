package contractclient

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

type fakeRPC struct {
	callResult []byte
	callErr    error
}

func (f *fakeRPC) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}
func (f *fakeRPC) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeRPC) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeRPC) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func mustParseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func TestCallUnpacksResult(t *testing.T) {
	abiDef := mustParseABI(t, erc20BalanceOfABI)
	packedReturn, err := abiDef.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	client := NewContractClient(&fakeRPC{callResult: packedReturn}, common.HexToAddress("0x01"), abiDef)
	out, err := client.Call(nil, nil, "balanceOf", common.HexToAddress("0x02"))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), out[0].(*big.Int))
}

func TestCallSurfacesRPCError(t *testing.T) {
	abiDef := mustParseABI(t, erc20BalanceOfABI)
	client := NewContractClient(&fakeRPC{callErr: assert.AnError}, common.HexToAddress("0x01"), abiDef)
	_, err := client.Call(nil, nil, "balanceOf", common.HexToAddress("0x02"))
	assert.Error(t, err)
}

func TestPackCall(t *testing.T) {
	abiDef := mustParseABI(t, erc20BalanceOfABI)
	client := NewContractClient(&fakeRPC{}, common.HexToAddress("0x01"), abiDef)
	data, err := client.PackCall("balanceOf", common.HexToAddress("0x02"))
	require.NoError(t, err)
	assert.Len(t, data, 4+32) // selector + one padded address arg
}
