// Package contractclient wraps a single on-chain contract (address + ABI)
// behind a small Call/Send surface, the same shape the teacher's
// pkg/contractclient exposed to blackhole.go. The engine uses it for every
// read (getUserAccountData, getReserveData, latestRoundData, ERC-20
// symbol/decimals/balanceOf, Multicall3.aggregate3) and for the executor's
// submission path.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CallerSender is the subset of ethclient.Client a ContractClient needs; a
// narrow interface so tests can fake it without dialing a node.
type CallerSender interface {
	ethereum.ContractCaller
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ CallerSender = (*ethclient.Client)(nil)

// ContractClient is implemented by *Client; callers depend on the interface
// so they can swap in a fake for unit tests (blackhole.go's Blackhole.ccm map
// is the precedent this generalizes).
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	Call(from *common.Address, blockTag *big.Int, method string, args ...interface{}) ([]interface{}, error)
	Send(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	PackCall(method string, args ...interface{}) ([]byte, error)
}

// Client is the default ContractClient implementation.
type Client struct {
	rpc     CallerSender
	address common.Address
	abiDef  abi.ABI
}

// NewContractClient binds an ABI to an address over a live RPC connection.
func NewContractClient(rpc CallerSender, address common.Address, abiDef abi.ABI) *Client {
	return &Client{rpc: rpc, address: address, abiDef: abiDef}
}

func (c *Client) ContractAddress() common.Address { return c.address }
func (c *Client) Abi() abi.ABI                     { return c.abiDef }

// PackCall ABI-encodes a method call without sending it, used by the
// multicall batcher and the executor's calldata templating.
func (c *Client) PackCall(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abiDef.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}
	return data, nil
}

// Call performs a read-only eth_call at an optional blockTag (nil means
// "latest"), unpacking the result into Go values per the ABI's output types.
func (c *Client) Call(from *common.Address, blockTag *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.PackCall(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if from != nil {
		msg.From = *from
	}

	out, err := c.rpc.CallContract(context.Background(), msg, blockTag)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	values, err := c.abiDef.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return values, nil
}

// Send signs and broadcasts a transaction invoking method on this contract.
func (c *Client) Send(ctx context.Context, from common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.PackCall(method, args...)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: nonce: %w", err)
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: gas price: %w", err)
	}

	gasLimit, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.address, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: estimate gas: %w", err)
	}

	chainID, err := c.rpc.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: chain id: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: sign: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: send: %w", err)
	}
	return signed.Hash(), nil
}

// AddressFromKey derives the sender address from a private key, mirroring the
// derivation the teacher's cmd/main.go performed inline.
func AddressFromKey(pk *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(pk.PublicKey)
}
