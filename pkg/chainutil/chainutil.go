// Package chainutil collects the small EVM-facing helpers the engine's
// contract client and executor need: ABI loading, hex decoding, and gas-cost
// extraction from a transaction receipt. Adapted from the teacher's
// internal/util helpers of the same names, stripped of the AMM-specific tick
// math that has no home in a lending-liquidation engine.
package chainutil

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Hex2Bytes strips an optional "0x" prefix and decodes the remainder.
func Hex2Bytes(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// LoadABI reads a bare ABI JSON array from path.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// hardhatArtifact is the subset of a Hardhat compilation artifact we need.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads the `abi` field out of a Hardhat artifact
// JSON file (contractName.json produced by `npx hardhat compile`).
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi from artifact %s: %w", path, err)
	}
	return parsed, nil
}

// ExtractGasCost computes gasUsed * effectiveGasPrice from a receipt whose
// numeric fields arrive as hex strings, matching raw eth_getTransactionReceipt
// output.
func ExtractGasCost(gasUsedHex, effectiveGasPriceHex string) (*big.Int, error) {
	gasUsed, ok := new(big.Int).SetString(gasUsedHex, 0)
	if !ok {
		return nil, fmt.Errorf("invalid gasUsed %q", gasUsedHex)
	}
	gasPrice, ok := new(big.Int).SetString(effectiveGasPriceHex, 0)
	if !ok {
		return nil, fmt.Errorf("invalid effectiveGasPrice %q", effectiveGasPriceHex)
	}
	return new(big.Int).Mul(gasUsed, gasPrice), nil
}
