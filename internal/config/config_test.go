package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
rpcPrimary: "https://primary.example/rpc"
rpcSecondary: "https://secondary.example/rpc"
wsEndpoint: "wss://primary.example/ws"
wsHeartbeatMs: 15000
abiPaths:
  pool: "./abi/pool.json"
reserves:
  USDC:
    asset: "0xusdc"
    aTokenAddress: "0xausdc"
    liquidationBps: 8500
    decimals: 6
    priceFeedAddress: "0xfeed"
`

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogYAML), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestCatalog(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9800, cfg.Detection.ExecutionHFThresholdBps)
	assert.Equal(t, 1.03, cfg.Detection.NearHF)
	assert.Equal(t, "https://primary.example/rpc", cfg.Catalog.RPCPrimary)
	assert.Equal(t, 8500, cfg.Catalog.Reserves["USDC"].LiquidationBps)
}

func TestLoadOverlaysEnvVars(t *testing.T) {
	path := writeTestCatalog(t)

	t.Setenv("EXECUTION_HF_THRESHOLD_BPS", "9500")
	t.Setenv("BLACKLISTED_TOKENS", "0xaaa, 0xbbb")
	t.Setenv("REPLAY", "true")
	t.Setenv("REPLAY_BLOCK_RANGE", "100-200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9500, cfg.Detection.ExecutionHFThresholdBps)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Execution.BlacklistedTokens)
	assert.True(t, cfg.Replay.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeLiquidationBps(t *testing.T) {
	path := writeTestCatalog(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	entry := cfg.Catalog.Reserves["USDC"]
	entry.LiquidationBps = 12000
	cfg.Catalog.Reserves["USDC"] = entry

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeLiquidationBonusBps(t *testing.T) {
	path := writeTestCatalog(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	entry := cfg.Catalog.Reserves["USDC"]
	entry.LiquidationBonusBps = 2001
	cfg.Catalog.Reserves["USDC"] = entry

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsReplayWithoutBlockRange(t *testing.T) {
	path := writeTestCatalog(t)
	t.Setenv("REPLAY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownRelayMode(t *testing.T) {
	path := writeTestCatalog(t)
	t.Setenv("PRIVATE_TX_MODE", "bogus")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}
