// Package config loads the engine's tunables from the environment (with an
// optional .env file, teacher-style) and its static catalog (reserve
// addresses, ABI paths, RPC endpoints) from a YAML file, the way
// configs.LoadConfig read contract_client entries in the teacher repo.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Detection holds the health-factor thresholds driving trigger/eviction decisions.
type Detection struct {
	ExecutionHFThresholdBps int
	NearHF                  float64
	EvictHF                 float64
	EvictConsecutive        int
	HFPredCritical          float64
}

// Sweep holds PrioritySweepRunner tunables.
type Sweep struct {
	TargetSize          int
	MaxScanUsers         int
	IntervalMin          int
	PageSize             int
	InterRequestMs       int
	TimeoutMs            int
	WeightDebt           float64
	WeightCollateral     float64
	WeightHFPenalty      float64
	WeightHFCeiling      float64
	WeightLowHFBoost     float64
	HotlistMaxHF         float64
	MinDebtUSD           float64
	MinCollateralUSD     float64
}

// Triggers holds ReserveIndexTracker/price-feed trigger tunables.
type Triggers struct {
	PriceDropBps          int
	PriceDebounceSec       int
	PriceCumulative        bool
	PricePollSec           int
	PriceTriggerMaxScan    int
	IndexJumpBpsTrigger    int
	ReserveMinIndexDeltaBps int
	HeadScanRevisitSec      int64
}

// Verifier holds MicroVerifier tunables.
type Verifier struct {
	Enabled          bool
	MaxPerBlock      int
	IntervalMs       int
	UserSnapshotTTLMs int
}

// Caches holds PreSimCache/MicroVerifyCache tunables.
type Caches struct {
	PreSimEnabled      bool
	PreSimCacheTTLBlocks uint64
}

// Execution holds ProfitEngine/RiskManager/LiquidationExecutor tunables.
type Execution struct {
	MinProfitAfterGasUSD float64
	MaxPositionSizeUSD   float64
	DailyLossLimitUSD    float64
	BlacklistedTokens    []string
	CloseFactorBps       int
	MaxSlippageBps       int
	GasCostUSD           float64
}

// PrivateTxMode enumerates the relay submission modes.
type PrivateTxMode string

const (
	PrivateTxDisabled PrivateTxMode = "disabled"
	PrivateTxProtect  PrivateTxMode = "protect"
	PrivateTxDirect   PrivateTxMode = "direct"
)

// FallbackMode enumerates what LiquidationExecutor does when the relay fails.
type FallbackMode string

const (
	FallbackDirect FallbackMode = "direct"
	FallbackRace   FallbackMode = "race"
)

// Relay holds private-transaction submission tunables.
type Relay struct {
	PrivateTxRPCURL     string
	Mode                PrivateTxMode
	MaxRetries          int
	FallbackMode        FallbackMode
}

// Replay holds the replay harness tunables.
type Replay struct {
	Enabled             bool
	BlockRange          string
	OutputDir           string
	MaxAccountsPerBlock int
}

// ReserveCatalogEntry is one reserve's static metadata, loaded from YAML
// (the engine's analogue of the teacher's ContractClientYAMLData entries).
type ReserveCatalogEntry struct {
	Asset                    string `yaml:"asset"`
	ATokenAddress            string `yaml:"aTokenAddress"`
	VariableDebtTokenAddress string `yaml:"variableDebtTokenAddress"`
	LiquidationBps           int    `yaml:"liquidationBps"`
	LiquidationBonusBps      int    `yaml:"liquidationBonusBps"`
	Decimals                 int    `yaml:"decimals"`
	PriceFeedAddress         string `yaml:"priceFeedAddress"`
}

// Catalog is the static, rarely-changing configuration: reserve list, ABI
// paths, and RPC endpoints.
type Catalog struct {
	RPCPrimary        string                         `yaml:"rpcPrimary"`
	RPCSecondary      string                         `yaml:"rpcSecondary"`
	WSEndpoint        string                         `yaml:"wsEndpoint"`
	ABIPaths          map[string]string              `yaml:"abiPaths"`
	Reserves          map[string]ReserveCatalogEntry `yaml:"reserves"`
	WSHeartbeatMs     int                            `yaml:"wsHeartbeatMs"`
	PoolAddress       string                         `yaml:"poolAddress"`
	Multicall3Address string                         `yaml:"multicall3Address"`
}

// Config is the engine's fully resolved configuration: env-derived
// tunables plus the static catalog.
type Config struct {
	Catalog   Catalog
	Detection Detection
	Sweep     Sweep
	Triggers  Triggers
	Verifier  Verifier
	Caches    Caches
	Execution Execution
	Relay     Relay
	Replay    Replay
}

// Load reads an optional .env file (teacher-style, via godotenv), then the
// catalog YAML at catalogPath, then overlays every env var onto defaults.
// Startup-fatal invariants (spec.md §7) are checked by Validate, which
// callers must invoke explicitly after Load.
func Load(catalogPath string) (*Config, error) {
	_ = godotenv.Load() // missing .env is not an error; env vars may come from the shell.

	catalog, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("config: load catalog: %w", err)
	}

	cfg := &Config{
		Catalog: *catalog,
		Detection: Detection{
			ExecutionHFThresholdBps: envInt("EXECUTION_HF_THRESHOLD_BPS", 9800),
			NearHF:                  envFloat("NEAR_HF", 1.03),
			EvictHF:                 envFloat("EVICT_HF", 1.20),
			EvictConsecutive:        envInt("EVICT_CONSECUTIVE", 3),
			HFPredCritical:          envFloat("HF_PRED_CRITICAL", 1.00),
		},
		Sweep: Sweep{
			TargetSize:       envInt("PRIORITY_TARGET_SIZE", 200),
			MaxScanUsers:     envInt("PRIORITY_MAX_SCAN_USERS", 50000),
			IntervalMin:      envInt("PRIORITY_SWEEP_INTERVAL_MIN", 10),
			PageSize:         envInt("PRIORITY_SWEEP_PAGE_SIZE", 1000),
			InterRequestMs:   envInt("PRIORITY_SWEEP_INTER_REQUEST_MS", 50),
			TimeoutMs:        envInt("PRIORITY_SWEEP_TIMEOUT_MS", 60000),
			WeightDebt:       envFloat("PRIORITY_WEIGHT_DEBT", 1.0),
			WeightCollateral: envFloat("PRIORITY_WEIGHT_COLLATERAL", 0.2),
			WeightHFPenalty:  envFloat("PRIORITY_WEIGHT_HF_PENALTY", 1.0),
			WeightHFCeiling:  envFloat("PRIORITY_WEIGHT_HF_CEILING", 1.5),
			WeightLowHFBoost: envFloat("PRIORITY_WEIGHT_LOW_HF_BOOST", 2.0),
			HotlistMaxHF:     envFloat("HOTLIST_MAX_HF", 1.05),
			MinDebtUSD:       envFloat("PRIORITY_MIN_DEBT_USD", 100),
			MinCollateralUSD: envFloat("PRIORITY_MIN_COLLATERAL_USD", 100),
		},
		Triggers: Triggers{
			PriceDropBps:            envInt("PRICE_TRIGGER_DROP_BPS", 200),
			PriceDebounceSec:        envInt("PRICE_TRIGGER_DEBOUNCE_SEC", 30),
			PriceCumulative:         envBool("PRICE_TRIGGER_CUMULATIVE", true),
			PricePollSec:            envInt("PRICE_TRIGGER_POLL_SEC", 5),
			PriceTriggerMaxScan:     envInt("PRICE_TRIGGER_MAX_SCAN", 200),
			IndexJumpBpsTrigger:     envInt("INDEX_JUMP_BPS_TRIGGER", 10),
			ReserveMinIndexDeltaBps: envInt("RESERVE_MIN_INDEX_DELTA_BPS", 2),
			HeadScanRevisitSec:      int64(envInt("HEAD_SCAN_REVISIT_SEC", 20)),
		},
		Verifier: Verifier{
			Enabled:           envBool("MICRO_VERIFY_ENABLED", true),
			MaxPerBlock:       envInt("MICRO_VERIFY_MAX_PER_BLOCK", 50),
			IntervalMs:        envInt("MICRO_VERIFY_INTERVAL_MS", 500),
			UserSnapshotTTLMs: envInt("USER_SNAPSHOT_TTL_MS", 3000),
		},
		Caches: Caches{
			PreSimEnabled:        envBool("PRE_SIM_ENABLED", true),
			PreSimCacheTTLBlocks: uint64(envInt("PRE_SIM_CACHE_TTL_BLOCKS", 3)),
		},
		Execution: Execution{
			MinProfitAfterGasUSD: envFloat("MIN_PROFIT_AFTER_GAS_USD", 10),
			MaxPositionSizeUSD:   envFloat("MAX_POSITION_SIZE_USD", 100000),
			DailyLossLimitUSD:    envFloat("DAILY_LOSS_LIMIT_USD", 1000),
			BlacklistedTokens:    envList("BLACKLISTED_TOKENS"),
			CloseFactorBps:       envInt("CLOSE_FACTOR_BPS", 5000),
			MaxSlippageBps:       envInt("MAX_SLIPPAGE_BPS", 100),
			GasCostUSD:           envFloat("GAS_COST_USD", 2),
		},
		Relay: Relay{
			PrivateTxRPCURL: os.Getenv("PRIVATE_TX_RPC_URL"),
			Mode:            PrivateTxMode(envString("PRIVATE_TX_MODE", string(PrivateTxDisabled))),
			MaxRetries:      envInt("PRIVATE_TX_MAX_RETRIES", 2),
			FallbackMode:    FallbackMode(envString("PRIVATE_TX_FALLBACK_MODE", string(FallbackDirect))),
		},
		Replay: Replay{
			Enabled:             envBool("REPLAY", false),
			BlockRange:          os.Getenv("REPLAY_BLOCK_RANGE"),
			OutputDir:           envString("REPLAY_OUTPUT_DIR", "./replay-out"),
			MaxAccountsPerBlock: envInt("REPLAY_MAX_ACCOUNTS_PER_BLOCK", 500),
		},
	}

	return cfg, nil
}

func loadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog YAML: %w", err)
	}
	return &c, nil
}

// Validate checks the startup invariants spec.md §7 classifies as Fatal:
// liquidation thresholds outside (0,10000] bps, decimals outside [0,30],
// liquidation bonus outside [0,2000] bps, (when replay is enabled) a missing,
// invalid or oversized block range, and an unknown PRIVATE_TX_MODE.
func (c *Config) Validate() error {
	for asset, r := range c.Catalog.Reserves {
		if r.LiquidationBps <= 0 || r.LiquidationBps > 10000 {
			return fmt.Errorf("config: reserve %s has liquidationBps %d out of range", asset, r.LiquidationBps)
		}
		if r.Decimals < 0 || r.Decimals > 30 {
			return fmt.Errorf("config: reserve %s has invalid decimals %d", asset, r.Decimals)
		}
		if r.LiquidationBonusBps < 0 || r.LiquidationBonusBps > 2000 {
			return fmt.Errorf("config: reserve %s has liquidationBonusBps %d out of range", asset, r.LiquidationBonusBps)
		}
	}

	if c.Replay.Enabled {
		if c.Replay.BlockRange == "" {
			return fmt.Errorf("config: REPLAY_BLOCK_RANGE is required when REPLAY=true")
		}
		if _, err := ParseBlockRange(c.Replay.BlockRange); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	switch c.Relay.Mode {
	case PrivateTxDisabled, PrivateTxProtect, PrivateTxDirect:
	default:
		return fmt.Errorf("config: invalid PRIVATE_TX_MODE %q", c.Relay.Mode)
	}

	switch c.Relay.FallbackMode {
	case FallbackDirect, FallbackRace:
	default:
		return fmt.Errorf("config: invalid PRIVATE_TX_FALLBACK_MODE %q", c.Relay.FallbackMode)
	}

	return nil
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalMin) * time.Minute
}

func (c *Config) WSHeartbeat() time.Duration {
	return time.Duration(c.Catalog.WSHeartbeatMs) * time.Millisecond
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
