// Command liqsentinel is the real-time detection and execution engine's
// entrypoint. It loads configuration, dials the chain, wires every
// collaborator named in the component map, and consumes RealTimeHFService's
// event stream until SIGINT or SIGTERM cancels its context, the way the
// teacher's cmd/main.go wired Blackhole and blocked on its report channel.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/onyxlabs/liqsentinel/internal/borrowers"
	"github.com/onyxlabs/liqsentinel/internal/cache"
	"github.com/onyxlabs/liqsentinel/internal/candidate"
	"github.com/onyxlabs/liqsentinel/internal/config"
	"github.com/onyxlabs/liqsentinel/internal/decision"
	"github.com/onyxlabs/liqsentinel/internal/ethrpc"
	"github.com/onyxlabs/liqsentinel/internal/executor"
	"github.com/onyxlabs/liqsentinel/internal/jsonlog"
	"github.com/onyxlabs/liqsentinel/internal/obs"
	"github.com/onyxlabs/liqsentinel/internal/profit"
	"github.com/onyxlabs/liqsentinel/internal/realtime"
	"github.com/onyxlabs/liqsentinel/internal/reserveindex"
	"github.com/onyxlabs/liqsentinel/internal/scanreg"
	"github.com/onyxlabs/liqsentinel/internal/subgraph"
	"github.com/onyxlabs/liqsentinel/internal/sweep"
	"github.com/onyxlabs/liqsentinel/internal/tokenmeta"
	"github.com/onyxlabs/liqsentinel/internal/verify"
	"github.com/onyxlabs/liqsentinel/pkg/chainutil"
	"github.com/onyxlabs/liqsentinel/pkg/contractclient"
	"github.com/onyxlabs/liqsentinel/pkg/txlistener"
)

func main() {
	catalogPath := envOr("LIQSENTINEL_CATALOG", "configs/catalog.yml")
	cfg, err := config.Load(catalogPath)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := obs.NewLogger("liqsentinel", envOr("ENVIRONMENT", "production"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	primary, err := ethclient.Dial(cfg.Catalog.RPCPrimary)
	if err != nil {
		panic(fmt.Errorf("dial primary rpc: %w", err))
	}
	var secondary *ethclient.Client
	if cfg.Catalog.RPCSecondary != "" {
		secondary, err = ethclient.Dial(cfg.Catalog.RPCSecondary)
		if err != nil {
			log.Warnw("secondary rpc dial failed, hedged reads disabled", "err", err)
		}
	}

	poolABI, err := chainutil.LoadABI(cfg.Catalog.ABIPaths["pool"])
	if err != nil {
		panic(err)
	}
	multicallABI, err := chainutil.LoadABI(cfg.Catalog.ABIPaths["multicall3"])
	if err != nil {
		panic(err)
	}
	erc20ABI, err := chainutil.LoadABI(cfg.Catalog.ABIPaths["erc20"])
	if err != nil {
		panic(err)
	}
	aggregatorABI, err := chainutil.LoadABI(cfg.Catalog.ABIPaths["aggregator"])
	if err != nil {
		panic(err)
	}

	chainID, err := primary.ChainID(context.Background())
	if err != nil {
		panic(fmt.Errorf("fetch chain id: %w", err))
	}

	poolAddress := common.HexToAddress(cfg.Catalog.PoolAddress)
	multicallAddress := common.HexToAddress(cfg.Catalog.Multicall3Address)

	poolClient := contractclient.NewContractClient(primary, poolAddress, poolABI)
	multicallClient := contractclient.NewContractClient(primary, multicallAddress, multicallABI)
	_ = multicallClient // constructed but not used by this entrypoint; account data is read one user at a time through poolClient

	tokenResolver := &erc20Resolver{client: primary, abiDef: erc20ABI}
	tokenRegistry := tokenmeta.NewRegistry(tokenResolver, time.Hour, reserveBaseMetadata(cfg.Catalog.Reserves))

	borrowerLog := log.Named("borrowers")
	var borrowerStore borrowers.Store
	borrowerMode := borrowers.ModeMemory
	switch {
	case os.Getenv("BORROWERS_POSTGRES_DSN") != "":
		pgStore, err := borrowers.NewPostgresStore(os.Getenv("BORROWERS_POSTGRES_DSN"))
		if err != nil {
			log.Warnw("postgres borrowers store unavailable, degrading to memory", "err", err)
		} else {
			borrowerStore, borrowerMode = pgStore, borrowers.ModePostgres
		}
	case os.Getenv("BORROWERS_MYSQL_DSN") != "":
		myStore, err := borrowers.NewMySQLStore(os.Getenv("BORROWERS_MYSQL_DSN"))
		if err != nil {
			log.Warnw("mysql borrowers store unavailable, degrading to memory", "err", err)
		} else {
			borrowerStore, borrowerMode = myStore, borrowers.ModeMySQL
		}
	}
	borrowerIndex := borrowers.NewIndex(borrowerMode, borrowerStore, borrowerLog)
	_ = borrowerIndex // constructed but not seeded or queried by this entrypoint: no Transfer-log backfill or subscription is wired here

	candidates := candidate.NewSet(cfg.Detection.EvictHF, cfg.Detection.EvictConsecutive, cfg.Detection.NearHF, cfg.Sweep.MaxScanUsers)
	hotlist := candidate.NewHotlist(cfg.Detection.HFPredCritical, cfg.Sweep.HotlistMaxHF, cfg.Sweep.MinDebtUSD, cfg.Sweep.TargetSize, candidate.DefaultWeights)
	scanRegistry := scanreg.NewRegistry(time.Duration(cfg.Verifier.UserSnapshotTTLMs)*time.Millisecond, 10000)
	microCache := cache.NewMicroVerifyCache()
	preSimCache := cache.NewPreSimCache(cfg.Caches.PreSimCacheTTLBlocks, cfg.Sweep.MaxScanUsers)

	reader := &poolAccountDataReader{client: poolClient}
	verifier := verify.NewVerifier(reader, microCache, cfg.Verifier.IntervalMs, cfg.Verifier.MaxPerBlock)

	indexTracker := reserveindex.NewTracker(int64(cfg.Triggers.ReserveMinIndexDeltaBps))
	predictor := reserveindex.NewPredictor(cfg.Detection.HFPredCritical)

	service := realtime.NewService(realtime.Config{
		PriceTriggerDropBps:    cfg.Triggers.PriceDropBps,
		PriceTriggerDebounce:   time.Duration(cfg.Triggers.PriceDebounceSec) * time.Second,
		PriceTriggerCumulative: cfg.Triggers.PriceCumulative,
		PriceTriggerMaxScan:    cfg.Triggers.PriceTriggerMaxScan,
		IndexJumpBpsTrigger:    cfg.Triggers.IndexJumpBpsTrigger,
		ChunkTimeout:           5 * time.Second,
		ChunkRetryAttempts:     2,
		RunStallAbort:          time.Minute,
		HeadScanRevisitSec:     cfg.Triggers.HeadScanRevisitSec,
	}, candidates, hotlist, scanRegistry, verifier, indexTracker, predictor, microCache)

	gasLadder := ethrpc.NewGasLadder()
	var hedger *ethrpc.HedgedProvider
	if secondary != nil {
		hedger = ethrpc.NewHedgedProvider(200 * time.Millisecond)
	}
	_ = hedger // constructed but not used by this entrypoint: no read path goes through HedgedCall

	profitEngine := profit.NewEngine(cfg.Execution.CloseFactorBps, cfg.Execution.MaxSlippageBps, cfg.Execution.GasCostUSD, cfg.Execution.MinProfitAfterGasUSD)
	riskManager := profit.NewRiskManager(cfg.Execution.BlacklistedTokens, cfg.Execution.MinProfitAfterGasUSD, cfg.Execution.MaxPositionSizeUSD, cfg.Execution.DailyLossLimitUSD)

	templates := executor.NewTemplateCache(10)
	var signerKey *ecdsa.PrivateKey
	if hex := os.Getenv("EXECUTOR_PRIVATE_KEY"); hex != "" {
		signerKey, err = crypto.HexToECDSA(hex)
		if err != nil {
			panic(fmt.Errorf("parse EXECUTOR_PRIVATE_KEY: %w", err))
		}
	}
	var signerAddr string
	if signerKey != nil {
		signerAddr = crypto.PubkeyToAddress(signerKey.PublicKey).Hex()
	}
	receiptWaiter := txlistener.NewTxListener(primary,
		txlistener.WithPollInterval(time.Duration(cfg.Verifier.IntervalMs)*time.Millisecond),
		txlistener.WithTimeout(2*time.Minute),
	)
	driver := executor.NewDriver(
		templates,
		&rawTxSender{client: primary},
		&http.Client{Timeout: 5 * time.Second},
		executor.RelayConfig{
			RPCURL:        cfg.Relay.PrivateTxRPCURL,
			SignerAddress: signerAddr,
			SignerKey:     signerKey,
			MaxRetries:    cfg.Relay.MaxRetries,
			FallbackMode:  cfg.Relay.FallbackMode,
		},
		executor.WithReceiptWaiter(receiptWaiter),
	)

	decisionStore := decision.NewStore(10 * time.Minute)
	missWriter, err := jsonlog.Create(envOr("MISS_LOG_PATH", "./missed_liquidations.jsonl"))
	if err != nil {
		panic(fmt.Errorf("open miss log: %w", err))
	}
	defer missWriter.Close()
	missLogger := decision.NewRowLogger(missWriter)

	legReader := &reserveLegReader{
		client:        primary,
		erc20ABI:      erc20ABI,
		aggregatorABI: aggregatorABI,
		reserves:      cfg.Catalog.Reserves,
		tokens:        tokenRegistry,
	}
	pipeline := &liquidationPipeline{
		log:           log.Named("dispatch"),
		legReader:     legReader,
		profitEngine:  profitEngine,
		riskManager:   riskManager,
		driver:        driver,
		decisionStore: decisionStore,
		preSimCache:   preSimCache,
		candidates:    candidates,
		hotlist:       hotlist,
		indexTracker:  indexTracker,
		poolClient:    poolClient,
		gasLadder:     gasLadder,
		chainID:       chainID,
		signerKey:     signerKey,
		signerAddr:    signerAddr,
		relayMode:     cfg.Relay.Mode,
		client:        primary,
	}

	if subgraphURL := os.Getenv("SUBGRAPH_URL"); subgraphURL != "" {
		lister := &subgraphLister{url: subgraphURL, client: &http.Client{Timeout: 10 * time.Second}}
		userLister := &subgraphUserLister{url: subgraphURL, client: &http.Client{Timeout: 10 * time.Second}}
		sweepRunner := sweep.NewRunner(userLister, sweep.Config{
			TargetSize:        cfg.Sweep.TargetSize,
			MaxScanUsers:      cfg.Sweep.MaxScanUsers,
			PageSize:          cfg.Sweep.PageSize,
			InterRequestDelay: time.Duration(cfg.Sweep.InterRequestMs) * time.Millisecond,
			Timeout:           time.Duration(cfg.Sweep.TimeoutMs) * time.Millisecond,
			MinDebtUSD:        cfg.Sweep.MinDebtUSD,
			MinCollateralUSD:  cfg.Sweep.MinCollateralUSD,
			Weights: sweep.Weights{
				Debt:       cfg.Sweep.WeightDebt,
				Collateral: cfg.Sweep.WeightCollateral,
				HFPenalty:  cfg.Sweep.WeightHFPenalty,
				HFCeiling:  cfg.Sweep.WeightHFCeiling,
				LowHFBoost: cfg.Sweep.WeightLowHFBoost,
			},
		})

		poller := subgraph.NewPoller(lister, time.Duration(cfg.Triggers.PricePollSec)*time.Second, 200, 10000,
			subgraph.OnLiquidations(func(evs []subgraph.LiquidationEvent) {
				for _, e := range evs {
					service.OnLiquidationSeen(context.Background(), e.User, nil, 0)
					recordMiss(decisionStore, missLogger, candidates, signerAddr, e)
				}
			}),
		)

		go func() {
			if err := sweepRunner.Run(context.Background()); err != nil {
				log.Errorw("priority sweep stopped", "err", err)
			}
		}()
		go func() {
			if err := poller.Run(context.Background()); err != nil {
				log.Errorw("subgraph poller stopped", "err", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		heads := make(chan *types.Header, 16)
		sub, err := primary.SubscribeNewHead(ctx, heads)
		if err != nil {
			log.Errorw("new head subscription failed", "err", err)
			return
		}
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				log.Errorw("new head subscription error", "err", err)
				return
			case h := <-heads:
				service.OnNewHead(ctx, h.Number.Uint64())
				tip, err := primary.SuggestGasTipCap(ctx)
				if err == nil {
					gasLadder.Refresh(h.BaseFee, tip)
				}
			}
		}
	}()

	watchedFeeds := make(map[common.Address]struct{}, len(cfg.Catalog.Reserves))
	for _, r := range cfg.Catalog.Reserves {
		if r.PriceFeedAddress != "" {
			watchedFeeds[common.HexToAddress(r.PriceFeedAddress)] = struct{}{}
		}
	}
	go watchPendingTransmits(ctx, log.Named("mempool"), primary, watchedFeeds, service)

	log.Infow("liqsentinel started", "rpcPrimary", cfg.Catalog.RPCPrimary)

	for {
		select {
		case <-ctx.Done():
			log.Infow("liqsentinel shutting down")
			return
		case ev, ok := <-service.Events():
			if !ok {
				return
			}
			pipeline.handleEvent(ctx, ev)
		}
	}
}

func reserveBaseMetadata(reserves map[string]config.ReserveCatalogEntry) map[string]tokenmeta.Metadata {
	out := make(map[string]tokenmeta.Metadata, len(reserves))
	for asset, r := range reserves {
		out[asset] = tokenmeta.Metadata{Decimals: r.Decimals, Source: tokenmeta.SourceBase}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// watchPendingTransmits subscribes to the node's pending-transaction feed
// and emits a timing-only "transmit" event for any pending tx addressed to
// a watched Chainlink aggregator, per spec.md §4.J's mempool-transmit
// trigger. The node's txpool subscription is itself optional and best-
// effort: a subscribe failure is logged once, never fatal, mirroring
// every other "degrade, don't crash" RPC failure path in this entrypoint.
func watchPendingTransmits(ctx context.Context, log *zap.SugaredLogger, client *ethclient.Client, watchedFeeds map[common.Address]struct{}, service *realtime.Service) {
	if len(watchedFeeds) == 0 {
		return
	}
	hashes := make(chan common.Hash, 256)
	sub, err := client.Client().EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		log.Warnw("pending-transaction subscription unavailable, mempool triggers disabled", "err", err)
		return
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			log.Warnw("pending-transaction subscription error", "err", err)
			return
		case h := <-hashes:
			tx, _, err := client.TransactionByHash(ctx, h)
			if err != nil || tx.To() == nil {
				continue
			}
			if _, watched := watchedFeeds[*tx.To()]; watched {
				service.OnPendingTransmit(tx.To().Hex(), time.Now())
			}
		}
	}
}

// poolAccountDataReader adapts the Pool contract's getUserAccountData to
// verify.AccountDataReader.
type poolAccountDataReader struct {
	client *contractclient.Client
}

func (r *poolAccountDataReader) GetUserAccountData(ctx context.Context, user string, blockTag uint64) (cache.HFSnapshot, error) {
	addr := common.HexToAddress(user)
	out, err := r.client.Call(nil, new(big.Int).SetUint64(blockTag), "getUserAccountData", addr)
	if err != nil {
		return cache.HFSnapshot{}, fmt.Errorf("getUserAccountData: %w", err)
	}
	if len(out) < 6 {
		return cache.HFSnapshot{}, fmt.Errorf("getUserAccountData: unexpected return shape")
	}
	totalCollateral, _ := out[0].(*big.Int)
	totalDebt, _ := out[1].(*big.Int)
	liqThreshold, _ := out[3].(*big.Int)
	healthFactor, _ := out[5].(*big.Int)

	hf := rayToFloat(healthFactor)
	return cache.HFSnapshot{
		User:                 user,
		BlockTag:             blockTag,
		HF:                   hf,
		TotalCollateralBase:  weiToFloat(totalCollateral),
		TotalDebtBase:        weiToFloat(totalDebt),
		LiquidationThreshold: int(liqThreshold.Int64()),
	}, nil
}

var ray = new(big.Float).SetFloat64(1e27)
var wad = new(big.Float).SetFloat64(1e18)

func rayToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), ray).Float64()
	return f
}

func weiToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), wad).Float64()
	return f
}

// rawTxSender adapts ethclient to executor.PublicSender.
type rawTxSender struct {
	client *ethclient.Client
}

func (s *rawTxSender) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", fmt.Errorf("decode raw tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// erc20Resolver adapts a raw ERC-20 ABI call to tokenmeta.OnChainResolver.
type erc20Resolver struct {
	client *ethclient.Client
	abiDef abi.ABI
}

func (r *erc20Resolver) ResolveERC20(ctx context.Context, address string) (string, int, error) {
	addr := common.HexToAddress(address)
	cc := contractclient.NewContractClient(r.client, addr, r.abiDef)
	symOut, err := cc.Call(nil, nil, "symbol")
	if err != nil {
		return "", 0, err
	}
	decOut, err := cc.Call(nil, nil, "decimals")
	if err != nil {
		return "", 0, err
	}
	symbol, _ := symOut[0].(string)
	decimals, _ := decOut[0].(uint8)
	return symbol, int(decimals), nil
}

// subgraphLister and subgraphUserLister are minimal GraphQL POST clients
// satisfying subgraph.Lister and sweep.UserLister; the full client with
// auth and backoff is out of scope and left to operators to harden.
type subgraphLister struct {
	url    string
	client *http.Client
}

func (l *subgraphLister) ListRecentLiquidations(ctx context.Context, limit int) ([]subgraph.LiquidationEvent, error) {
	var resp struct {
		Data struct {
			LiquidationCalls []struct {
				ID                string `json:"id"`
				Timestamp         string `json:"timestamp"`
				User              struct{ ID string } `json:"user"`
				Liquidator        string `json:"liquidator"`
				PrincipalReserve  struct{ Symbol string } `json:"principalReserve"`
				CollateralReserve struct{ Symbol string } `json:"collateralReserve"`
				PrincipalAmount   string `json:"principalAmount"`
				CollateralAmount  string `json:"collateralAmount"`
				TxHash            string `json:"txHash"`
			} `json:"liquidationCalls"`
		} `json:"data"`
	}
	query := fmt.Sprintf(`{"query":"{ liquidationCalls(first: %d, orderBy: timestamp, orderDirection: desc) { id timestamp user { id } liquidator principalReserve { symbol } collateralReserve { symbol } principalAmount collateralAmount txHash } }"}`, limit)
	if err := graphqlPost(ctx, l.client, l.url, query, &resp); err != nil {
		return nil, err
	}
	out := make([]subgraph.LiquidationEvent, 0, len(resp.Data.LiquidationCalls))
	for _, c := range resp.Data.LiquidationCalls {
		out = append(out, subgraph.LiquidationEvent{
			ID:                c.ID,
			User:              c.User.ID,
			Liquidator:        c.Liquidator,
			PrincipalReserve:  c.PrincipalReserve.Symbol,
			CollateralReserve: c.CollateralReserve.Symbol,
			PrincipalAmount:   c.PrincipalAmount,
			CollateralAmount:  c.CollateralAmount,
			TxHash:            c.TxHash,
		})
	}
	return out, nil
}

type subgraphUserLister struct {
	url    string
	client *http.Client
}

func (l *subgraphUserLister) ListUsers(ctx context.Context, pageSize int, cursor string) (sweep.Page, string, error) {
	var resp struct {
		Data struct {
			Users []struct {
				ID            string  `json:"id"`
				TotalDebtUSD  float64 `json:"totalDebtUSD,string"`
				TotalCollUSD  float64 `json:"totalCollateralUSD,string"`
				HealthFactor  float64 `json:"healthFactor,string"`
			} `json:"users"`
		} `json:"data"`
	}
	query := fmt.Sprintf(`{"query":"{ users(first: %d, where: { borrowedReservesCount_gt: 0, id_gt: \"%s\" }) { id totalDebtUSD totalCollateralUSD healthFactor } }"}`, pageSize, cursor)
	if err := graphqlPost(ctx, l.client, l.url, query, &resp); err != nil {
		return sweep.Page{}, "", err
	}
	page := sweep.Page{HasMore: len(resp.Data.Users) == pageSize}
	next := cursor
	for _, u := range resp.Data.Users {
		page.Users = append(page.Users, sweep.SubgraphUser{Address: u.ID, DebtUSD: u.TotalDebtUSD, CollateralUSD: u.TotalCollUSD, HF: u.HealthFactor})
		next = u.ID
	}
	return page, next, nil
}

func graphqlPost(ctx context.Context, client *http.Client, url, body string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("subgraph: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
