package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onyxlabs/liqsentinel/internal/cache"
	"github.com/onyxlabs/liqsentinel/internal/candidate"
	"github.com/onyxlabs/liqsentinel/internal/config"
	"github.com/onyxlabs/liqsentinel/internal/decision"
	"github.com/onyxlabs/liqsentinel/internal/ethrpc"
	"github.com/onyxlabs/liqsentinel/internal/executor"
	"github.com/onyxlabs/liqsentinel/internal/profit"
	"github.com/onyxlabs/liqsentinel/internal/realtime"
	"github.com/onyxlabs/liqsentinel/internal/reserveindex"
	"github.com/onyxlabs/liqsentinel/internal/subgraph"
	"github.com/onyxlabs/liqsentinel/internal/tokenmeta"
	"github.com/onyxlabs/liqsentinel/pkg/contractclient"
)

// reserveLegReader builds a profit.UserRiskSnapshot for one user by reading
// each catalog reserve's aToken/variableDebtToken balance and its Chainlink
// feed price at a fixed block tag, the per-reserve detail ProfitEngine needs
// that poolAccountDataReader's aggregate getUserAccountData does not carry.
type reserveLegReader struct {
	client        contractclient.CallerSender
	erc20ABI      abi.ABI
	aggregatorABI abi.ABI
	reserves      map[string]config.ReserveCatalogEntry
	tokens        *tokenmeta.Registry
}

// BuildSnapshot reads every reserve's aToken/debt-token balance for user at
// blockTag, skipping reserves the user holds neither side of, and assembles
// the result into a profit.UserRiskSnapshot.
func (r *reserveLegReader) BuildSnapshot(ctx context.Context, user string, blockTag uint64) (profit.UserRiskSnapshot, error) {
	addr := common.HexToAddress(user)
	block := new(big.Int).SetUint64(blockTag)
	legs := make([]profit.ReserveLeg, 0, len(r.reserves))

	for asset, entry := range r.reserves {
		collateralRaw, err := r.balanceOf(entry.ATokenAddress, addr, block)
		if err != nil {
			return profit.UserRiskSnapshot{}, fmt.Errorf("reserveLegReader: aToken balance %s: %w", asset, err)
		}
		debtRaw, err := r.balanceOf(entry.VariableDebtTokenAddress, addr, block)
		if err != nil {
			return profit.UserRiskSnapshot{}, fmt.Errorf("reserveLegReader: debt balance %s: %w", asset, err)
		}
		if collateralRaw.Sign() == 0 && debtRaw.Sign() == 0 {
			continue
		}

		price, err := r.latestPrice(entry.PriceFeedAddress, block)
		if err != nil {
			return profit.UserRiskSnapshot{}, fmt.Errorf("reserveLegReader: price feed %s: %w", asset, err)
		}

		scale := pow10Float(entry.Decimals)
		meta := r.tokens.Resolve(ctx, asset)

		legs = append(legs, profit.ReserveLeg{
			Asset:                   asset,
			Symbol:                  meta.Symbol,
			DebtValueBase:           weiToFloatScale(debtRaw, scale) * price,
			CollateralValueBase:     weiToFloatScale(collateralRaw, scale) * price,
			UsesAsCollateral:        collateralRaw.Sign() > 0,
			LiquidationBonusBps:     entry.LiquidationBonusBps,
			LiquidationThresholdBps: entry.LiquidationBps,
			PriceBase:               price,
			Decimals:                entry.Decimals,
			TotalDebtRaw:            bigIntToFloat(debtRaw),
		})
	}

	return profit.UserRiskSnapshot{User: user, Legs: legs}, nil
}

func (r *reserveLegReader) balanceOf(tokenAddress string, user common.Address, block *big.Int) (*big.Int, error) {
	if tokenAddress == "" {
		return big.NewInt(0), nil
	}
	cc := contractclient.NewContractClient(r.client, common.HexToAddress(tokenAddress), r.erc20ABI)
	out, err := cc.Call(nil, block, "balanceOf", user)
	if err != nil {
		return nil, err
	}
	bal, _ := out[0].(*big.Int)
	if bal == nil {
		bal = big.NewInt(0)
	}
	return bal, nil
}

// latestPrice reads a Chainlink aggregator's latestRoundData and scales its
// answer to a plain USD float via the feed's own decimals(), falling back to
// the standard 8-decimal USD feed convention if that call fails.
func (r *reserveLegReader) latestPrice(feedAddress string, block *big.Int) (float64, error) {
	if feedAddress == "" {
		return 0, fmt.Errorf("no price feed configured")
	}
	cc := contractclient.NewContractClient(r.client, common.HexToAddress(feedAddress), r.aggregatorABI)
	out, err := cc.Call(nil, block, "latestRoundData")
	if err != nil {
		return 0, err
	}
	if len(out) < 2 {
		return 0, fmt.Errorf("unexpected latestRoundData shape")
	}
	answer, _ := out[1].(*big.Int)
	if answer == nil {
		return 0, fmt.Errorf("unexpected latestRoundData answer type")
	}

	decimals := 8
	if decOut, err := cc.Call(nil, block, "decimals"); err == nil && len(decOut) > 0 {
		if d, ok := decOut[0].(uint8); ok {
			decimals = int(d)
		}
	}
	return bigIntToFloat(answer) / pow10Float(decimals), nil
}

func bigIntToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func pow10Float(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func weiToFloatScale(v *big.Int, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	return bigIntToFloat(v) / scale
}

// liquidationPipeline wires a detected opportunity through spec.md §2's
// detection→ProfitEngine→RiskManager→Executor→DecisionTrace chain.
type liquidationPipeline struct {
	log           *zap.SugaredLogger
	legReader     *reserveLegReader
	profitEngine  *profit.Engine
	riskManager   *profit.RiskManager
	driver        *executor.Driver
	decisionStore *decision.Store
	preSimCache   *cache.PreSimCache
	candidates    *candidate.Set
	hotlist       *candidate.Hotlist
	indexTracker  *reserveindex.Tracker
	poolClient    contractclient.ContractClient
	gasLadder     *ethrpc.GasLadder
	chainID       *big.Int
	signerKey     *ecdsa.PrivateKey
	signerAddr    string
	relayMode     config.PrivateTxMode
	client        contractclient.CallerSender
}

// handleEvent dispatches one realtime.Event to its handler.
func (p *liquidationPipeline) handleEvent(ctx context.Context, ev realtime.Event) {
	switch ev.Kind {
	case "scan_error":
		p.log.Warnw("scan error", "user", ev.User, "block", ev.BlockTag)
	case "skipped_small_delta":
		p.log.Debugw("reserve index delta below threshold, skip recheck", "block", ev.BlockTag)
	case "liquidatable":
		p.handleLiquidatable(ctx, ev)
	}
}

func (p *liquidationPipeline) handleLiquidatable(ctx context.Context, ev realtime.Event) {
	log := p.log
	log.Infow("liquidatable user detected", "user", ev.User, "hf", ev.HF, "block", ev.BlockTag)

	snapshot, err := p.legReader.BuildSnapshot(ctx, ev.User, ev.BlockTag)
	if err != nil {
		log.Warnw("reserve leg read failed, skipping", "user", ev.User, "err", err)
		p.decisionStore.Record(decision.Trace{
			User: ev.User, Ts: time.Now(), Action: decision.ActionSkip,
			Reason: "leg_read_failed", HFAtDecision: ev.HF,
		})
		return
	}

	result := p.profitEngine.Compute(snapshot)
	if !result.Profitable {
		log.Debugw("not profitable", "user", ev.User, "reason", result.SkipReason, "netProfitUsd", result.NetProfitUSD)
		p.decisionStore.Record(decision.Trace{
			User: ev.User, Ts: time.Now(), Action: decision.ActionSkip,
			Reason: result.SkipReason, HFAtDecision: ev.HF, EstProfitUSD: result.NetProfitUSD,
		})
		p.candidates.Remove(ev.User)
		return
	}

	positionSizeUSD := legValueUSD(snapshot, result.DebtAsset, result.RepayAmount)
	debtMeta := p.legReader.tokens.Resolve(ctx, result.DebtAsset)
	collMeta := p.legReader.tokens.Resolve(ctx, result.CollateralAsset)

	opp := profit.Opportunity{
		User: ev.User, DebtSymbol: debtMeta.Symbol, CollateralSymbol: collMeta.Symbol,
		PositionSizeUSD: positionSizeUSD,
	}
	riskDecision := p.riskManager.CanExecute(opp, result.NetProfitUSD)
	if !riskDecision.Allowed {
		log.Infow("risk manager blocked execution", "user", ev.User, "reason", riskDecision.Reason)
		p.decisionStore.Record(decision.Trace{
			User: ev.User, Ts: time.Now(), Action: decision.ActionSkip,
			Reason: riskDecision.Reason, HFAtDecision: ev.HF,
			EstProfitUSD: result.NetProfitUSD, EstDebtUSD: positionSizeUSD,
		})
		p.candidates.Remove(ev.User)
		return
	}

	fp := cache.Fingerprint{
		User: ev.User, DebtAsset: result.DebtAsset, CollateralAsset: result.CollateralAsset,
		DebtAmount: fmt.Sprintf("%.0f", result.RepayAmount),
	}
	if _, hit := p.preSimCache.Get(fp, ev.BlockTag); hit {
		log.Debugw("pre-sim cache hit, skipping duplicate execution attempt", "user", ev.User, "block", ev.BlockTag)
		p.decisionStore.Record(decision.Trace{
			User: ev.User, Ts: time.Now(), Action: decision.ActionSkip,
			Reason: "presim_cache_hit", HFAtDecision: ev.HF, EstProfitUSD: result.NetProfitUSD,
		})
		return
	}
	p.preSimCache.Set(cache.Plan{
		User: ev.User, DebtAsset: result.DebtAsset, CollateralAsset: result.CollateralAsset,
		BlockTag: ev.BlockTag, DebtAmount: fp.DebtAmount,
		ExpectedCollateral: fmt.Sprintf("%.0f", result.SeizeAmount),
		EstimatedProfitUSD: result.NetProfitUSD, Timestamp: time.Now().Unix(),
	})

	mode := p.submissionMode()
	debtToCover, _ := new(big.Float).SetFloat64(result.RepayAmount).Int(nil)

	key := executor.TemplateKey{User: ev.User, DebtAsset: result.DebtAsset, CollateralAsset: result.CollateralAsset, Mode: mode}
	currentDebtIndex := big.NewInt(0)
	if snap, ok := p.indexTracker.Get(result.DebtAsset); ok && snap.VariableBorrowIndex != nil {
		currentDebtIndex = snap.VariableBorrowIndex
	}

	build := func() ([]byte, error) {
		return p.buildRawTx(ctx, ev.User, result.DebtAsset, result.CollateralAsset, debtToCover, mode)
	}

	submission := p.driver.BuildAndSubmit(ctx, mode, key, currentDebtIndex, build)
	action, reason := decision.ActionAttempt, ""
	if submission.Reverted {
		action = decision.ActionRevert
	} else if !submission.Success {
		action = decision.ActionSkip
		reason = string(submission.ErrorCode)
	}

	p.decisionStore.Record(decision.Trace{
		User: ev.User, Ts: time.Now(), Action: action, Reason: reason,
		HFAtDecision: ev.HF, EstProfitUSD: result.NetProfitUSD, EstDebtUSD: positionSizeUSD,
		AttemptMeta: map[string]string{"txHash": submission.TxHash, "mode": string(mode)},
	})

	if submission.Success && !submission.Reverted {
		p.candidates.Remove(ev.User)
		p.hotlist.Remove(ev.User)
	} else if submission.Reverted {
		p.riskManager.RecordOutcome(0)
	}
}

// submissionMode maps this engine's relay configuration to the executor's
// submission mode: no signer means the driver can only ever shadow-log.
func (p *liquidationPipeline) submissionMode() executor.Mode {
	if p.signerKey == nil {
		return executor.ModeShadow
	}
	if p.relayMode == config.PrivateTxDisabled {
		return executor.ModePublic
	}
	return executor.ModePrivate
}

// buildRawTx ABI-encodes Pool.liquidationCall and signs an EIP-1559
// transaction against the driver's chosen gas tier, mirroring the teacher's
// contractclient.Client.Send flow but returning the signed bytes instead of
// broadcasting them directly, so Driver.Submit controls dispatch.
func (p *liquidationPipeline) buildRawTx(ctx context.Context, user, debtAsset, collateralAsset string, debtToCover *big.Int, mode executor.Mode) ([]byte, error) {
	data, err := p.poolClient.PackCall("liquidationCall",
		common.HexToAddress(collateralAsset),
		common.HexToAddress(debtAsset),
		common.HexToAddress(user),
		debtToCover,
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: pack liquidationCall: %w", err)
	}
	if mode == executor.ModeShadow || p.signerKey == nil {
		return data, nil
	}

	from := common.HexToAddress(p.signerAddr)
	poolAddr := p.poolClient.ContractAddress()
	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pipeline: nonce: %w", err)
	}
	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &poolAddr, Data: data})
	if err != nil {
		gasLimit = 600000 // conservative fallback; liquidationCall's gas use varies with the reserve pair
	}

	tier := ethrpc.TierFast
	if mode == executor.ModePrivate {
		tier = ethrpc.TierMid
	}
	plan, ok := p.gasLadder.GetGasPlan(tier)
	if !ok {
		return nil, fmt.Errorf("pipeline: no gas plan available for tier %s", tier)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.chainID,
		Nonce:     nonce,
		GasTipCap: plan.Tip,
		GasFeeCap: new(big.Int).Add(plan.BaseFee, plan.Tip),
		Gas:       gasLimit,
		To:        &poolAddr,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(p.chainID), p.signerKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline: sign tx: %w", err)
	}
	return signed.MarshalBinary()
}

func legValueUSD(snap profit.UserRiskSnapshot, asset string, rawAmount float64) float64 {
	for _, leg := range snap.Legs {
		if strings.EqualFold(leg.Asset, asset) {
			return rawAmount * leg.PriceBase / pow10Float(leg.Decimals)
		}
	}
	return 0
}

// recordMiss classifies one observed on-chain liquidation against this
// engine's own decision trace history and appends a ground-truth
// reconciliation row (spec.md §4.O) for every observed liquidation,
// including ones this engine carried out itself.
func recordMiss(store *decision.Store, logger *decision.RowLogger, candidates *candidate.Set, ourAddress string, ev subgraph.LiquidationEvent) {
	trace, found := store.FindDecision(ev.User, ev.Timestamp, 10*time.Second)
	var tracePtr *decision.Trace
	if found {
		tracePtr = &trace
	}

	_, inWatchSet := candidates.Get(ev.User)
	liquidatorIsUs := ourAddress != "" && strings.EqualFold(ev.Liquidator, ourAddress)

	result := decision.Classify(decision.ClassifyInput{
		LiquidatorIsUs:  liquidatorIsUs,
		InWatchSet:      inWatchSet || found,
		PriorHFBelowOne: found,
		Decision:        tracePtr,
	})

	row := decision.MissRow{
		User: ev.User, LiquidationTxHash: ev.TxHash, Liquidator: ev.Liquidator,
		EventTs: ev.Timestamp, Reason: result.Reason, Transient: result.Transient,
	}
	if found {
		row.HFAtDecision = trace.HFAtDecision
		row.EstProfitUSD = trace.EstProfitUSD
		row.GasPriceGwei = trace.GasPriceGwei
		row.GasThresholdGwei = trace.GasThresholdGwei
	}

	if err := logger.LogMiss(row); err != nil {
		// best-effort; the reconciliation job must never block the poll loop
		_ = err
	}
}
