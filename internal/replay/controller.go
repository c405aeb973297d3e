package replay

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
	"github.com/onyxlabs/liqsentinel/internal/candidate"
	"github.com/onyxlabs/liqsentinel/internal/config"
)

// AccountDataResult is one user's getUserAccountData result at a given
// blockTag, the shape the multicall batch reader returns (spec.md §4.I,
// reused here instead of re-implemented).
type AccountDataResult struct {
	HF            float64
	DebtUSD       float64
	CollateralUSD float64
}

// BatchReader performs a batched getUserAccountData read for many users at
// a fixed historical blockTag.
type BatchReader interface {
	GetUserAccountDataBatch(ctx context.Context, users []string, blockTag uint64) (map[string]AccountDataResult, error)
}

// BlockHeaderReader resolves a block's timestamp.
type BlockHeaderReader interface {
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// ProfitEstimator estimates net liquidation profit for a user at a given
// blockTag; its implementation wraps internal/profit.Engine with the full
// reserve-leg snapshot the replay controller doesn't itself hold. Optional:
// a nil estimator yields zero-profit rows.
type ProfitEstimator interface {
	EstimateProfitUSD(ctx context.Context, user string, blockTag uint64) (float64, error)
}

type detectionRecord struct {
	firstDetectionBlock uint64
	hfAtDetection        float64
}

// Controller drives the block-by-block replay described in spec.md §4.P.
// Execution is forcibly disabled: Controller never submits a transaction.
type Controller struct {
	candidates      *candidate.Set
	batchReader     BatchReader
	headerReader    BlockHeaderReader
	profitEstimator ProfitEstimator
	reporter        *Reporter

	groundTruth map[string]GroundTruthEvent // normalized user -> event
	detection   map[string]*detectionRecord
	lastSeen    map[string]AccountDataResult

	groundTruthAvailable bool
	partial              bool
	endBlock             uint64
}

// NewController wires a Controller. groundTruth is typically the output of
// ByUser(loader.Load(...).Events); groundTruthAvailable/partial should
// mirror the LoadResult the ground truth came from.
func NewController(
	candidates *candidate.Set,
	batchReader BatchReader,
	headerReader BlockHeaderReader,
	profitEstimator ProfitEstimator,
	reporter *Reporter,
	groundTruth map[string]GroundTruthEvent,
	groundTruthAvailable, partial bool,
) *Controller {
	return &Controller{
		candidates:           candidates,
		batchReader:          batchReader,
		headerReader:         headerReader,
		profitEstimator:      profitEstimator,
		reporter:             reporter,
		groundTruth:          groundTruth,
		detection:            make(map[string]*detectionRecord),
		lastSeen:             make(map[string]AccountDataResult),
		groundTruthAvailable: groundTruthAvailable,
		partial:              partial,
	}
}

// Run iterates [blocks.Start, blocks.End], verifying every active user's HF
// at each block, updating eviction state, and recording per-block metrics.
// It never submits a transaction (replay forcibly disables execution).
func (c *Controller) Run(ctx context.Context, blocks config.BlockRange) (SummaryRow, error) {
	runStart := time.Now()
	c.endBlock = blocks.End

	for block := blocks.Start; block <= blocks.End; block++ {
		if err := ctx.Err(); err != nil {
			return SummaryRow{}, fmt.Errorf("replay: aborted at block %d: %w", block, err)
		}

		if err := c.scanBlock(ctx, block); err != nil {
			return SummaryRow{}, fmt.Errorf("replay: scan block %d: %w", block, err)
		}
	}

	return c.finalize(runStart)
}

func (c *Controller) scanBlock(ctx context.Context, block uint64) error {
	scanStart := time.Now()

	ts, err := c.headerReader.BlockTimestamp(ctx, block)
	if err != nil {
		return fmt.Errorf("block header: %w", err)
	}

	active := c.candidates.All()
	users := make([]string, len(active))
	for i, cand := range active {
		users[i] = cand.Address
	}

	results, err := c.batchReader.GetUserAccountDataBatch(ctx, users, block)
	if err != nil {
		return fmt.Errorf("batch account data: %w", err)
	}

	newDetections := 0
	for _, user := range users {
		res, ok := results[user]
		if !ok {
			continue
		}
		c.lastSeen[user] = res
		c.candidates.Upsert(user, res.HF, block, candidate.ReasonReplaySeed)

		if res.HF < 1.0 {
			if _, seen := c.detection[user]; !seen {
				c.detection[user] = &detectionRecord{firstDetectionBlock: block, hfAtDetection: res.HF}
				newDetections++
			}
		}
	}

	c.candidates.Evict()

	onChainLiquidations := 0
	for _, gt := range c.groundTruth {
		if gt.BlockNumber == block {
			onChainLiquidations++
		}
	}

	return c.reporter.WriteBlock(BlockRow{
		Block:               block,
		Timestamp:           ts.Unix(),
		ScanLatencyMs:       time.Since(scanStart).Milliseconds(),
		Candidates:          c.candidates.Len(),
		NewDetections:       newDetections,
		OnChainLiquidations: onChainLiquidations,
	})
}

// finalize classifies every tracked user (ground truth plus anyone ever
// flagged HF<1), writes sorted candidates.jsonl rows, and writes the single
// summary.jsonl row.
func (c *Controller) finalize(runStart time.Time) (SummaryRow, error) {
	ctx := context.Background()

	users := make(map[string]struct{})
	for u := range c.groundTruth {
		users[u] = struct{}{}
	}
	for u := range c.detection {
		users[u] = struct{}{}
	}

	sorted := make([]string, 0, len(users))
	for u := range users {
		sorted = append(sorted, u)
	}
	sort.Strings(sorted)

	var leadBlocks []float64
	var detected, missed, falsePositive, pending int
	var totalDetectionProfit, totalEventProfit float64

	for _, user := range sorted {
		row := c.classifyUser(ctx, user)
		switch row.Classification {
		case ClassDetected:
			detected++
			leadBlocks = append(leadBlocks, float64(row.LeadBlocks))
		case ClassMissed:
			missed++
		case ClassFalsePositive:
			falsePositive++
		case ClassPending:
			pending++
		}
		totalDetectionProfit += row.DetectionProfitUSD
		totalEventProfit += row.EventProfitUSD

		if err := c.reporter.WriteCandidate(row); err != nil {
			return SummaryRow{}, fmt.Errorf("write candidate row: %w", err)
		}
	}

	groundTruthCount := len(c.groundTruth)
	coverage := 0.0
	if groundTruthCount > 0 {
		coverage = float64(detected) / float64(groundTruthCount)
	}

	summary := SummaryRow{
		GroundTruthCount:        groundTruthCount,
		Detected:                detected,
		Missed:                  missed,
		FalsePositives:          falsePositive,
		Pending:                 pending,
		CoverageRatio:           coverage,
		MedianLeadBlocks:        median(leadBlocks),
		AvgLeadBlocks:           mean(leadBlocks),
		TotalDetectionProfitUSD: totalDetectionProfit,
		TotalEventProfitUSD:     totalEventProfit,
		DurationMs:              time.Since(runStart).Milliseconds(),
		GroundTruthAvailable:    c.groundTruthAvailable,
		Partial:                 c.partial,
	}
	if err := c.reporter.WriteSummary(summary); err != nil {
		return SummaryRow{}, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}

func (c *Controller) classifyUser(ctx context.Context, user string) CandidateRow {
	user = addrnorm.Normalize(user)
	gt, hasGT := c.groundTruth[user]
	det, hasDetection := c.detection[user]
	last := c.lastSeen[user]

	row := CandidateRow{
		User:             user,
		HF:               last.HF,
		DebtUSD:          last.DebtUSD,
		CollateralUSD:    last.CollateralUSD,
		SimulationStatus: "not_simulated",
	}

	switch {
	case hasGT && hasDetection:
		row.Classification = ClassDetected
		row.FirstDetectionBlock = det.firstDetectionBlock
		row.LiquidationBlock = gt.BlockNumber
		row.LeadBlocks = int64(gt.BlockNumber) - int64(det.firstDetectionBlock)
		row.HFAtDetection = det.hfAtDetection
		row.RaceViable = row.LeadBlocks > 0
	case hasGT && !hasDetection && gt.BlockNumber > c.endBlock:
		row.Classification = ClassPending
		row.LiquidationBlock = gt.BlockNumber
	case hasGT && !hasDetection:
		row.Classification = ClassMissed
		row.LiquidationBlock = gt.BlockNumber
	case !hasGT && hasDetection:
		row.Classification = ClassFalsePositive
		row.FirstDetectionBlock = det.firstDetectionBlock
		row.HFAtDetection = det.hfAtDetection
	default:
		row.Classification = ClassPending
	}

	if c.profitEstimator != nil {
		if hasDetection {
			if v, err := c.profitEstimator.EstimateProfitUSD(ctx, user, det.firstDetectionBlock); err == nil {
				row.DetectionProfitUSD = v
			}
		}
		if hasGT {
			if v, err := c.profitEstimator.EstimateProfitUSD(ctx, user, gt.BlockNumber); err == nil {
				row.EventProfitUSD = v
			}
		}
	}

	return row
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*1000) / 1000
}
