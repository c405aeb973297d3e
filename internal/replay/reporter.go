package replay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onyxlabs/liqsentinel/internal/jsonlog"
)

// BlockRow is one blocks.jsonl line (spec.md §6), written in block-iteration
// order.
type BlockRow struct {
	Type                string `json:"type"`
	Block               uint64 `json:"block"`
	Timestamp           int64  `json:"timestamp"`
	ScanLatencyMs       int64  `json:"scanLatencyMs"`
	Candidates          int    `json:"candidates"`
	NewDetections       int    `json:"newDetections"`
	OnChainLiquidations int    `json:"onChainLiquidations"`
	Missed              int    `json:"missed"`
	Detected            int    `json:"detected"`
	FalsePositives      int    `json:"falsePositives"`
}

// Classification categorizes one tracked user's final replay outcome.
type Classification string

const (
	ClassDetected      Classification = "detected"
	ClassMissed        Classification = "missed"
	ClassFalsePositive Classification = "false_positive"
	ClassPending       Classification = "pending"
)

// CandidateRow is one candidates.jsonl line (spec.md §6), written sorted by
// user.
type CandidateRow struct {
	Type                string         `json:"type"`
	Block               uint64         `json:"block"`
	User                string         `json:"user"`
	HF                  float64        `json:"hf"`
	DebtUSD             float64        `json:"debtUSD"`
	CollateralUSD       float64        `json:"collateralUSD"`
	DetectionProfitUSD  float64        `json:"detectionProfitUSD"`
	EventProfitUSD      float64        `json:"eventProfitUSD"`
	FirstDetectionBlock uint64         `json:"firstDetectionBlock,omitempty"`
	LiquidationBlock    uint64         `json:"liquidationBlock,omitempty"`
	LeadBlocks          int64          `json:"leadBlocks,omitempty"`
	Classification      Classification `json:"classification"`
	SimulationStatus    string         `json:"simulationStatus"`
	RevertReason        string         `json:"revertReason,omitempty"`
	RaceViable          bool           `json:"raceViable"`
	HFAtDetection       float64        `json:"hfAtDetection,omitempty"`
	HFAtLiquidation     float64        `json:"hfAtLiquidation,omitempty"`
}

// SummaryRow is the single summary.jsonl line (spec.md §6).
type SummaryRow struct {
	Type                    string  `json:"type"`
	GroundTruthCount        int     `json:"groundTruthCount"`
	Detected                int     `json:"detected"`
	Missed                  int     `json:"missed"`
	FalsePositives          int     `json:"falsePositives"`
	Pending                 int     `json:"pending"`
	CoverageRatio           float64 `json:"coverageRatio"`
	MedianLeadBlocks        float64 `json:"medianLeadBlocks"`
	AvgLeadBlocks           float64 `json:"avgLeadBlocks"`
	TotalDetectionProfitUSD float64 `json:"totalDetectionProfitUsd"`
	TotalEventProfitUSD     float64 `json:"totalEventProfitUsd"`
	DurationMs              int64   `json:"durationMs"`
	GroundTruthAvailable    bool    `json:"groundTruthAvailable"`
	Partial                 bool    `json:"partial"`
}

// Reporter emits the three JSONL artifacts replay runs produce.
type Reporter struct {
	blocks     *jsonlog.Writer
	candidates *jsonlog.Writer
	summary    *jsonlog.Writer
}

// NewReporter creates outputDir (if needed) and opens blocks.jsonl,
// candidates.jsonl, and summary.jsonl inside it.
func NewReporter(outputDir string) (*Reporter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create output dir %s: %w", outputDir, err)
	}

	blocks, err := jsonlog.Create(filepath.Join(outputDir, "blocks.jsonl"))
	if err != nil {
		return nil, err
	}
	candidates, err := jsonlog.Create(filepath.Join(outputDir, "candidates.jsonl"))
	if err != nil {
		return nil, err
	}
	summary, err := jsonlog.Create(filepath.Join(outputDir, "summary.jsonl"))
	if err != nil {
		return nil, err
	}

	return &Reporter{blocks: blocks, candidates: candidates, summary: summary}, nil
}

// WriteBlock appends one blocks.jsonl row.
func (r *Reporter) WriteBlock(row BlockRow) error {
	row.Type = "block"
	return r.blocks.WriteLine(row)
}

// WriteCandidate appends one candidates.jsonl row.
func (r *Reporter) WriteCandidate(row CandidateRow) error {
	row.Type = "candidate"
	return r.candidates.WriteLine(row)
}

// WriteSummary appends the single summary.jsonl row.
func (r *Reporter) WriteSummary(row SummaryRow) error {
	row.Type = "summary"
	return r.summary.WriteLine(row)
}

// Close closes all three underlying files.
func (r *Reporter) Close() error {
	for _, err := range []error{r.blocks.Close(), r.candidates.Close(), r.summary.Close()} {
		if err != nil {
			return err
		}
	}
	return nil
}
