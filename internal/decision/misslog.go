package decision

import (
	"time"

	"github.com/onyxlabs/liqsentinel/internal/jsonlog"
)

// MissRow is the single structured JSON line MissRowLogger emits per
// observed liquidation (spec.md §4.O): thresholds, the competitor's tx, and
// the computed detection/send latencies.
type MissRow struct {
	Type               string     `json:"type"`
	User               string     `json:"user"`
	LiquidationTxHash  string     `json:"liquidationTxHash"`
	Liquidator         string     `json:"liquidator"`
	EventTs            time.Time  `json:"eventTs"`
	Reason             MissReason `json:"reason"`
	Transient          bool       `json:"transient,omitempty"`
	FirstDetectionTs   *time.Time `json:"firstDetectionTs,omitempty"`
	DetectionLatencyMs int64      `json:"detectionLatencyMs,omitempty"`
	SendLatencyMs      int64      `json:"sendLatencyMs,omitempty"`
	HFAtDecision       float64    `json:"hfAtDecision,omitempty"`
	GasPriceGwei       float64    `json:"gasPriceGwei,omitempty"`
	GasThresholdGwei   float64    `json:"gasThresholdGwei,omitempty"`
	EstProfitUSD       float64    `json:"estProfitUsd,omitempty"`
}

// RowLogger writes one MissRow per line to a JSONL sink.
type RowLogger struct {
	w *jsonlog.Writer
}

// NewRowLogger builds a RowLogger over an already-opened jsonlog.Writer.
func NewRowLogger(w *jsonlog.Writer) *RowLogger {
	return &RowLogger{w: w}
}

// LogMiss appends one observed-liquidation row.
func (l *RowLogger) LogMiss(row MissRow) error {
	row.Type = "miss"
	return l.w.WriteLine(row)
}
