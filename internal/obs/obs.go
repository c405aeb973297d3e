// Package obs provides the engine's observability primitives: a structured
// logger built once in cmd/ and threaded through every component constructor
// (the teacher injects its TxListener/ContractClient map the same way rather
// than reaching for globals), plus the out-of-scope metrics sink interface
// from spec.md §1 ("Metrics registry... treated as a sink of named counters
// and histograms").
package obs

import (
	"go.uber.org/zap"
)

// NewLogger builds the engine's production logger. cmd/ calls this once and
// passes the result (or a .Named/.With derivative) to every component.
func NewLogger(serviceName, environment string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Recorder is the metrics sink interface components call into. Its
// implementation (a running registry/exporter) is out of scope per spec.md
// §1; only this interface and a thin prometheus-backed adapter are provided.
type Recorder interface {
	Inc(name string, tags ...string)
	Observe(name string, v float64, tags ...string)
}

// NoopRecorder discards everything; used where no Recorder is configured.
type NoopRecorder struct{}

func (NoopRecorder) Inc(name string, tags ...string)            {}
func (NoopRecorder) Observe(name string, v float64, tags ...string) {}
