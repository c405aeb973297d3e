package obs

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder against a prometheus.Registerer. It
// lazily creates one CounterVec/HistogramVec per metric name the first time
// it's used, since the engine calls Inc/Observe with names decided at each
// call site (trigger type, miss reason, etc.) rather than a fixed list known
// up front.
type PrometheusRecorder struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusRecorder wraps a registerer (typically prometheus.DefaultRegisterer).
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusRecorder) Inc(name string, tags ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(len(tags)))
		p.reg.MustRegister(c)
		p.counters[name] = c
	}
	c.WithLabelValues(tags...).Inc()
}

func (p *PrometheusRecorder) Observe(name string, v float64, tags ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(len(tags)))
		p.reg.MustRegister(h)
		p.histograms[name] = h
	}
	h.WithLabelValues(tags...).Observe(v)
}

func labelNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "tag" + strconv.Itoa(i)
	}
	return names
}
