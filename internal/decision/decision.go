// Package decision implements the DecisionTraceStore, the MissClassifier's
// ordered reason rules, and the MissRowLogger, per spec.md §4.O.
package decision

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// Action is what the engine decided to do about an opportunity.
type Action string

const (
	ActionAttempt Action = "attempt"
	ActionSkip    Action = "skip"
	ActionRevert  Action = "revert"
)

// Trace is one recorded decision, per spec.md §3.
type Trace struct {
	User             string
	Ts               time.Time
	Action           Action
	Reason           string
	HFAtDecision     float64
	HFPrevBlock      float64
	EstDebtUSD       float64
	EstProfitUSD     float64
	GasPriceGwei     float64
	GasThresholdGwei float64
	HeadLagBlocks    int
	Thresholds       map[string]float64
	AttemptMeta      map[string]string
}

// Store holds DecisionTraces keyed by user, retained for at least
// retainFor (spec.md §3, "T_trace seconds").
type Store struct {
	retainFor time.Duration

	mu     sync.Mutex
	byUser map[string][]Trace // ascending by Ts
}

// NewStore builds a Store retaining traces for retainFor.
func NewStore(retainFor time.Duration) *Store {
	return &Store{retainFor: retainFor, byUser: make(map[string][]Trace)}
}

// Record appends a trace, keeping each user's traces sorted by timestamp.
func (s *Store) Record(t Trace) {
	key := addrnorm.Normalize(t.User)
	t.User = key

	s.mu.Lock()
	defer s.mu.Unlock()
	traces := s.byUser[key]
	idx := sort.Search(len(traces), func(i int) bool { return traces[i].Ts.After(t.Ts) })
	traces = append(traces, Trace{})
	copy(traces[idx+1:], traces[idx:])
	traces[idx] = t
	s.byUser[key] = traces
}

// FindDecision returns the most recent trace for user within window before
// eventTs (spec.md §4.O: "most recent trace within window W, default 10s
// before event").
func (s *Store) FindDecision(user string, eventTs time.Time, window time.Duration) (Trace, bool) {
	key := addrnorm.Normalize(user)
	lower := eventTs.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	traces := s.byUser[key]
	for i := len(traces) - 1; i >= 0; i-- {
		t := traces[i]
		if t.Ts.After(eventTs) {
			continue
		}
		if t.Ts.Before(lower) {
			break
		}
		return t, true
	}
	return Trace{}, false
}

// Prune drops traces older than retainFor relative to now, bounding memory.
func (s *Store) Prune(now time.Time) {
	cutoff := now.Add(-s.retainFor)

	s.mu.Lock()
	defer s.mu.Unlock()
	for user, traces := range s.byUser {
		i := 0
		for i < len(traces) && traces[i].Ts.Before(cutoff) {
			i++
		}
		if i == len(traces) {
			delete(s.byUser, user)
			continue
		}
		if i > 0 {
			s.byUser[user] = append([]Trace(nil), traces[i:]...)
		}
	}
}

// MissReason enumerates the classifier's output tags (spec.md §3/§4.O).
type MissReason string

const (
	ReasonNotInWatchSet      MissReason = "not_in_watch_set"
	ReasonRaced              MissReason = "raced"
	ReasonLateDetection      MissReason = "late_detection"
	ReasonLateSend           MissReason = "late_send"
	ReasonHFTransient        MissReason = "hf_transient"
	ReasonInsufficientProfit MissReason = "insufficient_profit"
	ReasonExecutionFiltered  MissReason = "execution_filtered"
	ReasonRevert             MissReason = "revert"
	ReasonGasOutbid          MissReason = "gas_outbid"
	ReasonOracleJitter       MissReason = "oracle_jitter"
	ReasonUnknown            MissReason = "unknown"
)

// ClassifyInput bundles everything MissClassifier's ordered rules need.
type ClassifyInput struct {
	LiquidatorIsUs   bool
	InWatchSet       bool
	PriorHFBelowOne  bool
	BlocksSinceSeen  int
	TransientBlocks  int
	GasThresholdGwei float64
	Decision         *Trace // nil when no decision was found within the window
}

// ClassifyResult is the classifier's verdict. Transient annotates a
// late_send verdict whose BlocksSinceSeen is within TransientBlocks
// (spec.md §4.O rule 4).
type ClassifyResult struct {
	Reason    MissReason
	Transient bool
}

// Classify applies spec.md §4.O's ordered rules to produce a MissReason.
func Classify(in ClassifyInput) ClassifyResult {
	if in.LiquidatorIsUs {
		return ClassifyResult{Reason: ReasonRaced}
	}
	if !in.InWatchSet {
		return ClassifyResult{Reason: ReasonNotInWatchSet}
	}
	if in.Decision == nil {
		if !in.PriorHFBelowOne {
			return ClassifyResult{Reason: ReasonLateDetection}
		}
		return ClassifyResult{Reason: ReasonLateSend, Transient: in.BlocksSinceSeen <= in.TransientBlocks}
	}

	d := in.Decision
	switch d.Action {
	case ActionRevert:
		return ClassifyResult{Reason: ReasonRevert}
	case ActionSkip:
		if isGasRelated(d.Reason) && d.GasPriceGwei < in.GasThresholdGwei {
			return ClassifyResult{Reason: ReasonGasOutbid}
		}
		if isProfitRelated(d.Reason) {
			return ClassifyResult{Reason: ReasonInsufficientProfit}
		}
		return ClassifyResult{Reason: ReasonExecutionFiltered}
	case ActionAttempt:
		if d.GasPriceGwei < in.GasThresholdGwei {
			return ClassifyResult{Reason: ReasonGasOutbid}
		}
		return ClassifyResult{Reason: ReasonRaced}
	default:
		return ClassifyResult{Reason: ReasonUnknown}
	}
}

func isGasRelated(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "gas")
}

func isProfitRelated(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "profit")
}
