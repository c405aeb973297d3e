// Package realtime implements RealTimeHFService: the single-thread
// cooperative scheduler that reacts to chain heads, reserve-index updates,
// Chainlink price feeds, and liquidation events, dispatching admission-
// controlled verification scans and emitting liquidatable events downstream.
package realtime

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
	"github.com/onyxlabs/liqsentinel/internal/cache"
	"github.com/onyxlabs/liqsentinel/internal/candidate"
	"github.com/onyxlabs/liqsentinel/internal/reserveindex"
	"github.com/onyxlabs/liqsentinel/internal/scanreg"
	"github.com/onyxlabs/liqsentinel/internal/verify"
)

// Event is what the service emits on its output channel: liquidatable
// results, skip and scan-error telemetry, and pending-transmit notices; the
// executor consumes the channel, never called directly (spec.md §4.J, "it
// does not call the executor directly").
type Event struct {
	Kind      string // "liquidatable", "skipped_small_delta", "scan_error", "transmit"
	User      string
	HF        float64
	BlockTag  uint64
	Trigger   verify.TriggerType
}

// PriceFeedState tracks a Chainlink feed's last-seen answer for debounced
// trigger detection.
type priceFeedState struct {
	baseline     float64
	lastAnswer   float64
	lastTriggerAt time.Time
}

// Config bundles RealTimeHFService tunables (spec.md §6).
type Config struct {
	PriceTriggerDropBps     int
	PriceTriggerDebounce    time.Duration
	PriceTriggerCumulative  bool
	PriceTriggerMaxScan     int
	IndexJumpBpsTrigger     int
	ChunkTimeout            time.Duration
	ChunkRetryAttempts      int
	RunStallAbort           time.Duration
	// HeadScanRevisitSec bounds how stale a hotlist entry may get before a
	// new block head forces a fresh head_critical verification of it.
	HeadScanRevisitSec int64
}

// Service is the RealTimeHFService scheduler.
type Service struct {
	cfg        Config
	candidates *candidate.Set
	hotlist    *candidate.Hotlist
	scanRegistry *scanreg.Registry
	verifier   *verify.Verifier
	tracker    *reserveindex.Tracker
	predictor  *reserveindex.Predictor
	microCache *cache.MicroVerifyCache

	events chan Event

	mu          sync.Mutex
	currentBlock uint64
	feeds        map[string]*priceFeedState
}

// NewService wires RealTimeHFService's collaborators.
func NewService(
	cfg Config,
	candidates *candidate.Set,
	hotlist *candidate.Hotlist,
	scanRegistry *scanreg.Registry,
	verifier *verify.Verifier,
	tracker *reserveindex.Tracker,
	predictor *reserveindex.Predictor,
	microCache *cache.MicroVerifyCache,
) *Service {
	return &Service{
		cfg:          cfg,
		candidates:   candidates,
		hotlist:      hotlist,
		scanRegistry: scanRegistry,
		verifier:     verifier,
		tracker:      tracker,
		predictor:    predictor,
		microCache:   microCache,
		events:       make(chan Event, 1024),
		feeds:        make(map[string]*priceFeedState),
	}
}

// Events returns the channel downstream components consume.
func (s *Service) Events() <-chan Event { return s.events }

// OnNewHead advances currentBlock for all caches, refreshes the hotlist
// revisit list, and schedules a head-scan for any entry stale enough that a
// predicted-critical HF could have gone unnoticed since its last check.
func (s *Service) OnNewHead(ctx context.Context, block uint64) {
	s.mu.Lock()
	s.currentBlock = block
	s.mu.Unlock()

	s.microCache.AdvanceBlock(block)
	s.scanRegistry.Cleanup()

	if s.hotlist == nil || s.cfg.HeadScanRevisitSec <= 0 {
		return
	}
	due := s.hotlist.GetNeedingRevisit(s.cfg.HeadScanRevisitSec, time.Now().Unix())
	for _, entry := range due {
		if !s.predictor.PredictedCritical(entry.HF, 0, 0) && entry.HF >= 1.0 {
			continue
		}
		s.dispatchScan(ctx, verify.TriggerHeadCritical, "", entry.Address, block)
	}
}

// OnReserveDataUpdated handles an Aave ReserveDataUpdated event: updates the
// index tracker and, if the max bps-delta crosses threshold, dispatches a
// reserve_fast scan for every affected borrower.
func (s *Service) OnReserveDataUpdated(ctx context.Context, reserve string, liquidityIndex, variableBorrowIndex *big.Int, borrowers []string, blockTag uint64) {
	delta := s.tracker.Update(reserve, liquidityIndex, variableBorrowIndex)
	if delta.SkipRecheck {
		s.emit(Event{Kind: "skipped_small_delta", BlockTag: blockTag})
		return
	}

	for _, user := range borrowers {
		s.dispatchScan(ctx, verify.TriggerReserveFast, addrnorm.Normalize(reserve), user, blockTag)
	}
}

// OnPriceUpdate handles a Chainlink AnswerUpdated/NewTransmission event.
// Trigger fires when dropBps >= priceTriggerDropBps AND the debounce window
// has elapsed; delta mode compares against lastAnswer, cumulative mode
// against baseline (reset on trigger).
func (s *Service) OnPriceUpdate(ctx context.Context, feedAddress string, newAnswer float64, blockTag uint64, affectedUsers []string) {
	key := addrnorm.Normalize(feedAddress)

	s.mu.Lock()
	state, ok := s.feeds[key]
	if !ok {
		state = &priceFeedState{baseline: newAnswer, lastAnswer: newAnswer}
		s.feeds[key] = state
		s.mu.Unlock()
		return
	}

	reference := state.lastAnswer
	if s.cfg.PriceTriggerCumulative {
		reference = state.baseline
	}
	dropBps := dropBps(reference, newAnswer)
	elapsed := time.Since(state.lastTriggerAt)
	state.lastAnswer = newAnswer
	trigger := dropBps >= s.cfg.PriceTriggerDropBps && elapsed >= s.cfg.PriceTriggerDebounce
	if trigger {
		state.lastTriggerAt = time.Now()
		if s.cfg.PriceTriggerCumulative {
			state.baseline = newAnswer
		}
	}
	s.mu.Unlock()

	if !trigger {
		return
	}
	scanned := 0
	for _, user := range affectedUsers {
		if s.cfg.PriceTriggerMaxScan > 0 && scanned >= s.cfg.PriceTriggerMaxScan {
			break
		}
		s.dispatchScan(ctx, verify.TriggerPriceShock, key, user, blockTag)
		scanned++
	}
}

// OnPendingTransmit handles a mempool-observed Chainlink transmit() call
// targeting a watched aggregator. Per spec.md's open question on OCR2
// report decoding, this defaults to timing-only: it emits a "transmit"
// event immediately so downstream pre-scanning can react to the fact that
// an update is imminent, without attempting to decode the report's answer.
func (s *Service) OnPendingTransmit(feedAddress string, seenAt time.Time) {
	s.emit(Event{Kind: "transmit", User: addrnorm.Normalize(feedAddress), BlockTag: s.currentBlockSnapshot()})
}

func (s *Service) currentBlockSnapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBlock
}

func dropBps(old, newVal float64) int {
	if old <= 0 {
		return 0
	}
	delta := (old - newVal) / old * 10000
	if delta < 0 {
		return 0
	}
	return int(delta)
}

// OnLiquidationSeen refreshes the impacted user and co-borrowers on the
// affected reserves.
func (s *Service) OnLiquidationSeen(ctx context.Context, user string, coBorrowers []string, blockTag uint64) {
	s.dispatchScan(ctx, verify.TriggerLiquidationRefresh, "", user, blockTag)
	for _, co := range coBorrowers {
		s.dispatchScan(ctx, verify.TriggerLiquidationRefresh, "", co, blockTag)
	}
}

// dispatchScan acquires a ScanRegistry admission slot for (trigger,
// scanKey|user, blockTag) and, if granted, verifies the user's HF, emitting
// "liquidatable" for HF<1 results.
func (s *Service) dispatchScan(ctx context.Context, trigger verify.TriggerType, scanKey, user string, blockTag uint64) {
	regKey := scanreg.Key{TriggerType: string(trigger), ScanKey: scanKey + "|" + addrnorm.Normalize(user), BlockTag: blockTag}
	if !s.scanRegistry.Acquire(regKey) {
		return
	}
	defer s.scanRegistry.Release(regKey)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	defer cancel()

	var snap, lastErr = s.verifyWithRetry(ctx, user, blockTag, trigger)
	if lastErr != nil {
		s.emit(Event{Kind: "scan_error", User: user, BlockTag: blockTag, Trigger: trigger})
		return
	}

	if snap.HF < 1.0 {
		s.emit(Event{Kind: "liquidatable", User: user, HF: snap.HF, BlockTag: blockTag, Trigger: trigger})
	}
}

func (s *Service) verifyWithRetry(ctx context.Context, user string, blockTag uint64, trigger verify.TriggerType) (cache.HFSnapshot, error) {
	var snap cache.HFSnapshot
	var err error
	attempts := s.cfg.ChunkRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		snap, err = s.verifier.Verify(ctx, user, blockTag, trigger)
		if err == nil {
			return snap, nil
		}
	}
	return cache.HFSnapshot{}, fmt.Errorf("realtime: verify exhausted retries: %w", err)
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// downstream is behind; drop rather than block the scheduler.
	}
}
