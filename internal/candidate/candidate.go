// Package candidate maintains the active borrower universe (CandidateSet)
// and the bounded, priority-ordered near-threshold Hotlist.
package candidate

import (
	"math"
	"sort"
	"sync"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// EntryReason records why a Candidate first entered the set.
type EntryReason string

const (
	ReasonGroundTruth       EntryReason = "ground_truth"
	ReasonBorrowEvent       EntryReason = "borrow_event"
	ReasonHotlistPromotion  EntryReason = "hotlist_promotion"
	ReasonReplaySeed        EntryReason = "replay_seed"
)

// Candidate is one borrower's membership record in the active universe.
type Candidate struct {
	Address               string
	LastHF                float64
	LastBlock             uint64
	ConsecutiveHighHFCount int
	EntryReason           EntryReason
}

// Set is a keyed store of Candidates bounded by maxAccounts.
type Set struct {
	evictHF          float64
	evictConsecutive int
	nearHF           float64
	maxAccounts      int

	mu       sync.RWMutex
	entries  map[string]*Candidate
	order    []string // insertion order, for deterministic overflow drop
}

// NewSet builds a Set with the eviction/near-threshold thresholds from
// spec.md §4.F.
func NewSet(evictHF float64, evictConsecutive int, nearHF float64, maxAccounts int) *Set {
	return &Set{
		evictHF:          evictHF,
		evictConsecutive: evictConsecutive,
		nearHF:           nearHF,
		maxAccounts:      maxAccounts,
		entries:          make(map[string]*Candidate),
	}
}

// Upsert inserts or updates a candidate. New entries beyond maxAccounts are
// dropped in deterministic insertion order (the newest is rejected). A new
// entry starts with a zero ConsecutiveHighHFCount; only later Upserts of an
// existing entry count as scans toward eviction.
func (s *Set) Upsert(address string, hf float64, block uint64, reason EntryReason) bool {
	key := addrnorm.Normalize(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		existing.LastHF = hf
		existing.LastBlock = block
		if hf >= s.evictHF {
			existing.ConsecutiveHighHFCount++
		} else {
			existing.ConsecutiveHighHFCount = 0
		}
		return true
	}

	if len(s.entries) >= s.maxAccounts {
		return false
	}

	s.entries[key] = &Candidate{
		Address:     key,
		LastHF:      hf,
		LastBlock:   block,
		EntryReason: reason,
	}
	s.order = append(s.order, key)
	return true
}

// Evict removes candidates that have had HF >= evictHF for evictConsecutive
// scans, skipping any whose HF is below nearHF (never evicted). Returns the
// evicted addresses.
func (s *Set) Evict() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for key, c := range s.entries {
		if c.LastHF < s.nearHF {
			continue
		}
		if c.ConsecutiveHighHFCount >= s.evictConsecutive {
			evicted = append(evicted, key)
			delete(s.entries, key)
		}
	}
	if len(evicted) > 0 {
		s.order = removeAll(s.order, evicted)
	}
	return evicted
}

// Remove unconditionally drops address (used by higher-priority pressure).
func (s *Set) Remove(address string) {
	key := addrnorm.Normalize(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	s.order = removeAll(s.order, []string{key})
}

// Get returns a copy of the candidate for address, if present.
func (s *Set) Get(address string) (Candidate, bool) {
	key := addrnorm.Normalize(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[key]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// Len reports the number of candidates currently tracked.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns a copy of every tracked candidate in insertion order, used by
// the replay controller to fetch the active universe for a block's batch
// verification.
func (s *Set) All() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candidate, 0, len(s.order))
	for _, key := range s.order {
		if c, ok := s.entries[key]; ok {
			out = append(out, *c)
		}
	}
	return out
}

func removeAll(order []string, drop []string) []string {
	dropSet := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		dropSet[d] = struct{}{}
	}
	out := order[:0:0]
	for _, k := range order {
		if _, gone := dropSet[k]; !gone {
			out = append(out, k)
		}
	}
	return out
}

// HotlistEntry is a Hotlist row with its computed priority score.
type HotlistEntry struct {
	Address   string
	HF        float64
	DebtUSD   float64
	Priority  float64
	LastCheck int64 // unix seconds
}

// Weights are the priority-formula coefficients from spec.md §3.
type Weights struct {
	W1HFDeficit   float64
	W2ProjDeficit float64
	W3LogDebt     float64
}

// DefaultWeights matches spec.md §3's hotlist priority formula.
var DefaultWeights = Weights{W1HFDeficit: 1.0, W2ProjDeficit: 1.0, W3LogDebt: 0.1}

func priority(w Weights, hf, projHF, debtUSD float64) float64 {
	term1 := w.W1HFDeficit * (1.0015 - hf)
	projDeficit := hf - projHF
	if projDeficit < 0 {
		projDeficit = 0
	}
	term2 := w.W2ProjDeficit * projDeficit
	term3 := w.W3LogDebt * math.Log10(math.Max(1, debtUSD))
	return term1 + term2 + term3
}

// Hotlist holds at most maxEntries near-threshold candidates ordered by
// priority.
type Hotlist struct {
	minHF, maxHF, minDebtUSD float64
	maxEntries               int
	weights                  Weights

	mu      sync.RWMutex
	entries map[string]*HotlistEntry
}

// NewHotlist builds a Hotlist with the acceptance window and capacity from
// spec.md §4.F.
func NewHotlist(minHF, maxHF, minDebtUSD float64, maxEntries int, weights Weights) *Hotlist {
	return &Hotlist{
		minHF:      minHF,
		maxHF:      maxHF,
		minDebtUSD: minDebtUSD,
		maxEntries: maxEntries,
		weights:    weights,
		entries:    make(map[string]*HotlistEntry),
	}
}

// Consider accepts or updates an entry if HF∈[minHF,maxHF] and
// debtUSD≥minDebtUSD, subject to capacity: when full, a new entry is
// rejected unless its priority exceeds the current minimum, in which case
// the minimum is evicted. projHF is the predicted HF used for the priority
// formula's second term.
func (h *Hotlist) Consider(address string, hf, projHF, debtUSD float64, nowUnix int64) bool {
	key := addrnorm.Normalize(address)

	h.mu.Lock()
	defer h.mu.Unlock()

	if hf < h.minHF || hf > h.maxHF || debtUSD < h.minDebtUSD {
		if _, exists := h.entries[key]; exists {
			delete(h.entries, key)
		}
		return false
	}

	score := priority(h.weights, hf, projHF, debtUSD)
	entry := &HotlistEntry{Address: key, HF: hf, DebtUSD: debtUSD, Priority: score, LastCheck: nowUnix}

	if _, exists := h.entries[key]; exists {
		h.entries[key] = entry
		return true
	}

	if len(h.entries) < h.maxEntries {
		h.entries[key] = entry
		return true
	}

	minKey, minEntry := h.findMin()
	if score <= minEntry.Priority {
		return false
	}
	delete(h.entries, minKey)
	h.entries[key] = entry
	return true
}

func (h *Hotlist) findMin() (string, *HotlistEntry) {
	var minKey string
	var minEntry *HotlistEntry
	for k, e := range h.entries {
		if minEntry == nil || e.Priority < minEntry.Priority {
			minKey, minEntry = k, e
		}
	}
	return minKey, minEntry
}

// Remove drops address from the hotlist, e.g. once it has been liquidated
// or otherwise no longer warrants priority revisits.
func (h *Hotlist) Remove(address string) {
	key := addrnorm.Normalize(address)

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, key)
}

// Len reports the current Hotlist size.
func (h *Hotlist) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// GetNeedingRevisit returns entries whose LastCheck is at least ageSec old.
func (h *Hotlist) GetNeedingRevisit(ageSec int64, nowUnix int64) []HotlistEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []HotlistEntry
	for _, e := range h.entries {
		if nowUnix-e.LastCheck >= ageSec {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Snapshot returns all entries ordered by descending priority.
func (h *Hotlist) Snapshot() []HotlistEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HotlistEntry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
