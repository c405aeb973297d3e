// Package sweep implements PrioritySweepRunner: a single-flight-per-interval
// paginated subgraph scan that re-scores the candidate universe and
// publishes a bounded, versioned PrioritySet snapshot.
package sweep

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// SubgraphUser is one paginated subgraph borrower row.
type SubgraphUser struct {
	Address       string
	DebtUSD       float64
	CollateralUSD float64
	HF            float64
}

// Page is one page of the subgraph's paginated user listing.
type Page struct {
	Users   []SubgraphUser
	HasMore bool
}

// UserLister pages through subgraph users with borrowedReservesCount>0.
type UserLister interface {
	ListUsers(ctx context.Context, pageSize int, cursor string) (Page, string, error)
}

// Weights are the sweep-specific scoring coefficients (spec.md §4.H refers
// back to §3's formula "but with sweep weights").
type Weights struct {
	Debt       float64
	Collateral float64
	HFPenalty  float64
	HFCeiling  float64
	LowHFBoost float64
}

func score(w Weights, u SubgraphUser) float64 {
	s := w.Debt*math.Log10(math.Max(1, u.DebtUSD)) + w.Collateral*math.Log10(math.Max(1, u.CollateralUSD))
	if u.HF < 1.5 {
		s += w.HFPenalty * (1.5 - u.HF)
	}
	if u.HF < 1.05 {
		s += w.LowHFBoost
	}
	if u.HF > 3 {
		s -= w.HFCeiling
	}
	return s
}

type scoredUser struct {
	addr  string
	score float64
}

type minHeap []scoredUser

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scoredUser)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PrioritySet is an immutable, versioned snapshot of the top-N scored
// users.
type PrioritySet struct {
	Version     uint64
	GeneratedAt time.Time
	Users       []string
	Stats       Stats
}

// Stats summarizes one sweep run.
type Stats struct {
	ScannedUsers int
	KeptUsers    int
	Aborted      bool
}

// Runner periodically re-scores the candidate universe.
type Runner struct {
	lister           UserLister
	weights          Weights
	targetSize       int
	maxScanUsers     int
	pageSize         int
	interRequestDelay time.Duration
	timeout          time.Duration
	minDebtUSD       float64
	minCollateralUSD float64

	group   singleflight.Group
	mu      sync.RWMutex
	version uint64
	latest  *PrioritySet

	errorCount int64
}

// Config bundles Runner construction parameters.
type Config struct {
	TargetSize        int
	MaxScanUsers      int
	PageSize          int
	InterRequestDelay time.Duration
	Timeout           time.Duration
	MinDebtUSD        float64
	MinCollateralUSD  float64
	Weights           Weights
}

// NewRunner builds a Runner.
func NewRunner(lister UserLister, cfg Config) *Runner {
	return &Runner{
		lister:            lister,
		weights:           cfg.Weights,
		targetSize:        cfg.TargetSize,
		maxScanUsers:      cfg.MaxScanUsers,
		pageSize:          cfg.PageSize,
		interRequestDelay: cfg.InterRequestDelay,
		timeout:           cfg.Timeout,
		minDebtUSD:        cfg.MinDebtUSD,
		minCollateralUSD:  cfg.MinCollateralUSD,
	}
}

// Run executes one sweep, suppressing overlapping runs via single-flight.
// On network error, the prior snapshot remains latest and the error
// counter increments.
func (r *Runner) Run(ctx context.Context) (*PrioritySet, error) {
	v, err, _ := r.group.Do("sweep", func() (interface{}, error) {
		return r.runOnce(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PrioritySet), nil
}

func (r *Runner) runOnce(ctx context.Context) (*PrioritySet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	h := &minHeap{}
	heap.Init(h)

	scanned := 0
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			atomic.AddInt64(&r.errorCount, 1)
			return r.latestLocked(), fmt.Errorf("sweep: %w", ctx.Err())
		default:
		}

		page, nextCursor, err := r.lister.ListUsers(ctx, r.pageSize, cursor)
		if err != nil {
			atomic.AddInt64(&r.errorCount, 1)
			return r.latestLocked(), fmt.Errorf("sweep: list users: %w", err)
		}

		for _, u := range page.Users {
			scanned++
			if u.DebtUSD < r.minDebtUSD && u.CollateralUSD < r.minCollateralUSD {
				continue
			}
			su := scoredUser{addr: addrnorm.Normalize(u.Address), score: score(r.weights, u)}
			if h.Len() < r.targetSize {
				heap.Push(h, su)
			} else if h.Len() > 0 && su.score > (*h)[0].score {
				heap.Pop(h)
				heap.Push(h, su)
			}
		}

		if !page.HasMore || scanned >= r.maxScanUsers {
			break
		}
		cursor = nextCursor

		if r.interRequestDelay > 0 {
			select {
			case <-time.After(r.interRequestDelay):
			case <-ctx.Done():
				atomic.AddInt64(&r.errorCount, 1)
				return r.latestLocked(), fmt.Errorf("sweep: %w", ctx.Err())
			}
		}
	}

	users := make([]string, h.Len())
	for i := len(users) - 1; i >= 0; i-- {
		users[i] = heap.Pop(h).(scoredUser).addr
	}

	r.mu.Lock()
	r.version++
	snapshot := &PrioritySet{
		Version:     r.version,
		GeneratedAt: time.Now(),
		Users:       users,
		Stats:       Stats{ScannedUsers: scanned, KeptUsers: len(users)},
	}
	r.latest = snapshot
	r.mu.Unlock()

	return snapshot, nil
}

func (r *Runner) latestLocked() *PrioritySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Latest returns the most recently published snapshot, or nil before the
// first successful run.
func (r *Runner) Latest() *PrioritySet {
	return r.latestLocked()
}

// ErrorCount reports the cumulative sweep failure counter.
func (r *Runner) ErrorCount() int64 {
	return atomic.LoadInt64(&r.errorCount)
}
