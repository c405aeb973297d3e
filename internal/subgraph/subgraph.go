// Package subgraph implements SubgraphPoller and LiquidationTracker
// (spec.md §4.Q): polling for newly observed on-chain liquidations and
// diffing them against a bounded, already-seen set. The GraphQL client
// itself, its auth, and its backoff wrapper are out of scope (spec.md §1);
// this package depends only on the narrow Lister/Resolver interfaces below.
package subgraph

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// LiquidationEvent mirrors the entity from spec.md §3, unique by ID.
type LiquidationEvent struct {
	ID                string
	Timestamp         time.Time
	User              string
	Liquidator        string
	PrincipalReserve   string
	CollateralReserve string
	PrincipalAmount   string
	CollateralAmount  string
	TxHash            string
	ResolvedHF        float64 // best-effort, filled in by an attached HFResolver
}

// Lister fetches the most recent liquidationCalls from the subgraph.
type Lister interface {
	ListRecentLiquidations(ctx context.Context, limit int) ([]LiquidationEvent, error)
}

// HFResolver performs on-demand, best-effort HF resolution for a single
// user (spec.md §4.Q: "errors logged, never block").
type HFResolver interface {
	ResolveHF(ctx context.Context, user string) (float64, error)
}

// Tracker maintains a FIFO-bounded set of already-seen liquidation IDs.
type Tracker struct {
	maxTrack int

	mu    sync.Mutex
	seen  map[string]*list.Element
	order *list.List // front = most recently seen
}

// NewTracker builds a Tracker bounded to maxTrack entries.
func NewTracker(maxTrack int) *Tracker {
	if maxTrack <= 0 {
		maxTrack = 10000
	}
	return &Tracker{maxTrack: maxTrack, seen: make(map[string]*list.Element), order: list.New()}
}

// Diff returns the subset of events not previously seen, recording them as
// seen (evicting the oldest entries on overflow).
func (t *Tracker) Diff(events []LiquidationEvent) []LiquidationEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var novel []LiquidationEvent
	for _, e := range events {
		if _, ok := t.seen[e.ID]; ok {
			continue
		}
		novel = append(novel, e)
		elem := t.order.PushFront(e.ID)
		t.seen[e.ID] = elem

		if t.order.Len() > t.maxTrack {
			oldest := t.order.Back()
			if oldest != nil {
				t.order.Remove(oldest)
				delete(t.seen, oldest.Value.(string))
			}
		}
	}
	return novel
}

// Len reports the tracker's current tracked-ID count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Poller ticks on an interval, fetching recent liquidations and notifying
// subscribers of both every snapshot and only the novel subset.
type Poller struct {
	lister     Lister
	tracker    *Tracker
	hfResolver HFResolver
	interval   time.Duration
	pollLimit  int

	onLiquidations    func([]LiquidationEvent)
	onNewLiquidations func([]LiquidationEvent)
}

// Option configures a Poller.
type Option func(*Poller)

// WithHFResolver attaches a best-effort per-user HF resolver for novel
// events.
func WithHFResolver(r HFResolver) Option {
	return func(p *Poller) { p.hfResolver = r }
}

// OnLiquidations subscribes fn to every poll's full snapshot.
func OnLiquidations(fn func([]LiquidationEvent)) Option {
	return func(p *Poller) { p.onLiquidations = fn }
}

// OnNewLiquidations subscribes fn to only the novel subset of each poll.
func OnNewLiquidations(fn func([]LiquidationEvent)) Option {
	return func(p *Poller) { p.onNewLiquidations = fn }
}

// NewPoller builds a Poller over lister, ticking every interval and
// fetching up to pollLimit events per tick, tracked against a Tracker
// bounded to trackMax.
func NewPoller(lister Lister, interval time.Duration, pollLimit, trackMax int, opts ...Option) *Poller {
	p := &Poller{
		lister:    lister,
		tracker:   NewTracker(trackMax),
		interval:  interval,
		pollLimit: pollLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks until ctx is cancelled, polling once per interval.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce runs a single fetch/diff/notify cycle. Fetch errors are
// swallowed here; callers relying on Run alone get silent retry on the
// next tick, matching the poller's best-effort character.
func (p *Poller) pollOnce(ctx context.Context) {
	events, err := p.lister.ListRecentLiquidations(ctx, p.pollLimit)
	if err != nil {
		return
	}

	if p.onLiquidations != nil {
		p.onLiquidations(events)
	}

	novel := p.tracker.Diff(events)
	if len(novel) == 0 {
		return
	}

	if p.hfResolver != nil {
		for i := range novel {
			novel[i].User = addrnorm.Normalize(novel[i].User)
			if hf, err := p.hfResolver.ResolveHF(ctx, novel[i].User); err == nil {
				novel[i].ResolvedHF = hf
			} // best-effort enrichment; resolver errors are swallowed, never block
		}
	}

	if p.onNewLiquidations != nil {
		p.onNewLiquidations(novel)
	}
}
