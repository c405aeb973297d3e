// Package replay implements the replay harness (spec.md §4.P): a
// GroundTruthLoader over historical LiquidationCall events, a
// UniverseBuilder that seeds the active set from them, and a
// ReplayController that re-runs the real-time detection pipeline
// block-by-block, reusing the MicroVerifier and ProfitEngine semantics
// (internal/verify, internal/profit) through narrow batch interfaces.
package replay

import (
	"context"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// GroundTruthEvent is one historical on-chain LiquidationCall.
type GroundTruthEvent struct {
	ID                string
	Timestamp         time.Time
	BlockNumber       uint64
	User              string
	Liquidator        string
	PrincipalReserve  string
	CollateralReserve string
	PrincipalAmount   string
	CollateralAmount  string
	TxHash            string
}

// GroundTruthPage is one page of the subgraph's paginated liquidationCalls
// listing, capped at 1000 rows per spec.md §4.P/§6.
type GroundTruthPage struct {
	Events  []GroundTruthEvent
	HasMore bool
}

// GroundTruthPager pages through historical LiquidationCall events; its
// GraphQL implementation and auth/backoff wrapper are out of scope
// (spec.md §1).
type GroundTruthPager interface {
	ListLiquidationCalls(ctx context.Context, startBlock, endBlock uint64, pageSize int, cursor string) (GroundTruthPage, string, error)
}

// LoadResult is GroundTruthLoader's output: events gathered so far, whether
// the load stopped early (auth error or cancellation), and the error that
// caused a partial load, if any.
type LoadResult struct {
	Events  []GroundTruthEvent
	Partial bool
	Err     error
}

// GroundTruthLoader paginates historical liquidation events with a bounded
// page size and an inter-page politeness delay.
type GroundTruthLoader struct {
	pager           GroundTruthPager
	pageSize        int
	politenessDelay time.Duration
}

// NewGroundTruthLoader builds a GroundTruthLoader. pageSize is clamped to
// [1,1000].
func NewGroundTruthLoader(pager GroundTruthPager, pageSize int, politenessDelay time.Duration) *GroundTruthLoader {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &GroundTruthLoader{pager: pager, pageSize: pageSize, politenessDelay: politenessDelay}
}

// Load fetches every LiquidationCall in [startBlock,endBlock]. An auth or
// network error on any page stops the load and returns what was gathered
// so far with Partial=true, matching spec.md §4.P ("partial data is
// acceptable").
func (l *GroundTruthLoader) Load(ctx context.Context, startBlock, endBlock uint64) LoadResult {
	var all []GroundTruthEvent
	cursor := ""

	for {
		select {
		case <-ctx.Done():
			return LoadResult{Events: all, Partial: true, Err: ctx.Err()}
		default:
		}

		page, next, err := l.pager.ListLiquidationCalls(ctx, startBlock, endBlock, l.pageSize, cursor)
		if err != nil {
			return LoadResult{Events: all, Partial: true, Err: err}
		}
		all = append(all, page.Events...)

		if !page.HasMore {
			return LoadResult{Events: all}
		}
		cursor = next

		if l.politenessDelay > 0 {
			select {
			case <-time.After(l.politenessDelay):
			case <-ctx.Done():
				return LoadResult{Events: all, Partial: true, Err: ctx.Err()}
			}
		}
	}
}

// ByUser indexes a loaded event set by normalized borrower address,
// matching spec.md §3's groundTruth[user→LiquidationEvent] map. When a user
// appears more than once, the earliest liquidation is kept.
func ByUser(events []GroundTruthEvent) map[string]GroundTruthEvent {
	out := make(map[string]GroundTruthEvent, len(events))
	for _, e := range events {
		key := addrnorm.Normalize(e.User)
		existing, ok := out[key]
		if !ok || e.BlockNumber < existing.BlockNumber {
			e.User = key
			out[key] = e
		}
	}
	return out
}
