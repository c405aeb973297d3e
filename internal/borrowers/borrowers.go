// Package borrowers maintains, per reserve, the set of addresses that have
// ever borrowed against it, and their union across all reserves. It mirrors
// the teacher's MySQLRecorder in spirit (a GORM-backed durable tier behind
// a narrow interface) but adds the in-memory default and an optional Redis
// tier, selected by mode with a silent degrade-to-memory fallback.
package borrowers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// Mode selects the storage tier.
type Mode string

const (
	ModeMemory   Mode = "memory"
	ModeRedis    Mode = "redis"
	ModePostgres Mode = "postgres"
	ModeMySQL    Mode = "mysql"
)

// Store is the durable/shared backing interface a non-memory mode talks to.
// Memory mode needs no Store; it's satisfied entirely by the in-process map.
type Store interface {
	AddBorrower(ctx context.Context, reserve, address string) error
	Borrowers(ctx context.Context, reserve string) ([]string, error)
	Close() error
}

// TransferLogScanner scans a variableDebtToken's Transfer logs in chunks
// to seed initial borrowers (spec.md §4.D). Implemented in production
// against an eth_getLogs-backed client; kept as a narrow interface here so
// Index stays testable without a live RPC.
type TransferLogScanner interface {
	ScanTransfers(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) (senders, recipients []string, err error)
}

// Index maintains per-reserve borrower sets plus their union.
type Index struct {
	mode  Mode
	store Store
	log   *zap.SugaredLogger

	mu        sync.RWMutex
	perReserve map[string]map[string]struct{}
	union      map[string]struct{}

	backfillBlocks uint64
	chunkBlocks    uint64
}

// Option configures Index construction.
type Option func(*Index)

func WithBackfillWindow(backfillBlocks, chunkBlocks uint64) Option {
	return func(idx *Index) {
		idx.backfillBlocks = backfillBlocks
		idx.chunkBlocks = chunkBlocks
	}
}

// NewIndex builds an Index for the requested mode. When mode requires a
// Store (redis/postgres) but store is nil, it silently degrades to memory
// mode and logs a single warning — never panics (spec.md §4.D).
func NewIndex(mode Mode, store Store, log *zap.SugaredLogger, opts ...Option) *Index {
	idx := &Index{
		mode:           mode,
		store:          store,
		log:            log,
		perReserve:     make(map[string]map[string]struct{}),
		union:          make(map[string]struct{}),
		backfillBlocks: 500_000,
		chunkBlocks:    2_000,
	}
	for _, o := range opts {
		o(idx)
	}

	if idx.mode != ModeMemory && idx.store == nil {
		if idx.log != nil {
			idx.log.Warnw("borrowers index degrading to memory mode: no store configured", "requestedMode", mode)
		}
		idx.mode = ModeMemory
	}

	return idx
}

// Initialize seeds the index for the given reserves and, when a
// TransferLogScanner is supplied, backfills by scanning each reserve's
// variableDebtToken Transfer logs over the last backfillBlocks in chunks of
// chunkBlocks. Per-chunk RPC failures emit a warning and continue (spec.md
// §4.D failure semantics); they never abort initialization.
func (idx *Index) Initialize(ctx context.Context, reserves map[string]string, scanner TransferLogScanner, currentBlock uint64) {
	idx.mu.Lock()
	for reserve := range reserves {
		key := addrnorm.Normalize(reserve)
		if _, ok := idx.perReserve[key]; !ok {
			idx.perReserve[key] = make(map[string]struct{})
		}
	}
	idx.mu.Unlock()

	if scanner == nil {
		return
	}

	from := uint64(0)
	if currentBlock > idx.backfillBlocks {
		from = currentBlock - idx.backfillBlocks
	}

	for reserve, debtToken := range reserves {
		idx.backfillReserve(ctx, reserve, debtToken, scanner, from, currentBlock)
	}
}

func (idx *Index) backfillReserve(ctx context.Context, reserve, debtToken string, scanner TransferLogScanner, from, to uint64) {
	for start := from; start <= to; start += idx.chunkBlocks {
		end := start + idx.chunkBlocks - 1
		if end > to {
			end = to
		}

		senders, recipients, err := scanner.ScanTransfers(ctx, debtToken, start, end)
		if err != nil {
			if idx.log != nil {
				idx.log.Warnw("borrowers backfill chunk failed, continuing", "reserve", reserve, "from", start, "to", end, "error", err)
			}
			continue
		}

		for _, addr := range senders {
			idx.addLocal(reserve, addr)
		}
		for _, addr := range recipients {
			idx.addLocal(reserve, addr)
		}
	}
}

func (idx *Index) addLocal(reserve, address string) {
	reserveKey := addrnorm.Normalize(reserve)
	addrKey := addrnorm.Normalize(address)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.perReserve[reserveKey]; !ok {
		idx.perReserve[reserveKey] = make(map[string]struct{})
	}
	idx.perReserve[reserveKey][addrKey] = struct{}{}
	idx.union[addrKey] = struct{}{}
}

// AddBorrower records address as a borrower of reserve, updating both the
// in-memory view and (when configured) the durable/shared store.
func (idx *Index) AddBorrower(ctx context.Context, reserve, address string) error {
	idx.addLocal(reserve, address)

	if idx.mode == ModeMemory || idx.store == nil {
		return nil
	}
	if err := idx.store.AddBorrower(ctx, addrnorm.Normalize(reserve), addrnorm.Normalize(address)); err != nil {
		return fmt.Errorf("borrowers: store add failed: %w", err)
	}
	return nil
}

// GetBorrowers returns the known borrowers of a single reserve.
func (idx *Index) GetBorrowers(asset string) []string {
	key := addrnorm.Normalize(asset)

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.perReserve[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	return out
}

// GetAllBorrowers returns the union of borrowers across every reserve.
func (idx *Index) GetAllBorrowers() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.union))
	for addr := range idx.union {
		out = append(out, addr)
	}
	return out
}

// Mode reports the effective storage mode (post degrade-to-memory).
func (idx *Index) Mode() Mode { return idx.mode }

// Stop releases the backing store, if any.
func (idx *Index) Stop() error {
	if idx.store == nil {
		return nil
	}
	return idx.store.Close()
}
