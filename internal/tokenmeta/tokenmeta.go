// Package tokenmeta resolves ERC-20 symbol/decimals metadata for a token
// address through a three-tier chain: a base registry (Aave reserve
// metadata), hard-coded overrides, and an on-chain fallback with a
// TTL-bounded cache — the engine's analogue of the teacher's
// ContractClient ABI/address lookup, generalized to a resolution chain.
package tokenmeta

import (
	"context"
	"sync"
	"time"

	"github.com/onyxlabs/liqsentinel/internal/addrnorm"
)

// Source identifies where a Metadata value came from.
type Source string

const (
	SourceBase     Source = "base"
	SourceOverride Source = "override"
	SourceOnChain  Source = "on_chain"
	SourceUnknown  Source = "unknown"
)

// Metadata is the resolved symbol/decimals pair for a token address.
type Metadata struct {
	Symbol   string
	Decimals int
	Source   Source
}

// unknownMetadata is returned, per spec, when on-chain resolution fails.
var unknownMetadata = Metadata{Symbol: "UNKNOWN", Decimals: 18, Source: SourceUnknown}

// OnChainResolver fetches symbol/decimals directly from a token contract.
// Implemented in production by pkg/contractclient against an ERC-20 ABI.
type OnChainResolver interface {
	ResolveERC20(ctx context.Context, address string) (symbol string, decimals int, err error)
}

type cacheEntry struct {
	meta      Metadata
	expiresAt time.Time
}

// Registry implements the base→overrides→on-chain resolution chain.
type Registry struct {
	resolver OnChainResolver
	ttl      time.Duration

	mu        sync.RWMutex
	base      map[string]Metadata
	overrides map[string]Metadata
	cache     map[string]cacheEntry
	retryAt   map[string]time.Time
}

// NewRegistry builds a registry seeded with base reserve metadata.
// ttlMeta bounds how long on-chain-resolved entries are trusted.
func NewRegistry(resolver OnChainResolver, ttlMeta time.Duration, base map[string]Metadata) *Registry {
	normalizedBase := make(map[string]Metadata, len(base))
	for addr, m := range base {
		normalizedBase[addrnorm.Normalize(addr)] = m
	}
	return &Registry{
		resolver:  resolver,
		ttl:       ttlMeta,
		base:      normalizedBase,
		overrides: make(map[string]Metadata),
		cache:     make(map[string]cacheEntry),
		retryAt:   make(map[string]time.Time),
	}
}

// AddOverride registers a hard-coded override. Overrides never shadow base
// data: if addr is already present in the base registry, AddOverride is a
// no-op.
func (r *Registry) AddOverride(addr string, m Metadata) {
	key := addrnorm.Normalize(addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.base[key]; ok {
		return
	}
	m.Source = SourceOverride
	r.overrides[key] = m
}

// Resolve returns token metadata, trying base, then overrides, then the
// on-chain cache/fallback in order.
func (r *Registry) Resolve(ctx context.Context, addr string) Metadata {
	key := addrnorm.Normalize(addr)

	r.mu.RLock()
	if m, ok := r.base[key]; ok {
		r.mu.RUnlock()
		return m
	}
	if m, ok := r.overrides[key]; ok {
		r.mu.RUnlock()
		return m
	}
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.RUnlock()
		return entry.meta
	}
	r.mu.RUnlock()

	return r.resolveOnChain(ctx, key)
}

func (r *Registry) resolveOnChain(ctx context.Context, key string) Metadata {
	if r.resolver == nil {
		return unknownMetadata
	}

	symbol, decimals, err := r.resolver.ResolveERC20(ctx, key)
	if err != nil {
		r.mu.Lock()
		r.retryAt[key] = time.Now().Add(r.ttl)
		r.mu.Unlock()
		return unknownMetadata
	}

	meta := Metadata{Symbol: symbol, Decimals: decimals, Source: SourceOnChain}

	r.mu.Lock()
	r.cache[key] = cacheEntry{meta: meta, expiresAt: time.Now().Add(r.ttl)}
	delete(r.retryAt, key)
	r.mu.Unlock()

	return meta
}

// DueForRetry reports whether addr previously failed on-chain resolution
// and its retry backoff has elapsed. Callers (e.g. a background sweep) use
// this to decide whether to call Resolve again for a failed address.
func (r *Registry) DueForRetry(addr string) bool {
	key := addrnorm.Normalize(addr)

	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.retryAt[key]
	if !ok {
		return false
	}
	return !time.Now().Before(at)
}
