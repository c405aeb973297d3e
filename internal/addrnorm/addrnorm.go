// Package addrnorm centralizes address normalization so every store compares
// and indexes addresses the same way regardless of the casing a caller used.
package addrnorm

import "strings"

// Normalize lowercases a hex address. Every keyed store in this engine
// (CandidateSet, HotlistManager, BorrowersIndex, caches) must call this on
// ingress and never compare a raw caller-supplied address against a stored key.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Equal reports whether two addresses are the same once normalized.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
