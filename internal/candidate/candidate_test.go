package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetUpsertAndBoundedOverflow(t *testing.T) {
	s := NewSet(1.20, 3, 1.03, 2)

	assert.True(t, s.Upsert("0xA", 1.0, 100, ReasonBorrowEvent))
	assert.True(t, s.Upsert("0xB", 1.0, 100, ReasonBorrowEvent))
	assert.False(t, s.Upsert("0xC", 1.0, 100, ReasonBorrowEvent)) // over maxAccounts
	assert.Equal(t, 2, s.Len())
}

func TestSetEvictsAfterConsecutiveHighHF(t *testing.T) {
	s := NewSet(1.20, 2, 1.03, 10)
	// The first Upsert inserts 0xA; the two that follow are the consecutive
	// high-HF scans that make it evictable.
	s.Upsert("0xA", 1.25, 1, ReasonBorrowEvent)
	s.Upsert("0xA", 1.25, 2, ReasonBorrowEvent)
	s.Upsert("0xA", 1.25, 3, ReasonBorrowEvent)

	evicted := s.Evict()
	assert.Contains(t, evicted, "0xa")
}

func TestSetNeverEvictsNearThreshold(t *testing.T) {
	s := NewSet(1.20, 1, 1.03, 10)
	// HF below nearHF (here also below evictHF) must never be evicted.
	s.Upsert("0xA", 1.01, 1, ReasonBorrowEvent)
	s.Upsert("0xA", 1.01, 2, ReasonBorrowEvent)

	evicted := s.Evict()
	assert.Empty(t, evicted)
}

func TestHotlistConsiderAcceptsWithinWindow(t *testing.T) {
	h := NewHotlist(1.0, 1.1, 100, 5, DefaultWeights)
	ok := h.Consider("0xA", 1.05, 1.05, 500, 1000)
	assert.True(t, ok)
	assert.Equal(t, 1, h.Len())
}

func TestHotlistConsiderRejectsOutOfWindow(t *testing.T) {
	h := NewHotlist(1.0, 1.1, 100, 5, DefaultWeights)
	ok := h.Consider("0xA", 1.5, 1.5, 500, 1000)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}

func TestHotlistSizeNeverExceedsMax(t *testing.T) {
	h := NewHotlist(1.0, 1.1, 0, 2, DefaultWeights)
	h.Consider("0xA", 1.001, 1.001, 1000, 0) // highest priority: closest to 1.0
	h.Consider("0xB", 1.02, 1.02, 1000, 0)
	h.Consider("0xC", 1.09, 1.09, 1000, 0) // lowest priority, should be rejected

	assert.Equal(t, 2, h.Len())
	_, ok := getEntry(h, "0xc")
	assert.False(t, ok)
}

func getEntry(h *Hotlist, addr string) (HotlistEntry, bool) {
	for _, e := range h.Snapshot() {
		if e.Address == addr {
			return e, true
		}
	}
	return HotlistEntry{}, false
}

func TestHotlistRemoveDropsEntry(t *testing.T) {
	h := NewHotlist(1.0, 1.1, 0, 5, DefaultWeights)
	h.Consider("0xA", 1.05, 1.05, 100, 0)
	assert.Equal(t, 1, h.Len())

	h.Remove("0xa") // case-insensitive, like every other keyed store here
	assert.Equal(t, 0, h.Len())
}

func TestHotlistRemovesEntryWhenHFLeavesWindow(t *testing.T) {
	h := NewHotlist(1.0, 1.1, 0, 5, DefaultWeights)
	h.Consider("0xA", 1.05, 1.05, 100, 0)
	assert.Equal(t, 1, h.Len())

	ok := h.Consider("0xA", 1.5, 1.5, 100, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}
