package config

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxBlockRangeSpan is the hard cap on a replay block range (spec.md §4.P).
const MaxBlockRangeSpan = 100000

// BlockRange is an inclusive [Start, End] block interval.
type BlockRange struct {
	Start uint64
	End   uint64
}

// Span returns End-Start (the number of block transitions in the range).
func (r BlockRange) Span() uint64 { return r.End - r.Start }

// Count returns the number of blocks in the inclusive range.
func (r BlockRange) Count() uint64 { return r.End - r.Start + 1 }

// ParseBlockRange parses "start-end" (both non-negative integers, start<=end,
// span<=MaxBlockRangeSpan) per spec.md §6/§8. Any violation is a startup
// error (§7, "Fatal").
func ParseBlockRange(s string) (BlockRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return BlockRange{}, fmt.Errorf("config: invalid block range %q: want \"start-end\"", s)
	}

	start, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return BlockRange{}, fmt.Errorf("config: invalid start in %q: %w", s, err)
	}
	end, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return BlockRange{}, fmt.Errorf("config: invalid end in %q: %w", s, err)
	}

	if start > end {
		return BlockRange{}, fmt.Errorf("config: start must be <= end (got %d-%d)", start, end)
	}
	if end-start > MaxBlockRangeSpan {
		return BlockRange{}, fmt.Errorf("config: span %d exceeds max %d", end-start, MaxBlockRangeSpan)
	}

	return BlockRange{Start: start, End: end}, nil
}
