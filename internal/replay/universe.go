package replay

import "github.com/onyxlabs/liqsentinel/internal/candidate"

// SeedUniverse installs every ground-truth borrower into the active
// CandidateSet (spec.md §4.P step 2, "UniverseBuilder seeds active set from
// ground truth"). Initial HF is unknown at seed time; the first block scan
// of ReplayController.Run overwrites it with the real verified value.
func SeedUniverse(set *candidate.Set, byUser map[string]GroundTruthEvent, seedBlock uint64) {
	for user := range byUser {
		set.Upsert(user, 1.0, seedBlock, candidate.ReasonReplaySeed)
	}
}
