// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package diversity

import (
	"errors"
	"log"
	"math"
)

// ErrEmptyPool is returned when no candidate in the pool has usable position
// data.
var ErrEmptyPool = errors.New("diversity: no candidates with usable positions")

// SelectDiverseSubset picks up to k candidates from pool so that every pick
// maximizes the distance to its nearest already-selected neighbor (a greedy
// approximation of max-min dispersion). maxPerGroup caps how many picks may
// share one group key; zero or negative means unbounded.
//
// Candidates without a position are dropped up front. The first eligible
// candidate seeds the selection, so callers control the seed through input
// order. The result is deterministic for a fixed input order: distance ties
// resolve to the earliest candidate. When k exceeds what the pool and the
// group caps allow, the result is simply shorter.
func SelectDiverseSubset(pool []Candidate, k, maxPerGroup int) ([]Candidate, error) {
	eligible := make([]Candidate, 0, len(pool))
	for _, candidate := range pool {
		if candidate.Location() != nil {
			eligible = append(eligible, candidate)
		}
	}

	if dropped := len(pool) - len(eligible); dropped > 0 {
		log.Printf("ℹ️  Ignoring %d of %d candidates without position data", dropped, len(pool))
	}

	if len(eligible) == 0 {
		return nil, ErrEmptyPool
	}

	if k <= 0 {
		return []Candidate{}, nil
	}

	selected := make([]Candidate, 0, min(k, len(eligible)))
	selected = append(selected, eligible[0])
	groupCounts := map[string]int{eligible[0].GroupKey(): 1}
	remaining := eligible[1:]
	tracker := NewTracker()

	for len(selected) < k && len(remaining) > 0 {
		if maxPerGroup > 0 {
			admitted := remaining[:0]

			for _, candidate := range remaining {
				if groupCounts[candidate.GroupKey()] < maxPerGroup {
					admitted = append(admitted, candidate)
				}
			}

			remaining = admitted
			if len(remaining) == 0 {
				break
			}
		}

		latest := selected[len(selected)-1]
		best := -1
		bestDist := math.Inf(-1)

		for i, candidate := range remaining {
			if d := tracker.Update(candidate, latest); d > bestDist {
				best, bestDist = i, d
			}
		}

		pick := remaining[best]
		selected = append(selected, pick)
		groupCounts[pick.GroupKey()]++
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	return selected, nil
}

// CountPositionless reports how many candidates in the pool would be dropped
// by SelectDiverseSubset for lacking position data.
func CountPositionless(pool []Candidate) int {
	dropped := 0

	for _, candidate := range pool {
		if candidate.Location() == nil {
			dropped++
		}
	}

	return dropped
}
