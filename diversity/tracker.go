// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package diversity

import (
	"math"
)

// Tracker keeps, for every candidate seen so far, the distance to its nearest
// already-selected neighbor. Entries start at +Inf and only ever shrink as the
// selected set grows, so folding in the most recent selection is enough to
// keep every entry exact without rescanning the whole selected set.
type Tracker struct {
	nearest map[string]float64
}

// NewTracker returns an empty tracker. One tracker serves one selection run.
func NewTracker() *Tracker {
	return &Tracker{
		nearest: make(map[string]float64),
	}
}

// Update folds the distance from candidate to the most recent selection into
// the tracked value and returns the candidate's current nearest distance.
// Both arguments must have a position.
func (t *Tracker) Update(candidate, latest Candidate) float64 {
	nearest, ok := t.nearest[candidate.UID()]
	if !ok {
		nearest = math.Inf(1)
	}

	if d := candidate.Location().GreatCircleDistance(latest.Location()); d < nearest {
		nearest = d
	}

	t.nearest[candidate.UID()] = nearest

	return nearest
}

// Nearest returns the tracked distance for a candidate, +Inf when the
// candidate was never updated.
func (t *Tracker) Nearest(candidate Candidate) float64 {
	if nearest, ok := t.nearest[candidate.UID()]; ok {
		return nearest
	}

	return math.Inf(1)
}
