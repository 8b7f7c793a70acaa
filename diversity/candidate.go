// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package diversity

import (
	"github.com/nicholaskernan/probe-filters/spatial"
)

// Candidate is the minimal view of a record the selector works with. Records
// come from elsewhere (the Atlas API, the local archive, a request body); the
// selector never cares about anything beyond identity, grouping and position.
type Candidate interface {
	// UID identifies the candidate within one selection run.
	UID() string

	// GroupKey returns the key used for per-group caps, or the empty string
	// when the group is unknown. All unknown-group candidates share one
	// bucket.
	GroupKey() string

	// Location returns the candidate position, or nil when the record has
	// no usable position data.
	Location() *spatial.Point
}
