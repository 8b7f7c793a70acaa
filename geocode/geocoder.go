// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocode resolves free-form place names to coordinates, used to
// anchor selections around a point of interest.
package geocode

import (
	"github.com/nicholaskernan/probe-filters/spatial"
)

// Result represents a geocoding result from any provider.
type Result struct {
	Point       spatial.Point
	Confidence  string // high, medium, low
	Provider    string
	DisplayName string
}

// Geocoder interface for different geocoding providers.
type Geocoder interface {
	Geocode(query string) (*Result, error)
}
