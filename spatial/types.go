// Copyright 2026 The ProbeFilters Authors
//
// SPDX-License-Identifier: Apache-2.0
package spatial

import (
	"database/sql/driver"
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"
)

const earthRadiusKm = 6371.0

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// Value implements the driver.Valuer interface for database serialization.
func (p Point) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *Point) Scan(value interface{}) error {
	if value == nil {
		p.Lat, p.Lng = 0, 0

		return nil
	}

	switch v := value.(type) {
	case []byte:
		// The format from DuckDB is "POINT (lng lat)"
		_, err := fmt.Sscanf(string(v), "POINT (%f %f)", &p.Lng, &p.Lat)

		return err
	case map[string]interface{}:
		x, okX := v["x"].(float64)
		y, okY := v["y"].(float64)

		if !okX || !okY {
			return fmt.Errorf("spatial: invalid map for point: expected 'x' and 'y' float64 fields, got %+v", v)
		}

		p.Lng = x
		p.Lat = y

		return nil
	default:
		return fmt.Errorf("spatial: unsupported type for Point scan: %T", value)
	}
}

// GreatCircleDistance calculates the distance between two points on Earth
// in kilometers, using the haversine formula on a sphere of radius 6371 km.
// Inputs are degrees; out-of-range coordinates are not normalized.
func (p *Point) GreatCircleDistance(other *Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// H3Cell returns the H3 cell index containing the point at the given resolution.
func H3Cell(p Point, res int) (uint64, error) {
	latLng := h3.NewLatLng(p.Lat, p.Lng)

	cell, err := h3.LatLngToCell(latLng, res)
	if err != nil {
		return 0, fmt.Errorf("computing h3 cell at resolution %d: %w", res, err)
	}

	return uint64(cell), nil
}

// H3CellString renders a cell index in the canonical hexadecimal form.
func H3CellString(cell uint64) string {
	return h3.Cell(cell).String()
}
