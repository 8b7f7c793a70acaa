// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package diversity

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nicholaskernan/probe-filters/spatial"
)

type testCandidate struct {
	id    string
	group string
	point *spatial.Point
}

func (c testCandidate) UID() string              { return c.id }
func (c testCandidate) GroupKey() string         { return c.group }
func (c testCandidate) Location() *spatial.Point { return c.point }

func at(id, group string, lat, lng float64) Candidate {
	return testCandidate{id: id, group: group, point: &spatial.Point{Lat: lat, Lng: lng}}
}

func nowhere(id, group string) Candidate {
	return testCandidate{id: id, group: group}
}

func ids(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.UID())
	}

	return out
}

func TestSelectDiverseSubset_Length(t *testing.T) {
	pool := []Candidate{
		at("1", "AS1", 0, 0),
		at("2", "AS2", 10, 10),
		at("3", "AS3", 20, 20),
		at("4", "AS4", 30, 30),
		at("5", "AS5", 40, 40),
	}

	tests := []struct {
		name string
		k    int
		want int
	}{
		{name: "k smaller than pool", k: 3, want: 3},
		{name: "k equals pool", k: 5, want: 5},
		{name: "k larger than pool", k: 12, want: 5},
		{name: "k zero", k: 0, want: 0},
		{name: "k negative", k: -3, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectDiverseSubset(pool, tc.k, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(got) != tc.want {
				t.Errorf("expected %d selections, got %d (%v)", tc.want, len(got), ids(got))
			}
		})
	}
}

func TestSelectDiverseSubset_SeedsWithFirstAndPicksFarthest(t *testing.T) {
	// Four probes along the prime meridian. The seed is the first one; the
	// next pick must be the one farthest from it.
	pool := []Candidate{
		at("equator", "AS1", 0, 0),
		at("near", "AS2", 1, 0),
		at("mid", "AS3", 50, 0),
		at("far", "AS4", 89, 0),
	}

	got, err := SelectDiverseSubset(pool, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"equator", "far"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverseSubset_GroupCap(t *testing.T) {
	// Three probes in AS1, two in AS2, one probe per ASN allowed. After the
	// seed (AS1) and one AS2 pick every group is capped, so the result stops
	// at two even though k asked for three.
	pool := []Candidate{
		at("a1", "AS1", 0, 0),
		at("a2", "AS1", 10, 0),
		at("a3", "AS1", 20, 0),
		at("b1", "AS2", -30, 0),
		at("b2", "AS2", 60, 0),
	}

	got, err := SelectDiverseSubset(pool, 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 selections, got %d (%v)", len(got), ids(got))
	}

	if got[0].GroupKey() != "AS1" || got[1].GroupKey() != "AS2" {
		t.Errorf("expected one probe per ASN, got %s and %s", got[0].GroupKey(), got[1].GroupKey())
	}
}

func TestSelectDiverseSubset_GroupCapCountsSeed(t *testing.T) {
	// The seed occupies its group from the start: with a cap of one, the
	// second AS1 probe is never admitted, no matter how far away it sits.
	pool := []Candidate{
		at("seed", "AS1", 0, 0),
		at("antipode", "AS1", 0, 180),
		at("close", "AS2", 1, 1),
	}

	got, err := SelectDiverseSubset(pool, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"seed", "close"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverseSubset_UnknownGroupsShareOneBucket(t *testing.T) {
	pool := []Candidate{
		at("u1", "", 0, 0),
		at("u2", "", 40, 40),
		at("u3", "", -40, -40),
		at("known", "AS1", 10, 10),
	}

	got, err := SelectDiverseSubset(pool, 4, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"u1", "known"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverseSubset_DropsPositionless(t *testing.T) {
	pool := []Candidate{
		nowhere("software", "AS1"),
		at("anchor", "AS2", 0, 0),
		nowhere("hidden", "AS3"),
		at("probe", "AS4", 50, 50),
	}

	got, err := SelectDiverseSubset(pool, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"anchor", "probe"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	if dropped := CountPositionless(pool); dropped != 2 {
		t.Errorf("expected 2 positionless candidates, got %d", dropped)
	}
}

func TestSelectDiverseSubset_EmptyPool(t *testing.T) {
	tests := []struct {
		name string
		pool []Candidate
	}{
		{name: "nil pool", pool: nil},
		{name: "all positionless", pool: []Candidate{nowhere("1", "AS1"), nowhere("2", "AS2")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := SelectDiverseSubset(tc.pool, 5, 0); !errors.Is(err, ErrEmptyPool) {
				t.Errorf("expected ErrEmptyPool, got %v", err)
			}
		})
	}
}

func TestSelectDiverseSubset_TieResolvesToFirst(t *testing.T) {
	// Both wings sit at the same distance from the seed; the earlier one in
	// input order must win the tie.
	pool := []Candidate{
		at("seed", "AS1", 0, 0),
		at("east", "AS2", 0, 90),
		at("west", "AS3", 0, -90),
	}

	got, err := SelectDiverseSubset(pool, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"seed", "east"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverseSubset_CoincidentCandidates(t *testing.T) {
	// Every remaining candidate sits exactly on the seed. Distance zero is
	// still a valid pick and must not stall the loop.
	pool := []Candidate{
		at("seed", "AS1", 10, 10),
		at("twin1", "AS2", 10, 10),
		at("twin2", "AS3", 10, 10),
	}

	got, err := SelectDiverseSubset(pool, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"seed", "twin1", "twin2"}, ids(got)); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDiverseSubset_Deterministic(t *testing.T) {
	pool := []Candidate{
		at("1", "AS1", -34.9, -56.1),
		at("2", "AS2", 52.5, 13.4),
		at("3", "AS1", 40.7, -74.0),
		at("4", "AS3", -33.8, 151.2),
		at("5", "AS2", 35.6, 139.7),
		at("6", "AS4", 64.1, -21.9),
	}

	first, err := SelectDiverseSubset(pool, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := SelectDiverseSubset(pool, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(ids(first), ids(second)); diff != "" {
		t.Errorf("runs disagree (-first +second):\n%s", diff)
	}
}

// naiveNext recomputes the greedy pick by scanning the full selected set, the
// way the textbook formulation does. The incremental selector must agree with
// it at every round.
func naiveNext(remaining, selected []Candidate) Candidate {
	var best Candidate

	bestDist := math.Inf(-1)

	for _, candidate := range remaining {
		nearest := math.Inf(1)

		for _, s := range selected {
			if d := candidate.Location().GreatCircleDistance(s.Location()); d < nearest {
				nearest = d
			}
		}

		if nearest > bestDist {
			bestDist = nearest
			best = candidate
		}
	}

	return best
}

func TestSelectDiverseSubset_MatchesNaiveGreedy(t *testing.T) {
	pool := []Candidate{
		at("mvd", "AS1", -34.9011, -56.1645),
		at("ber", "AS2", 52.5200, 13.4050),
		at("nyc", "AS3", 40.7128, -74.0060),
		at("syd", "AS4", -33.8688, 151.2093),
		at("tyo", "AS5", 35.6762, 139.6503),
		at("rkv", "AS6", 64.1466, -21.9426),
		at("cpt", "AS7", -33.9249, 18.4241),
		at("del", "AS8", 28.7041, 77.1025),
	}

	got, err := SelectDiverseSubset(pool, len(pool), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	selected := []Candidate{pool[0]}
	remaining := append([]Candidate{}, pool[1:]...)

	for len(remaining) > 0 {
		pick := naiveNext(remaining, selected)
		selected = append(selected, pick)

		for i, c := range remaining {
			if c.UID() == pick.UID() {
				remaining = append(remaining[:i], remaining[i+1:]...)

				break
			}
		}
	}

	if diff := cmp.Diff(ids(selected), ids(got)); diff != "" {
		t.Errorf("incremental selector disagrees with naive greedy (-naive +got):\n%s", diff)
	}
}
