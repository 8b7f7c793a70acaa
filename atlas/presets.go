// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errMultipleMatches = errors.New("multiple matches")
	errPresetNotFound  = errors.New("preset not found")
)

// TagPreset is a named shorthand for a tag query against the probe
// directory: a probe qualifies when it carries every AndTag and, if OrTags is
// non-empty, at least one of them. See:
// https://atlas.ripe.net/docs/apis/rest-api-manual/probes/
type TagPreset struct {
	Name        string
	Description string
	AndTags     []string // tags every probe must carry
	OrTags      []string // tags of which at least one must be present
}

// Validate checks if the TagPreset has all required fields.
// Returns an error if any required field is missing.
func (p *TagPreset) Validate() error {
	if p.Name == "" {
		return errors.New("tag preset: name must not be empty")
	}

	if len(p.AndTags)+len(p.OrTags) == 0 {
		return fmt.Errorf("tag preset %q: must declare at least one tag", p.Name)
	}

	return nil
}

// All available presets.
var presets = func() []TagPreset {
	ret := []TagPreset{
		{
			Name:        "dual-stack",
			Description: "IPv4+IPv6 capable probes on recent hardware (v3, v4 or anchor)",
			AndTags: []string{
				"system-ipv4-works",
				"system-ipv6-works",
				"system-resolves-a-correctly",
				"system-resolves-aaaa-correctly",
			},
			OrTags: []string{
				"system-anchor",
				"system-v4",
				"system-v3",
			},
		},
		{
			Name:        "anchors",
			Description: "RIPE Atlas anchors only",
			AndTags: []string{
				"system-anchor",
			},
		},
		{
			Name:        "ipv4",
			Description: "IPv4 capable probes on recent hardware",
			AndTags: []string{
				"system-ipv4-works",
				"system-resolves-a-correctly",
			},
			OrTags: []string{
				"system-anchor",
				"system-v4",
				"system-v3",
			},
		},
		{
			Name:        "ipv6",
			Description: "IPv6 capable probes on recent hardware",
			AndTags: []string{
				"system-ipv6-works",
				"system-resolves-aaaa-correctly",
			},
			OrTags: []string{
				"system-anchor",
				"system-v4",
				"system-v3",
			},
		},
		{
			Name:        "hardware",
			Description: "Any hardware probe generation",
			OrTags: []string{
				"system-v1",
				"system-v2",
				"system-v3",
				"system-v4",
				"system-v5",
			},
		},
	}

	// Validate and normalize tag slugs
	for i := range ret {
		if err := ret[i].Validate(); err != nil {
			panic(err)
		}

		for j := range ret[i].AndTags {
			ret[i].AndTags[j] = strings.ToLower(ret[i].AndTags[j])
		}

		for j := range ret[i].OrTags {
			ret[i].OrTags[j] = strings.ToLower(ret[i].OrTags[j])
		}
	}

	return ret
}()

// FindPreset locates a preset by name, accepting any unambiguous
// case-insensitive prefix. Returns an error if no match or multiple matches
// are found.
func FindPreset(q string) (*TagPreset, error) {
	if q == "" {
		return nil, errors.New("empty search query")
	}

	var found *TagPreset

	for i := range presets {
		name := presets[i].Name
		if len(name) < len(q) || !strings.EqualFold(name[:len(q)], q) {
			continue
		}

		if found == nil {
			// Create a copy to avoid returning a reference to the slice element
			presetCopy := presets[i]
			found = &presetCopy
		} else {
			return nil, fmt.Errorf("%w for %q: %q, %q", errMultipleMatches, q, found.Name, presets[i].Name)
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %q", errPresetNotFound, q)
	}

	return found, nil
}

// EachPreset applies the given callback function to each preset, in
// declaration order. It stops iteration and returns the error if the callback
// returns an error.
func EachPreset(callback func(TagPreset) error) error {
	for i := range presets {
		if err := callback(presets[i]); err != nil {
			return err
		}
	}

	return nil
}
