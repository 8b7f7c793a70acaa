// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"errors"
	"strings"
	"testing"
)

func TestFindPreset(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		expectedName string
		expectErr    string
	}{
		{
			name:         "ExactMatch",
			query:        "anchors",
			expectedName: "anchors",
		},
		{
			name:         "CaseInsensitiveMatch",
			query:        "DuAl-StAcK",
			expectedName: "dual-stack",
		},
		{
			name:         "PrefixMatch",
			query:        "hard",
			expectedName: "hardware",
		},
		{
			name:      "NoMatch",
			query:     "xxx",
			expectErr: "not found",
		},
		{
			name:      "MultipleMatches",
			query:     "ipv", // ipv4, ipv6
			expectErr: "multiple matches",
		},
		{
			name:      "EmptyQuery",
			query:     "",
			expectErr: "empty",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindPreset(tc.query)
			if tc.expectErr != "" {
				switch {
				case got != nil:
					t.Errorf("FindPreset(%q) expected nil preset", tc.query)
				case err == nil:
					t.Errorf("FindPreset(%q) expected error but got none", tc.query)
				case !strings.Contains(err.Error(), tc.expectErr):
					t.Errorf("FindPreset(%q) expecting %v but got: %v", tc.query, tc.expectErr, err)
				}

				return
			}

			if err != nil {
				t.Errorf("FindPreset(%q) unexpected error: %v", tc.query, err)
			} else if got.Name != tc.expectedName {
				t.Errorf("FindPreset(%q) expected preset %q, got %q", tc.query, tc.expectedName, got.Name)
			}
		})
	}
}

func TestFindPresetDefaultsAreUsable(t *testing.T) {
	preset, err := FindPreset("dual-stack")
	if err != nil {
		t.Fatal(err)
	}

	if len(preset.AndTags) == 0 || len(preset.OrTags) == 0 {
		t.Errorf("dual-stack preset should carry both required and alternative tags, got %+v", preset)
	}

	for _, tag := range append(preset.AndTags, preset.OrTags...) {
		if tag != strings.ToLower(tag) {
			t.Errorf("preset tag %q is not a lowercase slug", tag)
		}
	}
}

func TestEachPreset_Ok(t *testing.T) {
	var found []string

	err := EachPreset(func(p TagPreset) error {
		found = append(found, p.Name)

		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %s", err)
	} else if expected, got := "dual-stack", found[0]; expected != got {
		t.Errorf("expected %q, got %q", expected, got)
	} else if expected, got := "hardware", found[len(found)-1]; expected != got {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestEachPreset_Err(t *testing.T) {
	var found []string

	i := 0

	err := EachPreset(func(p TagPreset) (err error) {
		if i >= 2 {
			err = errors.New("fail")
		} else {
			found = append(found, p.Name)
		}

		i++

		return err
	})
	if err == nil {
		t.Error("expecting an error")
	} else if expected, got := "dual-stack", found[0]; expected != got {
		t.Errorf("expected %q, got %q", expected, got)
	} else if expected, got := "anchors", found[len(found)-1]; expected != got {
		t.Errorf("expected %q, got %q", expected, got)
	}
}
