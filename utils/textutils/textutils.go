// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package textutils

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LowerASCIIFolding normalizes a string by removing accents, lowercasing, and trimming spaces.
// Probe descriptions are free-form text entered by hosts around the world, so
// searches fold both sides ("São Paulo" matches "sao paulo").
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// AnyToStringSlice converts an interface{} to []string safely.
// DuckDB list columns scan as []any or []string depending on the driver path.
func AnyToStringSlice(v any) ([]string, bool) {
	if v == nil {
		return nil, true
	}

	if i, ok := v.([]string); ok {
		return i, true
	}

	if i, ok := v.([]any); ok {
		s := make([]string, len(i))

		for j, e := range i {
			val, ok := e.(string)
			if !ok {
				return nil, false
			}

			s[j] = val
		}

		return s, true
	}

	return nil, false
}

// FormatInt formats an integer with commas for human readability.
func FormatInt(n int64) string {
	in := strconv.FormatInt(n, 10)

	numOfDigits := len(in)
	if n < 0 {
		numOfDigits-- // First character is the - sign (not a digit)
	}

	numOfCommas := (numOfDigits - 1) / 3

	out := make([]byte, len(in)+numOfCommas)
	if n < 0 {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]
		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = ','
		}
	}
}
