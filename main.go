// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/nicholaskernan/probe-filters/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
