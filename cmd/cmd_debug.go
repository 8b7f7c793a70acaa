// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/nicholaskernan/probe-filters/spatial"
	"github.com/spf13/cobra"
)

// isTerminal reports whether f is an interactive terminal. On stat errors
// we say that it isn't.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return (info.Mode() & os.ModeCharDevice) != 0
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugDistanceCmd = &cobra.Command{
	Use:   "distance",
	Short: "Great-circle distance between coordinate pairs",
	Long: `Reads one pair of coordinates per line as "lat,lng lat,lng" and prints the
line followed by the great-circle distance in kilometers.

$ echo "0,0 0,90" | probe-filters debug distance
0,0 0,90	10007.543 km
	`,
	Run: func(_ *cobra.Command, _ []string) {
		input := os.Stdin
		if isTerminal(input) {
			fmt.Fprintln(os.Stderr, "Enter coordinate pairs as lat,lng lat,lng - one pair per line…")
		}
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			var a, b spatial.Point
			if _, err := fmt.Sscanf(line, "%f,%f %f,%f", &a.Lat, &a.Lng, &b.Lat, &b.Lng); err != nil {
				fmt.Printf("%s\t%q\n", line, err)
			} else {
				fmt.Printf("%s\t%.3f km\n", line, a.GreatCircleDistance(&b))
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugDistanceCmd)
}
