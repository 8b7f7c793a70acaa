// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "probe-filters",
	Short: "diversity-first probe selection for RIPE Atlas",
	Long: `
probe-filters picks geographically diverse measurement vantage points from the
RIPE Atlas probe directory: fetch candidate probes by tag or id, keep a local
snapshot of the directory, and select the subset that spreads the probes as
far apart as possible, optionally capping how many may share one origin
network.
`,
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
