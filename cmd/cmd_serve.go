// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"

	"github.com/nicholaskernan/probe-filters/api"
	"github.com/nicholaskernan/probe-filters/geocode"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe directory web API (local only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, repo, err := openArchive(false)
		if err != nil {
			return err
		}
		defer db.Close()

		var geocoder geocode.Geocoder

		g, err := geocode.NewFromEnvironment(cmd.Context())
		if err != nil {
			log.Printf("⚠️  Geocoding unavailable - %v", err)
			log.Print("Selections anchored to a place will be rejected.")
		} else {
			geocoder = g

			fmt.Println("📍 Geocoding: Google Maps (primary)")
		}

		fmt.Println("🗺️  Probe directory server starting...")
		fmt.Printf("📍 Open http://%s in your browser\n", serveAddr)
		fmt.Println("🔒 Local only - not exposed to internet")

		return api.NewServer(repo, geocoder).Run(serveAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:8080", "Listen address")
}
