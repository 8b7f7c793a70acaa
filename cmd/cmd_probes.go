// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/nicholaskernan/probe-filters/archive"
	"github.com/nicholaskernan/probe-filters/atlas"
	"github.com/nicholaskernan/probe-filters/utils/textutils"
	"github.com/spf13/cobra"
)

const (
	archiveFile   = "probe-filters.duckdb"
	defaultPreset = "dual-stack"
)

var (
	dbPath       string
	atlasOptions = &atlas.ClientOptions{}

	// tag-source flags shared by 'probes sync' and 'select'
	srcPreset  string
	srcAndTags []string
	srcOrTags  []string
)

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "Manage the local probe archive",
}

// openArchive opens the local snapshot database. With create set, the state
// directory is prepared first; otherwise a missing database is an error
// pointing at 'probes sync'.
func openArchive(create bool) (*sql.DB, archive.ProbeRepository, error) {
	if create {
		if err := os.MkdirAll(dbPath, 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	dbpath := filepath.Join(dbPath, archiveFile)

	if !create {
		if _, err := os.Stat(dbpath); errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("archive not found at %s - run 'probes sync' first", dbpath)
		}
	}

	db, err := sql.Open("duckdb", dbpath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	repo := archive.NewProbeRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, repo, nil
}

func newAtlasClient() *atlas.Client {
	atlasOptions.UserAgent = fmt.Sprintf("probe-filters/%s (+https://github.com/nicholaskernan/probe-filters)", Version)
	if atlasOptions.APIKey == "" {
		atlasOptions.APIKey = os.Getenv("ATLAS_API_KEY")
	}

	return atlas.NewClient(atlasOptions)
}

// fetchByTags resolves the tag-source flags to one directory fetch and
// returns the probes plus a label describing where they came from. Without
// any source flag the dual-stack preset is used.
func fetchByTags(client *atlas.Client) ([]*atlas.Probe, string, error) {
	if srcPreset != "" && len(srcAndTags)+len(srcOrTags) > 0 {
		return nil, "", errors.New("--preset and --and-tags/--or-tags are mutually exclusive")
	}

	andTags, orTags := srcAndTags, srcOrTags
	source := "tags"

	if len(andTags)+len(orTags) == 0 {
		name := srcPreset
		if name == "" {
			name = defaultPreset

			log.Printf("No probe source given - using preset %q", name)
		}

		preset, err := atlas.FindPreset(name)
		if err != nil {
			return nil, "", err
		}

		andTags, orTags = preset.AndTags, preset.OrTags
		source = "preset:" + preset.Name
	}

	log.Printf("Fetching probes from RIPE Atlas <%s>...this may take a while.", source)

	probes, err := client.GetProbesByTag(andTags, orTags)
	if err != nil {
		return nil, "", err
	}

	return probes, source, nil
}

var syncAll bool

var probesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch connected probes into the local archive",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		client := newAtlasClient()

		var (
			probes []*atlas.Probe
			source string
			err    error
		)

		if syncAll {
			source = "all-connected"
			log.Printf("Fetching probes from RIPE Atlas <%s>...this may take a while.", source)
			probes, err = client.GetAllProbes()
		} else {
			probes, source, err = fetchByTags(client)
		}

		if err != nil {
			return err
		}

		if atlasOptions.DryRun {
			log.Printf("Dry run - would archive %s probes from <%s>", textutils.FormatInt(int64(len(probes))), source)

			return nil
		}

		db, repo, err := openArchive(true)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.ReplaceProbes(probes, source); err != nil {
			return fmt.Errorf("archiving probes: %w", err)
		}

		log.Printf("✅ Archived %s probes from <%s>", textutils.FormatInt(int64(len(probes))), source)

		return nil
	},
}

var (
	listFilter = &archive.ProbeFilter{}
	listASN    int
)

var probesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived probes",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		db, repo, err := openArchive(false)
		if err != nil {
			return err
		}
		defer db.Close()

		if listASN > 0 {
			listFilter.ASNv4 = &listASN
		}

		probes, err := repo.ListProbes(listFilter)
		if err != nil {
			return err
		}

		printProbeTable(probes)

		return nil
	},
}

var coverageRes int

var probesCoverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "H3 cell histogram of the archived probes",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		db, repo, err := openArchive(false)
		if err != nil {
			return err
		}
		defer db.Close()

		cells, err := repo.CoverageByCell(coverageRes)
		if err != nil {
			return err
		}

		a, b := strings.Repeat("─", 16), strings.Repeat("─", 7)
		fmt.Printf("Coverage at H3 resolution %d:\n", coverageRes)
		fmt.Printf("╭─%16s─┬─%7s─╮\n", a, b)
		fmt.Printf("│ %-16s │ %7s │\n", "Cell", "Probes")
		fmt.Printf("├─%16s─┼─%7s─┤\n", a, b)

		for _, c := range cells {
			fmt.Printf("│ %-16s │ %7d │\n", c.Cell, c.Probes)
		}

		fmt.Printf("╰─%16s─┴─%7s─╯\n", a, b)
		fmt.Printf("%s cells\n", textutils.FormatInt(int64(len(cells))))

		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in tag presets",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		a, b := strings.Repeat("─", 12), strings.Repeat("─", 62)
		fmt.Println("Available tag presets:")
		fmt.Printf("╭─%12s─┬─%-62s╮\n", a, b)
		fmt.Printf("│ %-12s │ %-62s│\n", "Name", "Description")
		fmt.Printf("├─%12s─┼─%-62s┤\n", a, b)
		err := atlas.EachPreset(func(p atlas.TagPreset) error {
			fmt.Printf("│ %-12s │ %-62s│\n", p.Name, p.Description)

			return nil
		})
		fmt.Printf("╰─%12s─┴─%-62s╯\n", a, b)

		return err
	},
}

func printProbeTable(probes []*atlas.Probe) {
	a, b, c, d, e := strings.Repeat("─", 7), strings.Repeat("─", 10),
		strings.Repeat("─", 2), strings.Repeat("─", 19), strings.Repeat("─", 40)
	fmt.Printf("╭─%7s─┬─%-10s─┬─%-2s─┬─%-19s─┬─%-40s╮\n", a, b, c, d, e)
	fmt.Printf("│ %7s │ %-10s │ %-2s │ %-19s │ %-40s│\n", "Id", "ASN", "CC", "Position", "Description")
	fmt.Printf("├─%7s─┼─%-10s─┼─%-2s─┼─%-19s─┼─%-40s┤\n", a, b, c, d, e)

	for _, p := range probes {
		asn := "-"
		if p.ASNv4 != nil {
			asn = fmt.Sprintf("AS%d", *p.ASNv4)
		}

		position := "-"
		if loc := p.Location(); loc != nil {
			position = fmt.Sprintf("%.4f,%.4f", loc.Lat, loc.Lng)
		}

		fmt.Printf("│ %7d │ %-10s │ %-2s │ %-19s │ %-40s│\n",
			p.ID, asn, p.CountryCode, position, truncate(p.Description, 40))
	}

	fmt.Printf("╰─%7s─┴─%-10s─┴─%-2s─┴─%-19s─┴─%-40s╯\n", a, b, c, d, e)
	fmt.Printf("%s probes\n", textutils.FormatInt(int64(len(probes))))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n-1]) + "…"
}

func registerClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(
		&atlasOptions.APIKey,
		"api-key",
		"",
		"Directory API key. Defaults to $ATLAS_API_KEY; reads work anonymously at a lower rate limit",
	)
	cmd.Flags().IntVar(
		&atlasOptions.PageSize,
		"page-size",
		0,
		"Page size for directory listings. Defaults to 200",
	)
	cmd.Flags().Float64Var(
		&atlasOptions.RequestsPerSecond,
		"requests-per-second",
		0,
		"Rate limit for outgoing directory requests. Defaults to 4",
	)
	cmd.Flags().IntVar(
		&atlasOptions.FetchMaxProcs,
		"fetch-max-procs",
		0,
		"Max number of parallel by-id fetches. Defaults to 4",
	)
	cmd.Flags().BoolVar(
		&atlasOptions.EnableHTTPTrace,
		"trace-http",
		false,
		"Display HTTP requests-responses",
	)
	cmd.Flags().BoolVar(
		&atlasOptions.EnableHTTPBodyTrace,
		"trace-http-body",
		false,
		"Display HTTP requests-responses bodies",
	)
	cmd.Flags().BoolVar(
		&atlasOptions.DryRun,
		"dry-run",
		false,
		"Stop bulk fetches after the first page and persist nothing",
	)
}

func registerTagSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(
		&srcPreset,
		"preset",
		"",
		"Named tag preset to fetch (see 'presets')",
	)
	cmd.Flags().StringSliceVar(
		&srcAndTags,
		"and-tags",
		nil,
		"Tags every probe must carry",
	)
	cmd.Flags().StringSliceVar(
		&srcOrTags,
		"or-tags",
		nil,
		"Tags of which at least one must be present",
	)
}

func init() {
	rootCmd.AddCommand(probesCmd)
	rootCmd.AddCommand(presetsCmd)
	probesCmd.AddCommand(probesSyncCmd)
	probesCmd.AddCommand(probesListCmd)
	probesCmd.AddCommand(probesCoverageCmd)

	rootCmd.PersistentFlags().StringVar(
		&dbPath,
		"db-path",
		"db",
		"Base directory for local state",
	)

	registerTagSourceFlags(probesSyncCmd)
	registerClientFlags(probesSyncCmd)
	probesSyncCmd.Flags().BoolVar(
		&syncAll,
		"all",
		false,
		"Fetch every connected probe regardless of tags",
	)

	probesListCmd.Flags().StringVar(&listFilter.CountryCode, "country", "", "Keep probes in this country (ISO alpha-2)")
	probesListCmd.Flags().IntVar(&listASN, "asn", 0, "Keep probes originated by this ASN")
	probesListCmd.Flags().StringSliceVar(&listFilter.Tags, "tag", nil, "Keep probes carrying all of these tags")
	probesListCmd.Flags().StringVar(&listFilter.Search, "search", "", "Keep probes whose description contains this text")
	probesListCmd.Flags().BoolVar(&listFilter.AnchorsOnly, "anchors", false, "Keep anchors only")
	probesListCmd.Flags().BoolVar(&listFilter.WithPositionOnly, "with-position", false, "Keep probes with position data only")
	probesListCmd.Flags().IntVar(&listFilter.Limit, "limit", 50, "Max rows to print")
	probesListCmd.Flags().IntVar(&listFilter.Offset, "offset", 0, "Rows to skip")

	probesCoverageCmd.Flags().IntVar(&coverageRes, "res", 4, "H3 resolution (1..8)")
}
