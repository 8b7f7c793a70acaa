// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nicholaskernan/probe-filters/archive"
	"github.com/nicholaskernan/probe-filters/atlas"
	"github.com/nicholaskernan/probe-filters/diversity"
	"github.com/nicholaskernan/probe-filters/geocode"
	"github.com/nicholaskernan/probe-filters/spatial"
	"github.com/nicholaskernan/probe-filters/utils/textutils"
	"github.com/spf13/cobra"
)

var (
	selectK           int
	selectMaxPerASN   int
	selectCountry     string
	selectNear        string
	selectWithinKm    float64
	selectFormat      string
	selectCoverageRes int

	srcIDs     []int
	srcIDFile  string
	srcArchive bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick a geographically diverse probe subset",
	Long: `Selects up to k probes so that every pick maximizes the distance to its
nearest already-selected neighbor. Candidates come from one source: a tag
query against the directory (--preset or --and-tags/--or-tags), explicit ids
(--ids/--id-file), or the local archive (--archive).

$ probe-filters select --preset anchors -k 20 --max-per-asn 1 --format ids
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch selectFormat {
		case "table", "plain", "json", "ids":
		default:
			return fmt.Errorf("unknown format %q (want table, plain, json or ids)", selectFormat)
		}

		if selectWithinKm > 0 && selectNear == "" {
			return errors.New("--within requires --near")
		}

		probes, err := gatherPool()
		if err != nil {
			return err
		}

		if selectCountry != "" {
			probes = filterCountry(probes, selectCountry)
		}

		if selectNear != "" {
			probes, err = filterNear(cmd.Context(), probes)
			if err != nil {
				return err
			}
		}

		log.Printf("Selecting %d probes for diversity from %s candidates...this may take a while.",
			selectK, textutils.FormatInt(int64(len(probes))))

		pool := make([]diversity.Candidate, len(probes))
		for i, p := range probes {
			pool[i] = p
		}

		selected, err := diversity.SelectDiverseSubset(pool, selectK, selectMaxPerASN)
		if err != nil {
			return err
		}

		picked := make([]*atlas.Probe, len(selected))
		for i, c := range selected {
			picked[i] = c.(*atlas.Probe)
		}

		if err := writeSelection(picked); err != nil {
			return err
		}

		if selectCoverageRes > 0 {
			return printSelectionCoverage(picked, selectCoverageRes)
		}

		return nil
	},
}

// gatherPool resolves the candidate source flags to one probe list.
func gatherPool() ([]*atlas.Probe, error) {
	sources := 0
	if srcArchive {
		sources++
	}

	if len(srcIDs) > 0 || srcIDFile != "" {
		sources++
	}

	if srcPreset != "" || len(srcAndTags)+len(srcOrTags) > 0 {
		sources++
	}

	if sources > 1 {
		return nil, errors.New("pick one probe source: --archive, --ids/--id-file, or a tag query")
	}

	switch {
	case srcArchive:
		db, repo, err := openArchive(false)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		return repo.ListProbes(&archive.ProbeFilter{CountryCode: selectCountry})

	case len(srcIDs) > 0 || srcIDFile != "":
		ids := srcIDs

		if srcIDFile != "" {
			fileIDs, err := readIDFile(srcIDFile)
			if err != nil {
				return nil, err
			}

			ids = append(ids, fileIDs...)
		}

		ids = dedupeIDs(ids)

		return newAtlasClient().GetProbesByID(ids)

	default:
		probes, _, err := fetchByTags(newAtlasClient())

		return probes, err
	}
}

func readIDFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening id file: %w", err)
	}
	defer f.Close()

	var ids []int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("parsing probe id %q: %w", line, err)
		}

		ids = append(ids, id)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading id file: %w", err)
	}

	return ids, nil
}

func dedupeIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true

		out = append(out, id)
	}

	return out
}

func filterCountry(probes []*atlas.Probe, country string) []*atlas.Probe {
	var kept []*atlas.Probe

	for _, p := range probes {
		if strings.EqualFold(p.CountryCode, country) {
			kept = append(kept, p)
		}
	}

	return kept
}

// filterNear geocodes the --near query and keeps probes within --within km of
// it. Probes without a position stay in the pool; the selector drops and
// counts them like any other positionless candidate.
func filterNear(ctx context.Context, probes []*atlas.Probe) ([]*atlas.Probe, error) {
	if selectWithinKm <= 0 {
		return nil, errors.New("--near requires --within to be a positive distance in km")
	}

	geocoder, err := geocode.NewFromEnvironment(ctx)
	if err != nil {
		return nil, fmt.Errorf("--near needs a geocoder: %w", err)
	}

	result, err := geocoder.Geocode(selectNear)
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", selectNear, err)
	}

	log.Printf("📍 Anchor %q resolved to (%.4f, %.4f) via %s",
		selectNear, result.Point.Lat, result.Point.Lng, result.Provider)

	anchor := result.Point

	var kept []*atlas.Probe

	for _, p := range probes {
		loc := p.Location()
		if loc == nil || anchor.GreatCircleDistance(loc) <= selectWithinKm {
			kept = append(kept, p)
		}
	}

	return kept, nil
}

func writeSelection(probes []*atlas.Probe) error {
	switch selectFormat {
	case "table":
		printProbeTable(probes)
	case "plain":
		for _, p := range probes {
			asn := "none"
			if p.ASNv4 != nil {
				asn = strconv.Itoa(*p.ASNv4)
			}

			coords := "none"
			if loc := p.Location(); loc != nil {
				coords = fmt.Sprintf("[%g, %g]", loc.Lng, loc.Lat)
			}

			fmt.Printf("id: %d \tasn: %s \tlongitude/latitude: %s\n", p.ID, asn, coords)
		}
	case "json":
		data, err := json.MarshalIndent(probes, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(data))
	case "ids":
		for _, p := range probes {
			fmt.Println(p.ID)
		}
	default:
		return fmt.Errorf("unknown format %q", selectFormat)
	}

	return nil
}

func printSelectionCoverage(probes []*atlas.Probe, res int) error {
	counts := make(map[uint64]int)

	for _, p := range probes {
		loc := p.Location()
		if loc == nil {
			continue
		}

		cell, err := spatial.H3Cell(*loc, res)
		if err != nil {
			return err
		}

		counts[cell]++
	}

	cells := make([]uint64, 0, len(counts))
	for cell := range counts {
		cells = append(cells, cell)
	}

	sort.Slice(cells, func(i, j int) bool {
		if counts[cells[i]] != counts[cells[j]] {
			return counts[cells[i]] > counts[cells[j]]
		}

		return cells[i] < cells[j]
	})

	fmt.Printf("Coverage at H3 resolution %d - %d distinct cells:\n", res, len(cells))

	for _, cell := range cells {
		fmt.Printf("  %s  %d\n", spatial.H3CellString(cell), counts[cell])
	}

	return nil
}

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().IntVarP(&selectK, "count", "k", 10, "How many probes to select")
	selectCmd.Flags().IntVar(&selectMaxPerASN, "max-per-asn", 0, "Cap picks sharing one origin network. 0 disables the cap")
	selectCmd.Flags().StringVar(&selectCountry, "country", "", "Keep candidates in this country (ISO alpha-2)")
	selectCmd.Flags().StringVar(&selectNear, "near", "", "Keep candidates around this place (geocoded)")
	selectCmd.Flags().Float64Var(&selectWithinKm, "within", 0, "Radius in km around --near")
	selectCmd.Flags().StringVar(&selectFormat, "format", "table", "Output format: table, plain, json or ids")
	selectCmd.Flags().IntVar(&selectCoverageRes, "coverage-res", 0, "Also print an H3 coverage histogram of the selection at this resolution")

	selectCmd.Flags().IntSliceVar(&srcIDs, "ids", nil, "Select among these probe ids (fetched from the directory)")
	selectCmd.Flags().StringVar(&srcIDFile, "id-file", "", "File with one probe id per line; # starts a comment")
	selectCmd.Flags().BoolVar(&srcArchive, "archive", false, "Select among the archived probes (offline)")

	registerTagSourceFlags(selectCmd)
	registerClientFlags(selectCmd)
}
