// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/nicholaskernan/probe-filters/spatial"
)

// StatusConnected is the directory's status id for probes currently online.
const StatusConnected = 1

// A single measurement vantage point as served by the probe directory.
type Probe struct {
	ID             int         `json:"id"`
	ASNv4          *int        `json:"asn_v4"`
	ASNv6          *int        `json:"asn_v6"`
	CountryCode    string      `json:"country_code"`
	Description    string      `json:"description"`
	Geometry       *Geometry   `json:"geometry"`
	IsAnchor       bool        `json:"is_anchor"`
	IsPublic       bool        `json:"is_public"`
	Status         ProbeStatus `json:"status"`
	Tags           []ProbeTag  `json:"tags"`
	FirstConnected int64       `json:"first_connected"`
	LastConnected  int64       `json:"last_connected"`
	TotalUptime    int64       `json:"total_uptime"`
}

// Geometry is the GeoJSON position of a probe. Coordinates come
// longitude-first.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ProbeStatus is the connection state of a probe.
type ProbeStatus struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProbeTag is a user or system tag attached to a probe.
type ProbeTag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// UID implements diversity.Candidate.
func (p *Probe) UID() string {
	return strconv.Itoa(p.ID)
}

// GroupKey groups probes by their origin IPv4 network. Probes without a
// known ASN share the empty key.
func (p *Probe) GroupKey() string {
	if p.ASNv4 == nil {
		return ""
	}

	return "AS" + strconv.Itoa(*p.ASNv4)
}

// Location returns the probe's advertised coordinates, or nil when the
// directory has no usable position for it.
func (p *Probe) Location() *spatial.Point {
	if p.Geometry == nil || len(p.Geometry.Coordinates) < 2 {
		return nil
	}

	return &spatial.Point{
		Lat: p.Geometry.Coordinates[1],
		Lng: p.Geometry.Coordinates[0],
	}
}

// TagSlugs returns the machine form of the probe's tags.
func (p *Probe) TagSlugs() []string {
	slugs := make([]string, 0, len(p.Tags))

	for _, tag := range p.Tags {
		slug := tag.Slug
		if slug == "" {
			slug = tag.Name
		}

		slugs = append(slugs, slug)
	}

	return slugs
}

// One page of a paginated probe listing.
type probePage struct {
	Count    int      `json:"count"`
	Next     string   `json:"next"`
	Previous string   `json:"previous"`
	Results  []*Probe `json:"results"`
}

// GetProbesByTag lists the connected probes matching the tag filters: every
// andTags tag must be present, and when orTags is non-empty at least one of
// them as well. Probes matching several OR alternatives are reported once.
func (c *Client) GetProbesByTag(andTags, orTags []string) ([]*Probe, error) {
	andTags = normalizeTags(andTags)
	orTags = normalizeTags(orTags)

	if len(andTags) == 0 && len(orTags) == 0 {
		return nil, errors.New("at least one tag is required")
	}

	seen := make(map[int]bool)
	probes := make([]*Probe, 0, 256)

	for _, tags := range tagQueries(andTags, orTags) {
		params := url.Values{}
		params.Set("tags", strings.Join(tags, ","))
		params.Set("status", strconv.Itoa(StatusConnected))

		fetched, err := c.fetchPages(c.listURL(params))
		if err != nil {
			return nil, fmt.Errorf("listing probes tagged <%s>: %w", strings.Join(tags, ","), err)
		}

		for _, probe := range fetched {
			if seen[probe.ID] {
				continue
			}

			seen[probe.ID] = true

			probes = append(probes, probe)
		}
	}

	return probes, nil
}

// GetAllProbes lists every connected probe in the directory.
func (c *Client) GetAllProbes() ([]*Probe, error) {
	params := url.Values{}
	params.Set("status", strconv.Itoa(StatusConnected))

	return c.fetchPages(c.listURL(params))
}

// GetProbe fetches a single probe by id.
func (c *Client) GetProbe(id int) (*Probe, error) {
	return c.getProbe(id, &c.Metrics)
}

func (c *Client) getProbe(id int, m *FetchMetrics) (*Probe, error) {
	var probe Probe

	if err := c.getJSON(c.probeURL(id), &probe, m); err != nil {
		return nil, fmt.Errorf("fetching probe %d: %w", id, err)
	}

	return &probe, nil
}

// GetProbesByID fetches probes by id, in parallel, preserving the input
// order. Fetches are best effort: probes that cannot be retrieved are
// logged and skipped, never fatal.
func (c *Client) GetProbesByID(ids []int) ([]*Probe, error) {
	n := len(ids)
	if n == 0 {
		return []*Probe{}, nil
	}

	maxProcs := c.options.FetchMaxProcs

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Fetching probes"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, maxProcs)
	errChan := make(chan error, n)
	metricsChan := make(chan *FetchMetrics, n)
	fetched := make([]*Probe, n)

	for i, id := range ids {
		wg.Add(1)

		go func(i, id int) {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			metrics := &FetchMetrics{}

			probe, err := c.getProbe(id, metrics)
			if err != nil {
				metrics.Skipped++
				errChan <- err
			} else {
				metrics.Probes++
				fetched[i] = probe
			}

			metricsChan <- metrics

			if bar == nil {
				log.Printf("Fetched probe %d", id)
			} else {
				if err := bar.Add(1); err != nil {
					errChan <- fmt.Errorf("updating progress bar for probe %d: %w", id, err)
				}
			}
		}(i, id)
	}

	wg.Wait()
	close(errChan)
	close(metricsChan)

	for err := range errChan {
		log.Printf("⚠️  Skipping probe - %s", err)
	}

	for metrics := range metricsChan {
		c.Metrics.Merge(metrics)
	}

	probes := make([]*Probe, 0, n)

	for _, probe := range fetched {
		if probe != nil {
			probes = append(probes, probe)
		}
	}

	log.Printf(
		"Probe fetch complete - %d of %d probes retrieved, %d skipped.",
		len(probes),
		n,
		n-len(probes),
	)

	return probes, nil
}

// fetchPages walks a paginated probe listing until the directory reports no
// next page. In dry-run mode only the first page is fetched.
func (c *Client) fetchPages(firstURL string) ([]*Probe, error) {
	var probes []*Probe

	next := firstURL
	for page := 1; next != ""; page++ {
		if page == 1 {
			log.Printf("Probes - Retrieving first page <%s>", next)
		} else {
			log.Printf("Probes - Retrieving next page <%s>", next)
		}

		var envelope probePage
		if err := c.getJSON(next, &envelope, &c.Metrics); err != nil {
			return nil, fmt.Errorf("retrieving probe page %d: %w", page, err)
		}

		c.Metrics.Pages++
		c.Metrics.Probes += len(envelope.Results)
		probes = append(probes, envelope.Results...)

		log.Printf(
			"Probes - Page %d stats - %d records of %d total",
			page,
			len(probes),
			envelope.Count,
		)

		next = envelope.Next

		if c.options.DryRun && next != "" {
			log.Printf("Probes - Dry run - stopping after the first page")

			break
		}
	}

	return probes, nil
}

// normalizeTags lowercases the tags and drops empty entries.
func normalizeTags(tags []string) []string {
	ret := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			ret = append(ret, tag)
		}
	}

	return ret
}

// tagQueries expands the AND/OR tag filters into concrete directory queries:
// one query per OR alternative, each carrying every AND tag, or a single
// AND-only query when no alternatives were given.
func tagQueries(andTags, orTags []string) [][]string {
	if len(orTags) == 0 {
		return [][]string{andTags}
	}

	queries := make([][]string, 0, len(orTags))

	for _, orTag := range orTags {
		query := make([]string, 0, len(andTags)+1)
		query = append(query, andTags...)
		query = append(query, orTag)
		queries = append(queries, query)
	}

	return queries
}
