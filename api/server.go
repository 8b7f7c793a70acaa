// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves a local HTTP surface over the probe archive: browse
// endpoints for the stored directory plus a selection endpoint that runs the
// diversity picker over a filtered pool.
package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nicholaskernan/probe-filters/archive"
	"github.com/nicholaskernan/probe-filters/atlas"
	"github.com/nicholaskernan/probe-filters/diversity"
	"github.com/nicholaskernan/probe-filters/geocode"
	"github.com/nicholaskernan/probe-filters/spatial"
)

type Server struct {
	repo     archive.ProbeRepository
	geocoder geocode.Geocoder
}

// NewServer wires the HTTP surface over an archived probe snapshot. The
// geocoder may be nil; selections anchored to a place name are then rejected
// with 503.
func NewServer(repo archive.ProbeRepository, geocoder geocode.Geocoder) *Server {
	return &Server{
		repo:     repo,
		geocoder: geocoder,
	}
}

func (s *Server) Run(addr string) error {
	if s.geocoder == nil {
		log.Print("⚠️  No geocoder configured - selections anchored to a place will be rejected")
	}

	r := gin.Default()

	r.GET("/api/health", s.getHealth)
	r.GET("/api/presets", s.listPresets)
	r.GET("/api/probes", s.listProbes)
	r.GET("/api/probes/:id", s.getProbe)
	r.GET("/api/coverage", s.getCoverage)
	r.POST("/api/selections", s.createSelection)

	return r.Run(addr)
}

func (s *Server) getHealth(ctx *gin.Context) {
	count, err := s.repo.CountProbes()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	last, err := s.repo.LastSync()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"probes":    count,
		"last_sync": last,
	})
}

type PresetInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AndTags     []string `json:"and_tags"`
	OrTags      []string `json:"or_tags"`
}

func (s *Server) listPresets(ctx *gin.Context) {
	presets := []PresetInfo{}

	err := atlas.EachPreset(func(p atlas.TagPreset) error {
		presets = append(presets, PresetInfo{
			Name:        p.Name,
			Description: p.Description,
			AndTags:     p.AndTags,
			OrTags:      p.OrTags,
		})

		return nil
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, presets)
}

func (s *Server) listProbes(ctx *gin.Context) {
	filter := &archive.ProbeFilter{
		CountryCode:      ctx.Query("country"),
		Tags:             ctx.QueryArray("tag"),
		Search:           ctx.Query("search"),
		AnchorsOnly:      ctx.Query("anchors") == "true",
		WithPositionOnly: ctx.Query("with_position") == "true",
		Limit:            100,
	}

	if v := ctx.Query("asn"); v != "" {
		var asn int
		if _, err := fmt.Sscanf(v, "%d", &asn); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid asn parameter"})

			return
		}

		filter.ASNv4 = &asn
	}

	if v := ctx.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.Limit); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})

			return
		}
	}

	if v := ctx.Query("offset"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &filter.Offset); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})

			return
		}
	}

	probes, err := s.repo.ListProbes(filter)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"probes": probes,
		"count":  len(probes),
	})
}

func (s *Server) getProbe(ctx *gin.Context) {
	var id int
	if _, err := fmt.Sscanf(ctx.Param("id"), "%d", &id); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid probe id"})

		return
	}

	probe, err := s.repo.GetProbe(id)
	if errors.Is(err, sql.ErrNoRows) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("probe %d not found", id)})

		return
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, probe)
}

func (s *Server) getCoverage(ctx *gin.Context) {
	res := 4

	if v := ctx.Query("res"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &res); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid res parameter"})

			return
		}
	}

	if res < 1 || res > 8 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "res must be between 1 and 8"})

		return
	}

	cells, err := s.repo.CoverageByCell(res)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"res":   res,
		"cells": cells,
	})
}

// NearClause anchors a selection around a geocoded place.
type NearClause struct {
	Query    string  `json:"query"`
	WithinKm float64 `json:"within_km"`
}

type SelectionRequest struct {
	K         int         `json:"k"`
	MaxPerASN int         `json:"max_per_asn"`
	Country   string      `json:"country"`
	IDs       []int       `json:"ids"`
	Near      *NearClause `json:"near"`
}

type SelectionResponse struct {
	Probes            []*atlas.Probe `json:"probes"`
	Pool              int            `json:"pool"`
	DroppedNoPosition int            `json:"dropped_no_position"`
}

func (s *Server) createSelection(ctx *gin.Context) {
	var req SelectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if req.K < 1 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "k must be at least 1"})

		return
	}

	if req.MaxPerASN < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "max_per_asn must not be negative"})

		return
	}

	probes, err := s.repo.ListProbes(&archive.ProbeFilter{CountryCode: req.Country})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if len(req.IDs) > 0 {
		probes = keepIDs(probes, req.IDs)
	}

	if req.Near != nil {
		anchor, status, err := s.resolveAnchor(req.Near)
		if err != nil {
			ctx.JSON(status, gin.H{"error": err.Error()})

			return
		}

		probes = withinKm(probes, *anchor, req.Near.WithinKm)
	}

	pool := make([]diversity.Candidate, len(probes))
	for i, p := range probes {
		pool[i] = p
	}

	selected, err := diversity.SelectDiverseSubset(pool, req.K, req.MaxPerASN)
	if errors.Is(err, diversity.ErrEmptyPool) {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

		return
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	out := make([]*atlas.Probe, len(selected))
	for i, c := range selected {
		out[i] = c.(*atlas.Probe)
	}

	ctx.JSON(http.StatusOK, SelectionResponse{
		Probes:            out,
		Pool:              len(pool),
		DroppedNoPosition: diversity.CountPositionless(pool),
	})
}

func (s *Server) resolveAnchor(near *NearClause) (*spatial.Point, int, error) {
	if strings.TrimSpace(near.Query) == "" {
		return nil, http.StatusBadRequest, errors.New("near.query must not be empty")
	}

	if near.WithinKm <= 0 {
		return nil, http.StatusBadRequest, errors.New("near.within_km must be positive")
	}

	if s.geocoder == nil {
		return nil, http.StatusServiceUnavailable, errors.New("no geocoder configured")
	}

	result, err := s.geocoder.Geocode(near.Query)
	if err != nil {
		return nil, http.StatusBadGateway, fmt.Errorf("geocoding %q: %w", near.Query, err)
	}

	log.Printf("📍 Anchor %q resolved to (%.4f, %.4f) via %s", near.Query, result.Point.Lat, result.Point.Lng, result.Provider)

	return &result.Point, http.StatusOK, nil
}

func keepIDs(probes []*atlas.Probe, ids []int) []*atlas.Probe {
	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var kept []*atlas.Probe

	for _, p := range probes {
		if wanted[p.ID] {
			kept = append(kept, p)
		}
	}

	return kept
}

// withinKm keeps probes inside the radius around the anchor. Probes without a
// position stay in the pool; the selector drops and counts them like any
// other positionless candidate.
func withinKm(probes []*atlas.Probe, anchor spatial.Point, km float64) []*atlas.Probe {
	var kept []*atlas.Probe

	for _, p := range probes {
		loc := p.Location()
		if loc == nil || anchor.GreatCircleDistance(loc) <= km {
			kept = append(kept, p)
		}
	}

	return kept
}
