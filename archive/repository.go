// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive keeps a local DuckDB snapshot of the probe directory so
// that selections can be replayed offline without hammering the API.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nicholaskernan/probe-filters/atlas"
	"github.com/nicholaskernan/probe-filters/spatial"
	"github.com/nicholaskernan/probe-filters/utils/textutils"
)

// ProbeFilter narrows ListProbes results. Zero values mean "no constraint".
type ProbeFilter struct {
	CountryCode      string   // ISO 3166-1 alpha-2, case-insensitive
	ASNv4            *int     // origin network
	Tags             []string // every tag must be present
	Search           string   // accent-insensitive substring of the description
	AnchorsOnly      bool
	WithPositionOnly bool
	Limit            int
	Offset           int
}

// CellCoverage is the number of archived probes inside one H3 cell.
type CellCoverage struct {
	Cell   string `json:"cell"`
	Probes int    `json:"probes"`
}

// SyncRun describes one archive refresh.
type SyncRun struct {
	ID     int       `json:"id"`
	RanAt  time.Time `json:"ran_at"`
	Probes int       `json:"probes"`
	Source string    `json:"source"`
}

// ProbeRepository handles persistence of probe directory snapshots.
type ProbeRepository interface {
	// CreateSchema creates the archive tables
	CreateSchema() error

	// ReplaceProbes swaps the stored snapshot for the given probes and
	// records the sync run
	ReplaceProbes(probes []*atlas.Probe, source string) error

	// ListProbes returns the stored probes matching the filter, in id order
	ListProbes(filter *ProbeFilter) ([]*atlas.Probe, error)

	// GetProbe returns a single stored probe, sql.ErrNoRows when missing
	GetProbe(id int) (*atlas.Probe, error)

	// CountProbes returns the number of stored probes
	CountProbes() (int, error)

	// CoverageByCell aggregates the stored probes into H3 cells at the
	// given resolution (1..8)
	CoverageByCell(res int) ([]CellCoverage, error)

	// LastSync describes the most recent snapshot, nil when never synced
	LastSync() (*SyncRun, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlProbeRepository struct {
	db *sql.DB
}

// NewProbeRepository creates a new probe archive backed by db.
func NewProbeRepository(db *sql.DB) ProbeRepository {
	return &sqlProbeRepository{db: db}
}

// DB returns the underlying database connection for advanced queries.
func (r *sqlProbeRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlProbeRepository) CreateSchema() error {
	// DuckDB needs to load the spatial extension
	_, err := r.db.Exec(`INSTALL spatial; LOAD spatial;`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS probes (
			id INTEGER PRIMARY KEY,
			asn_v4 BIGINT,
			asn_v6 BIGINT,
			country_code CHAR(2),
			description VARCHAR,
			description_folded VARCHAR,
			is_anchor BOOLEAN NOT NULL DEFAULT FALSE,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			status_id INTEGER NOT NULL,
			status_name VARCHAR,
			tags VARCHAR[],
			point POINT_2D,
			h3_res1 UBIGINT,
			h3_res2 UBIGINT,
			h3_res3 UBIGINT,
			h3_res4 UBIGINT,
			h3_res5 UBIGINT,
			h3_res6 UBIGINT,
			h3_res7 UBIGINT,
			h3_res8 UBIGINT,
			first_connected BIGINT,
			last_connected BIGINT,
			total_uptime BIGINT
		);

		CREATE SEQUENCE IF NOT EXISTS sync_runs_seq START 1;

		CREATE TABLE IF NOT EXISTS sync_runs (
			id INTEGER PRIMARY KEY DEFAULT nextval('sync_runs_seq'),
			ran_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			probes INTEGER NOT NULL,
			source VARCHAR NOT NULL
		);
	`)

	return err
}

// h3Columns derives the per-resolution cell indexes for a point. A nil point
// yields NULL for every resolution.
func h3Columns(p *spatial.Point) ([8]any, error) {
	var cols [8]any

	if p == nil {
		return cols, nil
	}

	for res := 1; res <= 8; res++ {
		cell, err := spatial.H3Cell(*p, res)
		if err != nil {
			return cols, err
		}

		cols[res-1] = cell
	}

	return cols, nil
}

func nve(v string) any {
	var ret any
	if len(v) == 0 {
		ret = nil
	} else {
		ret = v
	}

	return ret
}

func nvi(v *int) any {
	if v == nil {
		return nil
	}

	return *v
}

func (r *sqlProbeRepository) ReplaceProbes(probes []*atlas.Probe, source string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("starting snapshot transaction: %w", err)
	}

	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			log.Printf("failed to rollback snapshot transaction: %v", rerr)
		}
	}()

	if _, err := tx.Exec("DELETE FROM probes"); err != nil {
		return fmt.Errorf("clearing previous snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO probes (
			id, asn_v4, asn_v6, country_code,
			description, description_folded,
			is_anchor, is_public, status_id, status_name, tags,
			point,
			h3_res1, h3_res2, h3_res3, h3_res4, h3_res5, h3_res6, h3_res7, h3_res8,
			first_connected, last_connected, total_uptime
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ST_Point(?, ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing snapshot statement: %w", err)
	}
	defer stmt.Close()

	for _, probe := range probes {
		point := probe.Location()

		cells, err := h3Columns(point)
		if err != nil {
			return fmt.Errorf("indexing probe %d: %w", probe.ID, err)
		}

		var lng, lat any
		if point != nil {
			lng = point.Lng
			lat = point.Lat
		}

		_, err = stmt.Exec(
			probe.ID,
			nvi(probe.ASNv4),
			nvi(probe.ASNv6),
			nve(probe.CountryCode),
			nve(probe.Description),
			nve(textutils.LowerASCIIFolding(probe.Description)),
			probe.IsAnchor,
			probe.IsPublic,
			probe.Status.ID,
			nve(probe.Status.Name),
			probe.TagSlugs(),
			lng,
			lat,
			cells[0],
			cells[1],
			cells[2],
			cells[3],
			cells[4],
			cells[5],
			cells[6],
			cells[7],
			probe.FirstConnected,
			probe.LastConnected,
			probe.TotalUptime,
		)
		if err != nil {
			return fmt.Errorf("inserting probe %d: %w", probe.ID, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO sync_runs (probes, source) VALUES (?, ?)",
		len(probes),
		source,
	); err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}

	return tx.Commit()
}

var baseSelect = `
	SELECT id, asn_v4, asn_v6, country_code, description,
	       is_anchor, is_public, status_id, status_name, tags, point,
	       first_connected, last_connected, total_uptime
	FROM probes
`

func (r *sqlProbeRepository) ListProbes(filter *ProbeFilter) ([]*atlas.Probe, error) {
	query := baseSelect

	where := []string{}
	args := []any{}

	if filter != nil {
		if filter.CountryCode != "" {
			where = append(where, "country_code = ?")

			args = append(args, strings.ToUpper(filter.CountryCode))
		}

		if filter.ASNv4 != nil {
			where = append(where, "asn_v4 = ?")

			args = append(args, *filter.ASNv4)
		}

		for _, tag := range filter.Tags {
			where = append(where, "list_contains(tags, ?)")

			args = append(args, strings.ToLower(strings.TrimSpace(tag)))
		}

		if filter.Search != "" {
			where = append(where, "description_folded LIKE '%' || ? || '%'")

			args = append(args, textutils.LowerASCIIFolding(filter.Search))
		}

		if filter.AnchorsOnly {
			where = append(where, "is_anchor")
		}

		if filter.WithPositionOnly {
			where = append(where, "point IS NOT NULL")
		}
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY id"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"

		args = append(args, filter.Limit, filter.Offset)
	}

	return r.list(query, args)
}

func (r *sqlProbeRepository) GetProbe(id int) (*atlas.Probe, error) {
	return scanProbe(r.db.QueryRow(baseSelect+" WHERE id = ?", id))
}

func (r *sqlProbeRepository) CountProbes() (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM probes",
	).Scan(&count)

	return count, err
}

func (r *sqlProbeRepository) CoverageByCell(res int) ([]CellCoverage, error) {
	if res < 1 || res > 8 {
		return nil, fmt.Errorf("h3 resolution %d out of range [1, 8]", res)
	}

	query := fmt.Sprintf(`
		SELECT h3_res%d AS cell, COUNT(*) AS probes
		FROM probes
		WHERE h3_res%d IS NOT NULL
		GROUP BY cell
		ORDER BY probes DESC, cell
	`, res, res) // #nosec G201 - res is validated above

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying coverage: %w", err)
	}
	defer rows.Close()

	ret := make([]CellCoverage, 0, 64)

	for rows.Next() {
		var cell uint64

		var count int

		if err := rows.Scan(&cell, &count); err != nil {
			return nil, fmt.Errorf("scanning coverage row: %w", err)
		}

		ret = append(ret, CellCoverage{Cell: spatial.H3CellString(cell), Probes: count})
	}

	return ret, rows.Err()
}

func (r *sqlProbeRepository) LastSync() (*SyncRun, error) {
	run := &SyncRun{}

	err := r.db.QueryRow(`
		SELECT id, ran_at, probes, source
		FROM sync_runs
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&run.ID, &run.RanAt, &run.Probes, &run.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

func (r *sqlProbeRepository) list(query string, args []any) ([]*atlas.Probe, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying probes: %w", err)
	}
	defer rows.Close()

	probes := make([]*atlas.Probe, 0, 128)

	for rows.Next() {
		probe, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning probe: %w", err)
		}

		probes = append(probes, probe)
	}

	return probes, rows.Err()
}

// scanProbe rebuilds a directory record from an archive row.
func scanProbe(row interface{ Scan(...any) error }) (*atlas.Probe, error) {
	var (
		probe      atlas.Probe
		asnV4      sql.NullInt64
		asnV6      sql.NullInt64
		country    sql.NullString
		desc       sql.NullString
		statusName sql.NullString
		tags       any
		point      sql.Null[spatial.Point]
	)

	err := row.Scan(
		&probe.ID,
		&asnV4,
		&asnV6,
		&country,
		&desc,
		&probe.IsAnchor,
		&probe.IsPublic,
		&probe.Status.ID,
		&statusName,
		&tags,
		&point,
		&probe.FirstConnected,
		&probe.LastConnected,
		&probe.TotalUptime,
	)
	if err != nil {
		return nil, err
	}

	if asnV4.Valid {
		v := int(asnV4.Int64)
		probe.ASNv4 = &v
	}

	if asnV6.Valid {
		v := int(asnV6.Int64)
		probe.ASNv6 = &v
	}

	probe.CountryCode = country.String
	probe.Description = desc.String
	probe.Status.Name = statusName.String

	if slugs, ok := textutils.AnyToStringSlice(tags); ok {
		probe.Tags = make([]atlas.ProbeTag, 0, len(slugs))
		for _, slug := range slugs {
			probe.Tags = append(probe.Tags, atlas.ProbeTag{Name: slug, Slug: slug})
		}
	}

	if point.Valid {
		probe.Geometry = &atlas.Geometry{
			Type:        "Point",
			Coordinates: []float64{point.V.Lng, point.V.Lat},
		}
	}

	return &probe, nil
}
