// Package ledger records which (plot, date) acquisitions have been
// processed so reruns skip redundant downloads and recomputation.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const timeLayout = time.RFC3339Nano

// ErrNotFound is returned by read paths when no row matches.
var ErrNotFound = errors.New("ledger: not found")

// Record is one processed (plot, date) acquisition.
type Record struct {
	ID              string    `json:"id"`
	PlotID          string    `json:"plot_id"`
	Date            string    `json:"processing_date"`
	AcquisitionDate string    `json:"satellite_date"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	DurationSeconds float64   `json:"processing_time_seconds"`
	Indices         []string  `json:"indices_calculated"`
	OutputPath      string    `json:"output_path"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlotMeta is the per-plot side table: descriptive attributes plus
// aggregate processing counters.
type PlotMeta struct {
	PlotID               string     `json:"plot_id"`
	AreaHectares         *float64   `json:"area_hectares,omitempty"`
	CropType             string     `json:"crop_type"`
	Owner                string     `json:"owner"`
	Region               string     `json:"region"`
	PlantingDate         string     `json:"planting_date"`
	HarvestDate          string     `json:"harvest_date"`
	IrrigationType       string     `json:"irrigation_type"`
	SoilType             string     `json:"soil_type"`
	ElevationM           *float64   `json:"elevation_m,omitempty"`
	Geometry             string     `json:"geometry"`
	GeometryWKT          string     `json:"geometry_wkt"`
	LastProcessed        *time.Time `json:"last_processed,omitempty"`
	TotalImagesProcessed int        `json:"total_images_processed"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	Plots          int        `json:"plots"`
	Records        int        `json:"records"`
	TotalBytes     int64      `json:"total_bytes"`
	LastProcessed  *time.Time `json:"last_processed,omitempty"`
	ProcessedPlots int        `json:"processed_plots"`
}

// Store persists records and plot metadata. It is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	driver string
	dsn    string
	clock  timeutil.Clock
}

// RecordID is the ledger key of a (plot, date) pair.
func RecordID(plotID, date string) string {
	return plotID + "_" + date
}

// Open connects to a ledger. For sqlite the dsn is a file path.
// The schema is not touched; call MigrateUp to create or upgrade it.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, procerr.New(procerr.KindConfiguration, "open ledger", "unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps per-connection pragmas in effect and
		// serialises writers.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s ledger: %w", driver, err)
	}
	return &Store{db: db, driver: driver, dsn: dsn, clock: timeutil.RealClock{}}, nil
}

// OpenSQLite opens a SQLite ledger at path.
func OpenSQLite(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(timeLayout)
}

// IsProcessed reports whether a record exists for (plotID, date).
func (s *Store) IsProcessed(ctx context.Context, plotID, date string) (bool, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM processing_records WHERE id = ?`)
	if err := s.db.GetContext(ctx, &n, q, RecordID(plotID, date)); err != nil {
		return false, procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "check processed", err), plotID, date)
	}
	return n > 0, nil
}

// SaveRecord inserts or refreshes the record for (rec.PlotID, rec.Date).
// created_at survives an update; updated_at is always stamped.
func (s *Store) SaveRecord(ctx context.Context, rec Record) (err error) {
	defer func() {
		if err != nil {
			err = procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "save record", err), rec.PlotID, rec.Date)
		}
	}()

	if rec.PlotID == "" || rec.Date == "" {
		return errors.New("plot id and date are required")
	}
	indices := rec.Indices
	if indices == nil {
		indices = []string{}
	}
	indicesJSON, err := json.Marshal(indices)
	if err != nil {
		return fmt.Errorf("encode indices: %w", err)
	}
	now := s.now()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := tx.Rebind(`INSERT INTO processing_records (id, plot_id, processing_date, satellite_date, file_size_bytes, processing_time_seconds, indices_calculated, output_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET satellite_date=excluded.satellite_date, file_size_bytes=excluded.file_size_bytes, processing_time_seconds=excluded.processing_time_seconds, indices_calculated=excluded.indices_calculated, output_path=excluded.output_path, updated_at=excluded.updated_at`)
	if _, err := tx.ExecContext(ctx, q,
		RecordID(rec.PlotID, rec.Date), rec.PlotID, rec.Date, rec.AcquisitionDate,
		rec.FileSizeBytes, rec.DurationSeconds, string(indicesJSON), rec.OutputPath,
		now, now,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	diagf("saved record %s (%d bytes, %d indices)", RecordID(rec.PlotID, rec.Date), rec.FileSizeBytes, len(indices))
	return nil
}

// UpdateAggregateStats adds delta to the plot's processed-image total and
// stamps last_processed, creating the plot row when missing.
func (s *Store) UpdateAggregateStats(ctx context.Context, plotID string, delta int) error {
	now := s.now()
	q := s.db.Rebind(`INSERT INTO plot_metadata (plot_id, total_images_processed, last_processed, created_at, updated_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(plot_id) DO UPDATE SET total_images_processed = plot_metadata.total_images_processed + excluded.total_images_processed, last_processed=excluded.last_processed, updated_at=excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, q, plotID, delta, now, now, now); err != nil {
		return procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "update aggregate stats", err), plotID, "")
	}
	return nil
}

// SavePlot upserts the plot's descriptive attributes. Aggregate counters
// are left alone.
func (s *Store) SavePlot(ctx context.Context, p plots.Plot) error {
	wrap := func(err error) error {
		return procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "save plot", err), p.ID, "")
	}
	geometry, err := p.GeoJSON()
	if err != nil {
		return wrap(fmt.Errorf("encode geometry: %w", err))
	}
	wkt, err := p.WKT()
	if err != nil {
		return wrap(fmt.Errorf("encode geometry: %w", err))
	}
	harvest := ""
	if p.HarvestDate != nil {
		harvest = p.HarvestDate.Format(plots.DateLayout)
	}
	now := s.now()

	q := s.db.Rebind(`INSERT INTO plot_metadata (plot_id, area_hectares, crop_type, owner, region, planting_date, harvest_date, irrigation_type, soil_type, elevation_m, geometry, geometry_wkt, total_images_processed, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?) ON CONFLICT(plot_id) DO UPDATE SET area_hectares=excluded.area_hectares, crop_type=excluded.crop_type, owner=excluded.owner, region=excluded.region, planting_date=excluded.planting_date, harvest_date=excluded.harvest_date, irrigation_type=excluded.irrigation_type, soil_type=excluded.soil_type, elevation_m=excluded.elevation_m, geometry=excluded.geometry, geometry_wkt=excluded.geometry_wkt, updated_at=excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, q,
		p.ID, p.AreaHectares, p.CropType, p.Owner, p.Region,
		p.PlantingDate.Format(plots.DateLayout), harvest, p.IrrigationType, p.SoilType,
		p.ElevationM, string(geometry), wkt, now, now,
	); err != nil {
		return wrap(err)
	}
	return nil
}

type recordRow struct {
	ID              string  `db:"id"`
	PlotID          string  `db:"plot_id"`
	Date            string  `db:"processing_date"`
	AcquisitionDate string  `db:"satellite_date"`
	FileSizeBytes   int64   `db:"file_size_bytes"`
	DurationSeconds float64 `db:"processing_time_seconds"`
	Indices         string  `db:"indices_calculated"`
	OutputPath      string  `db:"output_path"`
	CreatedAt       string  `db:"created_at"`
	UpdatedAt       string  `db:"updated_at"`
}

func (r recordRow) toRecord() (Record, error) {
	rec := Record{
		ID:              r.ID,
		PlotID:          r.PlotID,
		Date:            r.Date,
		AcquisitionDate: r.AcquisitionDate,
		FileSizeBytes:   r.FileSizeBytes,
		DurationSeconds: r.DurationSeconds,
		OutputPath:      r.OutputPath,
	}
	if err := json.Unmarshal([]byte(r.Indices), &rec.Indices); err != nil {
		return Record{}, fmt.Errorf("decode indices of %s: %w", r.ID, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, r.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at of %s: %w", r.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, r.UpdatedAt); err != nil {
		return Record{}, fmt.Errorf("parse updated_at of %s: %w", r.ID, err)
	}
	return rec, nil
}

const recordColumns = `id, plot_id, processing_date, satellite_date, file_size_bytes, processing_time_seconds, indices_calculated, output_path, created_at, updated_at`

// Record returns the record for (plotID, date) or ErrNotFound.
func (s *Store) Record(ctx context.Context, plotID, date string) (Record, error) {
	var row recordRow
	q := s.db.Rebind(`SELECT ` + recordColumns + ` FROM processing_records WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, RecordID(plotID, date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "load record", err), plotID, date)
	}
	return row.toRecord()
}

// Records lists records ordered by plot and date. An empty plotID lists all.
func (s *Store) Records(ctx context.Context, plotID string) ([]Record, error) {
	var rows []recordRow
	var err error
	if plotID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+recordColumns+` FROM processing_records ORDER BY plot_id, processing_date`)
	} else {
		q := s.db.Rebind(`SELECT ` + recordColumns + ` FROM processing_records WHERE plot_id = ? ORDER BY processing_date`)
		err = s.db.SelectContext(ctx, &rows, q, plotID)
	}
	if err != nil {
		return nil, procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "list records", err), plotID, "")
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type plotRow struct {
	PlotID               string          `db:"plot_id"`
	AreaHectares         sql.NullFloat64 `db:"area_hectares"`
	CropType             string          `db:"crop_type"`
	Owner                string          `db:"owner"`
	Region               string          `db:"region"`
	PlantingDate         string          `db:"planting_date"`
	HarvestDate          string          `db:"harvest_date"`
	IrrigationType       string          `db:"irrigation_type"`
	SoilType             string          `db:"soil_type"`
	ElevationM           sql.NullFloat64 `db:"elevation_m"`
	Geometry             string          `db:"geometry"`
	GeometryWKT          string          `db:"geometry_wkt"`
	LastProcessed        sql.NullString  `db:"last_processed"`
	TotalImagesProcessed int             `db:"total_images_processed"`
	CreatedAt            string          `db:"created_at"`
	UpdatedAt            string          `db:"updated_at"`
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (r plotRow) toMeta() (PlotMeta, error) {
	m := PlotMeta{
		PlotID:               r.PlotID,
		AreaHectares:         nullFloat(r.AreaHectares),
		CropType:             r.CropType,
		Owner:                r.Owner,
		Region:               r.Region,
		PlantingDate:         r.PlantingDate,
		HarvestDate:          r.HarvestDate,
		IrrigationType:       r.IrrigationType,
		SoilType:             r.SoilType,
		ElevationM:           nullFloat(r.ElevationM),
		Geometry:             r.Geometry,
		GeometryWKT:          r.GeometryWKT,
		TotalImagesProcessed: r.TotalImagesProcessed,
	}
	if r.LastProcessed.Valid && r.LastProcessed.String != "" {
		t, err := time.Parse(timeLayout, r.LastProcessed.String)
		if err != nil {
			return PlotMeta{}, fmt.Errorf("parse last_processed of %s: %w", r.PlotID, err)
		}
		m.LastProcessed = &t
	}
	var err error
	if m.CreatedAt, err = time.Parse(timeLayout, r.CreatedAt); err != nil {
		return PlotMeta{}, fmt.Errorf("parse created_at of %s: %w", r.PlotID, err)
	}
	if m.UpdatedAt, err = time.Parse(timeLayout, r.UpdatedAt); err != nil {
		return PlotMeta{}, fmt.Errorf("parse updated_at of %s: %w", r.PlotID, err)
	}
	return m, nil
}

const plotColumns = `plot_id, area_hectares, crop_type, owner, region, planting_date, harvest_date, irrigation_type, soil_type, elevation_m, geometry, geometry_wkt, last_processed, total_images_processed, created_at, updated_at`

// Plot returns the metadata row for plotID or ErrNotFound.
func (s *Store) Plot(ctx context.Context, plotID string) (PlotMeta, error) {
	var row plotRow
	q := s.db.Rebind(`SELECT ` + plotColumns + ` FROM plot_metadata WHERE plot_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, plotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlotMeta{}, ErrNotFound
		}
		return PlotMeta{}, procerr.WithUnit(procerr.Wrap(procerr.KindPersistence, "load plot", err), plotID, "")
	}
	return row.toMeta()
}

// Plots lists all plot metadata rows ordered by id.
func (s *Store) Plots(ctx context.Context) ([]PlotMeta, error) {
	var rows []plotRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+plotColumns+` FROM plot_metadata ORDER BY plot_id`); err != nil {
		return nil, procerr.Wrap(procerr.KindPersistence, "list plots", err)
	}
	out := make([]PlotMeta, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMeta()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Summary aggregates counts across the ledger.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	var agg struct {
		Records    int           `db:"records"`
		TotalBytes sql.NullInt64 `db:"total_bytes"`
		Plots      int           `db:"plots"`
	}
	if err := s.db.GetContext(ctx, &agg, `SELECT COUNT(*) AS records, SUM(file_size_bytes) AS total_bytes, COUNT(DISTINCT plot_id) AS plots FROM processing_records`); err != nil {
		return out, procerr.Wrap(procerr.KindPersistence, "summarise records", err)
	}
	out.Records = agg.Records
	out.TotalBytes = agg.TotalBytes.Int64
	out.ProcessedPlots = agg.Plots

	var meta struct {
		Plots int            `db:"plots"`
		Last  sql.NullString `db:"last_processed"`
	}
	if err := s.db.GetContext(ctx, &meta, `SELECT COUNT(*) AS plots, MAX(last_processed) AS last_processed FROM plot_metadata`); err != nil {
		return out, procerr.Wrap(procerr.KindPersistence, "summarise plots", err)
	}
	out.Plots = meta.Plots
	if meta.Last.Valid && meta.Last.String != "" {
		if t, err := time.Parse(timeLayout, meta.Last.String); err == nil {
			out.LastProcessed = &t
		}
	}
	return out, nil
}
