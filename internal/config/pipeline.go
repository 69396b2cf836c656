package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/canopy.report/internal/indices"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Parallel execution modes.
const (
	ModeThread  = "thread"
	ModeProcess = "process"
)

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PipelineConfig is the root configuration for a processing run. Every
// field is optional; the Get* accessors supply defaults, so partial files
// are safe.
type PipelineConfig struct {
	// Inputs and outputs
	PlotsPath   *string `json:"plots_path,omitempty"`
	CatalogPath *string `json:"catalog_path,omitempty"`
	RasterDir   *string `json:"raster_dir,omitempty"`
	OutputDir   *string `json:"output_dir,omitempty"`

	// Ledger
	DatabasePath   *string `json:"database_path,omitempty"`
	DatabaseDriver *string `json:"database_driver,omitempty"`
	DatabaseDSN    *string `json:"database_dsn,omitempty"`

	// Search
	MaxCloudCoverage    *float64 `json:"max_cloud_coverage,omitempty"`
	SearchIntervalDays  *int     `json:"search_interval_days,omitempty"`
	MinDateIntervalDays *int     `json:"min_date_interval_days,omitempty"`
	SearchCacheTTL      *string  `json:"search_cache_ttl,omitempty"` // duration string like "24h"

	// Quality filter
	FilterMaxCloudCoverage *float64 `json:"filter_max_cloud_coverage,omitempty"`
	FilterMinDataCoverage  *float64 `json:"filter_min_data_coverage,omitempty"`
	QualityThreshold       *string  `json:"quality_threshold,omitempty"`

	// Indices
	Indices []string `json:"indices,omitempty"`

	// Scheduling
	RequestDelay        *string `json:"request_delay,omitempty"`
	BatchSize           *int    `json:"batch_size,omitempty"`
	MaxParallelWorkers  *int    `json:"max_parallel_workers,omitempty"`
	ParallelMode        *string `json:"parallel_mode,omitempty"`
	ParallelEnabled     *bool   `json:"parallel_enabled,omitempty"`
	DownloadConcurrency *int    `json:"download_concurrency,omitempty"`
	PlotMinInterval     *string `json:"plot_min_interval,omitempty"`
	BatchPause          *string `json:"batch_pause,omitempty"`

	// Download
	DownloadTimeout *string `json:"download_timeout,omitempty"`
	MaxRetries      *int    `json:"max_retries,omitempty"`

	// Requested raster size
	ImageWidth  *int `json:"image_width,omitempty"`
	ImageHeight *int `json:"image_height,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a PipelineConfig with all fields unset.
func EmptyConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultConfig returns a PipelineConfig with every field populated from
// the built-in defaults.
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		PlotsPath:              ptrString("plots.geojson"),
		CatalogPath:            ptrString("catalog.json"),
		RasterDir:              ptrString("rasters"),
		OutputDir:              ptrString("output"),
		DatabasePath:           ptrString("canopy.db"),
		DatabaseDriver:         ptrString(DriverSQLite),
		DatabaseDSN:            ptrString(""),
		MaxCloudCoverage:       ptrFloat64(90),
		SearchIntervalDays:     ptrInt(14),
		MinDateIntervalDays:    ptrInt(7),
		SearchCacheTTL:         ptrString("24h"),
		FilterMaxCloudCoverage: ptrFloat64(20),
		FilterMinDataCoverage:  ptrFloat64(80),
		QualityThreshold:       ptrString("acceptable"),
		Indices:                []string{"NDVI", "NDRE", "MSAVI", "NDMI", "TrueColor"},
		RequestDelay:           ptrString("1s"),
		BatchSize:              ptrInt(2),
		MaxParallelWorkers:     ptrInt(4),
		ParallelMode:           ptrString(ModeThread),
		ParallelEnabled:        ptrBool(true),
		DownloadConcurrency:    ptrInt(2),
		PlotMinInterval:        ptrString("2s"),
		BatchPause:             ptrString("2s"),
		DownloadTimeout:        ptrString("120s"),
		MaxRetries:             ptrInt(3),
		ImageWidth:             ptrInt(256),
		ImageHeight:            ptrInt(256),
	}
}

// LoadConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension, be at most 1MB and contain only
// known keys. Fields omitted from the file fall back to defaults.
func LoadConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a JSON document.
func ParseConfig(data []byte) (*PipelineConfig, error) {
	cfg := EmptyConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/canopy-report/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	for name, v := range map[string]*float64{
		"max_cloud_coverage":        c.MaxCloudCoverage,
		"filter_max_cloud_coverage": c.FilterMaxCloudCoverage,
		"filter_min_data_coverage":  c.FilterMinDataCoverage,
	} {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s must be between 0 and 100, got %f", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"request_delay":     c.RequestDelay,
		"plot_min_interval": c.PlotMinInterval,
		"batch_pause":       c.BatchPause,
		"download_timeout":  c.DownloadTimeout,
		"search_cache_ttl":  c.SearchCacheTTL,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"batch_size":           c.BatchSize,
		"max_parallel_workers": c.MaxParallelWorkers,
		"download_concurrency": c.DownloadConcurrency,
		"search_interval_days": c.SearchIntervalDays,
		"image_width":          c.ImageWidth,
		"image_height":         c.ImageHeight,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", *c.MaxRetries)
	}
	if c.MinDateIntervalDays != nil && *c.MinDateIntervalDays < 0 {
		return fmt.Errorf("min_date_interval_days must be non-negative, got %d", *c.MinDateIntervalDays)
	}

	if c.QualityThreshold != nil {
		if _, err := raster.ParseGrade(*c.QualityThreshold); err != nil {
			return fmt.Errorf("invalid quality_threshold: %w", err)
		}
	}
	if c.Indices != nil {
		if _, err := indices.ParseKinds(c.Indices); err != nil {
			return fmt.Errorf("invalid indices: %w", err)
		}
	}
	if c.ParallelMode != nil && *c.ParallelMode != ModeThread && *c.ParallelMode != ModeProcess {
		return fmt.Errorf("parallel_mode must be %q or %q, got %q", ModeThread, ModeProcess, *c.ParallelMode)
	}
	if c.DatabaseDriver != nil && *c.DatabaseDriver != DriverSQLite && *c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database_driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, *c.DatabaseDriver)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPlotsPath returns the GeoJSON plot source path.
func (c *PipelineConfig) GetPlotsPath() string { return getString(c.PlotsPath, "plots.geojson") }

// GetCatalogPath returns the scene catalog path used by the searcher.
func (c *PipelineConfig) GetCatalogPath() string { return getString(c.CatalogPath, "catalog.json") }

// GetRasterDir returns the directory the local downloader resolves rasters from.
func (c *PipelineConfig) GetRasterDir() string { return getString(c.RasterDir, "rasters") }

// GetOutputDir returns the root directory for per-plot outputs.
func (c *PipelineConfig) GetOutputDir() string { return getString(c.OutputDir, "output") }

// GetDatabasePath returns the SQLite ledger path.
func (c *PipelineConfig) GetDatabasePath() string { return getString(c.DatabasePath, "canopy.db") }

// GetDatabaseDriver returns the ledger driver name.
func (c *PipelineConfig) GetDatabaseDriver() string {
	return getString(c.DatabaseDriver, DriverSQLite)
}

// GetDatabaseDSN returns the PostgreSQL DSN, empty for SQLite.
func (c *PipelineConfig) GetDatabaseDSN() string { return getString(c.DatabaseDSN, "") }

// GetMaxCloudCoverage returns the scene-level cloud limit used when searching.
func (c *PipelineConfig) GetMaxCloudCoverage() float64 {
	return getFloat(c.MaxCloudCoverage, 90)
}

// GetFilterMaxCloudCoverage returns the pixel-level cloud limit of the quality filter.
func (c *PipelineConfig) GetFilterMaxCloudCoverage() float64 {
	return getFloat(c.FilterMaxCloudCoverage, 20)
}

// GetFilterMinDataCoverage returns the minimum valid-data percentage of the quality filter.
func (c *PipelineConfig) GetFilterMinDataCoverage() float64 {
	return getFloat(c.FilterMinDataCoverage, 80)
}

// GetQualityThreshold returns the minimum grade for an image to be
// considered usable without a warning.
func (c *PipelineConfig) GetQualityThreshold() raster.Grade {
	g, err := raster.ParseGrade(getString(c.QualityThreshold, "acceptable"))
	if err != nil {
		return raster.GradeAcceptable
	}
	return g
}

// GetIndices returns the enabled index kinds.
func (c *PipelineConfig) GetIndices() []indices.Kind {
	if len(c.Indices) == 0 {
		return append([]indices.Kind(nil), indices.DefaultKinds...)
	}
	kinds, err := indices.ParseKinds(c.Indices)
	if err != nil {
		return append([]indices.Kind(nil), indices.DefaultKinds...)
	}
	return kinds
}

// GetRequestDelay returns the pause between dates of a plot.
func (c *PipelineConfig) GetRequestDelay() time.Duration {
	return getDuration(c.RequestDelay, time.Second)
}

// GetBatchSize returns the sequential-mode batch size.
func (c *PipelineConfig) GetBatchSize() int { return getInt(c.BatchSize, 2) }

// GetMaxParallelWorkers returns the configured worker count before clamping.
func (c *PipelineConfig) GetMaxParallelWorkers() int { return getInt(c.MaxParallelWorkers, 4) }

// GetParallelMode returns "thread" or "process".
func (c *PipelineConfig) GetParallelMode() string { return getString(c.ParallelMode, ModeThread) }

// GetParallelEnabled reports whether plots run on the parallel orchestrator.
func (c *PipelineConfig) GetParallelEnabled() bool {
	if c.ParallelEnabled == nil {
		return true
	}
	return *c.ParallelEnabled
}

// GetDownloadConcurrency returns the in-flight download bound.
func (c *PipelineConfig) GetDownloadConcurrency() int { return getInt(c.DownloadConcurrency, 2) }

// GetPlotMinInterval returns the minimum spacing between acquisitions for one plot.
func (c *PipelineConfig) GetPlotMinInterval() time.Duration {
	return getDuration(c.PlotMinInterval, 2*time.Second)
}

// GetBatchPause returns the pause between parallel batches.
func (c *PipelineConfig) GetBatchPause() time.Duration {
	return getDuration(c.BatchPause, 2*time.Second)
}

// GetDownloadTimeout returns the per-call download timeout.
func (c *PipelineConfig) GetDownloadTimeout() time.Duration {
	return getDuration(c.DownloadTimeout, 120*time.Second)
}

// GetMaxRetries returns how many times a retryable download is retried.
func (c *PipelineConfig) GetMaxRetries() int { return getInt(c.MaxRetries, 3) }

// GetSearchIntervalDays returns the spacing of fallback candidate dates.
func (c *PipelineConfig) GetSearchIntervalDays() int { return getInt(c.SearchIntervalDays, 14) }

// GetMinDateIntervalDays returns the minimum spacing of selected dates.
func (c *PipelineConfig) GetMinDateIntervalDays() int { return getInt(c.MinDateIntervalDays, 7) }

// GetSearchCacheTTL returns how long search results stay cached.
func (c *PipelineConfig) GetSearchCacheTTL() time.Duration {
	return getDuration(c.SearchCacheTTL, 24*time.Hour)
}

// GetImageSize returns the requested raster width and height.
func (c *PipelineConfig) GetImageSize() (int, int) {
	return getInt(c.ImageWidth, 256), getInt(c.ImageHeight, 256)
}
