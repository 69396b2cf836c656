package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/indices"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/quality"
	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/banshee-data/canopy.report/internal/version"
)

// Documents written next to the index rasters of every processed date.
const (
	MetadataFile      = "processing_metadata.json"
	QualityReportFile = "quality_report.json"
	SummaryFile       = "processing_summary.json"
)

// ProcessingMetadata is the full record of one processed (plot, date).
type ProcessingMetadata struct {
	ProcessingInfo      ProcessingInfo           `json:"processing_info"`
	PlotInformation     PlotInformation          `json:"plot_information"`
	SatelliteData       SatelliteData            `json:"satellite_data"`
	VegetationIndices   map[string]IndexMetadata `json:"vegetation_indices"`
	QualityAssessment   QualityAssessment        `json:"quality_assessment"`
	CloudAnalysis       CloudAnalysis            `json:"cloud_analysis"`
	FileStructure       FileStructure            `json:"file_structure"`
	SystemConfiguration SystemConfiguration      `json:"system_configuration"`
}

type ProcessingInfo struct {
	RunID           string    `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`
	Version         string    `json:"processing_version"`
	DurationSeconds float64   `json:"processing_duration_seconds"`
	Workers         int       `json:"workers"`
	Mode            string    `json:"processing_mode"`
}

type GeometryInfo struct {
	Type             string       `json:"type"`
	CoordinatesCount int          `json:"coordinates_count"`
	Bounds           plots.Bounds `json:"bounds"`
}

type PlotInformation struct {
	PlotID         string       `json:"plot_id"`
	AreaHectares   float64      `json:"area_hectares"`
	CropType       string       `json:"crop_type"`
	Owner          string       `json:"owner,omitempty"`
	Region         string       `json:"region,omitempty"`
	PlantingDate   string       `json:"planting_date"`
	HarvestDate    string       `json:"harvest_date,omitempty"`
	IrrigationType string       `json:"irrigation_type,omitempty"`
	SoilType       string       `json:"soil_type,omitempty"`
	ElevationM     *float64     `json:"elevation_m,omitempty"`
	Geometry       GeometryInfo `json:"geometry"`
}

type SatelliteData struct {
	AcquisitionDate string   `json:"acquisition_date"`
	Mission         string   `json:"satellite_mission"`
	ProcessingLevel string   `json:"processing_level"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Bands           []string `json:"bands_downloaded"`
	PixelSizeX      float64  `json:"pixel_size_x"`
	PixelSizeY      float64  `json:"pixel_size_y"`
	DataType        string   `json:"data_type"`
	SourceBytes     int64    `json:"source_size_bytes"`
}

// IndexMetadata pairs an index's static provenance with the statistics of
// this acquisition.
type IndexMetadata struct {
	indices.Provenance
	Statistics indices.Statistics `json:"statistics"`
	File       string             `json:"file"`
}

type QualityAssessment struct {
	raster.QualityMetrics
	QualityWarning bool   `json:"quality_warning"`
	Threshold      string `json:"quality_threshold"`
}

type CloudAnalysis struct {
	DetectionMethod       string               `json:"detection_method"`
	CloudCoveragePercent  float64              `json:"cloud_coverage_percent"`
	CloudMaskAvailable    bool                 `json:"cloud_mask_available"`
	SCLClassification     []quality.ClassShare `json:"scl_classification,omitempty"`
	DetailedCloudCoverage *float64             `json:"detailed_cloud_coverage,omitempty"`
}

type FileEntry struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	SizeBytes    int64  `json:"size_bytes"`
	Type         string `json:"type"`
}

type FileStructure struct {
	OutputDirectory string      `json:"output_directory"`
	TotalFiles      int         `json:"total_files"`
	Files           []FileEntry `json:"files"`
	TotalSizeBytes  int64       `json:"total_size_bytes"`
	TotalSize       string      `json:"total_size"`
}

type SystemConfiguration struct {
	MaxCloudCoverage       float64  `json:"max_cloud_coverage"`
	FilterMaxCloudCoverage float64  `json:"filter_max_cloud_coverage"`
	FilterMinDataCoverage  float64  `json:"filter_min_data_coverage"`
	ImageDimensions        string   `json:"image_dimensions"`
	Indices                []string `json:"indices_calculated"`
	ParallelWorkers        int      `json:"parallel_workers"`
	ProcessingMode         string   `json:"processing_mode"`
	QualityThreshold       string   `json:"quality_threshold"`
	BatchSize              int      `json:"batch_size"`
}

// Usability scores how fit an acquisition is for analysis.
type Usability struct {
	Score                  int    `json:"usability_score"`
	Level                  string `json:"usability_level"`
	RecommendedForAnalysis bool   `json:"recommended_for_analysis"`
}

type QualityReport struct {
	AssessmentSummary QualityAssessment `json:"assessment_summary"`
	CloudAnalysis     CloudAnalysis     `json:"cloud_analysis"`
	Recommendations   []string          `json:"recommendations"`
	DataUsability     Usability         `json:"data_usability"`
}

type ProcessingSummary struct {
	PlotID                    string    `json:"plot_id"`
	ProcessingDate            time.Time `json:"processing_date"`
	SatelliteDate             string    `json:"satellite_date"`
	QualityScore              string    `json:"quality_score"`
	CloudCoverage             float64   `json:"cloud_coverage"`
	QualityWarning            bool      `json:"quality_warning"`
	IndicesGenerated          []string  `json:"indices_generated"`
	TotalFiles                int       `json:"total_files"`
	TotalSize                 string    `json:"total_size"`
	ProcessingDurationSeconds float64   `json:"processing_duration"`
}

// Recommendations turns cloud coverage and grade into advice for analysts.
func Recommendations(m raster.QualityMetrics) []string {
	var out []string
	switch {
	case m.CloudCoverage > 30:
		out = append(out, "High cloud coverage detected - consider alternative date")
	case m.CloudCoverage > 15:
		out = append(out, "Moderate cloud coverage - results may be affected in cloudy areas")
	}
	switch m.Grade {
	case raster.GradePoor:
		out = append(out, "Poor image quality - recommend processing alternative date")
	case raster.GradeAcceptable:
		out = append(out, "Acceptable quality - suitable for analysis with caution")
	case raster.GradeGood, raster.GradeExcellent:
		out = append(out, "Good quality data - suitable for reliable analysis")
	default:
		out = append(out, "Quality could not be assessed - inspect outputs before use")
	}
	return out
}

// AssessUsability scores grade (up to 40), cloud coverage (up to 30) and
// data coverage (up to 30). 40 points or more is recommended for analysis.
func AssessUsability(m raster.QualityMetrics) Usability {
	score := 0
	switch m.Grade {
	case raster.GradeExcellent:
		score += 40
	case raster.GradeGood:
		score += 30
	case raster.GradeAcceptable:
		score += 20
	}
	switch {
	case m.CloudCoverage <= 10:
		score += 30
	case m.CloudCoverage <= 20:
		score += 20
	case m.CloudCoverage <= 30:
		score += 10
	}
	switch {
	case m.DataCoverage >= 95:
		score += 30
	case m.DataCoverage >= 85:
		score += 20
	case m.DataCoverage >= 75:
		score += 10
	}

	level := "poor"
	switch {
	case score >= 80:
		level = "excellent"
	case score >= 60:
		level = "good"
	case score >= 40:
		level = "acceptable"
	}
	return Usability{Score: score, Level: level, RecommendedForAnalysis: score >= 40}
}

// dateArtifacts is everything the documents of one processed date are
// built from.
type dateArtifacts struct {
	runID       string
	plot        plots.Plot
	date        string
	bands       *raster.BandSet
	results     map[indices.Kind]indices.Result
	files       map[indices.Kind]string
	outputDir   string
	sourceBytes int64
	elapsed     time.Duration
	now         time.Time
}

func (p *Pipeline) buildMetadata(a dateArtifacts) ProcessingMetadata {
	cfg := p.cfg
	metrics := qualityOf(a.bands)
	w, h := a.bands.Shape()
	px, py := a.bands.Profile.PixelSize()

	bandNames := make([]string, 0, len(a.bands.Grids))
	for _, id := range a.bands.IDs() {
		bandNames = append(bandNames, id.String())
	}

	md := ProcessingMetadata{
		ProcessingInfo: ProcessingInfo{
			RunID:           a.runID,
			Timestamp:       a.now.UTC(),
			Version:         version.Version,
			DurationSeconds: a.elapsed.Seconds(),
			Workers:         p.workers(),
			Mode:            p.mode(),
		},
		PlotInformation: plotInformation(a.plot),
		SatelliteData: SatelliteData{
			AcquisitionDate: a.date,
			Mission:         "Sentinel-2",
			ProcessingLevel: "L2A",
			Width:           w,
			Height:          h,
			Bands:           bandNames,
			PixelSizeX:      px,
			PixelSizeY:      py,
			DataType:        a.bands.Profile.DataType.String(),
			SourceBytes:     a.sourceBytes,
		},
		VegetationIndices: make(map[string]IndexMetadata, len(a.results)),
		QualityAssessment: QualityAssessment{
			QualityMetrics: metrics,
			QualityWarning: a.bands.QualityWarning,
			Threshold:      cfg.GetQualityThreshold().String(),
		},
		CloudAnalysis: cloudAnalysis(a.bands, metrics),
		SystemConfiguration: SystemConfiguration{
			MaxCloudCoverage:       cfg.GetMaxCloudCoverage(),
			FilterMaxCloudCoverage: cfg.GetFilterMaxCloudCoverage(),
			FilterMinDataCoverage:  cfg.GetFilterMinDataCoverage(),
			Indices:                kindNames(cfg.GetIndices()),
			ParallelWorkers:        p.workers(),
			ProcessingMode:         p.mode(),
			QualityThreshold:       cfg.GetQualityThreshold().String(),
			BatchSize:              cfg.GetBatchSize(),
		},
	}
	iw, ih := cfg.GetImageSize()
	md.SystemConfiguration.ImageDimensions = fmt.Sprintf("%dx%d", iw, ih)

	for k, res := range a.results {
		md.VegetationIndices[k.String()] = IndexMetadata{
			Provenance: indices.Info(k),
			Statistics: indices.Stats(res),
			File:       indices.Filename(k),
		}
	}
	md.FileStructure = p.fileStructure(a.outputDir, a.files)
	return md
}

func qualityOf(bs *raster.BandSet) raster.QualityMetrics {
	if bs.Quality != nil {
		return *bs.Quality
	}
	m := raster.QualityMetrics{Grade: raster.GradeUnknown}
	if bs.CloudCoverage != nil {
		m.CloudCoverage = *bs.CloudCoverage
	}
	return m
}

func plotInformation(p plots.Plot) PlotInformation {
	info := PlotInformation{
		PlotID:         p.ID,
		AreaHectares:   p.Area(),
		CropType:       p.CropType,
		Owner:          p.Owner,
		Region:         p.Region,
		PlantingDate:   p.PlantingDate.Format(plots.DateLayout),
		IrrigationType: p.IrrigationType,
		SoilType:       p.SoilType,
		ElevationM:     p.ElevationM,
		Geometry: GeometryInfo{
			Type:             "Polygon",
			CoordinatesCount: p.VertexCount(),
			Bounds:           p.Bounds(),
		},
	}
	if info.CropType == "" {
		info.CropType = "unknown"
	}
	if p.HarvestDate != nil {
		info.HarvestDate = p.HarvestDate.Format(plots.DateLayout)
	}
	return info
}

func cloudAnalysis(bs *raster.BandSet, m raster.QualityMetrics) CloudAnalysis {
	ca := CloudAnalysis{
		DetectionMethod:      m.Method,
		CloudCoveragePercent: m.CloudCoverage,
		CloudMaskAvailable:   bs.CloudMask != nil,
	}
	if ca.DetectionMethod == "" {
		ca.DetectionMethod = "unknown"
	}
	if scl, ok := bs.Get(raster.SCL); ok {
		ca.SCLClassification = quality.ClassDistribution(scl)
		detailed := quality.CloudClassPercentage(scl)
		ca.DetailedCloudCoverage = &detailed
	}
	return ca
}

func (p *Pipeline) fileStructure(dir string, files map[indices.Kind]string) FileStructure {
	fs := FileStructure{OutputDirectory: dir}
	for _, path := range files {
		size := fsutil.FileSize(p.fsys, path)
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		fs.Files = append(fs.Files, FileEntry{
			Filename:     filepath.Base(path),
			RelativePath: filepath.ToSlash(rel),
			SizeBytes:    size,
			Type:         strings.TrimPrefix(filepath.Ext(path), "."),
		})
		fs.TotalSizeBytes += size
	}
	sort.Slice(fs.Files, func(i, j int) bool { return fs.Files[i].Filename < fs.Files[j].Filename })
	fs.TotalFiles = len(fs.Files)
	fs.TotalSize = humanize.Bytes(uint64(fs.TotalSizeBytes))
	return fs
}

func kindNames(kinds []indices.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// writeDocuments writes the three metadata documents into dir and returns
// their paths.
func (p *Pipeline) writeDocuments(dir string, md ProcessingMetadata) ([]string, error) {
	report := QualityReport{
		AssessmentSummary: md.QualityAssessment,
		CloudAnalysis:     md.CloudAnalysis,
		Recommendations:   Recommendations(md.QualityAssessment.QualityMetrics),
		DataUsability:     AssessUsability(md.QualityAssessment.QualityMetrics),
	}
	generated := make([]string, 0, len(md.VegetationIndices))
	for name := range md.VegetationIndices {
		generated = append(generated, name)
	}
	sort.Strings(generated)
	summary := ProcessingSummary{
		PlotID:                    md.PlotInformation.PlotID,
		ProcessingDate:            md.ProcessingInfo.Timestamp,
		SatelliteDate:             md.SatelliteData.AcquisitionDate,
		QualityScore:              md.QualityAssessment.Grade.String(),
		CloudCoverage:             md.QualityAssessment.CloudCoverage,
		QualityWarning:            md.QualityAssessment.QualityWarning,
		IndicesGenerated:          generated,
		TotalFiles:                md.FileStructure.TotalFiles,
		TotalSize:                 md.FileStructure.TotalSize,
		ProcessingDurationSeconds: md.ProcessingInfo.DurationSeconds,
	}

	docs := []struct {
		name string
		v    any
	}{
		{MetadataFile, md},
		{QualityReportFile, report},
		{SummaryFile, summary},
	}
	written := make([]string, 0, len(docs))
	for _, d := range docs {
		path := filepath.Join(dir, d.name)
		if err := fsutil.WriteJSON(p.fsys, path, d.v); err != nil {
			return written, fmt.Errorf("write %s: %w", d.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
