// Package extract turns a downloaded Sentinel-2 raster into a band set and
// runs it through the quality filter.
package extract

import (
	"context"
	"fmt"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/quality"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// Extractor reads band sets through a raster codec.
type Extractor struct {
	Reader    raster.Reader
	Filter    *quality.Filter
	Threshold raster.Grade
}

// New returns an Extractor. A nil filter uses the default usability limits.
func New(r raster.Reader, f *quality.Filter, threshold raster.Grade) *Extractor {
	if f == nil {
		f = quality.NewFilter(0, 0)
	}
	return &Extractor{Reader: r, Filter: f, Threshold: threshold}
}

// ExtractBands reads up to seven bands from path and maps them by
// position to B02, B03, B04, B05, B08, B11, SCL. Fewer bands produce a
// partial set. The source profile is attached unchanged.
func (e *Extractor) ExtractBands(ctx context.Context, path string) (*raster.BandSet, error) {
	ds, err := e.Reader.Read(ctx, path, raster.MaxBands)
	if err != nil {
		return nil, procerr.Wrap(procerr.KindExtraction, "read "+path, err)
	}
	if len(ds.Bands) == 0 {
		return nil, procerr.New(procerr.KindExtraction, "read "+path, "raster has no bands")
	}

	bs := raster.NewBandSet(ds.Profile)
	for i, g := range ds.Bands {
		if i >= len(raster.PositionalOrder) {
			break
		}
		bs.Grids[raster.PositionalOrder[i]] = g
	}
	if err := bs.Validate(); err != nil {
		return nil, procerr.Wrap(procerr.KindExtraction, "read "+path, err)
	}
	if n := len(bs.Grids); n < raster.MaxBands {
		monitoring.Logf("%s: partial band set, %d of %d bands", path, n, raster.MaxBands)
	}
	return bs, nil
}

// ProcessSatelliteData extracts the bands at path and quality-filters them.
// An acquisition below the threshold grade is returned with
// QualityWarning set rather than rejected.
func (e *Extractor) ProcessSatelliteData(ctx context.Context, path, plotID, date string) (*raster.BandSet, error) {
	bs, err := e.ExtractBands(ctx, path)
	if err != nil {
		return nil, err
	}
	filtered := e.Filter.Process(bs)
	if filtered.Quality == nil || !quality.PassesThreshold(*filtered.Quality, e.Threshold) {
		grade := raster.GradeUnknown
		if filtered.Quality != nil {
			grade = filtered.Quality.Grade
		}
		warn := procerr.New(procerr.KindQualityDegraded, "quality filter",
			"grade %s below threshold %s", grade, e.Threshold)
		monitoring.Logf("%v", procerr.WithUnit(warn, plotID, date))
		filtered.QualityWarning = true
	}
	return filtered, nil
}

// Describe returns a short summary of bs for logs.
func Describe(bs *raster.BandSet) string {
	w, h := bs.Shape()
	return fmt.Sprintf("%dx%d bands=%v", w, h, bs.IDs())
}
