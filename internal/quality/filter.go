// Package quality masks cloud and invalid pixels in a band set and grades
// the acquisition.
package quality

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Spectral fallback thresholds, in L2A reflectance units (×10000).
const (
	brightThreshold   = 3000
	vegetationCeiling = 0.2
	blueOverRed       = 1.1
)

// Detection methods recorded on QualityMetrics.
const (
	MethodSCL      = "scl"
	MethodSpectral = "spectral"
)

// Default usability limits.
const (
	DefaultMaxCloudCoverage = 20.0
	DefaultMinDataCoverage  = 80.0
)

// ErrMalformed reports inputs the filter cannot assess.
var ErrMalformed = errors.New("malformed band set")

// Filter detects clouds and grades acquisitions against usability limits.
type Filter struct {
	MaxCloudCoverage float64
	MinDataCoverage  float64
}

// NewFilter returns a Filter; non-positive limits fall back to the defaults.
func NewFilter(maxCloud, minData float64) *Filter {
	if maxCloud <= 0 {
		maxCloud = DefaultMaxCloudCoverage
	}
	if minData <= 0 {
		minData = DefaultMinDataCoverage
	}
	return &Filter{MaxCloudCoverage: maxCloud, MinDataCoverage: minData}
}

// DetectClouds builds the cloud/invalid mask. With an SCL band the mask
// comes from the classification (open 2×2, close 3×3); otherwise a
// brightness test over the visible bands is used (open 3×3, close 5×5).
func (f *Filter) DetectClouds(bs *raster.BandSet) (*raster.Mask, string, error) {
	if err := bs.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if scl, ok := bs.Get(raster.SCL); ok {
		mask := raster.NewMask(scl.Width, scl.Height)
		for i, v := range scl.Data {
			class := int(v)
			mask.Bits[i] = IsCloudClass(class) || IsInvalidClass(class)
		}
		return Close(Open(mask, 2), 3), MethodSCL, nil
	}

	grids, err := bs.Require(raster.B02, raster.B03, raster.B04, raster.B08)
	if err != nil {
		return nil, "", fmt.Errorf("%w: spectral cloud test: %v", ErrMalformed, err)
	}
	blue, green, red, nir := grids[0], grids[1], grids[2], grids[3]
	mask := raster.NewMask(blue.Width, blue.Height)
	for i := range mask.Bits {
		b, g, r, n := blue.Data[i], green.Data[i], red.Data[i], nir.Data[i]
		if !(b > brightThreshold && g > brightThreshold && r > brightThreshold) {
			continue
		}
		ndvi := 0.0
		if den := float64(n) + float64(r); den != 0 {
			ndvi = (float64(n) - float64(r)) / den
		}
		mask.Bits[i] = ndvi < vegetationCeiling && float64(b) > float64(r)*blueOverRed
	}
	return Close(Open(mask, 3), 5), MethodSpectral, nil
}

// ApplyMask returns a copy of bs with masked pixels set to NaN in every
// spectral band and the cloud coverage percentage recorded. The SCL band
// is left untouched.
func (f *Filter) ApplyMask(bs *raster.BandSet, mask *raster.Mask) (*raster.BandSet, float64) {
	out := bs.Clone()
	nan := float32(math.NaN())
	for _, id := range out.SpectralIDs() {
		g := out.Grids[id]
		for i, masked := range mask.Bits {
			if masked {
				g.Data[i] = nan
			}
		}
	}
	coverage := 0.0
	if n := len(mask.Bits); n > 0 {
		coverage = float64(mask.Count()) / float64(n) * 100
	}
	out.CloudMask = mask.Clone()
	out.CloudCoverage = &coverage
	return out, coverage
}

// AssessQuality grades bs from its recorded cloud coverage and the share of
// non-missing pixels across the spectral bands.
func (f *Filter) AssessQuality(bs *raster.BandSet) raster.QualityMetrics {
	cloud := 0.0
	if bs.CloudCoverage != nil {
		cloud = *bs.CloudCoverage
	}
	ids := bs.SpectralIDs()
	if len(ids) == 0 {
		return raster.QualityMetrics{CloudCoverage: cloud, Grade: raster.GradeUnknown}
	}
	sum := 0.0
	for _, id := range ids {
		g := bs.Grids[id]
		if g.Len() > 0 {
			sum += float64(g.ValidCount()) / float64(g.Len()) * 100
		}
	}
	data := sum / float64(len(ids))

	usable := cloud <= f.MaxCloudCoverage && data >= f.MinDataCoverage
	grade := raster.GradePoor
	switch {
	case cloud <= 10 && data >= 95:
		grade = raster.GradeExcellent
	case cloud <= 20 && data >= 85:
		grade = raster.GradeGood
	case usable:
		grade = raster.GradeAcceptable
	}
	return raster.QualityMetrics{
		CloudCoverage: cloud,
		DataCoverage:  data,
		Grade:         grade,
		Usable:        usable,
	}
}

// PassesThreshold reports whether m is usable and graded at least threshold.
func PassesThreshold(m raster.QualityMetrics, threshold raster.Grade) bool {
	return m.Usable && m.Grade >= threshold
}

// Process masks and grades bs. Malformed input does not fail: the bands are
// returned unmasked with an unknown, unusable grade so the caller can
// decide whether to continue.
func (f *Filter) Process(bs *raster.BandSet) *raster.BandSet {
	mask, method, err := f.DetectClouds(bs)
	if err != nil {
		opsf("cloud detection failed, quality unknown: %v", err)
		out := bs.Clone()
		out.Quality = &raster.QualityMetrics{Grade: raster.GradeUnknown}
		return out
	}
	out, cloud := f.ApplyMask(bs, mask)
	metrics := f.AssessQuality(out)
	metrics.Method = method
	out.Quality = &metrics
	diagf("method=%s cloud=%.1f%% data=%.1f%% grade=%s usable=%t",
		method, cloud, metrics.DataCoverage, metrics.Grade, metrics.Usable)
	return out
}
