package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Sentinel-2 L2A scene classification values.
const (
	SCLNoData       = 0
	SCLSaturated    = 1
	SCLDarkArea     = 2
	SCLCloudShadow  = 3
	SCLVegetation   = 4
	SCLNotVegetated = 5
	SCLWater        = 6
	SCLUnclassified = 7
	SCLCloudMedium  = 8
	SCLCloudHigh    = 9
	SCLThinCirrus   = 10
	SCLSnow         = 11
	sclClassCount   = 12
)

var sclLegend = [sclClassCount]string{
	"No Data", "Saturated/Defective", "Dark Area", "Cloud Shadows",
	"Vegetation", "Not Vegetated", "Water", "Unclassified",
	"Cloud Medium Probability", "Cloud High Probability", "Thin Cirrus", "Snow",
}

// SCLClassName returns the legend entry for an SCL value.
func SCLClassName(class int) string {
	if class >= 0 && class < sclClassCount {
		return sclLegend[class]
	}
	return fmt.Sprintf("Unknown_%d", class)
}

// IsCloudClass reports cloud shadow, medium/high probability cloud and cirrus.
func IsCloudClass(class int) bool {
	switch class {
	case SCLCloudShadow, SCLCloudMedium, SCLCloudHigh, SCLThinCirrus:
		return true
	}
	return false
}

// IsInvalidClass reports pixels with no usable measurement.
func IsInvalidClass(class int) bool {
	return class == SCLNoData || class == SCLSaturated
}

// ClassShare is the pixel count and percentage of one SCL class.
type ClassShare struct {
	Class      int     `json:"class"`
	Name       string  `json:"name"`
	PixelCount int     `json:"pixel_count"`
	Percentage float64 `json:"percentage"`
}

// ClassDistribution counts SCL classes, ascending by class value. NaN
// pixels are ignored.
func ClassDistribution(scl *raster.Grid) []ClassShare {
	total := scl.Len()
	if total == 0 {
		return nil
	}
	counts := map[int]int{}
	for _, v := range scl.Data {
		if math.IsNaN(float64(v)) {
			continue
		}
		counts[int(v)]++
	}
	out := make([]ClassShare, 0, len(counts))
	for class, n := range counts {
		out = append(out, ClassShare{
			Class:      class,
			Name:       SCLClassName(class),
			PixelCount: n,
			Percentage: float64(n) / float64(total) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

// CloudClassPercentage is the share of pixels in cloud classes, before
// morphology.
func CloudClassPercentage(scl *raster.Grid) float64 {
	total := scl.Len()
	if total == 0 {
		return 0
	}
	n := 0
	for _, v := range scl.Data {
		if IsCloudClass(int(v)) {
			n++
		}
	}
	return float64(n) / float64(total) * 100
}
