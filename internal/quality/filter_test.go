package quality

import (
	"math"
	"testing"

	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/banshee-data/canopy.report/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Cloud detection
// ---------------------------------------------------------------------------

func TestDetectClouds_SCLCloudClasses(t *testing.T) {
	t.Parallel()
	f := NewFilter(0, 0)

	for _, class := range []float32{SCLCloudShadow, SCLCloudMedium, SCLCloudHigh, SCLThinCirrus, SCLNoData, SCLSaturated} {
		bs := testutil.UniformBandSet(10, 10, testutil.Vegetation)
		testutil.PaintSCL(bs, 2, 2, 6, 6, class)

		mask, method, err := f.DetectClouds(bs)
		require.NoError(t, err)
		assert.Equal(t, MethodSCL, method)
		assert.Equal(t, 16, mask.Count(), "class %v", class)
		assert.True(t, mask.At(2, 2))
		assert.False(t, mask.At(6, 6))
	}
}

func TestDetectClouds_SCLClearClassesIgnored(t *testing.T) {
	t.Parallel()
	f := NewFilter(0, 0)
	for _, class := range []float32{SCLDarkArea, SCLVegetation, SCLNotVegetated, SCLWater, SCLUnclassified, SCLSnow} {
		bs := testutil.UniformBandSet(8, 8, testutil.Vegetation)
		testutil.PaintSCL(bs, 0, 0, 4, 4, class)
		mask, _, err := f.DetectClouds(bs)
		require.NoError(t, err)
		assert.Zero(t, mask.Count(), "class %v", class)
	}
}

func TestDetectClouds_SCLSpeckleRemoved(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(10, 10, testutil.Vegetation)
	testutil.PaintSCL(bs, 5, 5, 6, 6, SCLCloudHigh)

	mask, _, err := NewFilter(0, 0).DetectClouds(bs)
	require.NoError(t, err)
	assert.Zero(t, mask.Count())
}

func TestDetectClouds_SpectralFallback(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(12, 12, testutil.Vegetation.Without(raster.SCL))
	bright := map[raster.BandID]float32{raster.B02: 5000, raster.B03: 4800, raster.B04: 4000, raster.B08: 4200}
	for y := 3; y < 9; y++ {
		for x := 3; x < 9; x++ {
			for id, v := range bright {
				bs.Grids[id].Set(x, y, v)
			}
		}
	}

	mask, method, err := NewFilter(0, 0).DetectClouds(bs)
	require.NoError(t, err)
	assert.Equal(t, MethodSpectral, method)
	assert.Equal(t, 36, mask.Count())
	assert.True(t, mask.At(3, 3))
	assert.False(t, mask.At(2, 3))
}

func TestDetectClouds_SpectralRequiresAllConditions(t *testing.T) {
	t.Parallel()
	cases := map[string]testutil.Reflectances{
		"green not bright":  {raster.B02: 5000, raster.B03: 2000, raster.B04: 4000, raster.B08: 4200},
		"vegetated":         {raster.B02: 5000, raster.B03: 4800, raster.B04: 4000, raster.B08: 9000},
		"blue not dominant": {raster.B02: 4100, raster.B03: 4800, raster.B04: 4000, raster.B08: 4200},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			mask, _, err := NewFilter(0, 0).DetectClouds(testutil.UniformBandSet(8, 8, r))
			require.NoError(t, err)
			assert.Zero(t, mask.Count())
		})
	}
}

func TestDetectClouds_Malformed(t *testing.T) {
	t.Parallel()
	f := NewFilter(0, 0)

	bs := testutil.UniformBandSet(4, 4, testutil.Vegetation)
	bs.Grids[raster.SCL] = raster.NewGrid(3, 3)
	_, _, err := f.DetectClouds(bs)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = f.DetectClouds(testutil.UniformBandSet(4, 4, testutil.Vegetation.Without(raster.SCL, raster.B03)))
	assert.ErrorIs(t, err, ErrMalformed)
}

// ---------------------------------------------------------------------------
// Masking and assessment
// ---------------------------------------------------------------------------

func TestApplyMask_NaNsSpectralOnly(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(4, 5, testutil.Vegetation)
	mask := raster.NewMask(4, 5)
	mask.Set(0, 0, true)
	mask.Set(3, 4, true)

	out, coverage := NewFilter(0, 0).ApplyMask(bs, mask)
	assert.InDelta(t, 10.0, coverage, 1e-9)
	require.NotNil(t, out.CloudCoverage)
	assert.InDelta(t, 10.0, *out.CloudCoverage, 1e-9)
	require.NotNil(t, out.CloudMask)

	for _, id := range out.SpectralIDs() {
		assert.True(t, math.IsNaN(float64(out.Grids[id].At(0, 0))), "band %s", id)
		assert.False(t, math.IsNaN(float64(out.Grids[id].At(1, 0))), "band %s", id)
	}
	assert.Equal(t, float32(4), out.Grids[raster.SCL].At(0, 0))
	// Input untouched.
	assert.Equal(t, float32(8000), bs.Grids[raster.B08].At(0, 0))
}

func withCoverage(cloud float64, nanPixels int) *raster.BandSet {
	bs := testutil.UniformBandSet(10, 10, testutil.Vegetation)
	for _, id := range bs.SpectralIDs() {
		for i := 0; i < nanPixels; i++ {
			bs.Grids[id].Data[i] = float32(math.NaN())
		}
	}
	bs.CloudCoverage = &cloud
	return bs
}

func TestAssessQuality_Grades(t *testing.T) {
	t.Parallel()
	f := NewFilter(20, 80)
	cases := []struct {
		name   string
		cloud  float64
		nan    int
		grade  raster.Grade
		usable bool
	}{
		{"excellent", 5, 2, raster.GradeExcellent, true},
		{"good", 15, 10, raster.GradeGood, true},
		{"acceptable", 18, 18, raster.GradeAcceptable, true},
		{"cloudy", 25, 1, raster.GradePoor, false},
		{"sparse", 10, 50, raster.GradePoor, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := f.AssessQuality(withCoverage(tc.cloud, tc.nan))
			assert.Equal(t, tc.grade, m.Grade)
			assert.Equal(t, tc.usable, m.Usable)
			assert.InDelta(t, float64(100-tc.nan), m.DataCoverage, 1e-9)
		})
	}
}

func TestAssessQuality_CloudAboveLimitNeverUsable(t *testing.T) {
	t.Parallel()
	f := NewFilter(20, 0.001)
	for _, nan := range []int{0, 10, 60, 99} {
		m := f.AssessQuality(withCoverage(25, nan))
		assert.False(t, m.Usable, "nan=%d", nan)
	}
}

func TestAssessQuality_NoSpectralBands(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(3, 3, testutil.Reflectances{raster.SCL: 4})
	m := NewFilter(0, 0).AssessQuality(bs)
	assert.Equal(t, raster.GradeUnknown, m.Grade)
	assert.False(t, m.Usable)
}

func TestPassesThreshold(t *testing.T) {
	t.Parallel()
	good := raster.QualityMetrics{Grade: raster.GradeGood, Usable: true}
	assert.True(t, PassesThreshold(good, raster.GradeAcceptable))
	assert.True(t, PassesThreshold(good, raster.GradeGood))
	assert.False(t, PassesThreshold(good, raster.GradeExcellent))

	unusable := raster.QualityMetrics{Grade: raster.GradeExcellent, Usable: false}
	assert.False(t, PassesThreshold(unusable, raster.GradePoor))
}

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

func TestProcess_CloudyBlock(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(10, 10, testutil.Vegetation)
	testutil.PaintSCL(bs, 0, 0, 5, 5, SCLCloudHigh)

	out := NewFilter(20, 80).Process(bs)
	require.NotNil(t, out.Quality)
	assert.Equal(t, MethodSCL, out.Quality.Method)
	assert.InDelta(t, 25.0, out.Quality.CloudCoverage, 1e-9)
	assert.InDelta(t, 75.0, out.Quality.DataCoverage, 1e-9)
	assert.Equal(t, raster.GradePoor, out.Quality.Grade)
	assert.False(t, out.Quality.Usable)
}

func TestProcess_ClearScene(t *testing.T) {
	t.Parallel()
	out := NewFilter(20, 80).Process(testutil.UniformBandSet(6, 6, testutil.Vegetation))
	require.NotNil(t, out.Quality)
	assert.Equal(t, raster.GradeExcellent, out.Quality.Grade)
	assert.True(t, out.Quality.Usable)
	assert.Zero(t, out.Quality.CloudCoverage)
}

func TestProcess_MalformedDegrades(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(4, 4, testutil.Vegetation)
	bs.Grids[raster.B11] = raster.NewGrid(2, 2)

	out := NewFilter(20, 80).Process(bs)
	require.NotNil(t, out)
	require.NotNil(t, out.Quality)
	assert.Equal(t, raster.GradeUnknown, out.Quality.Grade)
	assert.False(t, out.Quality.Usable)
	assert.Nil(t, out.CloudMask)
}

// ---------------------------------------------------------------------------
// SCL distribution
// ---------------------------------------------------------------------------

func TestClassDistribution(t *testing.T) {
	t.Parallel()
	bs := testutil.UniformBandSet(4, 5, testutil.Vegetation)
	testutil.PaintSCL(bs, 0, 0, 4, 1, SCLCloudHigh)
	testutil.PaintSCL(bs, 0, 1, 1, 2, 15)

	dist := ClassDistribution(bs.Grids[raster.SCL])
	require.Len(t, dist, 3)
	assert.Equal(t, ClassShare{Class: 4, Name: "Vegetation", PixelCount: 15, Percentage: 75}, dist[0])
	assert.Equal(t, 9, dist[1].Class)
	assert.InDelta(t, 20.0, dist[1].Percentage, 1e-9)
	assert.Equal(t, "Unknown_15", dist[2].Name)

	assert.InDelta(t, 20.0, CloudClassPercentage(bs.Grids[raster.SCL]), 1e-9)
}
