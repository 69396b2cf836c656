package testutil

import (
	"errors"
	"testing"

	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/stretchr/testify/assert"
)

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, errors.New("boom"))
}

func TestUniformBandSet(t *testing.T) {
	bs := UniformBandSet(4, 3, Vegetation)
	assert.NoError(t, bs.Validate())
	assert.Len(t, bs.IDs(), 7)
	assert.Equal(t, float32(8000), bs.Grids[raster.B08].At(3, 2))

	partial := UniformBandSet(4, 3, Vegetation.Without(raster.SCL, raster.B05))
	assert.False(t, partial.Has(raster.SCL))
	assert.False(t, partial.Has(raster.B05))
	assert.Equal(t, float32(4), Vegetation[raster.SCL], "fixture must not be mutated")
}

func TestPaintSCLAndDataset(t *testing.T) {
	bs := UniformBandSet(5, 5, Vegetation)
	PaintSCL(bs, 1, 1, 3, 3, 9)
	assert.Equal(t, float32(9), bs.Grids[raster.SCL].At(2, 2))
	assert.Equal(t, float32(4), bs.Grids[raster.SCL].At(3, 3))

	ds := Dataset(bs)
	assert.Len(t, ds.Bands, 7)
	assert.Equal(t, 7, ds.Profile.Count)

	// Positional order stops at the first gap.
	ds = Dataset(UniformBandSet(2, 2, Vegetation.Without(raster.B05)))
	assert.Len(t, ds.Bands, 3)
}
