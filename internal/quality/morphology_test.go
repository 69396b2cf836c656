package quality

import (
	"testing"

	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/stretchr/testify/assert"
)

func TestOpen_RemovesIsolatedPixels(t *testing.T) {
	t.Parallel()
	m := raster.MaskFromRows([][]int{
		{0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0},
		{0, 0, 0, 0, 0},
	})
	for _, k := range []int{2, 3} {
		assert.Equal(t, 0, Open(m, k).Count(), "k=%d", k)
	}
}

func TestOpen_PreservesBlocksAtLeastElementSize(t *testing.T) {
	t.Parallel()
	m := raster.MaskFromRows([][]int{
		{1, 1, 0, 0, 0, 0},
		{1, 1, 0, 0, 0, 0},
		{0, 0, 0, 1, 1, 1},
		{0, 0, 0, 1, 1, 1},
		{0, 0, 0, 1, 1, 1},
		{0, 0, 0, 0, 0, 0},
	})
	assert.Equal(t, m.Bits, Open(m, 2).Bits)

	// Only the 3×3 block survives a 3×3 opening.
	got := Open(m, 3)
	assert.Equal(t, 9, got.Count())
	assert.False(t, got.At(0, 0))
	assert.True(t, got.At(4, 3))
}

func TestClose_FillsSmallHoles(t *testing.T) {
	t.Parallel()
	m := raster.MaskFromRows([][]int{
		{1, 1, 1, 1, 1},
		{1, 1, 1, 1, 1},
		{1, 1, 0, 1, 1},
		{1, 1, 1, 1, 1},
		{1, 1, 1, 1, 1},
	})
	got := Close(m, 3)
	assert.Equal(t, 25, got.Count())
}

func TestClose_KeepsEdgeMask(t *testing.T) {
	t.Parallel()
	m := raster.MaskFromRows([][]int{
		{1, 1, 0, 0},
		{1, 1, 0, 0},
		{0, 0, 0, 0},
	})
	assert.Equal(t, m.Bits, Close(m, 3).Bits)
	assert.Equal(t, m.Bits, Close(m, 5).Bits)
}

func TestErodeDilate_Identity(t *testing.T) {
	t.Parallel()
	m := raster.MaskFromRows([][]int{{0, 1}, {1, 0}})
	assert.Equal(t, m.Bits, Erode(m, 1).Bits)
	assert.Equal(t, m.Bits, Dilate(m, 0).Bits)

	d := Dilate(raster.MaskFromRows([][]int{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}}), 3)
	assert.Equal(t, 9, d.Count())
}
