package gdal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/raster"
)

func TestGDAL_Float32RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	codec := New()
	path := filepath.Join(t.TempDir(), "NDVI.tif")

	g, err := raster.GridFromRows([][]float32{{0.6, -0.2, 0}, {1, -1, 0.125}})
	require.NoError(t, err)
	gt := [6]float64{300000, 10, 0, 5000000, 0, -10}
	err = codec.Write(ctx, path, &raster.Dataset{
		Profile: raster.Profile{Width: 3, Height: 2, Count: 1, DataType: raster.Float32, GeoTransform: gt, Compression: "LZW"},
		Bands:   []*raster.Grid{g},
	})
	require.NoError(t, err)

	got, err := codec.Read(ctx, path, raster.MaxBands)
	require.NoError(t, err)
	require.Len(t, got.Bands, 1)
	assert.Equal(t, 3, got.Profile.Width)
	assert.Equal(t, 2, got.Profile.Height)
	assert.Equal(t, raster.Float32, got.Profile.DataType)
	assert.Equal(t, gt, got.Profile.GeoTransform)
	assert.InDeltaSlice(t, g.Data, got.Bands[0].Data, 1e-6)
}

func TestGDAL_TrueColorStack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	codec := New()
	path := filepath.Join(t.TempDir(), "TrueColor.tif")

	bands := []*raster.Grid{raster.FilledGrid(2, 2, 1200), raster.FilledGrid(2, 2, 900), raster.FilledGrid(2, 2, 600)}
	err := codec.Write(ctx, path, &raster.Dataset{
		Profile: raster.Profile{Width: 2, Height: 2, Count: 3, DataType: raster.UInt16, GeoTransform: [6]float64{0, 1, 0, 0, 0, -1}},
		Bands:   bands,
	})
	require.NoError(t, err)

	got, err := codec.Read(ctx, path, raster.MaxBands)
	require.NoError(t, err)
	require.Len(t, got.Bands, 3)
	assert.Equal(t, raster.UInt16, got.Profile.DataType)
	assert.Equal(t, float32(900), got.Bands[1].At(1, 1))
}

func TestGDAL_ReadMissing(t *testing.T) {
	t.Parallel()
	_, err := New().Read(context.Background(), filepath.Join(t.TempDir(), "nope.tif"), raster.MaxBands)
	assert.ErrorIs(t, err, raster.ErrNotFound)
}
