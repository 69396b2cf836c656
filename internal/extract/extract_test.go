package extract

import (
	"context"
	"testing"

	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/quality"
	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/banshee-data/canopy.report/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScene(t *testing.T, store *raster.MemStore, path string, bs *raster.BandSet) {
	t.Helper()
	require.NoError(t, store.Write(context.Background(), path, testutil.Dataset(bs)))
}

func TestExtractBands_PositionalMapping(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	src := testutil.UniformBandSet(6, 4, testutil.Vegetation)
	writeScene(t, store, "/dl/p1_2024-06-01.tif", src)

	bs, err := New(store, nil, raster.GradeAcceptable).ExtractBands(context.Background(), "/dl/p1_2024-06-01.tif")
	require.NoError(t, err)
	assert.Equal(t, raster.PositionalOrder, bs.IDs())
	for id, v := range testutil.Vegetation {
		assert.Equal(t, v, bs.Grids[id].At(5, 3), id.String())
	}
	assert.Equal(t, src.Profile.GeoTransform, bs.Profile.GeoTransform)
	assert.Equal(t, src.Profile.Projection, bs.Profile.Projection)
	assert.Nil(t, bs.Quality)
}

func TestExtractBands_ReadsAtMostSevenBands(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	bands := make([]*raster.Grid, 10)
	for i := range bands {
		bands[i] = raster.FilledGrid(2, 2, float32(100*(i+1)))
	}
	require.NoError(t, store.Write(context.Background(), "/s.tif", &raster.Dataset{
		Profile: raster.Profile{Width: 2, Height: 2, Count: 10, DataType: raster.UInt16},
		Bands:   bands,
	}))

	bs, err := New(store, nil, 0).ExtractBands(context.Background(), "/s.tif")
	require.NoError(t, err)
	assert.Len(t, bs.Grids, 7)
	assert.Equal(t, float32(700), bs.Grids[raster.SCL].Data[0])
}

func TestExtractBands_PartialSet(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	bands := []*raster.Grid{raster.FilledGrid(2, 2, 1), raster.FilledGrid(2, 2, 2), raster.FilledGrid(2, 2, 3)}
	require.NoError(t, store.Write(context.Background(), "/p.tif", &raster.Dataset{
		Profile: raster.Profile{Width: 2, Height: 2, Count: 3},
		Bands:   bands,
	}))

	bs, err := New(store, nil, 0).ExtractBands(context.Background(), "/p.tif")
	require.NoError(t, err)
	assert.Equal(t, []raster.BandID{raster.B02, raster.B03, raster.B04}, bs.IDs())
	assert.False(t, bs.Has(raster.B08))
}

func TestExtractBands_Errors(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	e := New(store, nil, 0)

	_, err := e.ExtractBands(context.Background(), "/missing.tif")
	require.Error(t, err)
	assert.Equal(t, procerr.KindExtraction, procerr.KindOf(err))
	assert.ErrorIs(t, err, raster.ErrNotFound)

	require.NoError(t, store.FS.WriteFile("/junk.tif", []byte("junk"), 0644))
	_, err = e.ExtractBands(context.Background(), "/junk.tif")
	assert.Equal(t, procerr.KindExtraction, procerr.KindOf(err))

	require.NoError(t, store.Write(context.Background(), "/empty.tif", &raster.Dataset{}))
	_, err = e.ExtractBands(context.Background(), "/empty.tif")
	assert.Equal(t, procerr.KindExtraction, procerr.KindOf(err))
}

func TestProcessSatelliteData_ClearScene(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	writeScene(t, store, "/c.tif", testutil.UniformBandSet(8, 8, testutil.Vegetation))

	bs, err := New(store, quality.NewFilter(20, 80), raster.GradeAcceptable).
		ProcessSatelliteData(context.Background(), "/c.tif", "p1", "2024-06-01")
	require.NoError(t, err)
	require.NotNil(t, bs.Quality)
	assert.Equal(t, raster.GradeExcellent, bs.Quality.Grade)
	assert.False(t, bs.QualityWarning)
	require.NotNil(t, bs.CloudMask)
}

func TestProcessSatelliteData_CloudySceneFlagged(t *testing.T) {
	t.Parallel()
	store := raster.NewMemStore(nil)
	scene := testutil.UniformBandSet(10, 10, testutil.Vegetation)
	testutil.PaintSCL(scene, 0, 0, 10, 6, quality.SCLCloudMedium)
	writeScene(t, store, "/cloudy.tif", scene)

	bs, err := New(store, quality.NewFilter(20, 80), raster.GradeAcceptable).
		ProcessSatelliteData(context.Background(), "/cloudy.tif", "p1", "2024-06-01")
	require.NoError(t, err, "degraded quality is not an error")
	assert.True(t, bs.QualityWarning)
	assert.Equal(t, raster.GradePoor, bs.Quality.Grade)
	assert.InDelta(t, 60.0, bs.Quality.CloudCoverage, 1e-9)
}
