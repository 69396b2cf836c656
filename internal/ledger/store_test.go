package ledger

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *timeutil.MockClock) {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.MigrateUp())

	clock := timeutil.NewMockClock(epoch)
	store.SetClock(clock)
	return store, clock
}

func testPlot(t *testing.T) plots.Plot {
	t.Helper()
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{{10, 45}, {10.01, 45}, {10.01, 45.01}, {10, 45}}})
	require.NoError(t, err)
	area := 3.5
	harvest := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	return plots.Plot{
		ID:           "plot-1",
		Polygon:      poly,
		CropType:     "wheat",
		PlantingDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		HarvestDate:  &harvest,
		SoilType:     "loam",
		AreaHectares: &area,
	}
}

// ---

func TestRecordID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plot-1_2024-05-01", RecordID("plot-1", "2024-05-01"))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	t.Parallel()
	_, err := Open("mysql", "x")
	require.Error(t, err)
	assert.True(t, procerr.IsFatal(err))
}

func TestSaveRecord_IsProcessed(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	ctx := context.Background()

	ok, err := store.IsProcessed(ctx, "plot-1", "2024-05-01")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveRecord(ctx, Record{
		PlotID:          "plot-1",
		Date:            "2024-05-01",
		AcquisitionDate: "2024-05-01",
		FileSizeBytes:   2048,
		DurationSeconds: 1.5,
		Indices:         []string{"NDVI", "NDRE"},
		OutputPath:      "output/plot-1/2024-05-01",
	}))

	ok, err = store.IsProcessed(ctx, "plot-1", "2024-05-01")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsProcessed(ctx, "plot-1", "2024-05-02")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Record(ctx, "plot-1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "plot-1_2024-05-01", rec.ID)
	assert.Equal(t, []string{"NDVI", "NDRE"}, rec.Indices)
	assert.Equal(t, int64(2048), rec.FileSizeBytes)
	assert.True(t, rec.CreatedAt.Equal(epoch))
}

func TestSaveRecord_UpsertKeepsSingleRow(t *testing.T) {
	t.Parallel()
	store, clock := setupTestStore(t)
	ctx := context.Background()

	rec := Record{PlotID: "plot-1", Date: "2024-05-01", AcquisitionDate: "2024-05-01", FileSizeBytes: 10, Indices: []string{"NDVI"}}
	require.NoError(t, store.SaveRecord(ctx, rec))

	clock.Advance(time.Hour)
	rec.FileSizeBytes = 20
	rec.Indices = []string{"NDVI", "MSAVI"}
	require.NoError(t, store.SaveRecord(ctx, rec))

	all, err := store.Records(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(20), all[0].FileSizeBytes)
	assert.Equal(t, []string{"NDVI", "MSAVI"}, all[0].Indices)
	assert.True(t, all[0].CreatedAt.Equal(epoch), "created_at must survive an update")
	assert.True(t, all[0].UpdatedAt.Equal(epoch.Add(time.Hour)))
}

func TestSaveRecord_RequiresKey(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	err := store.SaveRecord(context.Background(), Record{PlotID: "plot-1"})
	require.Error(t, err)
	assert.Equal(t, procerr.KindPersistence, procerr.KindOf(err))
}

func TestSaveRecord_FailsOnClosedStore(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())

	err := store.SaveRecord(context.Background(), Record{PlotID: "p", Date: "2024-01-01"})
	require.Error(t, err)
	assert.Equal(t, procerr.KindPersistence, procerr.KindOf(err))
}

func TestSaveRecord_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			date := time.Date(2024, 5, 1+i%4, 0, 0, 0, 0, time.UTC).Format(plots.DateLayout)
			assert.NoError(t, store.SaveRecord(ctx, Record{PlotID: "plot-1", Date: date, AcquisitionDate: date}))
		}(i)
	}
	wg.Wait()

	all, err := store.Records(ctx, "plot-1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Date, all[i].Date)
	}
}

func TestRecord_NotFound(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	_, err := store.Record(context.Background(), "nope", "2024-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Plot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ---

func TestSavePlot_AndAggregateStats(t *testing.T) {
	t.Parallel()
	store, clock := setupTestStore(t)
	ctx := context.Background()
	p := testPlot(t)

	require.NoError(t, store.SavePlot(ctx, p))
	meta, err := store.Plot(ctx, "plot-1")
	require.NoError(t, err)
	assert.Equal(t, "wheat", meta.CropType)
	assert.Equal(t, "2024-03-15", meta.PlantingDate)
	assert.Equal(t, "2024-09-01", meta.HarvestDate)
	require.NotNil(t, meta.AreaHectares)
	assert.Equal(t, 3.5, *meta.AreaHectares)
	assert.Nil(t, meta.ElevationM)
	assert.Contains(t, meta.Geometry, "Polygon")
	assert.True(t, strings.HasPrefix(meta.GeometryWKT, "POLYGON"))
	assert.Equal(t, 0, meta.TotalImagesProcessed)
	assert.Nil(t, meta.LastProcessed)

	clock.Advance(time.Minute)
	require.NoError(t, store.UpdateAggregateStats(ctx, "plot-1", 3))
	require.NoError(t, store.UpdateAggregateStats(ctx, "plot-1", 2))

	// Re-saving descriptive fields must not reset counters.
	p.CropType = "barley"
	require.NoError(t, store.SavePlot(ctx, p))

	meta, err = store.Plot(ctx, "plot-1")
	require.NoError(t, err)
	assert.Equal(t, "barley", meta.CropType)
	assert.Equal(t, 5, meta.TotalImagesProcessed)
	require.NotNil(t, meta.LastProcessed)
	assert.True(t, meta.LastProcessed.Equal(epoch.Add(time.Minute)))
}

func TestUpdateAggregateStats_CreatesMissingPlot(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateAggregateStats(ctx, "ghost", 1))
	meta, err := store.Plot(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalImagesProcessed)

	all, err := store.Plots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	store, _ := setupTestStore(t)
	ctx := context.Background()

	empty, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, empty)

	require.NoError(t, store.SaveRecord(ctx, Record{PlotID: "a", Date: "2024-05-01", FileSizeBytes: 100}))
	require.NoError(t, store.SaveRecord(ctx, Record{PlotID: "a", Date: "2024-05-09", FileSizeBytes: 50}))
	require.NoError(t, store.SaveRecord(ctx, Record{PlotID: "b", Date: "2024-05-01", FileSizeBytes: 25}))
	require.NoError(t, store.UpdateAggregateStats(ctx, "a", 2))

	sum, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, int64(175), sum.TotalBytes)
	assert.Equal(t, 2, sum.ProcessedPlots)
	assert.Equal(t, 1, sum.Plots)
	require.NotNil(t, sum.LastProcessed)
}

// ---

func TestMigrations_UpDownStatus(t *testing.T) {
	t.Parallel()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer store.Close()

	latest, err := LatestMigrationVersion(DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	pgLatest, err := LatestMigrationVersion(DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, latest, pgLatest, "driver migration sets must stay in step")

	st, err := store.Status()
	require.NoError(t, err)
	assert.True(t, st.Pending())
	assert.Error(t, store.CheckMigrations())

	require.NoError(t, store.MigrateUp())
	require.NoError(t, store.MigrateUp(), "second up is a no-op")
	assert.NoError(t, store.CheckMigrations())

	require.NoError(t, store.MigrateDown())
	v, dirty, err := store.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	require.NoError(t, store.MigrateTo(2))
	v, _, err = store.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestRunMigrateCommand(t *testing.T) {
	t.Parallel()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand(store, []string{"up"}, &out, strings.NewReader("")))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand(store, []string{"status"}, &out, strings.NewReader("")))
	assert.Contains(t, out.String(), "Latest version: 2")
	assert.Contains(t, out.String(), "Dirty: false")

	out.Reset()
	require.NoError(t, RunMigrateCommand(store, []string{"force", "1"}, &out, strings.NewReader("n\n")))
	assert.Contains(t, out.String(), "Aborted")
	v, _, err := store.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, RunMigrateCommand(store, []string{"version", "1"}, &out, strings.NewReader("")))
	v, _, err = store.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	assert.Error(t, RunMigrateCommand(store, nil, &out, strings.NewReader("")))
	assert.Error(t, RunMigrateCommand(store, []string{"version"}, &out, strings.NewReader("")))
	assert.Error(t, RunMigrateCommand(store, []string{"version", "x"}, &out, strings.NewReader("")))
	assert.Error(t, RunMigrateCommand(store, []string{"sideways"}, &out, strings.NewReader("")))
}
