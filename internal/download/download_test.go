package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

var plot = plots.Plot{ID: "plot-1"}

func TestDirDownloader_Layouts(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/rasters/plot-1/2024-05-01.tif", []byte("x"), 0644))
	require.NoError(t, fsys.WriteFile("/rasters/plot-1_2024-05-09.tif", []byte("x"), 0644))
	d := DirDownloader{Root: "/rasters", FS: fsys}
	ctx := context.Background()

	path, err := d.Download(ctx, plot, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "/rasters/plot-1/2024-05-01.tif", path)

	path, err = d.Download(ctx, plot, "2024-05-09")
	require.NoError(t, err)
	assert.Equal(t, "/rasters/plot-1_2024-05-09.tif", path)

	_, err = d.Download(ctx, plot, "2024-06-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Equal(t, procerr.KindDownload, procerr.KindOf(err))
}

type flakyDownloader struct {
	failures int
	calls    atomic.Int32
	err      error
	block    bool
}

func (f *flakyDownloader) Download(ctx context.Context, p plots.Plot, date string) (string, error) {
	n := int(f.calls.Add(1))
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n <= f.failures {
		return "", f.err
	}
	return "/tmp/" + date + ".tif", nil
}

func newClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
}

func TestWithRetry_BacksOffExponentially(t *testing.T) {
	t.Parallel()
	clock := newClock()
	next := &flakyDownloader{failures: 2, err: errors.New("503 service unavailable")}
	d := WithRetry(next, time.Minute, 3, time.Second, clock)

	path, err := d.Download(context.Background(), plot, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/2024-05-01.tif", path)
	assert.EqualValues(t, 3, next.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	clock := newClock()
	next := &flakyDownloader{failures: 10, err: errors.New("connection reset")}
	d := WithRetry(next, time.Minute, 3, 500*time.Millisecond, clock)

	_, err := d.Download(context.Background(), plot, "2024-05-01")
	require.Error(t, err)
	assert.True(t, procerr.IsRetryable(err))
	assert.EqualValues(t, 4, next.calls.Load())
	assert.Equal(t, 3500*time.Millisecond, clock.TotalSlept())
}

func TestWithRetry_DoesNotRetryNotAvailable(t *testing.T) {
	t.Parallel()
	clock := newClock()
	d := WithRetry(DirDownloader{Root: "/none", FS: fsutil.NewMemoryFileSystem()}, time.Minute, 3, time.Second, clock)
	_, err := d.Download(context.Background(), plot, "2024-05-01")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Empty(t, clock.Sleeps())
}

func TestWithRetry_DoesNotRetryOtherKinds(t *testing.T) {
	t.Parallel()
	next := &flakyDownloader{failures: 10, err: procerr.New(procerr.KindConfiguration, "download", "no credentials")}
	d := WithRetry(next, time.Minute, 3, time.Second, newClock())
	_, err := d.Download(context.Background(), plot, "2024-05-01")
	assert.True(t, procerr.IsFatal(err))
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestWithRetry_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()
	next := &flakyDownloader{block: true}
	d := WithRetry(next, 10*time.Millisecond, 1, time.Millisecond, newClock())

	_, err := d.Download(context.Background(), plot, "2024-05-01")
	require.Error(t, err)
	assert.Equal(t, procerr.KindDownload, procerr.KindOf(err))
	assert.Contains(t, err.Error(), "timed out after 10ms")
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestWithRetry_Defaults(t *testing.T) {
	t.Parallel()
	d := WithRetry(&flakyDownloader{}, 0, -1, 0, nil)
	assert.Equal(t, DefaultTimeout, d.Timeout)
	assert.Equal(t, 0, d.MaxRetries)
	assert.Equal(t, DefaultBaseDelay, d.BaseDelay)
}
