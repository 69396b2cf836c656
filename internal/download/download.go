// Package download resolves the raster for a (plot, date) to a local path.
package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Defaults for WithRetry.
const (
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrNotAvailable means no raster exists for the requested date. It is
// never retried.
var ErrNotAvailable = errors.New("raster not available")

// Downloader fetches the raster for plot on date and returns its path.
type Downloader interface {
	Download(ctx context.Context, plot plots.Plot, date string) (string, error)
}

// DirDownloader resolves rasters already present under Root, laid out as
// {Root}/{plotId}/{date}.tif or {Root}/{plotId}_{date}.tif.
type DirDownloader struct {
	Root string
	FS   fsutil.FileSystem
}

// Candidates lists the paths checked for (plotID, date), in order.
func (d DirDownloader) Candidates(plotID, date string) []string {
	return []string{
		filepath.Join(d.Root, plotID, date+".tif"),
		filepath.Join(d.Root, plotID+"_"+date+".tif"),
	}
}

func (d DirDownloader) Download(ctx context.Context, plot plots.Plot, date string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", err), plot.ID, date)
	}
	fsys := d.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	for _, path := range d.Candidates(plot.ID, date) {
		if fsys.Exists(path) {
			return path, nil
		}
	}
	return "", procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", fmt.Errorf("%w under %s", ErrNotAvailable, d.Root)), plot.ID, date)
}

// Retrying adds a per-call timeout and exponential backoff to a Downloader.
type Retrying struct {
	Next       Downloader
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Clock      timeutil.Clock
}

// WithRetry wraps next. Attempt n (from 0) that fails with a retryable
// error is followed by a pause of 2^n × baseDelay, up to maxRetries
// retries. Each attempt is bounded by timeout.
func WithRetry(next Downloader, timeout time.Duration, maxRetries int, baseDelay time.Duration, clock timeutil.Clock) *Retrying {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Retrying{Next: next, Timeout: timeout, MaxRetries: maxRetries, BaseDelay: baseDelay, Clock: clock}
}

func (r *Retrying) Download(ctx context.Context, plot plots.Plot, date string) (string, error) {
	for attempt := 0; ; attempt++ {
		path, err := r.attempt(ctx, plot, date)
		if err == nil {
			return path, nil
		}
		if !procerr.IsRetryable(err) || errors.Is(err, ErrNotAvailable) || ctx.Err() != nil || attempt >= r.MaxRetries {
			return "", err
		}
		delay := time.Duration(1<<attempt) * r.BaseDelay
		monitoring.Logf("download: plot %s date %s attempt %d failed (%v), retrying in %v", plot.ID, date, attempt+1, err, delay)
		if err := timeutil.SleepContext(ctx, r.Clock, delay); err != nil {
			return "", procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", err), plot.ID, date)
		}
	}
}

func (r *Retrying) attempt(ctx context.Context, plot plots.Plot, date string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	path, err := r.Next.Download(actx, plot, date)
	if err == nil {
		return path, nil
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %v: %w", r.Timeout, err)
		return "", procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", err), plot.ID, date)
	}
	if procerr.KindOf(err) == procerr.KindUnknown {
		err = procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "download", err), plot.ID, date)
	}
	return "", err
}
