package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Default pacing of acquisitions.
const (
	DefaultPlotInterval = 2 * time.Second
	DefaultMaxDownloads = 2
)

// RateLimiter spaces acquisitions for the same plot by a minimum interval
// and bounds how many downloads are in flight at once. Acquisitions for
// different plots are not spaced against each other.
type RateLimiter struct {
	clock        timeutil.Clock
	interval     time.Duration
	maxDownloads int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	downloads *semaphore.Weighted
}

// NewRateLimiter returns a limiter with the given per-plot interval and
// in-flight download bound. Non-positive values fall back to defaults.
func NewRateLimiter(clock timeutil.Clock, interval time.Duration, maxDownloads int) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultPlotInterval
	}
	if maxDownloads <= 0 {
		maxDownloads = DefaultMaxDownloads
	}
	return &RateLimiter{
		clock:        clock,
		interval:     interval,
		maxDownloads: maxDownloads,
		limiters:     make(map[string]*rate.Limiter),
		downloads:    semaphore.NewWeighted(int64(maxDownloads)),
	}
}

// Clone returns a limiter with the same settings and fresh state.
func (r *RateLimiter) Clone() *RateLimiter {
	return NewRateLimiter(r.clock, r.interval, r.maxDownloads)
}

func (r *RateLimiter) limiter(plotID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[plotID]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.interval), 1)
		r.limiters[plotID] = l
	}
	return l
}

// Wait blocks until plotID may make its next acquisition.
func (r *RateLimiter) Wait(ctx context.Context, plotID string) error {
	now := r.clock.Now()
	res := r.limiter(plotID).ReserveN(now, 1)
	if !res.OK() {
		return fmt.Errorf("rate limiter cannot satisfy reservation for plot %s", plotID)
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	diagf("plot %s paced for %v", plotID, delay)
	if err := timeutil.SleepContext(ctx, r.clock, delay); err != nil {
		res.CancelAt(r.clock.Now())
		return err
	}
	return nil
}

// AcquireDownload takes one in-flight download slot. The returned release
// function is idempotent.
func (r *RateLimiter) AcquireDownload(ctx context.Context) (func(), error) {
	if err := r.downloads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { r.downloads.Release(1) }) }, nil
}

// Acquire paces plotID and then takes a download slot.
func (r *RateLimiter) Acquire(ctx context.Context, plotID string) (func(), error) {
	if err := r.Wait(ctx, plotID); err != nil {
		return nil, err
	}
	return r.AcquireDownload(ctx)
}
