// Package parallel runs a per-plot function over many plots on a bounded
// goroutine pool with per-plot pacing and a download bound.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Mode selects how limiter state is shared between workers.
type Mode string

const (
	// ModeThread shares one limiter across all workers.
	ModeThread Mode = "thread"
	// ModeProcess gives each worker its own limiter, so pacing is per
	// worker rather than global.
	ModeProcess Mode = "process"
)

// MaxWorkers caps the pool regardless of configuration.
const MaxWorkers = 8

// DefaultBatchPause separates consecutive batches.
const DefaultBatchPause = 2 * time.Second

// Workers returns min(configured, NumCPU, MaxWorkers), at least 1.
func Workers(configured int) int {
	n := configured
	if cpus := runtime.NumCPU(); cpus < n {
		n = cpus
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Task processes one plot. limiter paces the plot's acquisitions.
type Task func(ctx context.Context, plot plots.Plot, limiter *RateLimiter) (any, error)

// Result is a successful task completion.
type Result struct {
	PlotID  string
	Value   any
	Elapsed time.Duration
}

// Failure is a task that returned an error, panicked or never ran.
type Failure struct {
	PlotID string
	Err    error
}

// Stats summarises a run.
type Stats struct {
	Total          int
	Successful     int
	Failed         int
	Elapsed        time.Duration
	PlotsPerSecond float64
}

// Outcome collects results in completion order.
type Outcome struct {
	Results []Result
	Failed  []Failure
	Stats   Stats
}

// ProgressFunc is called after each plot completes.
type ProgressFunc func(completed, total int, plotID string)

// Orchestrator fans plots out to a bounded worker pool.
type Orchestrator struct {
	workers    int
	mode       Mode
	limiter    *RateLimiter
	clock      timeutil.Clock
	batchPause time.Duration

	// Progress, when set, observes completions.
	Progress ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for elapsed time and batch pauses.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithBatchPause overrides the pause between batches.
func WithBatchPause(d time.Duration) Option {
	return func(o *Orchestrator) { o.batchPause = d }
}

// WithMode selects thread or process limiter sharing.
func WithMode(m Mode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// New returns an orchestrator with Workers(configured) workers sharing
// limiter. A nil limiter gets the defaults on the orchestrator's clock.
func New(configured int, limiter *RateLimiter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workers:    Workers(configured),
		mode:       ModeThread,
		clock:      timeutil.RealClock{},
		batchPause: DefaultBatchPause,
	}
	for _, opt := range opts {
		opt(o)
	}
	if limiter == nil {
		limiter = NewRateLimiter(o.clock, DefaultPlotInterval, DefaultMaxDownloads)
	}
	o.limiter = limiter
	return o
}

// WorkerCount returns the effective pool size.
func (o *Orchestrator) WorkerCount() int { return o.workers }

// Mode returns the limiter sharing mode.
func (o *Orchestrator) Mode() Mode { return o.mode }

type completion struct {
	result  *Result
	failure *Failure
}

// ProcessPlotsParallel runs fn for every plot. A failing or panicking
// task is recorded and never cancels its siblings. Plots that have not
// started when ctx ends are recorded as failed with ctx's error.
func (o *Orchestrator) ProcessPlotsParallel(ctx context.Context, ps []plots.Plot, fn Task) Outcome {
	start := o.clock.Now()
	opsf("processing %d plots on %d workers (%s mode)", len(ps), o.workers, o.mode)

	jobs := make(chan plots.Plot)
	done := make(chan completion)

	workers := o.workers
	if len(ps) < workers {
		workers = len(ps)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < workers; i++ {
		limiter := o.limiter
		if o.mode == ModeProcess {
			limiter = limiter.Clone()
		}
		g.Go(func() error {
			for p := range jobs {
				done <- o.run(ctx, p, fn, limiter)
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for i, p := range ps {
			select {
			case jobs <- p:
			case <-ctx.Done():
				for _, skipped := range ps[i:] {
					done <- completion{failure: &Failure{
						PlotID: skipped.ID,
						Err:    procerr.WithUnit(procerr.Wrap(procerr.KindWorkerTask, "schedule plot", ctx.Err()), skipped.ID, ""),
					}}
				}
				return
			}
		}
	}()

	var out Outcome
	for completed := 1; completed <= len(ps); completed++ {
		c := <-done
		var id string
		if c.result != nil {
			out.Results = append(out.Results, *c.result)
			id = c.result.PlotID
			diagf("completed plot %s (%d/%d)", id, completed, len(ps))
		} else {
			out.Failed = append(out.Failed, *c.failure)
			id = c.failure.PlotID
			opsf("failed plot %s: %v", id, c.failure.Err)
		}
		if o.Progress != nil {
			o.Progress(completed, len(ps), id)
		}
	}
	_ = g.Wait()

	out.Stats = newStats(len(ps), len(out.Results), len(out.Failed), o.clock.Since(start))
	opsf("parallel processing completed: %d successful, %d failed, %.1fs total",
		out.Stats.Successful, out.Stats.Failed, out.Stats.Elapsed.Seconds())
	return out
}

func (o *Orchestrator) run(ctx context.Context, p plots.Plot, fn Task, limiter *RateLimiter) (c completion) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err := procerr.New(procerr.KindWorkerTask, "process plot", "panic: %v", r)
			err.PlotID = p.ID
			c = completion{failure: &Failure{PlotID: p.ID, Err: err}}
		}
	}()

	v, err := fn(ctx, p, limiter)
	if err != nil {
		return completion{failure: &Failure{
			PlotID: p.ID,
			Err:    procerr.WithUnit(procerr.Wrap(procerr.KindWorkerTask, "process plot", err), p.ID, ""),
		}}
	}
	return completion{result: &Result{PlotID: p.ID, Value: v, Elapsed: o.clock.Since(start)}}
}

func newStats(total, ok, failed int, elapsed time.Duration) Stats {
	s := Stats{Total: total, Successful: ok, Failed: failed, Elapsed: elapsed}
	if elapsed > 0 {
		s.PlotsPerSecond = float64(total) / elapsed.Seconds()
	}
	return s
}

// DefaultBatchSize is min(2×workers, 10).
func (o *Orchestrator) DefaultBatchSize() int {
	n := 2 * o.workers
	if n > 10 {
		n = 10
	}
	return n
}

// ProcessPlotsInBatches runs ProcessPlotsParallel over consecutive chunks
// of batchSize plots, pausing between chunks. A chunk that cannot start
// marks each of its plots failed with the shared reason.
func (o *Orchestrator) ProcessPlotsInBatches(ctx context.Context, ps []plots.Plot, fn Task, batchSize int) Outcome {
	if batchSize <= 0 {
		batchSize = o.DefaultBatchSize()
	}
	start := o.clock.Now()
	totalBatches := (len(ps) + batchSize - 1) / batchSize
	opsf("processing %d plots in %d batches of %d", len(ps), totalBatches, batchSize)

	var out Outcome
	for i := 0; i < len(ps); i += batchSize {
		end := i + batchSize
		if end > len(ps) {
			end = len(ps)
		}
		batch := ps[i:end]
		batchNum := i/batchSize + 1
		opsf("processing batch %d/%d (%d plots)", batchNum, totalBatches, len(batch))

		if err := ctx.Err(); err != nil {
			reason := procerr.Wrap(procerr.KindWorkerTask, "process batch", fmt.Errorf("batch processing failed: %w", err))
			for _, p := range batch {
				out.Failed = append(out.Failed, Failure{PlotID: p.ID, Err: procerr.WithUnit(reason, p.ID, "")})
			}
			continue
		}

		res := o.ProcessPlotsParallel(ctx, batch, fn)
		out.Results = append(out.Results, res.Results...)
		out.Failed = append(out.Failed, res.Failed...)

		if end < len(ps) {
			if err := timeutil.SleepContext(ctx, o.clock, o.batchPause); err != nil {
				diagf("batch pause interrupted: %v", err)
			}
		}
	}

	out.Stats = newStats(len(ps), len(out.Results), len(out.Failed), o.clock.Since(start))
	opsf("batch processing completed: %d successful, %d failed, %.1fs total",
		out.Stats.Successful, out.Stats.Failed, out.Stats.Elapsed.Seconds())
	return out
}
