// Package pipeline runs plots through download, extraction, quality
// filtering, index computation and the processing ledger, one acquisition
// date at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/banshee-data/canopy.report/internal/artifacts"
	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/download"
	"github.com/banshee-data/canopy.report/internal/events"
	"github.com/banshee-data/canopy.report/internal/extract"
	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/indices"
	"github.com/banshee-data/canopy.report/internal/ledger"
	"github.com/banshee-data/canopy.report/internal/metrics"
	"github.com/banshee-data/canopy.report/internal/parallel"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/quality"
	"github.com/banshee-data/canopy.report/internal/raster"
	"github.com/banshee-data/canopy.report/internal/security"
	"github.com/banshee-data/canopy.report/internal/search"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// Ledger is the part of the processing ledger the pipeline writes to.
// *ledger.Store implements it.
type Ledger interface {
	IsProcessed(ctx context.Context, plotID, date string) (bool, error)
	SaveRecord(ctx context.Context, rec ledger.Record) error
	UpdateAggregateStats(ctx context.Context, plotID string, delta int) error
	SavePlot(ctx context.Context, p plots.Plot) error
}

// Deps are the collaborators of a Pipeline. Source, Searcher, Downloader,
// Reader, Writer and Ledger are required.
type Deps struct {
	Source     plots.Source
	Searcher   search.Searcher
	Downloader download.Downloader
	Reader     raster.Reader
	Writer     raster.Writer
	Ledger     Ledger

	FS        fsutil.FileSystem
	Clock     timeutil.Clock
	Mirror    artifacts.Mirror
	Publisher events.Publisher
	Metrics   *metrics.Recorder
}

// Pipeline processes every plot of a source.
type Pipeline struct {
	cfg        *config.PipelineConfig
	source     plots.Source
	searcher   search.Searcher
	optimizer  search.Optimizer
	downloader download.Downloader
	extractor  *extract.Extractor
	calculator *indices.Calculator
	ledger     Ledger
	fsys       fsutil.FileSystem
	clock      timeutil.Clock
	limiter    *parallel.RateLimiter
	orch       *parallel.Orchestrator
	mirror     artifacts.Mirror
	uploads    *parallel.AsyncProcessor
	publisher  events.Publisher
	metrics    *metrics.Recorder
	runID      string

	// Progress, when set, is called after every plot.
	Progress parallel.ProgressFunc
}

// New wires a Pipeline from cfg. The searcher gets the interval fallback
// and the downloader gets the configured timeout and retry policy.
func New(cfg *config.PipelineConfig, deps Deps) (*Pipeline, error) {
	const op = "pipeline.New"
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, procerr.Wrap(procerr.KindConfiguration, op, err)
	}
	required := []struct {
		name    string
		missing bool
	}{
		{"plot source", deps.Source == nil},
		{"searcher", deps.Searcher == nil},
		{"downloader", deps.Downloader == nil},
		{"reader", deps.Reader == nil},
		{"writer", deps.Writer == nil},
		{"ledger", deps.Ledger == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, procerr.New(procerr.KindConfiguration, op, "%s is required", r.name)
		}
	}
	if deps.FS == nil {
		deps.FS = fsutil.OSFileSystem{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Mirror == nil {
		deps.Mirror = artifacts.Nop{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}

	p := &Pipeline{
		cfg:        cfg,
		source:     deps.Source,
		searcher:   search.WithIntervalFallback(deps.Searcher, cfg.GetSearchIntervalDays()),
		optimizer:  search.Optimizer{MinIntervalDays: cfg.GetMinDateIntervalDays()},
		downloader: download.WithRetry(deps.Downloader, cfg.GetDownloadTimeout(), cfg.GetMaxRetries(), cfg.GetRequestDelay(), deps.Clock),
		extractor: extract.New(deps.Reader,
			quality.NewFilter(cfg.GetFilterMaxCloudCoverage(), cfg.GetFilterMinDataCoverage()),
			cfg.GetQualityThreshold()),
		calculator: indices.NewCalculator(cfg.GetIndices(), deps.Writer, deps.FS),
		ledger:     deps.Ledger,
		fsys:       deps.FS,
		clock:      deps.Clock,
		limiter:    parallel.NewRateLimiter(deps.Clock, cfg.GetPlotMinInterval(), cfg.GetDownloadConcurrency()),
		mirror:     deps.Mirror,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		runID:      uuid.NewString(),
	}
	p.orch = parallel.New(cfg.GetMaxParallelWorkers(), p.limiter,
		parallel.WithClock(deps.Clock),
		parallel.WithBatchPause(cfg.GetBatchPause()),
		parallel.WithMode(parallel.Mode(cfg.GetParallelMode())),
	)
	return p, nil
}

// RunID identifies this pipeline's run in metadata and events.
func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) workers() int {
	if !p.cfg.GetParallelEnabled() {
		return 1
	}
	return p.orch.WorkerCount()
}

func (p *Pipeline) mode() string {
	if !p.cfg.GetParallelEnabled() {
		return "sequential"
	}
	return string(p.orch.Mode())
}

// Run fetches the plots and processes each of them. Only configuration
// level failures, such as an empty plot source, are returned as errors;
// everything else is counted in the summary.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	const op = "pipeline.Run"
	start := p.clock.Now()
	summary := newRunSummary(p.runID, start)

	features, err := p.source.Features(ctx)
	if err != nil {
		return summary, procerr.Wrap(procerr.KindConfiguration, op, fmt.Errorf("fetch plots: %w", err))
	}
	if len(features) == 0 {
		return summary, procerr.New(procerr.KindConfiguration, op, "plot source returned no plots")
	}
	opsf("run %s: fetched %d plots", p.runID, len(features))

	valid := make([]plots.Plot, 0, len(features))
	for i, f := range features {
		pl, err := plots.FromFeature(f)
		if err != nil {
			id := unitPlotID(err)
			if id == "" {
				id = fmt.Sprintf("feature[%d]", i)
			}
			opsf("skipping plot %s: %v", id, err)
			p.metrics.ObservePlot(metrics.StatusFailed)
			p.metrics.ObserveError(procerr.KindOf(err).String())
			summary.add(PlotOutcome{PlotID: id, Stage: StageFetched, Err: err})
			continue
		}
		valid = append(valid, pl)
	}

	p.startUploads(ctx)
	var outcomes []PlotOutcome
	if p.cfg.GetParallelEnabled() {
		outcomes = p.runParallel(ctx, valid)
	} else {
		outcomes = p.runSequential(ctx, valid)
	}
	for _, o := range outcomes {
		summary.add(o)
	}
	summary.UploadsFailed = p.finishUploads()
	summary.Elapsed = p.clock.Since(start)

	ev := events.NewEvent(events.TypeRunCompleted, p.runID, p.clock.Now())
	ev.Successful, ev.Failed = summary.PlotsSucceeded, summary.PlotsFailed
	p.publish(ctx, ev)

	opsf("run %s completed: %d/%d plots succeeded, dates processed=%d skipped=%d failed=%d in %.1fs",
		p.runID, summary.PlotsSucceeded, summary.Plots,
		summary.DatesProcessed, summary.DatesSkipped, summary.DatesFailed, summary.Elapsed.Seconds())
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// runSequential processes plots in order, in batches of BatchSize, pausing
// RequestDelay between plots and twice that between batches.
func (p *Pipeline) runSequential(ctx context.Context, ps []plots.Plot) []PlotOutcome {
	batchSize := p.cfg.GetBatchSize()
	delay := p.cfg.GetRequestDelay()
	out := make([]PlotOutcome, 0, len(ps))

	for i := 0; i < len(ps); i += batchSize {
		end := min(i+batchSize, len(ps))
		opsf("processing batch %d: plots %d-%d", i/batchSize+1, i+1, end)

		for j := i; j < end; j++ {
			if err := ctx.Err(); err != nil {
				out = append(out, PlotOutcome{PlotID: ps[j].ID, Stage: StageValidated,
					Err: procerr.WithUnit(procerr.Wrap(procerr.KindWorkerTask, "process plot", err), ps[j].ID, "")})
				continue
			}
			opsf("processing plot %d/%d: %s", j+1, len(ps), ps[j].ID)
			o := p.processPlot(ctx, ps[j], p.limiter)
			out = append(out, o)
			if p.Progress != nil {
				p.Progress(len(out), len(ps), o.PlotID)
			}
			if j < len(ps)-1 {
				p.pause(ctx, delay)
			}
		}
		if end < len(ps) {
			opsf("batch completed, pausing before next batch")
			p.pause(ctx, 2*delay)
		}
	}
	return out
}

// runParallel hands the plots to the orchestrator. Outcomes are returned
// in completion order.
func (p *Pipeline) runParallel(ctx context.Context, ps []plots.Plot) []PlotOutcome {
	var mu sync.Mutex
	byID := make(map[string]PlotOutcome, len(ps))

	task := func(ctx context.Context, plot plots.Plot, limiter *parallel.RateLimiter) (any, error) {
		o := p.processPlot(ctx, plot, limiter)
		mu.Lock()
		byID[plot.ID] = o
		mu.Unlock()
		return o, o.Err
	}
	p.orch.Progress = p.Progress
	res := p.orch.ProcessPlotsInBatches(ctx, ps, task, p.cfg.GetBatchSize())

	out := make([]PlotOutcome, 0, len(ps))
	for _, r := range res.Results {
		out = append(out, byID[r.PlotID])
	}
	for _, f := range res.Failed {
		o, ok := byID[f.PlotID]
		if !ok {
			// Panicked or never started.
			o = PlotOutcome{PlotID: f.PlotID, Stage: StageValidated, Err: f.Err}
		}
		out = append(out, o)
	}
	return out
}

// ProcessPlot runs one plot through every stage using the pipeline's
// shared rate limiter.
func (p *Pipeline) ProcessPlot(ctx context.Context, plot plots.Plot) PlotOutcome {
	return p.processPlot(ctx, plot, p.limiter)
}

func (p *Pipeline) processPlot(ctx context.Context, plot plots.Plot, limiter *parallel.RateLimiter) (out PlotOutcome) {
	start := p.clock.Now()
	done := p.metrics.TrackPlot()
	out = PlotOutcome{PlotID: plot.ID, Stage: StageFetched}
	defer func() {
		done()
		out.Elapsed = p.clock.Since(start)
		status := metrics.StatusProcessed
		if out.Err != nil {
			status = metrics.StatusFailed
			if _, _, failed := out.Counts(); failed == 0 {
				p.metrics.ObserveError(procerr.KindOf(out.Err).String())
			}
		}
		p.metrics.ObservePlot(status)

		ev := events.NewEvent(events.TypePlotCompleted, p.runID, p.clock.Now())
		ev.PlotID = plot.ID
		processed, skipped, failed := out.Counts()
		ev.Successful, ev.Failed = processed+skipped, failed
		if out.Err != nil {
			ev.Error = out.Err.Error()
		}
		p.publish(ctx, ev)
	}()

	if err := plot.Validate(); err != nil {
		opsf("plot %s failed validation: %v", plot.ID, err)
		out.Err = err
		return out
	}
	out.Stage = p.transition(plot.ID, "", StageValidated)

	if err := p.ledger.SavePlot(ctx, plot); err != nil {
		opsf("plot %s: %v", plot.ID, err)
		out.Err = err
		return out
	}

	window := search.SeasonWindow(plot, p.clock.Now())
	found, err := p.searcher.Dates(ctx, plot, window)
	if err != nil {
		out.Err = procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "search dates", err), plot.ID, "")
		opsf("plot %s: %v", plot.ID, out.Err)
		return out
	}
	dates := p.optimizer.Select(found, plot.PlantingDate)
	out.Stage = p.transition(plot.ID, "", StageSearched)
	if len(dates) == 0 {
		opsf("no acquisitions found for plot %s in %s, skipping", plot.ID, window)
		return out
	}
	opsf("plot %s: %d acquisition dates (%d before optimisation) in %s", plot.ID, len(dates), len(found), window)

	var lastErr error
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			lastErr = procerr.WithUnit(procerr.Wrap(procerr.KindWorkerTask, "process plot", err), plot.ID, "")
			break
		}
		d := p.processDate(ctx, plot, date, limiter)
		out.Dates = append(out.Dates, d)
		if d.Err != nil {
			lastErr = d.Err
		}
	}

	processed, skipped, failed := out.Counts()
	if processed > 0 {
		if err := p.ledger.UpdateAggregateStats(ctx, plot.ID, processed); err != nil {
			opsf("plot %s: %v", plot.ID, err)
		}
	}
	opsf("plot %s: %d dates processed, %d skipped, %d failed in %.1fs",
		plot.ID, processed, skipped, failed, p.clock.Since(start).Seconds())

	if processed+skipped == 0 {
		opsf("no successful processing for plot %s", plot.ID)
		out.Err = lastErr
	} else if ctx.Err() != nil {
		out.Err = lastErr
	}
	return out
}

func (p *Pipeline) transition(plotID, date string, s Stage) Stage {
	if date == "" {
		diagf("plot %s -> %s", plotID, s)
	} else {
		diagf("plot %s date %s -> %s", plotID, date, s)
	}
	return s
}

// processDate runs one acquisition through download, extraction, indices,
// outputs and the ledger. Every failure is returned in the outcome.
func (p *Pipeline) processDate(ctx context.Context, plot plots.Plot, date string, limiter *parallel.RateLimiter) (out DateOutcome) {
	start := p.clock.Now()
	out = DateOutcome{Date: date, Stage: StageSearched}
	fail := func(err error) DateOutcome {
		out.Status = DateFailed
		out.Err = procerr.WithUnit(err, plot.ID, date)
		out.Elapsed = p.clock.Since(start)
		kind := procerr.KindOf(out.Err)
		opsf("failed to process date %s for plot %s at %s (%s): %v", date, plot.ID, out.Stage, kind, out.Err)
		p.metrics.ObserveDate(metrics.StatusFailed, out.Elapsed)
		p.metrics.ObserveError(kind.String())

		ev := events.NewEvent(events.TypeDateFailed, p.runID, p.clock.Now())
		ev.PlotID, ev.Date, ev.Error = plot.ID, date, out.Err.Error()
		p.publish(ctx, ev)
		return out
	}

	done, err := p.ledger.IsProcessed(ctx, plot.ID, date)
	if err != nil {
		return fail(procerr.Wrap(procerr.KindPersistence, "check ledger", err))
	}
	if done {
		opsf("skipping %s for plot %s: already processed", date, plot.ID)
		out.Status = DateSkipped
		p.metrics.ObserveDate(metrics.StatusSkipped, 0)
		return out
	}

	release, err := limiter.Acquire(ctx, plot.ID)
	if err != nil {
		return fail(procerr.Wrap(procerr.KindDownload, "acquire download slot", err))
	}
	stageStart := p.clock.Now()
	path, err := p.downloader.Download(ctx, plot, date)
	release()
	if err != nil {
		return fail(err)
	}
	p.metrics.ObserveStage(StageDownloaded.String(), p.clock.Since(stageStart))
	out.Stage = p.transition(plot.ID, date, StageDownloaded)

	stageStart = p.clock.Now()
	bs, err := p.extractor.ProcessSatelliteData(ctx, path, plot.ID, date)
	if err != nil {
		return fail(err)
	}
	p.metrics.ObserveStage(StageExtracted.String(), p.clock.Since(stageStart))
	diagf("plot %s date %s: %s", plot.ID, date, extract.Describe(bs))
	p.transition(plot.ID, date, StageExtracted)
	out.Stage = p.transition(plot.ID, date, StageQualityFiltered)
	out.Warning = bs.QualityWarning
	q := qualityOf(bs)
	p.metrics.ObserveCloudCoverage(q.CloudCoverage)

	stageStart = p.clock.Now()
	results, err := p.calculator.CalculateAll(bs)
	if err != nil {
		return fail(err)
	}
	p.metrics.ObserveStage(StageIndicesComputed.String(), p.clock.Since(stageStart))
	out.Stage = p.transition(plot.ID, date, StageIndicesComputed)

	outputRoot := p.cfg.GetOutputDir()
	dir, err := security.JoinWithin(outputRoot, plot.ID, date)
	if err != nil {
		return fail(procerr.Wrap(procerr.KindValidation, "output path", err))
	}
	kinds := make([]indices.Kind, 0, len(results))
	for k := range results {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	stageStart = p.clock.Now()
	files := make(map[indices.Kind]string, len(results))
	for _, k := range kinds {
		dest := filepath.Join(dir, indices.Filename(k))
		if err := p.calculator.SaveIndex(ctx, results[k], dest, bs.Profile); err != nil {
			return fail(procerr.Wrap(procerr.KindPersistence, "save index", err))
		}
		files[k] = dest
	}

	sourceBytes := fsutil.FileSize(p.fsys, path)
	md := p.buildMetadata(dateArtifacts{
		runID:       p.runID,
		plot:        plot,
		date:        date,
		bands:       bs,
		results:     results,
		files:       files,
		outputDir:   dir,
		sourceBytes: sourceBytes,
		elapsed:     p.clock.Since(start),
		now:         p.clock.Now(),
	})
	docs, err := p.writeDocuments(dir, md)
	if err != nil {
		return fail(procerr.Wrap(procerr.KindPersistence, "write metadata", err))
	}
	p.metrics.ObserveStage(StageSaved.String(), p.clock.Since(stageStart))
	out.Stage = p.transition(plot.ID, date, StageSaved)
	out.OutputPath = dir

	names := kindNames(kinds)
	err = p.ledger.SaveRecord(ctx, ledger.Record{
		PlotID:          plot.ID,
		Date:            date,
		AcquisitionDate: date,
		FileSizeBytes:   sourceBytes,
		DurationSeconds: p.clock.Since(start).Seconds(),
		Indices:         names,
		OutputPath:      dir,
	})
	if err != nil {
		return fail(err)
	}
	out.Stage = p.transition(plot.ID, date, StageLedgerUpdated)
	out.Status = DateProcessed
	out.Elapsed = p.clock.Since(start)

	written := make([]string, 0, len(files)+len(docs))
	for _, k := range kinds {
		written = append(written, files[k])
	}
	written = append(written, docs...)
	p.upload(ctx, plot.ID, outputRoot, dir, written)

	ev := events.NewEvent(events.TypeDateProcessed, p.runID, p.clock.Now())
	ev.PlotID, ev.Date, ev.Indices, ev.OutputPath = plot.ID, date, names, dir
	ev.QualityGrade = q.Grade.String()
	cloud := q.CloudCoverage
	ev.CloudCoverage = &cloud
	p.publish(ctx, ev)

	p.metrics.ObserveDate(metrics.StatusProcessed, out.Elapsed)
	p.metrics.AddBytes(md.FileStructure.TotalSizeBytes)
	opsf("saved %d indices for plot %s on %s (%s, grade %s) in %.2fs",
		len(names), plot.ID, date, humanize.Bytes(uint64(md.FileStructure.TotalSizeBytes)), q.Grade, out.Elapsed.Seconds())

	p.pause(ctx, p.cfg.GetRequestDelay())
	return out
}

// uploadDrainTimeout bounds how long Run waits for queued mirror uploads.
const uploadDrainTimeout = 5 * time.Minute

// startUploads moves artifact mirroring off the per-date path onto a
// background queue for the duration of a run.
func (p *Pipeline) startUploads(ctx context.Context) {
	if _, nop := p.mirror.(artifacts.Nop); nop {
		return
	}
	p.uploads = parallel.NewAsyncProcessor(ctx, 4*p.cfg.GetDownloadConcurrency()*p.orch.WorkerCount(), p.clock)
	p.uploads.Start(p.cfg.GetDownloadConcurrency())
}

// finishUploads waits for queued uploads and returns how many failed.
func (p *Pipeline) finishUploads() int {
	if p.uploads == nil {
		return 0
	}
	uploads := p.uploads
	p.uploads = nil
	if err := uploads.Shutdown(uploadDrainTimeout); err != nil {
		opsf("artifact uploads still running: %v", err)
	}
	failed := 0
	for _, r := range uploads.Drain() {
		if r.Err != nil {
			failed++
			opsf("mirror failed: %v", r.Err)
		}
	}
	return failed
}

// upload mirrors written files, on the run's upload queue when one is
// active and inline otherwise (ProcessPlot, or a full queue).
func (p *Pipeline) upload(ctx context.Context, plotID, root, dir string, written []string) {
	send := func(ctx context.Context) (any, error) {
		n, err := p.mirror.Upload(ctx, root, written)
		if err != nil {
			return n, fmt.Errorf("mirror of %s incomplete (%d/%d files): %w", dir, n, len(written), err)
		}
		return n, nil
	}
	if p.uploads != nil && p.uploads.Submit(parallel.AsyncTask{PlotID: plotID, Run: send}) {
		return
	}
	if _, err := send(ctx); err != nil {
		opsf("%v", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		diagf("publish %s for plot %q: %v", ev.Type, ev.PlotID, err)
	}
}

func (p *Pipeline) pause(ctx context.Context, d time.Duration) {
	if err := timeutil.SleepContext(ctx, p.clock, d); err != nil && !errors.Is(err, context.Canceled) {
		diagf("pause interrupted: %v", err)
	}
}

// unitPlotID returns the plot a classified error is attributed to.
func unitPlotID(err error) string {
	var pe *procerr.Error
	if errors.As(err, &pe) {
		return pe.PlotID
	}
	return ""
}
