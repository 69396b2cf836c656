package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/ledger"
	"github.com/banshee-data/canopy.report/internal/metrics"
	"github.com/banshee-data/canopy.report/internal/pipeline"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/raster/gdal"
	"github.com/banshee-data/canopy.report/internal/search"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// runOptions are the command-line overrides of the run command.
type runOptions struct {
	plotsPath   string
	catalogPath string
	rasterDir   string
	outputDir   string
	workers     int
	sequential  bool
	adminListen string
	progress    bool
}

func parseRunFlags(args []string, env environment) (runOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var o runOptions
	fs.StringVar(&o.plotsPath, "plots", "", "GeoJSON FeatureCollection of plots (overrides plots_path)")
	fs.StringVar(&o.catalogPath, "catalog", "", "Scene catalog JSON (overrides catalog_path)")
	fs.StringVar(&o.rasterDir, "rasters", "", "Directory of downloaded rasters (overrides raster_dir)")
	fs.StringVar(&o.outputDir, "output", "", "Output directory (overrides output_dir)")
	fs.IntVar(&o.workers, "workers", 0, "Parallel workers (overrides max_parallel_workers)")
	fs.BoolVar(&o.sequential, "sequential", false, "Process plots one at a time")
	fs.StringVar(&o.adminListen, "admin", env.AdminListen, "Listen address for /metrics and /debug/ (empty disables)")
	fs.BoolVar(&o.progress, "progress", true, "Show a progress bar")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

// apply copies the set overrides onto cfg.
func (o runOptions) apply(cfg *config.PipelineConfig) {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&cfg.PlotsPath, o.plotsPath)
	set(&cfg.CatalogPath, o.catalogPath)
	set(&cfg.RasterDir, o.rasterDir)
	set(&cfg.OutputDir, o.outputDir)
	if o.workers > 0 {
		w := o.workers
		cfg.MaxParallelWorkers = &w
	}
	if o.sequential {
		off := false
		cfg.ParallelEnabled = &off
	}
}

func handleRun(args []string) {
	env := mustEnvironment()
	opts, err := parseRunFlags(args, env)
	if err != nil {
		os.Exit(2)
	}
	cfg := mustConfig()
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	diag := io.Discard
	if *verbose {
		diag = os.Stderr
	}
	configureLogging(os.Stdout, diag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openLedger(cfg, env)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer store.Close()
	if err := store.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate ledger: %v", err)
	}

	clock := timeutil.RealClock{}
	cache, closeCache, err := searchCache(ctx, env, clock)
	if err != nil {
		log.Fatalf("failed to connect search cache: %v", err)
	}
	defer closeCache()

	mirror, err := artifactMirror(ctx, env)
	if err != nil {
		log.Fatalf("failed to set up artifact mirror: %v", err)
	}
	publisher, err := eventPublisher(env)
	if err != nil {
		log.Fatalf("failed to connect event broker: %v", err)
	}
	defer publisher.Close()

	rec := metrics.New()
	if opts.adminListen != "" {
		shutdown := serveAdmin(opts.adminListen, rec, store)
		defer shutdown()
	}

	// Read the plots up front so the progress bar knows the total.
	features, err := plots.FileSource{Path: cfg.GetPlotsPath()}.Features(ctx)
	if err != nil {
		log.Fatalf("failed to read plots: %v", err)
	}

	codec := gdal.New()
	p, err := pipeline.New(cfg, pipeline.Deps{
		Source: plots.StaticSource(features),
		Searcher: search.CachedSearcher{
			Next:     search.CatalogSearcher{Path: cfg.GetCatalogPath(), MaxCloudCoverage: cfg.GetMaxCloudCoverage()},
			Cache:    cache,
			TTL:      cfg.GetSearchCacheTTL(),
			MaxCloud: cfg.GetMaxCloudCoverage(),
		},
		Downloader: sceneDownloader(cfg, env),
		Reader:     codec,
		Writer:     codec,
		Ledger:     store,
		Clock:      clock,
		Mirror:     mirror,
		Publisher:  publisher,
		Metrics:    rec,
	})
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	var bar *progressbar.ProgressBar
	if opts.progress && len(features) > 0 {
		bar = progressbar.Default(int64(len(features)), "Processing plots")
		p.Progress = func(_, _ int, _ string) { bar.Add(1) }
	}

	log.Printf("run %s: %d plots from %s", p.RunID(), len(features), cfg.GetPlotsPath())
	summary, runErr := p.Run(ctx)
	if bar != nil {
		bar.Finish()
	}

	printSummary(os.Stdout, summary)
	path := filepath.Join(cfg.GetOutputDir(), "runs", summary.RunID+".json")
	if err := fsutil.WriteJSON(fsutil.OSFileSystem{}, path, summary); err != nil {
		log.Printf("failed to write run summary: %v", err)
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		log.Printf("run interrupted")
		os.Exit(130)
	case procerr.IsFatal(runErr):
		log.Fatalf("run aborted: %v", runErr)
	default:
		log.Fatalf("run failed: %v", runErr)
	}
}

// serveAdmin starts the metrics and ledger debug listener and returns a
// function that shuts it down.
func serveAdmin(addr string, rec *metrics.Recorder, store *ledger.Store) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	store.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("admin listener on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin listener: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("failed to shut down admin listener: %v", err)
		}
	}
}

func printSummary(w io.Writer, s pipeline.RunSummary) {
	fmt.Fprintf(w, "\n=== Run %s ===\n", s.RunID)
	fmt.Fprintf(w, "Plots:   %d succeeded, %d failed (of %d)\n", s.PlotsSucceeded, s.PlotsFailed, s.Plots)
	fmt.Fprintf(w, "Dates:   %d processed, %d skipped, %d failed\n", s.DatesProcessed, s.DatesSkipped, s.DatesFailed)
	fmt.Fprintf(w, "Elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
	if s.UploadsFailed > 0 {
		fmt.Fprintf(w, "Uploads: %d failed\n", s.UploadsFailed)
	}
	if len(s.FailuresByKind) == 0 {
		return
	}
	kinds := make([]string, 0, len(s.FailuresByKind))
	for k := range s.FailuresByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintln(w, "Failures:")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-18s %s\n", k, humanize.Comma(int64(s.FailuresByKind[k])))
	}
}
