package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/canopy.report/internal/config"
	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/ledger"
	"github.com/banshee-data/canopy.report/internal/report"
	"github.com/banshee-data/canopy.report/internal/security"
)

func handleMigrate(args []string) {
	cfg := mustConfig()
	store, err := openLedger(cfg, mustEnvironment())
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer store.Close()
	ledger.SetLogWriters(os.Stdout, io.Discard)

	if err := ledger.RunMigrateCommand(store, args, os.Stdout, os.Stdin); err != nil {
		store.Close()
		log.Fatalf("migrate: %v", err)
	}
}

// mustOpenCurrentLedger opens the ledger for reading and refuses a schema
// that does not match the embedded migrations.
func mustOpenCurrentLedger(cfg *config.PipelineConfig) *ledger.Store {
	store, err := openLedger(cfg, mustEnvironment())
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		log.Fatalf("ledger not ready: %v", err)
	}
	return store
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	plotID := fs.String("plot", "", "List the processed records of one plot")
	fs.Parse(args)

	cfg := mustConfig()
	store := mustOpenCurrentLedger(cfg)
	defer store.Close()

	ctx := context.Background()
	var err error
	if *plotID != "" {
		err = writeRecords(ctx, os.Stdout, store, *plotID)
	} else {
		err = writeStatus(ctx, os.Stdout, store, time.Now())
	}
	if err != nil {
		store.Close()
		log.Fatalf("status: %v", err)
	}
}

// writeStatus prints the ledger summary and one line per plot.
func writeStatus(ctx context.Context, w io.Writer, store *ledger.Store, now time.Time) error {
	sum, err := store.Summary(ctx)
	if err != nil {
		return err
	}
	plotList, err := store.Plots(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Processing Ledger ===")
	fmt.Fprintf(w, "Driver:          %s\n", store.Driver())
	fmt.Fprintf(w, "Plots:           %d (%d with processed dates)\n", sum.Plots, sum.ProcessedPlots)
	fmt.Fprintf(w, "Records:         %d\n", sum.Records)
	fmt.Fprintf(w, "Source data:     %s\n", humanize.Bytes(uint64(sum.TotalBytes)))
	fmt.Fprintf(w, "Last processed:  %s\n", lastProcessed(sum.LastProcessed, now))
	if len(plotList) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLOT\tCROP\tPLANTED\tIMAGES\tLAST PROCESSED")
	for _, m := range plotList {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			m.PlotID, dash(m.CropType), dash(m.PlantingDate), m.TotalImagesProcessed, lastProcessed(m.LastProcessed, now))
	}
	return tw.Flush()
}

// writeRecords prints every processed date of plotID.
func writeRecords(ctx context.Context, w io.Writer, store *ledger.Store, plotID string) error {
	recs, err := store.Records(ctx, plotID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(w, "No processed dates for plot %s\n", plotID)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tINDICES\tSOURCE SIZE\tDURATION\tOUTPUT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fs\t%s\n",
			r.AcquisitionDate, strings.Join(r.Indices, ","), humanize.Bytes(uint64(r.FileSizeBytes)), r.DurationSeconds, r.OutputPath)
	}
	return tw.Flush()
}

func lastProcessed(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	plotID := fs.String("plot", "", "Plot to chart (all plots in the ledger when empty)")
	outDir := fs.String("out", "", "Report directory (default: <output_dir>/reports)")
	fs.Parse(args)

	cfg := mustConfig()
	store := mustOpenCurrentLedger(cfg)
	defer store.Close()

	dir := *outDir
	if dir == "" {
		dir = filepath.Join(cfg.GetOutputDir(), "reports")
	}
	ctx := context.Background()
	ids := []string{*plotID}
	if *plotID == "" {
		var err error
		if ids, err = plotIDs(ctx, store); err != nil {
			store.Close()
			log.Fatalf("report: %v", err)
		}
	}

	files, err := writeReports(ctx, store, fsutil.OSFileSystem{}, dir, ids)
	for _, f := range files {
		fmt.Println(f)
	}
	if err != nil {
		store.Close()
		log.Fatalf("report: %v", err)
	}
}

func plotIDs(ctx context.Context, store *ledger.Store) ([]string, error) {
	metas, err := store.Plots(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.PlotID)
	}
	return ids, nil
}

// writeReports renders charts for every plot with processed dates into
// dir/<plot>/ and returns the files written.
func writeReports(ctx context.Context, src report.Records, fsys fsutil.FileSystem, dir string, ids []string) ([]string, error) {
	var written []string
	for _, id := range ids {
		series, err := report.Load(ctx, src, fsys, id)
		if err != nil {
			return written, err
		}
		if len(series) == 0 {
			log.Printf("plot %s has no processed dates, skipping", id)
			continue
		}
		plotDir, err := security.JoinWithin(dir, id)
		if err != nil {
			return written, fmt.Errorf("plot %s: %w", id, err)
		}
		files, err := report.Write(fsys, plotDir, id, series)
		written = append(written, files...)
		if err != nil {
			return written, fmt.Errorf("plot %s: %w", id, err)
		}
	}
	return written, nil
}
