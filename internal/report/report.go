// Package report renders per-plot vegetation index time series from the
// processing ledger and the metadata documents written next to each
// processed acquisition.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/ledger"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/pipeline"
	"github.com/banshee-data/canopy.report/internal/plots"
)

// File names written by Write.
const (
	PNGFile  = "indices.png"
	HTMLFile = "indices.html"
)

// Point is one index's statistics on one acquisition date.
type Point struct {
	Date time.Time
	Mean float64
	Min  float64
	Max  float64
}

// Series is the time series of one index, ascending by date.
type Series struct {
	Index  string
	Points []Point
}

// Records is the ledger read path the report needs.
type Records interface {
	Records(ctx context.Context, plotID string) ([]ledger.Record, error)
}

// Load builds one series per index from the metadata documents of every
// processed date of plotID. Dates whose metadata cannot be read are
// logged and left out.
func Load(ctx context.Context, src Records, fsys fsutil.FileSystem, plotID string) ([]Series, error) {
	recs, err := src.Records(ctx, plotID)
	if err != nil {
		return nil, fmt.Errorf("load records for plot %s: %w", plotID, err)
	}
	byIndex := make(map[string][]Point)
	for _, rec := range recs {
		date, err := time.Parse(plots.DateLayout, rec.AcquisitionDate)
		if err != nil {
			monitoring.Logf("report: plot %s: bad acquisition date %q: %v", plotID, rec.AcquisitionDate, err)
			continue
		}
		data, err := fsys.ReadFile(filepath.Join(rec.OutputPath, pipeline.MetadataFile))
		if err != nil {
			monitoring.Logf("report: plot %s %s: %v", plotID, rec.AcquisitionDate, err)
			continue
		}
		var md pipeline.ProcessingMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			monitoring.Logf("report: plot %s %s: decode metadata: %v", plotID, rec.AcquisitionDate, err)
			continue
		}
		for name, im := range md.VegetationIndices {
			if im.Statistics.ValidPixels == 0 {
				continue
			}
			byIndex[name] = append(byIndex[name], Point{
				Date: date,
				Mean: im.Statistics.Mean,
				Min:  im.Statistics.Min,
				Max:  im.Statistics.Max,
			})
		}
	}

	out := make([]Series, 0, len(byIndex))
	for name, pts := range byIndex {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
		out = append(out, Series{Index: name, Points: pts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Write renders both charts for plotID into dir and returns their paths.
func Write(fsys fsutil.FileSystem, dir, plotID string, series []Series) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	targets := []struct {
		name   string
		render func(io.Writer, string, []Series) error
	}{
		{PNGFile, WritePNG},
		{HTMLFile, WriteHTML},
	}
	var written []string
	for _, t := range targets {
		path := filepath.Join(dir, t.name)
		f, err := fsys.Create(path)
		if err != nil {
			return written, fmt.Errorf("create %s: %w", path, err)
		}
		if err := t.render(f, plotID, series); err != nil {
			f.Close()
			return written, err
		}
		if err := f.Close(); err != nil {
			return written, fmt.Errorf("close %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

var palette = []color.Color{
	color.RGBA{R: 0x1b, G: 0x9e, B: 0x77, A: 255},
	color.RGBA{R: 0xd9, G: 0x5f, B: 0x02, A: 255},
	color.RGBA{R: 0x75, G: 0x70, B: 0xb3, A: 255},
	color.RGBA{R: 0xe7, G: 0x29, B: 0x8a, A: 255},
	color.RGBA{R: 0x66, G: 0xa6, B: 0x1e, A: 255},
	color.RGBA{R: 0xe6, G: 0xab, B: 0x02, A: 255},
}

// WritePNG draws the mean of every index against acquisition date.
func WritePNG(w io.Writer, plotID string, series []Series) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Plot %s - Vegetation Indices (mean)", plotID)
	p.X.Label.Text = "Acquisition date"
	p.Y.Label.Text = "Index value"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}

	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(s.Points))
		for _, pt := range s.Points {
			pts = append(pts, plotter.XY{X: float64(pt.Date.Unix()), Y: pt.Mean})
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("line for %s: %w", s.Index, err)
		}
		c := palette[i%len(palette)]
		line.Width = vg.Points(1)
		line.Color = c
		points.Color = c
		p.Add(line, points)
		p.Legend.Add(s.Index, line, points)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// WriteHTML renders an interactive page with one chart per index showing
// mean, min and max on each acquisition date.
func WriteHTML(w io.Writer, plotID string, series []Series) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Plot %s - Vegetation Indices", plotID)

	for _, s := range series {
		dates := make([]string, 0, len(s.Points))
		mean := make([]opts.LineData, 0, len(s.Points))
		lo := make([]opts.LineData, 0, len(s.Points))
		hi := make([]opts.LineData, 0, len(s.Points))
		for _, pt := range s.Points {
			dates = append(dates, pt.Date.Format(plots.DateLayout))
			mean = append(mean, opts.LineData{Value: pt.Mean})
			lo = append(lo, opts.LineData{Value: pt.Min})
			hi = append(hi, opts.LineData{Value: pt.Max})
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: s.Index, Subtitle: fmt.Sprintf("plot=%s dates=%d", plotID, len(s.Points))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
			charts.WithXAxisOpts(opts.XAxis{Name: "Date", NameLocation: "middle", NameGap: 25}),
		)
		line.SetXAxis(dates).
			AddSeries("mean", mean).
			AddSeries("min", lo).
			AddSeries("max", hi)
		page.AddCharts(line)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}
