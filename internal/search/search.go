// Package search finds acquisition dates for a plot's growing season.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/procerr"
)

// Season padding and the default season length when no harvest date is known.
const (
	SeasonPadDays        = 7
	DefaultSeasonDays    = 120
	DefaultIntervalDays  = 14
	DefaultMaxCloudCover = 90.0
)

// Window is an inclusive date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no days.
func (w Window) Empty() bool { return w.End.Before(w.Start) }

func (w Window) String() string {
	return w.Start.Format(plots.DateLayout) + ".." + w.End.Format(plots.DateLayout)
}

// Contains reports whether day falls inside the window.
func (w Window) Contains(day time.Time) bool {
	return !day.Before(w.Start) && !day.After(w.End)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SeasonWindow spans planting-7d to harvest+7d, or planting+120d+7d when
// the harvest date is unknown. The end never passes today.
func SeasonWindow(p plots.Plot, today time.Time) Window {
	start := truncateDay(p.PlantingDate).AddDate(0, 0, -SeasonPadDays)
	end := truncateDay(p.PlantingDate).AddDate(0, 0, DefaultSeasonDays)
	if p.HarvestDate != nil {
		end = truncateDay(*p.HarvestDate)
	}
	end = end.AddDate(0, 0, SeasonPadDays)
	if t := truncateDay(today); end.After(t) {
		end = t
	}
	return Window{Start: start, End: end}
}

// Searcher returns sorted, distinct YYYY-MM-DD acquisition dates.
type Searcher interface {
	Dates(ctx context.Context, plot plots.Plot, w Window) ([]string, error)
}

// Scene is one catalog entry. BBox is min lon, min lat, max lon, max lat.
type Scene struct {
	ID         string     `json:"id"`
	Date       string     `json:"date"`
	CloudCover float64    `json:"cloud_cover"`
	BBox       [4]float64 `json:"bbox"`
}

// CatalogSearcher reads scenes from a JSON array on disk.
type CatalogSearcher struct {
	Path             string
	MaxCloudCoverage float64
}

// LoadCatalog decodes a scene catalog file.
func LoadCatalog(path string) ([]Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var scenes []Scene
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return scenes, nil
}

// Dates returns scene dates inside w whose cloud cover is within the
// limit and whose footprint intersects the plot.
func (c CatalogSearcher) Dates(ctx context.Context, plot plots.Plot, w Window) ([]string, error) {
	scenes, err := LoadCatalog(c.Path)
	if err != nil {
		return nil, procerr.WithUnit(procerr.Wrap(procerr.KindDownload, "search catalog", err), plot.ID, "")
	}
	return FilterScenes(scenes, plot.Bounds(), w, c.MaxCloudCoverage), nil
}

// FilterScenes applies window, cloud and footprint filters and returns
// distinct sorted dates. A non-positive maxCloud disables the cloud filter.
func FilterScenes(scenes []Scene, b plots.Bounds, w Window, maxCloud float64) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range scenes {
		day, err := time.Parse(plots.DateLayout, s.Date)
		if err != nil {
			monitoring.Logf("search: skipping scene %s with bad date %q", s.ID, s.Date)
			continue
		}
		if !w.Contains(day) {
			continue
		}
		if maxCloud > 0 && s.CloudCover > maxCloud {
			continue
		}
		footprint := plots.Bounds{MinLon: s.BBox[0], MinLat: s.BBox[1], MaxLon: s.BBox[2], MaxLat: s.BBox[3]}
		if !footprint.Intersects(b) {
			continue
		}
		if !seen[s.Date] {
			seen[s.Date] = true
			out = append(out, s.Date)
		}
	}
	sort.Strings(out)
	return out
}

// IntervalDates returns a candidate date every intervalDays from w.Start
// through w.End.
func IntervalDates(w Window, intervalDays int) []string {
	if intervalDays < 1 {
		intervalDays = DefaultIntervalDays
	}
	var out []string
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, intervalDays) {
		out = append(out, d.Format(plots.DateLayout))
	}
	return out
}

type intervalFallback struct {
	next         Searcher
	intervalDays int
}

// WithIntervalFallback wraps s so that an empty result is replaced by
// evenly spaced candidate dates across the window.
func WithIntervalFallback(s Searcher, intervalDays int) Searcher {
	return intervalFallback{next: s, intervalDays: intervalDays}
}

func (f intervalFallback) Dates(ctx context.Context, plot plots.Plot, w Window) ([]string, error) {
	dates, err := f.next.Dates(ctx, plot, w)
	if err != nil || len(dates) > 0 {
		return dates, err
	}
	dates = IntervalDates(w, f.intervalDays)
	monitoring.Logf("search: no catalog dates for plot %s in %s, using %d interval dates", plot.ID, w, len(dates))
	return dates, nil
}
