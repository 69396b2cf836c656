package search

import (
	"sort"
	"time"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/plots"
)

// KeyGrowthOffsets are days after planting whose nearest acquisitions are
// always kept: germination, early and mid vegetative, reproductive, maturity.
var KeyGrowthOffsets = []int{14, 30, 60, 90, 120}

// KeyDateToleranceDays is how close a date must be to a key growth date.
const KeyDateToleranceDays = 3

// Optimizer thins a date list to reduce downloads.
type Optimizer struct {
	MinIntervalDays int
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// Select keeps dates at least MinIntervalDays apart, except that dates
// within KeyDateToleranceDays of a key growth date are always kept.
// Unparseable dates are dropped.
func (o Optimizer) Select(dates []string, planting time.Time) []string {
	var days []time.Time
	for _, s := range dates {
		d, err := time.Parse(plots.DateLayout, s)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var keys []time.Time
	if !planting.IsZero() {
		p := truncateDay(planting)
		for _, off := range KeyGrowthOffsets {
			keys = append(keys, p.AddDate(0, 0, off))
		}
	}

	var out []string
	var last time.Time
	for _, d := range days {
		if len(out) > 0 && d.Equal(last) {
			continue
		}
		keep := nearKey(d, keys) || len(out) == 0 || daysBetween(last, d) >= o.MinIntervalDays
		if keep {
			out = append(out, d.Format(plots.DateLayout))
			last = d
		}
	}
	if len(out) != len(dates) {
		monitoring.Logf("search: optimized dates %d -> %d", len(dates), len(out))
	}
	return out
}

func nearKey(d time.Time, keys []time.Time) bool {
	for _, k := range keys {
		diff := daysBetween(k, d)
		if diff < 0 {
			diff = -diff
		}
		if diff <= KeyDateToleranceDays {
			return true
		}
	}
	return false
}
