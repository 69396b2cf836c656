package pipeline

import (
	"time"

	"github.com/banshee-data/canopy.report/internal/procerr"
)

// DateStatus is how a single acquisition date ended.
type DateStatus string

const (
	DateProcessed DateStatus = "processed"
	DateSkipped   DateStatus = "skipped"
	DateFailed    DateStatus = "failed"
)

// DateOutcome is the result of one (plot, date) unit. Stage is the last
// stage the date reached.
type DateOutcome struct {
	Date       string
	Status     DateStatus
	Stage      Stage
	Err        error
	Warning    bool
	OutputPath string
	Elapsed    time.Duration
}

// PlotOutcome is the result of one plot. Err is set when the plot could not
// be processed at all, or when every one of its dates failed.
type PlotOutcome struct {
	PlotID  string
	Stage   Stage
	Dates   []DateOutcome
	Err     error
	Elapsed time.Duration
}

// Counts tallies the plot's dates by status.
func (o PlotOutcome) Counts() (processed, skipped, failed int) {
	for _, d := range o.Dates {
		switch d.Status {
		case DateProcessed:
			processed++
		case DateSkipped:
			skipped++
		case DateFailed:
			failed++
		}
	}
	return processed, skipped, failed
}

// Successful is the number of dates that are done, whether by this run or
// an earlier one.
func (o PlotOutcome) Successful() int {
	processed, skipped, _ := o.Counts()
	return processed + skipped
}

// RunSummary aggregates every plot of a run.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	Plots          int            `json:"plots"`
	PlotsSucceeded int            `json:"plots_succeeded"`
	PlotsFailed    int            `json:"plots_failed"`
	DatesProcessed int            `json:"dates_processed"`
	DatesSkipped   int            `json:"dates_skipped"`
	DatesFailed    int            `json:"dates_failed"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
	UploadsFailed  int            `json:"uploads_failed"`
	Outcomes       []PlotOutcome  `json:"-"`
}

func newRunSummary(runID string, start time.Time) RunSummary {
	return RunSummary{RunID: runID, StartedAt: start, FailuresByKind: map[string]int{}}
}

// add folds o into the totals. A failed plot with no failed dates failed
// before reaching any date, so its own error is counted by kind.
func (s *RunSummary) add(o PlotOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.Plots++
	processed, skipped, failed := o.Counts()
	s.DatesProcessed += processed
	s.DatesSkipped += skipped
	s.DatesFailed += failed
	for _, d := range o.Dates {
		if d.Err != nil {
			s.FailuresByKind[procerr.KindOf(d.Err).String()]++
		}
	}
	if o.Err == nil {
		s.PlotsSucceeded++
		return
	}
	s.PlotsFailed++
	if failed == 0 {
		s.FailuresByKind[procerr.KindOf(o.Err).String()]++
	}
}
