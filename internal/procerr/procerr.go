// Package procerr classifies processing failures so the orchestrators can
// decide whether to skip a date, skip a plot, or abort the run.
package procerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a processing failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed plot geometry or missing required fields. Skips the plot.
	KindValidation
	// KindExtraction: unreadable or malformed raster. Skips the date.
	KindExtraction
	// KindQualityDegraded: acquisition below the quality threshold. Non-fatal.
	KindQualityDegraded
	// KindIndexComputation: a requested index could not be computed. Skips the date.
	KindIndexComputation
	// KindPersistence: ledger write failed. Skips the date, not marked processed.
	KindPersistence
	// KindWorkerTask: a parallel task failed or panicked.
	KindWorkerTask
	// KindConfiguration: run-level misconfiguration. Aborts the run.
	KindConfiguration
	// KindDownload: raster download failed or timed out. Retryable.
	KindDownload
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindValidation:       "validation",
	KindExtraction:       "extraction",
	KindQualityDegraded:  "quality_degraded",
	KindIndexComputation: "index_computation",
	KindPersistence:      "persistence",
	KindWorkerTask:       "worker_task",
	KindConfiguration:    "configuration",
	KindDownload:         "download",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure for one plot or (plot, date) unit.
type Error struct {
	Kind   Kind
	Op     string
	PlotID string
	Date   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.PlotID != "" {
		b.WriteString(" plot=")
		b.WriteString(e.PlotID)
	}
	if e.Date != "" {
		b.WriteString(" date=")
		b.WriteString(e.Date)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so callers can write
// errors.Is(err, &procerr.Error{Kind: procerr.KindDownload}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithUnit returns a copy of err annotated with the plot and date, or wraps
// a plain error as KindUnknown.
func WithUnit(err error, plotID, date string) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		c := *pe
		if c.PlotID == "" {
			c.PlotID = plotID
		}
		if c.Date == "" {
			c.Date = date
		}
		return &c
	}
	return &Error{Kind: KindUnknown, PlotID: plotID, Date: date, Err: err}
}

// KindOf returns the outermost classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a download failure worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err) == KindDownload
}

// IsFatal reports whether err should abort the whole run.
func IsFatal(err error) bool {
	return KindOf(err) == KindConfiguration
}
