package raster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Grade is the ordinal quality verdict of an acquisition.
// GradeUnknown sorts below every assessed grade.
type Grade int

const (
	GradeUnknown Grade = iota
	GradePoor
	GradeAcceptable
	GradeGood
	GradeExcellent
)

var gradeNames = [...]string{"unknown", "poor", "acceptable", "good", "excellent"}

func (g Grade) String() string {
	if g >= 0 && int(g) < len(gradeNames) {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// ParseGrade resolves a grade name (case-insensitive).
func ParseGrade(s string) (Grade, error) {
	for i, name := range gradeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Grade(i), nil
		}
	}
	return GradeUnknown, fmt.Errorf("unknown quality grade %q", s)
}

func (g Grade) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *Grade) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseGrade(s)
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// QualityMetrics summarises the cloud and coverage assessment of a band set.
type QualityMetrics struct {
	CloudCoverage float64 `json:"cloud_coverage_percent"`
	DataCoverage  float64 `json:"data_coverage_percent"`
	Grade         Grade   `json:"overall_quality"`
	Usable        bool    `json:"usable_for_analysis"`
	Method        string  `json:"assessment_method"`
}
