package pipeline

// Stage is a step in the per-plot state machine. Failures record the
// stage they happened in.
type Stage int

const (
	StageFetched Stage = iota
	StageValidated
	StageSearched
	StageDownloaded
	StageExtracted
	StageQualityFiltered
	StageIndicesComputed
	StageSaved
	StageLedgerUpdated
)

var stageNames = [...]string{
	"fetched",
	"validated",
	"searched",
	"downloaded",
	"extracted",
	"quality_filtered",
	"indices_computed",
	"saved",
	"ledger_updated",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
