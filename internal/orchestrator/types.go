package orchestrator

import (
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/odinmarkets/dna-pipeline/internal/planner"
)

// TargetKey identifies one (symbol, timeframe) series a run processes.
type TargetKey struct {
	Symbol    string
	Timeframe model.Timeframe
}

// IndicatorConfig names one indicator family and its parameters to compute
// over every key a run touches.
type IndicatorConfig struct {
	Family model.IndicatorFamily
	Params model.ParameterSet
}

// RunSpec is the Core API's run_pipeline input: the symbols,
// timeframes and range to backfill, how to order the work, and which
// indicator families to (re)compute over whatever gets stored.
type RunSpec struct {
	// RunID, if set, is used verbatim instead of generating a fresh one;
	// the api package pre-assigns it so a run can be looked up by the id
	// it handed back before RunPipeline returns, since run_pipeline
	// returns immediately with a run_id while the run keeps going.
	RunID      string
	Symbols    []string
	Timeframes []model.Timeframe
	From, To   time.Time
	Strategy   planner.Strategy
	Indicators []IndicatorConfig
	Simulate   bool
}

// KeyResult is one (symbol, timeframe)'s outcome within a run.
type KeyResult struct {
	Key          TargetKey
	BarsFetched  int
	BarsStored   map[string]int // storage.UpsertOutcome -> count, stringified to avoid an import cycle in callers
	Quality      *model.AggregateReport
	LabelsWritten int
	Err          error
}

// RunReport is run_pipeline's terminal result.
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []KeyResult
	Mismatches  int
	Success     bool
	Cancelled   bool
}
