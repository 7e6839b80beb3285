// Package api implements the Core API surface: a thin
// facade over the Orchestrator and Storage Engine with no network
// transport of its own (REST/CLI collaborators are explicitly out of
// scope) — it's the contract those callers would invoke. Every operation
// returns an Envelope carrying either data or a classified errs.Kind plus
// diagnostics, rather than a bare Go error, so callers can branch on
// "what kind of problem" without type-asserting.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/errs"
	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/odinmarkets/dna-pipeline/internal/orchestrator"
	"github.com/odinmarkets/dna-pipeline/internal/storage"
)

// Envelope wraps every API result with (data | error-kind, diagnostics)
// rather than a bare Go error, so callers can branch on "what kind of
// problem" without type-asserting.
type Envelope struct {
	Data        any
	ErrorKind   errs.Kind
	Diagnostics map[string]any
}

func ok(data any) Envelope { return Envelope{Data: data} }

func fail(kind errs.Kind, err error) Envelope {
	diag := map[string]any{}
	if err != nil {
		diag["error"] = err.Error()
	}
	return Envelope{ErrorKind: kind, Diagnostics: diag}
}

// API is the facade. It holds the already-constructed Orchestrator and
// Storage Engine; it does not own their lifecycle.
type API struct {
	orch  *orchestrator.Orchestrator
	store *storage.Store

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	report *orchestrator.RunReport
	cancel context.CancelFunc
	done   bool
}

func New(orch *orchestrator.Orchestrator, store *storage.Store) *API {
	return &API{orch: orch, store: store, runs: make(map[string]*runState)}
}

// GetBars is the read-only get_bars(symbol, timeframe, from, to) operation.
func (a *API) GetBars(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, filters storage.Filters) Envelope {
	if a.store == nil {
		return fail(errs.StoreIOError, nil)
	}
	bars, err := a.store.Query(ctx, symbol, tf, from, to, filters)
	if err != nil {
		return fail(errs.StoreIOError, err)
	}
	return ok(bars)
}

// GetLabels is get_labels(symbol, from, to). The Storage Engine carries
// labels denormalized onto their entry bars, across every timeframe.
func (a *API) GetLabels(ctx context.Context, symbol string, from, to time.Time) Envelope {
	if a.store == nil {
		return fail(errs.StoreIOError, nil)
	}
	labels, err := a.store.QueryLabels(ctx, symbol, from, to)
	if err != nil {
		return fail(errs.StoreIOError, err)
	}
	return ok(labels)
}

// QualityReport is quality_report(range), scoped to one (symbol, timeframe).
func (a *API) QualityReport(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) Envelope {
	if a.store == nil {
		return fail(errs.StoreIOError, nil)
	}
	report, err := a.store.QualityReport(ctx, symbol, tf, from, to)
	if err != nil {
		return fail(errs.StoreIOError, err)
	}
	return ok(report)
}

// MissingMinutes is missing_minutes(symbol, timeframe, range).
func (a *API) MissingMinutes(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time, calendar model.SessionCalendar) Envelope {
	if a.store == nil {
		return fail(errs.StoreIOError, nil)
	}
	missing, err := a.store.DetectMissing(ctx, symbol, tf, from, to, calendar)
	if err != nil {
		return fail(errs.MissingRange, err)
	}
	return ok(missing)
}

// PipelineStatus is pipeline_status(): every run this process has started,
// its latest report if finished, or "still running" if not.
func (a *API) PipelineStatus() Envelope {
	a.mu.Lock()
	defer a.mu.Unlock()
	statuses := make(map[string]any, len(a.runs))
	for id, rs := range a.runs {
		if rs.done {
			statuses[id] = rs.report
		} else {
			statuses[id] = "RUNNING"
		}
	}
	return ok(statuses)
}

// RunPipeline is run_pipeline(spec): starts a run asynchronously and
// returns its run_id immediately; the caller polls PipelineStatus or
// listens on the NATS lifecycle subjects the Orchestrator publishes.
func (a *API) RunPipeline(parent context.Context, spec orchestrator.RunSpec) Envelope {
	if a.orch == nil {
		return fail(errs.ConfigInvalid, nil)
	}
	ctx, cancel := context.WithCancel(parent)

	if spec.RunID == "" {
		spec.RunID = time.Now().UTC().Format("20060102T150405.000000000")
	}
	runID := spec.RunID

	a.mu.Lock()
	a.runs[runID] = &runState{cancel: cancel}
	a.mu.Unlock()

	go func() {
		report, err := a.orch.RunPipeline(ctx, spec)
		a.mu.Lock()
		defer a.mu.Unlock()
		if err != nil {
			a.runs[runID] = &runState{done: true, cancel: cancel, report: &orchestrator.RunReport{RunID: runID, Success: false}}
			return
		}
		a.runs[runID] = &runState{done: true, cancel: cancel, report: report}
	}()

	return ok(map[string]string{"run_id": runID})
}

// CancelRun is cancel_run(run_id): requests cooperative cancellation of an
// in-flight run. It is a no-op (not an error) if the run already finished.
func (a *API) CancelRun(runID string) Envelope {
	a.mu.Lock()
	rs, found := a.runs[runID]
	a.mu.Unlock()
	if !found {
		return fail(errs.Cancelled, nil)
	}
	if !rs.done {
		rs.cancel()
	}
	return ok(nil)
}
