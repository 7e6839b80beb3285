// Package orchestrator implements the Pipeline Orchestrator: it drives one
// run_pipeline invocation end to end, fanning the plan out across (symbol,
// timeframe) keys while a shardedPool keeps each key's requests strictly
// ordered, then runs validation, storage, indicators and simulation per
// key before a final cross-timeframe pass.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odinmarkets/dna-pipeline/internal/broker"
	"github.com/odinmarkets/dna-pipeline/internal/indicator"
	"github.com/odinmarkets/dna-pipeline/internal/metrics"
	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/odinmarkets/dna-pipeline/internal/planner"
	"github.com/odinmarkets/dna-pipeline/internal/ratelimit"
	"github.com/odinmarkets/dna-pipeline/internal/simulator"
	"github.com/odinmarkets/dna-pipeline/internal/storage"
	"github.com/odinmarkets/dna-pipeline/internal/validator"
)

// Orchestrator wires every other module into one runnable pipeline.
type Orchestrator struct {
	logger      zerolog.Logger
	governor    *ratelimit.Governor
	bars        *validator.BarValidator
	crossTF     *validator.CrossTimeframeValidator
	store       *storage.Store
	indicators  *indicator.Engine
	simCfg      simulator.Config
	events      *eventPublisher
	plannerOpts planner.Options
	workers     int
	queueDepth  int
}

// Deps bundles the already-constructed collaborators a run needs. nc may
// be nil (lifecycle events become no-ops, the same tolerance for an
// absent NATS client used elsewhere in this codebase).
type Deps struct {
	Governor    *ratelimit.Governor
	Bars        *validator.BarValidator
	CrossTF     *validator.CrossTimeframeValidator
	Store       *storage.Store
	Indicators  *indicator.Engine
	SimConfig   simulator.Config
	NATS        *nats.Conn
	PlannerOpts planner.Options
	Workers     int
	QueueDepth  int
}

func New(logger zerolog.Logger, d Deps) *Orchestrator {
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.QueueDepth <= 0 {
		d.QueueDepth = 64
	}
	return &Orchestrator{
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		governor:    d.Governor,
		bars:        d.Bars,
		crossTF:     d.CrossTF,
		store:       d.Store,
		indicators:  d.Indicators,
		simCfg:      d.SimConfig,
		events:      newEventPublisher(d.NATS, logger),
		plannerOpts: d.PlannerOpts,
		workers:     d.Workers,
		queueDepth:  d.QueueDepth,
	}
}

// keyTimeline is one (symbol, timeframe)'s ordered requests plus the
// bars accumulated across them as the run progresses.
type keyTimeline struct {
	key      TargetKey
	requests []planner.PlannedRequest
}

// RunPipeline executes the full run end to end: plan, submit
// through the governor, validate, store, compute indicators, simulate,
// and report — per key, concurrently, with cross-timeframe validation as
// a barrier once every key has settled.
func (o *Orchestrator) RunPipeline(ctx context.Context, spec RunSpec) (*RunReport, error) {
	start := time.Now().UTC()
	runID := spec.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &RunReport{RunID: runID, StartedAt: start}

	targets := make([]planner.Target, 0, len(spec.Symbols)*len(spec.Timeframes))
	for _, sym := range spec.Symbols {
		for _, tf := range spec.Timeframes {
			targets = append(targets, planner.Target{Symbol: sym, Timeframe: tf, Range: planner.Range{From: spec.From, To: spec.To}})
		}
	}

	opts := o.plannerOpts
	if spec.Strategy != "" {
		opts.Strategy = spec.Strategy
	}
	planned, err := planner.Plan(targets, opts)
	if err != nil {
		return nil, fmt.Errorf("plan run: %w", err)
	}

	timelines := groupByKey(planned)
	report.Results = make([]KeyResult, 0, len(timelines))

	o.events.started(report.RunID, len(timelines))

	pool := newShardedPool(o.workers, o.queueDepth, o.logger)
	pool.start(ctx)

	var mu sync.Mutex
	collected := make(map[TargetKey][]model.Bar, len(timelines))

	for _, tl := range timelines {
		tl := tl
		pool.submit(model.Key{Symbol: tl.key.Symbol, Timeframe: tl.key.Timeframe}, func() {
			kr, bars := o.processKey(ctx, tl, spec)
			mu.Lock()
			report.Results = append(report.Results, kr)
			if len(bars) > 0 {
				collected[tl.key] = bars
			}
			mu.Unlock()
			o.events.keyDone(report.RunID, tl.key, kr.Err)
		})
	}
	pool.stop()

	report.Mismatches = o.crossTimeframePass(collected)

	report.FinishedAt = time.Now().UTC()
	report.Cancelled = ctx.Err() != nil
	report.Success = !report.Cancelled && allSucceeded(report.Results)
	metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	o.events.finished(*report)
	return report, nil
}

// processKey runs one key's requests through the governor, validates and
// stores the result, computes indicators and (optionally) simulates
// trades, returning the accumulated validated bars so the caller can feed
// them into the run's cross-timeframe pass without re-querying storage.
func (o *Orchestrator) processKey(ctx context.Context, tl keyTimeline, spec RunSpec) (KeyResult, []model.Bar) {
	res := KeyResult{Key: tl.key, BarsStored: map[string]int{}}

	var raw []model.Bar
	for _, req := range tl.requests {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res, nil
		default:
		}

		payload := broker.HistoricalBarsRequest{
			Symbol:     req.Symbol,
			BarSize:    string(req.Timeframe),
			From:       req.Range.From,
			To:         req.Range.To,
			WhatToShow: "TRADES",
		}
		ticket, err := o.governor.Submit(model.KindHistorical, req.Priority, payload)
		if err != nil {
			res.Err = fmt.Errorf("submit %s/%s: %w", tl.key.Symbol, tl.key.Timeframe, err)
			return res, nil
		}
		result, err := o.governor.Await(ctx, ticket)
		if err != nil {
			res.Err = fmt.Errorf("await %s/%s: %w", tl.key.Symbol, tl.key.Timeframe, err)
			return res, nil
		}
		if result.Err != nil {
			res.Err = fmt.Errorf("fetch %s/%s: %w", tl.key.Symbol, tl.key.Timeframe, result.Err)
			return res, nil
		}
		wire, ok := result.Value.(broker.HistoricalBarsResult)
		if !ok {
			res.Err = fmt.Errorf("fetch %s/%s: unexpected dispatcher result type %T", tl.key.Symbol, tl.key.Timeframe, result.Value)
			return res, nil
		}
		bars, err := decodeHistoricalBars(wire)
		if err != nil {
			res.Err = fmt.Errorf("decode %s/%s: %w", tl.key.Symbol, tl.key.Timeframe, err)
			return res, nil
		}
		raw = append(raw, bars...)
	}
	res.BarsFetched = len(raw)
	if len(raw) == 0 {
		return res, nil
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].Timestamp.Before(raw[j].Timestamp) })

	validated, reports, agg := o.bars.ValidateBatch(raw)
	res.Quality = agg
	for _, r := range reports {
		outcome := "rejected"
		if r.Accepted {
			outcome = "accepted"
		}
		metrics.BarsValidated.WithLabelValues(outcome).Inc()
	}

	var accepted []model.Bar
	for i, b := range validated {
		if reports[i].Accepted {
			accepted = append(accepted, b)
		}
	}
	if len(accepted) == 0 {
		return res, nil
	}

	if o.store != nil {
		counts, err := o.store.BulkUpsert(ctx, accepted)
		if err != nil {
			res.Err = fmt.Errorf("bulk_upsert %s/%s: %w", tl.key.Symbol, tl.key.Timeframe, err)
			return res, accepted
		}
		for outcome, n := range counts {
			res.BarsStored[string(outcome)] = n
			metrics.BarsStored.WithLabelValues(string(outcome)).Add(float64(n))
		}
	}

	if o.indicators != nil {
		for _, ic := range spec.Indicators {
			values, err := o.indicators.Recompute(accepted, ic.Family, ic.Params)
			if err != nil {
				o.logger.Warn().Err(err).Str("family", string(ic.Family)).Msg("indicator recompute failed")
				continue
			}
			if o.store != nil {
				if err := o.store.MarkIndicators(ctx, values); err != nil {
					o.logger.Warn().Err(err).Str("family", string(ic.Family)).Msg("mark_indicators failed")
				}
			}
		}
	}

	if spec.Simulate {
		labels := simulator.Simulate(accepted, o.simCfg)
		if o.store != nil && len(labels) > 0 {
			if err := o.store.MarkLabels(ctx, labels); err != nil {
				o.logger.Warn().Err(err).Msg("mark_labels failed")
			}
		}
		res.LabelsWritten = len(labels)
		for _, l := range labels {
			metrics.LabelsProduced.WithLabelValues(string(l.ExitReason)).Inc()
		}
	}

	return res, accepted
}

// crossTimeframePass checks every coarser/finer pair present in collected
// against each other, in order from finest to coarsest per symbol, and
// returns the total mismatch count.
func (o *Orchestrator) crossTimeframePass(collected map[TargetKey][]model.Bar) int {
	if o.crossTF == nil {
		return 0
	}
	bySymbol := make(map[string][]TargetKey)
	for k := range collected {
		bySymbol[k.Symbol] = append(bySymbol[k.Symbol], k)
	}

	total := 0
	for symbol, keys := range bySymbol {
		sort.Slice(keys, func(i, j int) bool { return keys[i].Timeframe.Duration() < keys[j].Timeframe.Duration() })
		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				finer, coarser := keys[i], keys[j]
				mismatches := o.crossTF.Check(collected[coarser], collected[finer])
				if len(mismatches) > 0 {
					o.logger.Warn().Str("symbol", symbol).Str("coarser", string(coarser.Timeframe)).
						Str("finer", string(finer.Timeframe)).Int("mismatches", len(mismatches)).
						Msg("cross-timeframe aggregation mismatch")
				}
				total += len(mismatches)
			}
		}
	}
	return total
}

func groupByKey(planned []planner.PlannedRequest) []keyTimeline {
	index := make(map[TargetKey]int)
	var out []keyTimeline
	for _, p := range planned {
		k := TargetKey{Symbol: p.Symbol, Timeframe: p.Timeframe}
		if i, ok := index[k]; ok {
			out[i].requests = append(out[i].requests, p)
			continue
		}
		index[k] = len(out)
		out = append(out, keyTimeline{key: k, requests: []planner.PlannedRequest{p}})
	}
	return out
}

func allSucceeded(results []KeyResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}
