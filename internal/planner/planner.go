// Package planner implements the Batch Planner: it turns a
// set of (symbol, timeframe, range) targets and a strategy into an ordered
// sequence of historical-bars requests with priorities, sharding any range
// that exceeds the broker's max-bars-per-request into adjacent,
// non-overlapping subranges.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// Strategy selects how the (symbol × timeframe) matrix is ordered.
type Strategy string

const (
	StrategySequential          Strategy = "SEQUENTIAL"
	StrategyParallelBySymbol    Strategy = "PARALLEL_BY_SYMBOL"
	StrategyParallelByTimeframe Strategy = "PARALLEL_BY_TIMEFRAME"
	StrategyMixed               Strategy = "MIXED"
)

// Range is a half-open [From, To) time window.
type Range struct {
	From time.Time
	To   time.Time
}

// Target is one (symbol, timeframe, range) the caller wants populated.
type Target struct {
	Symbol    string
	Timeframe model.Timeframe
	Range     Range
}

// PlannedRequest is one entry in the planner's output: a single
// historical-bars call, already shard-sized and assigned a priority.
type PlannedRequest struct {
	Symbol    string
	Timeframe model.Timeframe
	Range     Range
	Priority  int
}

// Options selects the ordering strategy and configures sharding and the
// PARALLEL_BY_SYMBOL fan-out width.
type Options struct {
	Strategy Strategy
	// MaxBarsPerRequest bounds how many grid points one request may span;
	// ranges are shard into adjacent, non-overlapping subranges that each
	// respect this bound.
	MaxBarsPerRequest int
	// SymbolParallelism is K, the PARALLEL_BY_SYMBOL fan-out width.
	SymbolParallelism int
}

// Plan builds the ordered request sequence for targets under opts.
func Plan(targets []Target, opts Options) ([]PlannedRequest, error) {
	if opts.MaxBarsPerRequest <= 0 {
		return nil, fmt.Errorf("max bars per request must be positive")
	}
	sharded := make([]PlannedRequest, 0, len(targets))
	for _, t := range targets {
		if !t.Timeframe.Valid() {
			return nil, fmt.Errorf("invalid timeframe %q for symbol %s", t.Timeframe, t.Symbol)
		}
		subranges, err := shard(t.Range, t.Timeframe, opts.MaxBarsPerRequest)
		if err != nil {
			return nil, fmt.Errorf("shard range for %s/%s: %w", t.Symbol, t.Timeframe, err)
		}
		for _, r := range subranges {
			sharded = append(sharded, PlannedRequest{Symbol: t.Symbol, Timeframe: t.Timeframe, Range: r})
		}
	}

	switch opts.Strategy {
	case StrategySequential:
		return orderSequential(sharded), nil
	case StrategyParallelBySymbol:
		return orderParallelBySymbol(sharded, opts.SymbolParallelism), nil
	case StrategyParallelByTimeframe:
		return orderParallelByTimeframe(sharded), nil
	case StrategyMixed:
		return orderMixed(sharded), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}
}

// shard splits r into adjacent, non-overlapping subranges each spanning at
// most maxBars grid points of tf. Adjacency and no-overlap are the
// invariants required of the output.
func shard(r Range, tf model.Timeframe, maxBars int) ([]Range, error) {
	if !r.To.After(r.From) {
		return nil, fmt.Errorf("range To must be after From")
	}
	step := tf.Duration()
	chunk := step * time.Duration(maxBars)
	var out []Range
	cursor := tf.AlignedStart(r.From)
	for cursor.Before(r.To) {
		end := cursor.Add(chunk)
		if end.After(r.To) {
			end = r.To
		}
		out = append(out, Range{From: cursor, To: end})
		cursor = end
	}
	return out, nil
}

// orderSequential is symbol-major then timeframe-minor, subranges in
// chronological order within each (symbol, timeframe).
func orderSequential(reqs []PlannedRequest) []PlannedRequest {
	out := append([]PlannedRequest(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Timeframe != out[j].Timeframe {
			return out[i].Timeframe < out[j].Timeframe
		}
		return out[i].Range.From.Before(out[j].Range.From)
	})
	for i := range out {
		out[i].Priority = 0
	}
	return out
}

// orderParallelBySymbol groups by timeframe slot; within a slot, up to K
// symbols are enqueued at equal priority.
func orderParallelBySymbol(reqs []PlannedRequest, k int) []PlannedRequest {
	if k <= 0 {
		k = len(reqs)
	}
	byTF := groupBy(reqs, func(r PlannedRequest) string { return string(r.Timeframe) })
	tfs := sortedKeys(byTF)

	out := make([]PlannedRequest, 0, len(reqs))
	for _, tf := range tfs {
		group := byTF[tf]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Symbol != group[j].Symbol {
				return group[i].Symbol < group[j].Symbol
			}
			return group[i].Range.From.Before(group[j].Range.From)
		})
		for i, r := range group {
			r.Priority = (i / k)
			out = append(out, r)
		}
	}
	return out
}

// orderParallelByTimeframe groups by symbol; for each symbol all
// timeframes are enqueued together at equal priority.
func orderParallelByTimeframe(reqs []PlannedRequest) []PlannedRequest {
	bySymbol := groupBy(reqs, func(r PlannedRequest) string { return r.Symbol })
	symbols := sortedKeys(bySymbol)

	out := make([]PlannedRequest, 0, len(reqs))
	for _, sym := range symbols {
		group := bySymbol[sym]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Timeframe != group[j].Timeframe {
				return group[i].Timeframe < group[j].Timeframe
			}
			return group[i].Range.From.Before(group[j].Range.From)
		})
		for _, r := range group {
			r.Priority = 0
			out = append(out, r)
		}
	}
	return out
}

// orderMixed round-robins the (symbol × timeframe) matrix, weighting finer
// timeframes with higher priority so downstream validation (which needs
// finer bars to cross-check coarser ones, §4.5) is unblocked first.
func orderMixed(reqs []PlannedRequest) []PlannedRequest {
	byKey := groupBy(reqs, func(r PlannedRequest) string { return r.Symbol + "|" + string(r.Timeframe) })
	keys := sortedKeys(byKey)
	for _, k := range keys {
		g := byKey[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Range.From.Before(g[j].Range.From) })
		byKey[k] = g
	}

	out := make([]PlannedRequest, 0, len(reqs))
	idx := make(map[string]int, len(keys))
	for {
		progressed := false
		for _, k := range keys {
			i := idx[k]
			g := byKey[k]
			if i >= len(g) {
				continue
			}
			r := g[i]
			r.Priority = finerPriority(r.Timeframe)
			out = append(out, r)
			idx[k] = i + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// finerPriority gives finer timeframes a higher scheduling priority.
func finerPriority(tf model.Timeframe) int {
	switch tf {
	case model.Timeframe1m:
		return 4
	case model.Timeframe15m:
		return 3
	case model.Timeframe1h:
		return 2
	case model.Timeframe4h:
		return 1
	default:
		return 0
	}
}

func groupBy(reqs []PlannedRequest, key func(PlannedRequest) string) map[string][]PlannedRequest {
	out := make(map[string][]PlannedRequest)
	for _, r := range reqs {
		out[key(r)] = append(out[key(r)], r)
	}
	return out
}

func sortedKeys(m map[string][]PlannedRequest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
