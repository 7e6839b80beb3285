// Package ratelimit implements the Rate Governor: a
// priority-queued, per-kind token-bucket scheduler for broker requests
// with retry/backoff and cancellation, generalized from a single-bucket
// resource guard (golang.org/x/time/rate token buckets for Kafka/broadcast
// throttling) into N independent kind buckets feeding one priority queue
// each.
package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/errs"
	"github.com/odinmarkets/dna-pipeline/internal/metrics"
	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/rs/zerolog"
)

// Dispatcher performs the actual broker call for a request. Returning a
// non-nil error classified as Transient (see errs.Kind.Transient) causes
// the Governor to retry with backoff, up to the kind's attempt cap.
type Dispatcher interface {
	Execute(ctx context.Context, req *model.Request) (result any, err error)
}

// KindConfig is the per-kind scheduling policy.
type KindConfig struct {
	RatePerMin     int // ignored if MaxConcurrent > 0
	MaxConcurrent  int
	MaxAttempts    int
	Timeout        time.Duration
}

// Result is what Await returns once a ticket reaches a terminal status.
type Result struct {
	Value  any
	Err    error
	Status model.RequestStatus
}

// Ticket identifies one submitted request.
type Ticket int64

type pending struct {
	req      *model.Request
	resultCh chan Result
	cancel   context.CancelFunc
	done     bool
}

type kindStats struct {
	mu           sync.Mutex
	submitted    int64
	completed    int64
	failed       int64
	retries      int64
	totalWaitSec float64
	waitSamples  int64
}

// Governor is the Rate Governor.
type Governor struct {
	logger     zerolog.Logger
	dispatcher Dispatcher

	mu       sync.Mutex
	queues   map[model.RequestKind]*priorityQueue
	buckets  map[model.RequestKind]bucket
	kindCfg  map[model.RequestKind]KindConfig
	pending  map[int64]*pending
	nextID   int64
	wakeup   map[model.RequestKind]chan struct{}
	stats    map[model.RequestKind]*kindStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Governor with the given per-kind configuration.
func New(logger zerolog.Logger, dispatcher Dispatcher, cfg map[model.RequestKind]KindConfig) *Governor {
	g := &Governor{
		logger:     logger.With().Str("component", "rate_governor").Logger(),
		dispatcher: dispatcher,
		queues:     make(map[model.RequestKind]*priorityQueue),
		buckets:    make(map[model.RequestKind]bucket),
		kindCfg:    make(map[model.RequestKind]KindConfig),
		pending:    make(map[int64]*pending),
		wakeup:     make(map[model.RequestKind]chan struct{}),
		stats:      make(map[model.RequestKind]*kindStats),
	}
	for kind, kc := range cfg {
		g.kindCfg[kind] = kc
		q := &priorityQueue{}
		heap.Init(q)
		g.queues[kind] = q
		if kc.MaxConcurrent > 0 {
			g.buckets[kind] = newConcurrencyBucket(kc.MaxConcurrent)
		} else {
			g.buckets[kind] = newRateBucket(kc.RatePerMin)
		}
		g.wakeup[kind] = make(chan struct{}, 1)
		g.stats[kind] = &kindStats{}
	}
	return g
}

// Start launches the per-kind dispatch loops. The Governor stops all loops
// when ctx is cancelled (two-phase shutdown is the orchestrator's concern:
// it stops submitting, then cancels this context once drained).
func (g *Governor) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	for kind := range g.queues {
		g.wg.Add(1)
		go g.loop(kind)
	}
}

// Stop cancels all dispatch loops and waits for in-flight dispatches to
// observe cancellation.
func (g *Governor) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

// Submit enqueues a request and returns a ticket for Await/Cancel.
func (g *Governor) Submit(kind model.RequestKind, priority int, payload any) (Ticket, error) {
	g.mu.Lock()
	q, ok := g.queues[kind]
	if !ok {
		g.mu.Unlock()
		return 0, fmt.Errorf("unknown request kind %q", kind)
	}
	g.nextID++
	id := g.nextID
	req := &model.Request{
		ID:          id,
		Kind:        kind,
		Priority:    priority,
		Payload:     payload,
		FirstSeenAt: time.Now(),
		Status:      model.StatusQueued,
	}
	p := &pending{req: req, resultCh: make(chan Result, 1)}
	g.pending[id] = p
	heap.Push(q, &item{req: req})
	g.mu.Unlock()

	g.stats[kind].mu.Lock()
	g.stats[kind].submitted++
	g.stats[kind].mu.Unlock()
	metrics.RequestsSubmitted.WithLabelValues(string(kind)).Inc()
	metrics.QueueDepth.WithLabelValues(string(kind)).Inc()

	select {
	case g.wakeup[kind] <- struct{}{}:
	default:
	}
	return Ticket(id), nil
}

// Await blocks until the ticket's request reaches a terminal status.
func (g *Governor) Await(ctx context.Context, t Ticket) (Result, error) {
	g.mu.Lock()
	p, ok := g.pending[int64(t)]
	g.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown ticket %d", t)
	}
	select {
	case r := <-p.resultCh:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel cancels a request. PENDING/QUEUED requests are removed without
// consuming a token; IN_FLIGHT requests get a best-effort abort signal and
// settle once the dispatcher observes cancellation.
func (g *Governor) Cancel(t Ticket) error {
	id := int64(t)
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("unknown ticket %d", t)
	}
	kind := p.req.Kind
	if p.req.Status == model.StatusQueued {
		if it := g.queues[kind].removeByID(id); it != nil {
			p.req.Status = model.StatusCancelled
			g.finish(p, Result{Err: errs.New(errs.Cancelled, nil), Status: model.StatusCancelled})
			g.mu.Unlock()
			metrics.QueueDepth.WithLabelValues(string(kind)).Dec()
			return nil
		}
	}
	if p.req.Status == model.StatusInFlight && p.cancel != nil {
		p.cancel()
	}
	g.mu.Unlock()
	return nil
}

// Stats reports per-kind queue depth, retry counts and success ratio.
type Stats struct {
	QueueDepth   int
	AvgWaitSec   float64
	RetryCount   int64
	SuccessRatio float64
}

func (g *Governor) Stats() map[model.RequestKind]Stats {
	out := make(map[model.RequestKind]Stats)
	g.mu.Lock()
	for kind, q := range g.queues {
		depth := q.Len()
		s := g.stats[kind]
		s.mu.Lock()
		avg := 0.0
		if s.waitSamples > 0 {
			avg = s.totalWaitSec / float64(s.waitSamples)
		}
		ratio := 0.0
		if s.completed+s.failed > 0 {
			ratio = float64(s.completed) / float64(s.completed+s.failed)
		}
		out[kind] = Stats{QueueDepth: depth, AvgWaitSec: avg, RetryCount: s.retries, SuccessRatio: ratio}
		s.mu.Unlock()
	}
	g.mu.Unlock()
	return out
}

// loop is the per-kind dispatch loop: drain the queue while the bucket has
// capacity, otherwise wait to be woken (new submission, retry, or a ticker
// so buckets that refill over time eventually get re-checked).
func (g *Governor) loop(kind model.RequestKind) {
	defer g.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.wakeup[kind]:
		case <-ticker.C:
		}
		g.drain(kind)
	}
}

func (g *Governor) drain(kind model.RequestKind) {
	b := g.buckets[kind]
	for {
		g.mu.Lock()
		q := g.queues[kind]
		if q.Len() == 0 {
			g.mu.Unlock()
			return
		}
		if !b.TryAcquire() {
			g.mu.Unlock()
			return
		}
		it := heap.Pop(q).(*item)
		req := it.req
		p := g.pending[req.ID]
		req.Status = model.StatusInFlight
		waited := time.Since(req.FirstSeenAt).Seconds()
		reqCtx, cancel := context.WithCancel(g.ctx)
		if cfg := g.kindCfg[kind]; cfg.Timeout > 0 {
			var timeoutCancel context.CancelFunc
			reqCtx, timeoutCancel = context.WithTimeout(reqCtx, cfg.Timeout)
			prevCancel := cancel
			cancel = func() { timeoutCancel(); prevCancel() }
		}
		p.cancel = cancel
		g.mu.Unlock()

		metrics.QueueDepth.WithLabelValues(string(kind)).Dec()
		metrics.RequestWaitSeconds.WithLabelValues(string(kind)).Observe(waited)
		g.stats[kind].mu.Lock()
		g.stats[kind].totalWaitSec += waited
		g.stats[kind].waitSamples++
		g.stats[kind].mu.Unlock()

		g.wg.Add(1)
		go g.dispatchOne(kind, reqCtx, req, p, b)
	}
}

func (g *Governor) dispatchOne(kind model.RequestKind, ctx context.Context, req *model.Request, p *pending, b bucket) {
	defer g.wg.Done()
	defer b.Release()

	value, err := g.dispatcher.Execute(ctx, req)
	if err == nil {
		g.mu.Lock()
		req.Status = model.StatusCompleted
		g.mu.Unlock()
		g.stats[kind].mu.Lock()
		g.stats[kind].completed++
		g.stats[kind].mu.Unlock()
		metrics.RequestsCompleted.WithLabelValues(string(kind), string(model.StatusCompleted)).Inc()
		g.finishLocked(p, Result{Value: value, Status: model.StatusCompleted})
		return
	}

	if ctx.Err() != nil {
		g.mu.Lock()
		req.Status = model.StatusCancelled
		g.mu.Unlock()
		g.finishLocked(p, Result{Err: errs.New(errs.Cancelled, err), Status: model.StatusCancelled})
		return
	}

	transient := errs.IsTransient(err)
	cfg := g.kindCfg[kind]
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	g.mu.Lock()
	req.AttemptCount++
	req.LastError = err.Error()
	attempt := req.AttemptCount
	g.mu.Unlock()

	if !transient || attempt >= maxAttempts {
		g.mu.Lock()
		req.Status = model.StatusFailed
		g.mu.Unlock()
		g.stats[kind].mu.Lock()
		g.stats[kind].failed++
		g.stats[kind].mu.Unlock()
		metrics.RequestsCompleted.WithLabelValues(string(kind), string(model.StatusFailed)).Inc()
		g.finishLocked(p, Result{Err: err, Status: model.StatusFailed})
		return
	}

	metrics.RequestRetries.WithLabelValues(string(kind)).Inc()
	g.stats[kind].mu.Lock()
	g.stats[kind].retries++
	g.stats[kind].mu.Unlock()

	delay := backoffSchedule(attempt-1, time.Second, 30*time.Second)
	g.logger.Warn().Str("kind", string(kind)).Int64("request_id", req.ID).Int("attempt", attempt).
		Dur("backoff", delay).Err(err).Msg("transient failure, scheduling retry")

	timer := time.AfterFunc(delay, func() {
		g.mu.Lock()
		req.Status = model.StatusQueued
		req.FirstSeenAt = time.Now()
		heap.Push(g.queues[kind], &item{req: req})
		g.mu.Unlock()
		metrics.QueueDepth.WithLabelValues(string(kind)).Inc()
		select {
		case g.wakeup[kind] <- struct{}{}:
		default:
		}
	})
	_ = timer
}

// finishLocked delivers a terminal result, tolerating Cancel() racing to
// deliver its own result first.
func (g *Governor) finishLocked(p *pending, r Result) {
	g.mu.Lock()
	g.finish(p, r)
	g.mu.Unlock()
}

// finish must be called with g.mu held.
func (g *Governor) finish(p *pending, r Result) {
	if p.done {
		return
	}
	p.done = true
	p.resultCh <- r
}
