package ratelimit

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/rs/zerolog"
)

// recordingDispatcher records the order requests reach Execute and can gate
// one designated ticket until the test releases it, so the rest of the
// queue has a chance to fill up behind it.
type recordingDispatcher struct {
	mu      sync.Mutex
	order   []int64
	gateID  int64
	gate    chan struct{}

	inFlight  int32
	maxSeen   int32
	hold      chan struct{}
	failUntil int
	calls     int32
}

func (d *recordingDispatcher) Execute(ctx context.Context, req *model.Request) (any, error) {
	if d.gate != nil && req.ID == d.gateID {
		<-d.gate
	}
	d.mu.Lock()
	d.order = append(d.order, req.ID)
	d.mu.Unlock()

	if d.hold != nil {
		cur := atomic.AddInt32(&d.inFlight, 1)
		for {
			seen := atomic.LoadInt32(&d.maxSeen)
			if cur <= seen || atomic.CompareAndSwapInt32(&d.maxSeen, seen, cur) {
				break
			}
		}
		<-d.hold
		atomic.AddInt32(&d.inFlight, -1)
	}

	if d.failUntil > 0 {
		n := int(atomic.AddInt32(&d.calls, 1))
		if n <= d.failUntil {
			return nil, &transientErr{}
		}
	}
	return req.ID, nil
}

type transientErr struct{}

func (*transientErr) Error() string  { return "transient failure" }
func (*transientErr) Transient() bool { return true }

func TestGovernorEnforcesMaxConcurrent(t *testing.T) {
	disp := &recordingDispatcher{hold: make(chan struct{})}
	g := New(zerolog.Nop(), disp, map[model.RequestKind]KindConfig{
		model.KindMarket: {MaxConcurrent: 2, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	var tickets []Ticket
	for i := 0; i < 5; i++ {
		tk, err := g.Submit(model.KindMarket, 0, i)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		tickets = append(tickets, tk)
	}

	// give the dispatch loop time to pull as many requests as the bucket
	// allows before releasing them.
	time.Sleep(50 * time.Millisecond)
	close(disp.hold)

	for _, tk := range tickets {
		if _, err := g.Await(ctx, tk); err != nil {
			t.Fatalf("await %d: %v", tk, err)
		}
	}

	if got := atomic.LoadInt32(&disp.maxSeen); got > 2 {
		t.Fatalf("expected at most 2 concurrent dispatches under MaxConcurrent=2, observed %d", got)
	}
}

func TestGovernorDispatchesHigherPriorityFirst(t *testing.T) {
	disp := &recordingDispatcher{gate: make(chan struct{})}
	g := New(zerolog.Nop(), disp, map[model.RequestKind]KindConfig{
		model.KindHistorical: {MaxConcurrent: 1, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	gateTicket, err := g.Submit(model.KindHistorical, 0, "gate")
	if err != nil {
		t.Fatalf("submit gate: %v", err)
	}
	disp.gateID = int64(gateTicket)

	// let the single worker pick up and block on the gate request before
	// the rest of the queue is built up behind it.
	time.Sleep(50 * time.Millisecond)

	lowTicket, _ := g.Submit(model.KindHistorical, 1, "low")
	highTicket, _ := g.Submit(model.KindHistorical, 5, "high")
	midTicket, _ := g.Submit(model.KindHistorical, 3, "mid")

	close(disp.gate)

	for _, tk := range []Ticket{gateTicket, lowTicket, highTicket, midTicket} {
		if _, err := g.Await(ctx, tk); err != nil {
			t.Fatalf("await %d: %v", tk, err)
		}
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	want := []int64{int64(gateTicket), int64(highTicket), int64(midTicket), int64(lowTicket)}
	if !reflect.DeepEqual(disp.order, want) {
		t.Fatalf("dispatch order = %v, want (priority DESC, first_seen_at ASC) = %v", disp.order, want)
	}
}

func TestGovernorRetriesTransientFailureThenSucceeds(t *testing.T) {
	disp := &recordingDispatcher{failUntil: 2}
	g := New(zerolog.Nop(), disp, map[model.RequestKind]KindConfig{
		model.KindAccount: {RatePerMin: 6000, MaxAttempts: 5},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	tk, err := g.Submit(model.KindAccount, 0, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := g.Await(ctx, tk)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Fatalf("expected eventual COMPLETED after transient retries, got %s (err=%v)", res.Status, res.Err)
	}
}

func TestGovernorExhaustsAttemptsAndFails(t *testing.T) {
	disp := &recordingDispatcher{failUntil: 99}
	g := New(zerolog.Nop(), disp, map[model.RequestKind]KindConfig{
		model.KindAccount: {RatePerMin: 6000, MaxAttempts: 2},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	tk, err := g.Submit(model.KindAccount, 0, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := g.Await(ctx, tk)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if res.Status != model.StatusFailed {
		t.Fatalf("expected FAILED once MaxAttempts is exhausted, got %s", res.Status)
	}
}

func TestGovernorCancelQueuedRequestSkipsDispatch(t *testing.T) {
	disp := &recordingDispatcher{gate: make(chan struct{})}
	g := New(zerolog.Nop(), disp, map[model.RequestKind]KindConfig{
		model.KindHistorical: {MaxConcurrent: 1, MaxAttempts: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	gateTicket, _ := g.Submit(model.KindHistorical, 0, "gate")
	disp.gateID = int64(gateTicket)
	time.Sleep(50 * time.Millisecond)

	queuedTicket, err := g.Submit(model.KindHistorical, 0, "queued")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := g.Cancel(queuedTicket); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(disp.gate)

	if _, err := g.Await(ctx, gateTicket); err != nil {
		t.Fatalf("await gate: %v", err)
	}
	res, err := g.Await(ctx, queuedTicket)
	if err != nil {
		t.Fatalf("await cancelled: %v", err)
	}
	if res.Status != model.StatusCancelled {
		t.Fatalf("expected CANCELLED for a request cancelled while still queued, got %s", res.Status)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	for _, id := range disp.order {
		if id == int64(queuedTicket) {
			t.Fatalf("cancelled queued request %d should never reach Execute", queuedTicket)
		}
	}
}
