package orchestrator

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"sync"

	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/rs/zerolog"
)

// shardTask is one unit of per-key pipeline work.
type shardTask func()

// shardedPool is the Pipeline Orchestrator's CPU-bound worker pool: W
// shards, each a single worker goroutine draining its own buffered queue,
// so tasks hashed to the same (symbol, timeframe) key always land on the
// same shard and execute in submission order — the per-key ordering
// guarantee the orchestrator needs, without a true work-stealing
// structure. The fixed-goroutine-count, buffered-channel,
// panic-recovering worker loop is the same shape used elsewhere in this
// codebase for broadcast fan-out; the FNV-hash routing that turns it into
// N ordering-preserving shards instead of N interchangeable broadcast
// workers is this package's own addition.
type shardedPool struct {
	shards []chan shardTask
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// newShardedPool builds a pool with n shards, each with the given queue
// depth. n should equal the injected worker budget.
func newShardedPool(n, queueDepth int, logger zerolog.Logger) *shardedPool {
	if n <= 0 {
		n = 1
	}
	p := &shardedPool{
		shards: make([]chan shardTask, n),
		logger: logger.With().Str("component", "orchestrator_pool").Logger(),
	}
	for i := range p.shards {
		p.shards[i] = make(chan shardTask, queueDepth)
	}
	return p
}

// start launches one worker goroutine per shard; workers run until ctx is
// cancelled and their shard channel is drained.
func (p *shardedPool) start(ctx context.Context) {
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, p.shards[i])
	}
}

func (p *shardedPool) worker(ctx context.Context, tasks chan shardTask) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			p.run(task)
		case <-ctx.Done():
			// drain whatever is already queued before exiting so a
			// cancelled run still commits completed work instead of
			// abandoning in-flight requests mid-commit.
			for {
				select {
				case task, ok := <-tasks:
					if !ok {
						return
					}
					p.run(task)
				default:
					return
				}
			}
		}
	}
}

func (p *shardedPool) run(task shardTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("orchestrator task panic recovered")
		}
	}()
	task()
}

// submit routes task to the shard owning key, so all tasks for the same
// (symbol, timeframe) execute strictly in submission order.
func (p *shardedPool) submit(key model.Key, task shardTask) {
	h := fnv.New32a()
	h.Write([]byte(key.Symbol))
	h.Write([]byte(key.Timeframe))
	shard := int(h.Sum32()) % len(p.shards)
	if shard < 0 {
		shard += len(p.shards)
	}
	p.shards[shard] <- task
}

// stop closes every shard's queue and waits for workers to drain.
func (p *shardedPool) stop() {
	for _, ch := range p.shards {
		close(ch)
	}
	p.wg.Wait()
}
