package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/model"
	"github.com/rs/zerolog"
)

func TestShardedPoolPreservesPerKeyOrder(t *testing.T) {
	pool := newShardedPool(4, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.start(ctx)

	key := model.Key{Symbol: "AAPL", Timeframe: model.Timeframe1m}
	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		pool.submit(key, func() {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		})
	}
	wg.Wait()
	pool.stop()

	for i, v := range seen {
		if v != i {
			t.Fatalf("expected strictly increasing submission order for one key, got %v at index %d", seen, i)
		}
	}
}

func TestShardedPoolDrainsQueuedTasksOnCancel(t *testing.T) {
	pool := newShardedPool(1, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	pool.start(ctx)

	var mu sync.Mutex
	completed := 0
	block := make(chan struct{})
	pool.submit(model.Key{Symbol: "AAPL"}, func() { <-block })
	for i := 0; i < 3; i++ {
		pool.submit(model.Key{Symbol: "AAPL"}, func() {
			mu.Lock()
			completed++
			mu.Unlock()
		})
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(block)
	pool.stop()

	mu.Lock()
	defer mu.Unlock()
	if completed != 3 {
		t.Fatalf("expected all 3 already-queued tasks to drain despite cancellation, got %d", completed)
	}
}

func TestShardedPoolRecoversFromPanickingTask(t *testing.T) {
	pool := newShardedPool(1, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	var ranSecond bool
	pool.submit(model.Key{Symbol: "AAPL"}, func() {
		defer wg.Done()
		panic("boom")
	})
	pool.submit(model.Key{Symbol: "AAPL"}, func() {
		defer wg.Done()
		ranSecond = true
	})
	wg.Wait()
	pool.stop()

	if !ranSecond {
		t.Fatal("expected the shard's worker to keep running after a panicking task")
	}
}
