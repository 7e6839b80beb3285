package ratelimit

import (
	"golang.org/x/time/rate"
)

// bucket gates dispatch of the head-of-queue request for one RequestKind.
// A kind whose KindConfig sets MaxConcurrent gets a concurrency cap instead
// of a rate; every other kind gets a true token bucket
// (golang.org/x/time/rate, the same dependency used for Kafka/broadcast
// throttling elsewhere in this codebase).
type bucket interface {
	// TryAcquire attempts to claim one slot. Returns false if none is
	// currently available.
	TryAcquire() bool
	// Release returns a concurrency slot. No-op for rate-limited buckets.
	Release()
}

type rateBucket struct {
	limiter *rate.Limiter
}

// newRateBucket builds a token bucket refilling ratePerMin/60 tokens per
// second with a burst equal to one minute's allowance.
func newRateBucket(ratePerMin int) *rateBucket {
	if ratePerMin < 1 {
		ratePerMin = 1
	}
	return &rateBucket{limiter: rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin)}
}

func (b *rateBucket) TryAcquire() bool { return b.limiter.Allow() }
func (b *rateBucket) Release()         {}

type concurrencyBucket struct {
	slots chan struct{}
}

func newConcurrencyBucket(max int) *concurrencyBucket {
	if max < 1 {
		max = 1
	}
	return &concurrencyBucket{slots: make(chan struct{}, max)}
}

func (b *concurrencyBucket) TryAcquire() bool {
	select {
	case b.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *concurrencyBucket) Release() {
	select {
	case <-b.slots:
	default:
	}
}
