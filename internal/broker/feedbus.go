package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Tick is one decoded market-data update fanned out by Feed.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	TSUnix int64   `json:"ts_unix"`
}

// Feed is the async leg of the broker boundary: subscribe-market-data
// does not reply over the request/response socket, it opens a
// standing fan-out modeled the same way this codebase's Kafka consumer
// uses a kgo.Client poll loop elsewhere. Here the same client pulls ticks
// from the broker's market-data topic instead of a trade-event topic.
type Feed struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewFeed builds a Feed bound to brokers/topic, following the same
// franz-go client construction used elsewhere (consumer group, offset
// reset to the end of the topic).
func NewFeed(brokers []string, topic, group string, logger zerolog.Logger) (*Feed, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("construct market-data feed client: %w", err)
	}
	return &Feed{client: client, topic: topic, logger: logger.With().Str("component", "broker_feed").Logger()}, nil
}

// Subscribe runs the poll loop until ctx is cancelled, pushing decoded
// ticks for any of the requested symbols onto out. The channel is closed
// on return. Malformed records are dropped and logged, the same error
// handling this codebase's Kafka consumer uses elsewhere.
func (f *Feed) Subscribe(ctx context.Context, symbols []string, out chan<- Tick) {
	defer close(out)
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	for {
		fetches := f.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			f.logger.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("market-data fetch error")
		})
		fetches.EachRecord(func(r *kgo.Record) {
			var t Tick
			if err := json.Unmarshal(r.Value, &t); err != nil {
				f.logger.Warn().Err(err).Msg("dropping malformed market-data record")
				return
			}
			if len(want) > 0 && !want[t.Symbol] {
				return
			}
			select {
			case out <- t:
			case <-ctx.Done():
			}
		})
	}
}

// Close releases the underlying Kafka client.
func (f *Feed) Close() { f.client.Close() }
