package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/odinmarkets/dna-pipeline/internal/broker"
	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// barWire is one bar as the broker's historical-bars response frames it.
// Each Envelope.Payload in a HistoricalBarsResult decodes to a []barWire;
// a multi-part response stream carries successive chunks of the range.
type barWire struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Source    string    `json:"source"`
}

// decodeHistoricalBars flattens every frame of result into model.Bars,
// preserving frame order (the broker guarantees chronological frames
// within one request).
func decodeHistoricalBars(result broker.HistoricalBarsResult) ([]model.Bar, error) {
	var out []model.Bar
	for _, env := range result.Envelopes {
		if len(env.Payload) == 0 {
			continue
		}
		var chunk []barWire
		if err := json.Unmarshal(env.Payload, &chunk); err != nil {
			return nil, fmt.Errorf("decode historical-bars frame: %w", err)
		}
		for _, w := range chunk {
			out = append(out, model.Bar{
				Symbol: w.Symbol, Timeframe: model.Timeframe(w.Timeframe), Timestamp: w.Timestamp.UTC(),
				Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume,
				Source: w.Source, IngestedAt: time.Now().UTC(),
			})
		}
	}
	return out, nil
}
