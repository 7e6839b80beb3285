package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// HistoricalBarsResult is what a historical-bars request resolves to once
// its response stream closes.
type HistoricalBarsResult struct {
	Envelopes []Envelope
}

// SessionDispatcher adapts Session to ratelimit.Dispatcher so the Rate
// Governor can schedule broker calls without knowing about sockets or wire
// framing.
type SessionDispatcher struct {
	session *Session
}

func NewSessionDispatcher(session *Session) *SessionDispatcher {
	return &SessionDispatcher{session: session}
}

// Execute dispatches req.Payload over the session according to req.Kind,
// draining a multi-part response stream to completion before returning.
func (d *SessionDispatcher) Execute(ctx context.Context, req *model.Request) (any, error) {
	switch req.Kind {
	case model.KindHistorical:
		hb, ok := req.Payload.(HistoricalBarsRequest)
		if !ok {
			return nil, fmt.Errorf("historical request payload has wrong type %T", req.Payload)
		}
		payload, err := json.Marshal(hb)
		if err != nil {
			return nil, fmt.Errorf("marshal historical-bars payload: %w", err)
		}
		return d.drain(ctx, VerbHistoricalBars, payload)

	case model.KindAccount:
		return d.drain(ctx, VerbRequestAccountInfo, nil)

	case model.KindMarket:
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal market subscribe payload: %w", err)
		}
		return d.drain(ctx, VerbSubscribeMarket, payload)

	case model.KindOrder:
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal order payload: %w", err)
		}
		return d.drain(ctx, VerbCancel, payload)

	default:
		return nil, fmt.Errorf("unsupported request kind %q", req.Kind)
	}
}

func (d *SessionDispatcher) drain(ctx context.Context, verb Verb, payload []byte) (any, error) {
	stream, err := d.session.Dispatch(ctx, verb, payload)
	if err != nil {
		return nil, err
	}
	var result HistoricalBarsResult
	for r := range stream {
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Envelope.Error != nil {
			return nil, ClassifyError(*r.Envelope.Error)
		}
		result.Envelopes = append(result.Envelopes, r.Envelope)
	}
	return result, nil
}
