// Package broker implements the Broker Session: the
// connection-lifecycle state machine and request/response correlator that
// owns the one synchronous-request / async-response socket the pipeline
// depends on for historical bars, market-data subscriptions and account
// info.
package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verb is one of the broker boundary verbs this pipeline enumerates.
type Verb string

const (
	VerbConnect            Verb = "connect"
	VerbAuthenticate       Verb = "authenticate"
	VerbHistoricalBars     Verb = "historical-bars"
	VerbSubscribeMarket    Verb = "subscribe-market-data"
	VerbRequestAccountInfo Verb = "request-account-info"
	VerbCancel             Verb = "cancel"
)

// Envelope is one framed message exchanged over the broker socket. Every
// request/response pair shares RequestID; a multi-part response stream
// repeats RequestID across frames and sets Terminal on its last frame.
type Envelope struct {
	RequestID int64           `json:"request_id"`
	Verb      Verb            `json:"verb"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
	Terminal  bool            `json:"terminal"`
}

// WireError is the broker's error representation on the wire.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassifiedError wraps a broker WireError with a fixed transient/fatal
// classification: transient is network-level, timeout, or
// broker-signalled throttling; fatal is authentication, malformed
// request, or unknown symbol. It implements Transient() bool so
// errs.IsTransient reflects this table directly rather than going through
// one of the run-level Kind defaults.
type ClassifiedError struct {
	Code      string
	Message   string
	transient bool
}

func (e *ClassifiedError) Error() string   { return fmt.Sprintf("broker error %s: %s", e.Code, e.Message) }
func (e *ClassifiedError) Transient() bool { return e.transient }

// ClassifyError builds a ClassifiedError from a broker WireError using the
// fixed code table/§6.
func ClassifyError(w WireError) *ClassifiedError {
	switch w.Code {
	case "TIMEOUT", "NETWORK_ERROR", "THROTTLED", "RATE_LIMITED":
		return &ClassifiedError{Code: w.Code, Message: w.Message, transient: true}
	case "AUTH_FAILED", "MALFORMED_REQUEST", "UNKNOWN_SYMBOL":
		return &ClassifiedError{Code: w.Code, Message: w.Message, transient: false}
	default:
		return &ClassifiedError{Code: w.Code, Message: w.Message, transient: true}
	}
}

// HistoricalBarsRequest is the payload for VerbHistoricalBars.
type HistoricalBarsRequest struct {
	Symbol      string    `json:"symbol"`
	BarSize     string    `json:"bar_size"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	WhatToShow  string    `json:"what_to_show"`
}
