package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// lifecycleSubjects builds the run-lifecycle subjects this package
// publishes to, following the same Subjects/PublishJSON idiom used for
// per-token market subjects elsewhere, generalized to per-run pipeline
// subjects.
type lifecycleSubjects struct{}

func (lifecycleSubjects) started(runID string) string  { return fmt.Sprintf("pipeline.run.%s.started", runID) }
func (lifecycleSubjects) finished(runID string) string { return fmt.Sprintf("pipeline.run.%s.finished", runID) }
func (lifecycleSubjects) keyDone(runID string) string  { return fmt.Sprintf("pipeline.run.%s.key_done", runID) }

var subjects = lifecycleSubjects{}

// runStartedEvent and runFinishedEvent are the JSON payloads published to
// NATS at the edges of RunPipeline.
type runStartedEvent struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Keys      int       `json:"key_count"`
}

type runFinishedEvent struct {
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Cancelled  bool      `json:"cancelled"`
	Mismatches int       `json:"mismatches"`
}

type keyDoneEvent struct {
	RunID  string `json:"run_id"`
	Symbol string `json:"symbol"`
	TF     string `json:"timeframe"`
	Err    string `json:"error,omitempty"`
}

// eventPublisher wraps an optional *nats.Conn; a nil conn makes every
// publish a silent no-op so the orchestrator works without NATS wired in
// (e.g. in tests), the same NewClient-or-nil tolerance used elsewhere.
type eventPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func newEventPublisher(conn *nats.Conn, logger zerolog.Logger) *eventPublisher {
	return &eventPublisher{conn: conn, logger: logger.With().Str("component", "run_events").Logger()}
}

func (p *eventPublisher) publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("marshal lifecycle event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("publish lifecycle event")
	}
}

func (p *eventPublisher) started(runID string, keyCount int) {
	p.publish(subjects.started(runID), runStartedEvent{RunID: runID, StartedAt: time.Now().UTC(), Keys: keyCount})
}

func (p *eventPublisher) finished(r RunReport) {
	p.publish(subjects.finished(r.RunID), runFinishedEvent{
		RunID: r.RunID, FinishedAt: r.FinishedAt, Success: r.Success, Cancelled: r.Cancelled, Mismatches: r.Mismatches,
	})
}

func (p *eventPublisher) keyDone(runID string, k TargetKey, err error) {
	ev := keyDoneEvent{RunID: runID, Symbol: k.Symbol, TF: string(k.Timeframe)}
	if err != nil {
		ev.Err = err.Error()
	}
	p.publish(subjects.keyDone(runID), ev)
}
