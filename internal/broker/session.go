package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/odinmarkets/dna-pipeline/internal/metrics"
	"github.com/rs/zerolog"
)

// consecutiveTimeoutThreshold is how many back-to-back request timeouts
// push the session from READY into DEGRADED.
const consecutiveTimeoutThreshold = 3

// terminatorTimeout bounds how long a multi-part response stream may run
// without its terminal frame before the request is marked transient-failed.
const terminatorTimeout = 30 * time.Second

// Response is one frame of a (possibly multi-part) broker response.
type Response struct {
	Envelope Envelope
	Err      error
}

// pendingRequest correlates a dispatched request to its response stream.
type pendingRequest struct {
	ch chan Response
}

// Session owns one broker connection: its state machine, its framed
// socket, and the request/response correlation table. Grounded on
// other_examples' kalshi connection-manager (pending map[int64]chan
// Response + atomic cmdID counter) generalized from N fixed WS connections
// to the single session this pipeline runs, and on this codebase's
// Start/Stop lifecycle and reconnect idiom used for its Kafka consumer.
type Session struct {
	endpoint string
	clientID string
	logger   zerolog.Logger

	sm stateMachine

	mu      sync.Mutex
	conn    net.Conn
	pending map[int64]*pendingRequest
	nextID  int64

	consecutiveTimeouts int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a disconnected Session.
func New(logger zerolog.Logger) *Session {
	return &Session{
		logger:  logger.With().Str("component", "broker_session").Logger(),
		pending: make(map[int64]*pendingRequest),
	}
}

// Status returns the current connection-lifecycle state.
func (s *Session) Status() State { return s.sm.current() }

// Connect dials endpoint, completes the WS handshake, authenticates with
// clientID and issues the post-connect account-info probe:
// if it fails to answer within 10s the session is declared not READY.
func (s *Session) Connect(ctx context.Context, endpoint, clientID string) error {
	s.endpoint = endpoint
	s.clientID = clientID

	if !s.sm.transition(StateConnecting) {
		return fmt.Errorf("connect called from state %s", s.sm.current())
	}
	metrics.BrokerSessionState.Set(float64(s.sm.current()))

	conn, _, _, err := ws.Dial(ctx, endpoint)
	if err != nil {
		s.sm.transition(StateDisconnected)
		return fmt.Errorf("dial broker: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if !s.sm.transition(StateHandshaking) {
		conn.Close()
		return fmt.Errorf("unexpected state during handshake: %s", s.sm.current())
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.readLoop()

	if err := s.authenticate(ctx, clientID); err != nil {
		s.teardown()
		return fmt.Errorf("authenticate: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.call(probeCtx, VerbRequestAccountInfo, nil); err != nil {
		s.teardown()
		return fmt.Errorf("post-connect account probe failed: %w", err)
	}

	if !s.sm.transition(StateReady) {
		s.teardown()
		return fmt.Errorf("unexpected state after probe: %s", s.sm.current())
	}
	metrics.BrokerSessionState.Set(float64(s.sm.current()))
	s.logger.Info().Str("endpoint", endpoint).Str("client_id", clientID).Msg("broker session ready")
	return nil
}

// Disconnect performs the DISCONNECTING → DISCONNECTED teardown.
func (s *Session) Disconnect() {
	if s.sm.transition(StateDisconnecting) {
		s.teardown()
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.sm.transition(StateDisconnected)
	metrics.BrokerSessionState.Set(float64(s.sm.current()))
}

func (s *Session) authenticate(ctx context.Context, clientID string) error {
	payload, _ := json.Marshal(map[string]string{"client_id": clientID})
	_, err := s.call(ctx, VerbAuthenticate, payload)
	return err
}

// Dispatch sends req over the session and returns the (possibly
// multi-part) response stream. Reconnection and DEGRADED handling happen
// independently via Reconnect(); Dispatch itself only requires READY.
func (s *Session) Dispatch(ctx context.Context, verb Verb, payload []byte) (<-chan Response, error) {
	if st := s.sm.current(); st != StateReady {
		return nil, fmt.Errorf("session not ready (state=%s)", st)
	}
	ch, id, err := s.send(verb, payload)
	if err != nil {
		return nil, err
	}
	go s.watchTerminator(ctx, id)
	return ch, nil
}

// call is a convenience for single-shot request/response verbs
// (authenticate, account-info probe) used internally.
func (s *Session) call(ctx context.Context, verb Verb, payload []byte) (Envelope, error) {
	ch, id, err := s.send(verb, payload)
	if err != nil {
		return Envelope{}, err
	}
	defer s.forget(id)
	select {
	case r := <-ch:
		if r.Err != nil {
			return Envelope{}, r.Err
		}
		if r.Envelope.Error != nil {
			return Envelope{}, ClassifyError(*r.Envelope.Error)
		}
		return r.Envelope, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (s *Session) send(verb Verb, payload []byte) (chan Response, int64, error) {
	s.mu.Lock()
	conn := s.conn
	s.nextID++
	id := s.nextID
	ch := make(chan Response, 4)
	s.pending[id] = &pendingRequest{ch: ch}
	s.mu.Unlock()

	env := Envelope{RequestID: id, Verb: verb, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		s.forget(id)
		return nil, 0, fmt.Errorf("marshal envelope: %w", err)
	}
	if conn == nil {
		s.forget(id)
		return nil, 0, fmt.Errorf("session has no active connection")
	}
	if err := wsutil.WriteClientText(conn, data); err != nil {
		s.forget(id)
		return nil, 0, fmt.Errorf("write envelope: %w", err)
	}
	return ch, id, nil
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop pulls framed envelopes off the socket and routes them to their
// pending request's channel by RequestID, closing the channel once the
// terminal frame of a multi-part stream arrives.
func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.handleReadError(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed broker frame")
			continue
		}
		atomic.StoreInt32(&s.consecutiveTimeouts, 0)

		s.mu.Lock()
		p, ok := s.pending[env.RequestID]
		if ok && env.Terminal {
			delete(s.pending, env.RequestID)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case p.ch <- Response{Envelope: env}:
		default:
		}
		if env.Terminal {
			close(p.ch)
		}
	}
}

func (s *Session) handleReadError(err error) {
	s.logger.Warn().Err(err).Msg("broker socket read failed")
	n := atomic.AddInt32(&s.consecutiveTimeouts, 1)
	if n >= consecutiveTimeoutThreshold {
		s.sm.transition(StateDegraded)
		metrics.BrokerSessionState.Set(float64(s.sm.current()))
	}
}

// watchTerminator marks a request transient-failed if its response stream
// never sees a terminal frame within terminatorTimeout.
func (s *Session) watchTerminator(ctx context.Context, id int64) {
	timer := time.NewTimer(terminatorTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.mu.Lock()
		p, ok := s.pending[id]
		if ok {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if ok {
			p.ch <- Response{Err: &ClassifiedError{Code: "TIMEOUT", Message: "no terminator received", transient: true}}
			close(p.ch)
		}
	case <-ctx.Done():
	}
}

// Reconnect drains IN_FLIGHT-equivalent state and retries the connection
// with the same client_id, backing off from 2s to 30s. It
// returns once READY is reached or ctx is cancelled.
func (s *Session) Reconnect(ctx context.Context) error {
	delay := 2 * time.Second
	const maxDelay = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		s.teardown()
		if err := s.Connect(ctx, s.endpoint, s.clientID); err == nil {
			return nil
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
