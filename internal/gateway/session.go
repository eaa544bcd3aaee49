package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/protocol"
)

// Dispatch event types the session itself reacts to.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// SessionConfig defines the gateway session's connection and retry policy
type SessionConfig struct {
	// URL is the gateway endpoint used to identify.
	URL   string
	Token string

	Intents        protocol.Intent
	Properties     protocol.IdentifyProperties
	Presence       *protocol.PresenceUpdate
	LargeThreshold int

	// HelloTimeout bounds the wait for the server's Hello after dialing.
	HelloTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// MinBackoff and MaxBackoff bound the jittered exponential reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// SendRate and SendBurst pace commands issued through Send.
	SendRate  rate.Limit
	SendBurst int

	Dialer  *websocket.Dialer
	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultSessionConfig returns the default session configuration
// 20s hello timeout, 1s to 2m reconnect backoff, 120 commands per minute
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		URL:     kephascord.DefaultGatewayURL,
		Intents: protocol.IntentsDefault,
		Properties: protocol.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "kephascord",
			Device:  "kephascord",
		},
		HelloTimeout: 20 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   2 * time.Minute,
		SendRate:     rate.Every(time.Minute / 120),
		SendBurst:    1,
	}
}

// Session is a resumable gateway session.
//
// A session owns at most one connection at a time. It identifies on a fresh
// session, resumes after a recoverable disconnect and reconnects with
// backoff until its context is cancelled or the server closes with a fatal
// code.
type Session struct {
	cfg     SessionConfig
	logger  *zap.Logger
	metrics *Metrics
	limiter *rate.Limiter

	state    atomic.Int32
	sequence atomic.Int64
	latency  atomic.Int64

	mu        sync.Mutex
	sessionID string
	resumeURL string
	current   *conn
	running   bool
	err       error
}

// NewSession creates a session. Zero fields in cfg fall back to
// DefaultSessionConfig values.
func NewSession(cfg *SessionConfig) *Session {
	def := DefaultSessionConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg

	if c.URL == "" {
		c.URL = def.URL
	}
	if c.Properties == (protocol.IdentifyProperties{}) {
		c.Properties = def.Properties
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = def.HelloTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.SendRate <= 0 {
		c.SendRate = def.SendRate
	}
	if c.SendBurst <= 0 {
		c.SendBurst = def.SendBurst
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cfg:     c,
		logger:  logger.With(zap.String("component", "gateway")),
		metrics: c.Metrics,
		limiter: rate.NewLimiter(c.SendRate, c.SendBurst),
	}
}

// Events connects and returns the ordered stream of dispatch events.
//
// The channel is unbuffered and delivers events in sequence order. Frames are
// read independently of the consumer: dispatches wait in an ordered queue
// while it is busy, so heartbeats keep being acknowledged. The channel is
// closed when ctx is cancelled or the session ends with a fatal error, which
// Err then reports.
func (s *Session) Events(ctx context.Context) (<-chan *protocol.Dispatch, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, kephascord.ErrAlreadyRunning
	}
	s.running = true
	s.err = nil
	s.mu.Unlock()

	out := make(chan *protocol.Dispatch)
	go s.run(ctx, out)

	return out, nil
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the session's current phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Sequence returns the last dispatch sequence received, 0 before any.
func (s *Session) Sequence() int64 {
	return s.sequence.Load()
}

// SessionID returns the id of the current session, empty before READY.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Latency returns the round-trip time of the last acknowledged heartbeat.
func (s *Session) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}

// Send issues a gateway command such as a presence update, paced by the
// session's command limiter.
func (s *Session) Send(ctx context.Context, cmd protocol.Command) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil {
		return errors.New(kephascord.ErrConnectionClosed)
	}
	return c.send(ctx, cmd)
}

// outcome describes how a connection ended.
type outcome struct {
	ready  bool
	resume bool
	err    error
}

func (s *Session) run(ctx context.Context, out chan<- *protocol.Dispatch) {
	queue := newDispatchQueue()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		s.forward(ctx, queue, out)
	}()

	defer func() {
		s.setState(StateDisconnected)
		queue.close()
		<-forwarded
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(out)
	}()

	bo := newBackoff(s.cfg.MinBackoff, s.cfg.MaxBackoff)

	for {
		res := s.connect(ctx, queue)
		if ctx.Err() != nil {
			s.logger.Info("session stopped")
			return
		}

		if kephascord.IsSessionFatal(res.err) {
			s.logger.Error("session terminated", zap.Error(res.err))
			s.mu.Lock()
			s.err = res.err
			s.mu.Unlock()
			return
		}

		if !res.resume {
			s.clearSession()
		}
		if res.ready {
			bo.reset()
		}

		delay := bo.next()
		s.setState(StateReconnecting)
		s.metrics.observeReconnect(res.resume)
		s.logger.Warn("gateway connection lost",
			zap.Error(res.err),
			zap.Bool("resumable", res.resume),
			zap.Duration("backoff", delay))

		if err := sleep(ctx, delay); err != nil {
			s.logger.Info("session stopped")
			return
		}
	}
}

// forward hands queued dispatches to the consumer one at a time.
func (s *Session) forward(ctx context.Context, queue *dispatchQueue, out chan<- *protocol.Dispatch) {
	for {
		d, pending, ok := queue.pop(ctx)
		if !ok {
			return
		}
		s.metrics.setPending(pending)

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

// connect runs one connection from dial to disconnect.
func (s *Session) connect(ctx context.Context, queue *dispatchQueue) outcome {
	s.setState(StateConnecting)

	resuming := s.canResume()
	target := s.cfg.URL
	if resuming {
		s.mu.Lock()
		target = resumeTarget(s.cfg.URL, s.resumeURL)
		s.mu.Unlock()
	}

	ws, _, err := s.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return outcome{
			resume: true,
			err:    kephascord.Wrap(kephascord.ClassRecoverableSession, "dial", fmt.Errorf("%s: %w", kephascord.ErrFailedToDial, err)),
		}
	}

	c := newConn(ws, s.cfg.WriteTimeout)
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		c.fail(websocket.CloseNormalClosure, ctx.Err())
	})
	defer stop()

	s.setState(StateAwaitingHello)
	s.logger.Debug("connected", zap.String("url", target))

	hello, err := s.awaitHello(c)
	if err != nil {
		return s.ended(c, err)
	}

	go s.heartbeatLoop(ctx, c, hello.HeartbeatInterval)

	if resuming {
		s.setState(StateResuming)
		err = c.send(ctx, protocol.Resume{
			Token:     s.cfg.Token,
			SessionID: s.SessionID(),
			Sequence:  s.Sequence(),
		})
	} else {
		s.setState(StateIdentifying)
		err = c.send(ctx, protocol.Identify{
			Token:          s.cfg.Token,
			Properties:     s.cfg.Properties,
			LargeThreshold: s.cfg.LargeThreshold,
			Presence:       s.cfg.Presence,
			Intents:        s.cfg.Intents,
		})
	}
	if err != nil {
		c.fail(kephascord.CloseResumable, err)
		return outcome{resume: true, err: kephascord.Wrap(kephascord.ClassRecoverableSession, "handshake", err)}
	}

	return s.readLoop(ctx, c, queue)
}

// awaitHello reads the first frame, which must be a Hello within HelloTimeout.
func (s *Session) awaitHello(c *conn) (*protocol.Hello, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))

	data, err := c.read()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.fail(kephascord.CloseResumable, kephascord.ErrHelloTimeout)
		}
		return nil, err
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		c.fail(kephascord.CloseResumable, err)
		return nil, err
	}
	hello, ok := frame.(*protocol.Hello)
	if !ok {
		err := fmt.Errorf("%s: expected hello, got opcode %d", kephascord.ErrUnexpectedFrame, frame.Opcode())
		c.fail(kephascord.CloseResumable, err)
		return nil, err
	}

	_ = c.ws.SetReadDeadline(time.Time{})
	return hello, nil
}

// readLoop reads frames until the connection ends. Control frames are handled
// inline; dispatches are queued for the consumer after the sequence is stored.
func (s *Session) readLoop(ctx context.Context, c *conn, queue *dispatchQueue) outcome {
	ready := false

	for {
		data, err := c.read()
		if err != nil {
			res := s.ended(c, err)
			res.ready = ready
			return res
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch f := frame.(type) {
		case *protocol.Dispatch:
			s.advance(f.Sequence)

			switch f.Type {
			case EventReady:
				s.handleReady(f)
				ready = true
				s.setState(StateReady)
			case EventResumed:
				ready = true
				s.setState(StateReady)
				s.logger.Info("session resumed", zap.Int64("sequence", s.Sequence()))
			}
			s.metrics.observeDispatch(f.Type)
			s.metrics.setPending(queue.push(f))

		case *protocol.HeartbeatRequest:
			if err := s.heartbeat(ctx, c); err != nil {
				s.logger.Warn("failed to answer heartbeat request", zap.Error(err))
			}

		case *protocol.HeartbeatAck:
			s.acknowledge(c)

		case *protocol.Reconnect:
			c.fail(kephascord.CloseResumable, kephascord.ErrReconnectRequested)
			return outcome{
				ready:  ready,
				resume: true,
				err:    kephascord.Wrap(kephascord.ClassRecoverableSession, "gateway", kephascord.ErrReconnectRequested),
			}

		case *protocol.InvalidSession:
			code := websocket.CloseNormalClosure
			if f.Resumable {
				code = kephascord.CloseResumable
			}
			c.fail(code, kephascord.ErrSessionInvalidated)
			return outcome{
				ready:  ready,
				resume: f.Resumable,
				err:    kephascord.Wrap(kephascord.ClassRecoverableSession, "gateway", kephascord.ErrSessionInvalidated),
			}

		case *protocol.Hello:
			s.logger.Debug("ignoring repeated hello")
		}
	}
}

// ended classifies a connection that stopped reading with err.
func (s *Session) ended(c *conn, err error) outcome {
	if cause := c.reason(); cause != nil {
		// closed locally: heartbeat timeout, hello timeout, cancellation
		return outcome{resume: true, err: kephascord.Wrap(kephascord.ClassRecoverableSession, "gateway", cause)}
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.fail(ce.Code, err)

		fatal, resume := classifyClose(ce.Code)
		if fatal {
			return outcome{err: kephascord.Wrap(kephascord.ClassSessionFatal, "gateway", closeError(ce))}
		}
		return outcome{resume: resume, err: kephascord.Wrap(kephascord.ClassRecoverableSession, "gateway", err)}
	}

	c.fail(kephascord.CloseResumable, err)
	return outcome{resume: true, err: kephascord.Wrap(kephascord.ClassRecoverableSession, "read", err)}
}

// classifyClose reports whether a server close code ends the session for
// good, and otherwise whether the session may be resumed.
func classifyClose(code int) (fatal, resume bool) {
	switch code {
	case kephascord.CloseAuthenticationFailed,
		kephascord.CloseInvalidShard,
		kephascord.CloseShardingRequired,
		kephascord.CloseInvalidAPIVersion,
		kephascord.CloseInvalidIntents,
		kephascord.CloseDisallowedIntents:
		return true, false
	case kephascord.CloseInvalidSeq,
		kephascord.CloseSessionTimedOut,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway:
		return false, false
	default:
		return false, true
	}
}

func closeError(ce *websocket.CloseError) error {
	if ce.Code == kephascord.CloseAuthenticationFailed {
		return fmt.Errorf("%w: %s", kephascord.ErrAuthenticationFailed, ce.Text)
	}
	return fmt.Errorf("gateway closed the session: %w", ce)
}

// advance records seq as the last received sequence. Only the read loop
// writes the sequence, and it never moves backwards.
func (s *Session) advance(seq int64) {
	if seq > s.sequence.Load() {
		s.sequence.Store(seq)
	}
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

func (s *Session) handleReady(d *protocol.Dispatch) {
	var ready readyData
	if err := json.Unmarshal(d.Data, &ready); err != nil {
		s.logger.Warn("failed to decode READY", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.sessionID = ready.SessionID
	s.resumeURL = ready.ResumeGatewayURL
	s.mu.Unlock()

	s.logger.Info("session ready", zap.String("session_id", ready.SessionID))
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.sequence.Load() > 0
}

func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
	s.sequence.Store(0)
}

// heartbeatLoop beats every interval, the first beat jittered, until c closes.
// A beat that finds the previous one unacknowledged degrades the session; a
// second consecutive miss drops the connection so it can be resumed.
func (s *Session) heartbeatLoop(ctx context.Context, c *conn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(rand.Int64N(int64(interval))))
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-timer.C:
		}

		if !c.acked.Load() {
			missed := c.missed.Add(1)
			if missed >= 2 {
				s.logger.Warn("heartbeat not acknowledged, reconnecting", zap.Int32("missed", missed))
				c.fail(kephascord.CloseResumable, kephascord.ErrHeartbeatTimeout)
				return
			}
			s.transition(StateReady, StateDegraded)
			s.logger.Warn("heartbeat ack missed")
		}

		if err := s.heartbeat(ctx, c); err != nil {
			return
		}
		timer.Reset(interval)
	}
}

func (s *Session) heartbeat(ctx context.Context, c *conn) error {
	var seq *int64
	if v := s.sequence.Load(); v > 0 {
		seq = &v
	}

	c.acked.Store(false)
	c.sentAt.Store(time.Now().UnixNano())
	return c.send(ctx, protocol.Heartbeat{Sequence: seq})
}

func (s *Session) acknowledge(c *conn) {
	c.acked.Store(true)
	c.missed.Store(0)

	if sent := c.sentAt.Load(); sent > 0 {
		latency := time.Since(time.Unix(0, sent))
		s.latency.Store(int64(latency))
		s.metrics.observeLatency(latency)
	}
	s.transition(StateDegraded, StateReady)
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.metrics.setState(to)
	s.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (s *Session) transition(from, to State) {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		s.metrics.setState(to)
		s.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

// resumeTarget returns the resume URL, carrying over the query of the
// identify URL when the server's resume URL has none.
func resumeTarget(identifyURL, resumeURL string) string {
	if resumeURL == "" {
		return identifyURL
	}

	r, err := url.Parse(resumeURL)
	if err != nil {
		return identifyURL
	}
	if r.RawQuery == "" {
		if base, err := url.Parse(identifyURL); err == nil {
			r.RawQuery = base.RawQuery
		}
	}
	return r.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
