// Package gatewaytest provides an in-process fake gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephascord/internal/protocol"
)

// HandlerFunc reacts to a command received from a client.
type HandlerFunc func(p *Peer, cmd Command)

// Config defines the fake gateway's behaviour
type Config struct {
	// HeartbeatInterval is announced in Hello. Defaults to one minute.
	HeartbeatInterval time.Duration
	// OnConnect is called for every new peer before Hello is sent.
	OnConnect func(p *Peer)
}

// Server is a fake gateway served over httptest.
//
// It accepts websocket connections on any path, sends Hello, acknowledges
// heartbeats and hands every received command to the handler registered for
// its opcode.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	interval time.Duration
	handlers sync.Map // map[protocol.Opcode]HandlerFunc
	peers    sync.Map // map[string]*Peer

	onConnect func(p *Peer)
	connects  chan *Peer

	sendHello     atomic.Bool
	ackHeartbeats atomic.Bool
}

// NewServer starts a fake gateway. Call Close when done.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Server{
		interval:  interval,
		onConnect: cfg.OnConnect,
		connects:  make(chan *Peer, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.sendHello.Store(true)
	s.ackHeartbeats.Store(true)
	s.srv = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))

	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close disconnects every peer and stops the server.
func (s *Server) Close() {
	s.peers.Range(func(_, value any) bool {
		value.(*Peer).Drop()
		return true
	})
	s.srv.Close()
}

// Handle registers the handler for commands with the given opcode.
func (s *Server) Handle(op protocol.Opcode, h HandlerFunc) {
	s.handlers.Store(op, h)
}

// SetSendHello controls whether new peers receive Hello.
func (s *Server) SetSendHello(v bool) {
	s.sendHello.Store(v)
}

// SetAckHeartbeats controls whether heartbeats are acknowledged.
func (s *Server) SetAckHeartbeats(v bool) {
	s.ackHeartbeats.Store(v)
}

// NextPeer waits for the next client connection.
func (s *Server) NextPeer(ctx context.Context) (*Peer, error) {
	select {
	case p := <-s.connects:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &Peer{
		id:       uuid.New().String(),
		path:     r.URL.Path,
		conn:     ws,
		commands: make(chan Command, 256),
		done:     make(chan struct{}),
	}
	s.peers.Store(p.id, p)

	if s.onConnect != nil {
		s.onConnect(p)
	}
	if s.sendHello.Load() {
		_ = p.Send(&protocol.Hello{HeartbeatInterval: s.interval})
	}

	select {
	case s.connects <- p:
	default:
	}

	go s.handlePeer(p)
}

func (s *Server) handlePeer(p *Peer) {
	defer func() {
		s.peers.Delete(p.id)
		p.Drop()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				p.closeCode.Store(int32(ce.Code))
			}
			return
		}

		op, d, err := protocol.DecodeCommand(data)
		if err != nil {
			continue
		}
		cmd := Command{Op: op, Data: d}

		if op == protocol.OpHeartbeat && s.ackHeartbeats.Load() {
			_ = p.Send(&protocol.HeartbeatAck{})
		}

		select {
		case p.commands <- cmd:
		default:
		}

		if h, ok := s.handlers.Load(op); ok {
			h.(HandlerFunc)(p, cmd)
		}
	}
}

// Command is a command received from a client.
type Command struct {
	Op   protocol.Opcode
	Data json.RawMessage
}

// Decode unmarshals the command data into v.
func (c Command) Decode(v any) error {
	return json.Unmarshal(c.Data, v)
}

// Peer is one client connection to the fake gateway.
type Peer struct {
	id       string
	path     string
	conn     *websocket.Conn
	commands chan Command

	writeMu   sync.Mutex
	once      sync.Once
	done      chan struct{}
	closeCode atomic.Int32
}

// ID returns the peer's unique identifier.
func (p *Peer) ID() string {
	return p.id
}

// Path returns the URL path the client connected to.
func (p *Peer) Path() string {
	return p.path
}

// Send writes a frame to the client.
func (p *Peer) Send(f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Dispatch sends a dispatch event with data marshalled as JSON.
func (p *Peer) Dispatch(eventType string, seq int64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.Send(&protocol.Dispatch{Type: eventType, Sequence: seq, Data: raw})
}

// Close sends a close frame with code and closes the connection.
func (p *Peer) Close(code int, reason string) error {
	p.writeMu.Lock()
	err := p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	p.writeMu.Unlock()

	p.Drop()
	return err
}

// Drop closes the connection without a close frame.
func (p *Peer) Drop() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// CloseCode returns the close code the client sent, 0 if none was received.
func (p *Peer) CloseCode() int {
	return int(p.closeCode.Load())
}

// Next waits for the next command from the client.
func (p *Peer) Next(ctx context.Context) (Command, error) {
	select {
	case cmd := <-p.commands:
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// Expect waits for the next command with opcode op, skipping others.
func (p *Peer) Expect(ctx context.Context, op protocol.Opcode) (Command, error) {
	for {
		cmd, err := p.Next(ctx)
		if err != nil {
			return Command{}, err
		}
		if cmd.Op == op {
			return cmd, nil
		}
	}
}
