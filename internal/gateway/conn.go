package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/protocol"
)

// conn is one websocket connection to the gateway.
//
// Writes go through a single write pump so the read loop, the heartbeat loop
// and Send callers never write concurrently. Per-connection heartbeat state
// lives here so a new connection always starts clean.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	sendCh       chan []byte
	done         chan struct{}

	once  sync.Once
	mu    sync.Mutex
	cause error

	// acked is false while a heartbeat is outstanding.
	acked  atomic.Bool
	missed atomic.Int32
	sentAt atomic.Int64
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *conn {
	c := &conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		sendCh:       make(chan []byte, 16),
		done:         make(chan struct{}),
	}
	c.acked.Store(true)

	go c.writePump()

	return c
}

// send encodes cmd and queues it for the write pump
func (c *conn) send(ctx context.Context, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	if c.isClosed() {
		return errors.New(kephascord.ErrConnectionClosed)
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New(kephascord.ErrConnectionClosed)
	}
}

// read returns the next raw frame.
func (c *conn) read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// fail closes the connection with code, recording cause as the reason the
// connection ended. Only the first call has any effect.
func (c *conn) fail(code int, cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.done)

		message := websocket.FormatCloseMessage(code, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// reason returns the cause recorded by fail, if any.
func (c *conn) reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump pumps frames from the send channel to the websocket connection
func (c *conn) writePump() {
	for {
		select {
		case data := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(websocket.CloseAbnormalClosure, fmt.Errorf("write frame: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}
