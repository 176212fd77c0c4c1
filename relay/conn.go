package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("relay: connection closed")

type connConfig struct {
	sendBuffer   int
	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

// Conn is a server side subscriber connection. All data frames are written by
// writeLoop; Send only queues.
type Conn struct {
	id  string
	ws  *websocket.Conn
	cfg connConfig

	// mu orders Send against Close so nothing is queued once the
	// connection has left StateOpen.
	mu    sync.RWMutex
	state atomic.Uint32
	out   chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, ws *websocket.Conn, cfg connConfig) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		cfg:  cfg,
		out:  make(chan []byte, cfg.sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) Send(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.out <- payload:
		return true
	default:
		return false
	}
}

// Close moves the connection to Closing, sends a close frame and tears down
// the socket. Safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(uint32(StateClosing))
		c.mu.Unlock()
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.writeTimeout))
		err = c.ws.Close()
		c.state.Store(uint32(StateClosed))
	})
	return err
}

func (c *Conn) write(msgType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(msgType, payload)
}

// run blocks until the peer goes away, a read or write fails, or ctx is done.
// The connection is always closed on return.
func (c *Conn) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
	})

	errCh := make(chan error, 2)
	go c.readLoop(errCh)
	go c.writeLoop(ctx, errCh)

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	_ = c.Close()
	return err
}

// readLoop keeps the read side draining so control frames are processed.
// Subscribers are receive-only; anything they send is logged and dropped.
func (c *Conn) readLoop(errCh chan<- error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
		c.cfg.logger.Debug("received message from subscriber", "bytes", len(data))
	}
}

func (c *Conn) writeLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			errCh <- ErrConnClosed
			return
		case payload := <-c.out:
			// Queued frames are abandoned once close has begun.
			if c.State() != StateOpen {
				errCh <- ErrConnClosed
				return
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				errCh <- err
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.writeTimeout)); err != nil {
				errCh <- err
				return
			}
		}
	}
}
