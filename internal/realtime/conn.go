package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Conn adapts one gorilla websocket connection into a registry Client. The
// write pump is the only goroutine that writes to the socket; everything else
// goes through the buffered outbound channel.
type Conn struct {
	ws   *websocket.Conn
	key  string
	role models.ParticipantRole

	outbound  chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps ws for the given participant. queueSize bounds the outbound
// channel; a slow reader that fills it is evicted by the registry.
func NewConn(ws *websocket.Conn, key string, role models.ParticipantRole, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		ws:       ws,
		key:      key,
		role:     role,
		outbound: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Key() string                  { return c.key }
func (c *Conn) Role() models.ParticipantRole { return c.role }

// Send enqueues a payload without blocking. False means the queue is full or
// the connection is closed.
func (c *Conn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- payload:
		return true
	default:
		return false
	}
}

// Close signals the pumps to stop. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Serve runs the read and write pumps until the peer disconnects, the
// connection is closed, or ctx is cancelled. Each inbound frame is handed to
// handle.
func (c *Conn) Serve(ctx context.Context, handle func(raw []byte)) {
	go c.writePump()
	c.readPump(ctx, handle)
}

func (c *Conn) readPump(ctx context.Context, handle func(raw []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read terminated",
					zap.String("participant", c.key), zap.Error(err))
			}
			return
		}
		handle(raw)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
