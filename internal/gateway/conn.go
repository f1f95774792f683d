// ABOUTME: Push connection wrapper with a buffered outbound queue and keepalive pings
// ABOUTME: Delivery never blocks a broadcaster; a full queue drops the event

package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// pushConn is one live websocket. It satisfies rooms.Subscriber.
type pushConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration
	dropped    atomic.Int64
	logger     *slog.Logger
}

func newPushConn(ws *websocket.Conn, buffer int, writeWait, pongWait time.Duration, logger *slog.Logger) *pushConn {
	id := uuid.NewString()
	return &pushConn{
		id:         id,
		ws:         ws,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
		writeWait:  writeWait,
		pingPeriod: pongWait * 9 / 10,
		logger:     logger.With("conn", id),
	}
}

func (c *pushConn) ID() string { return c.id }

// Deliver queues payload for the write loop.
func (c *pushConn) Deliver(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("send buffer full, dropping event", "dropped_total", n)
		return errSendBufferFull
	}
}

// writeLoop is the only writer of data frames on the socket.
func (c *pushConn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// shutdown sends a close frame before closing the socket.
func (c *pushConn) shutdown(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	c.close()
}

// close stops the write loop and closes the socket. Safe to call repeatedly.
func (c *pushConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
