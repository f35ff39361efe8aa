package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolkov/wirechat/internal/event"
)

const (
	// sendQueueSize bounds per-connection outbound buffering; a full queue
	// marks the client slow and the hub drops the connection.
	sendQueueSize = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 64 << 10
)

// wsConn adapts one gorilla websocket to the hub.Sender contract: TrySend
// never blocks, Close is idempotent and may race with TrySend.
type wsConn struct {
	ws   *websocket.Conn
	send chan event.Outbound

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws, send: make(chan event.Outbound, sendQueueSize)}
}

// TrySend enqueues the event, reporting false on a full queue or a closed
// connection.
func (c *wsConn) TrySend(ev event.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close stops the write pump; safe to call multiple times.
func (c *wsConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// writePump serializes all writes to the socket: queued events plus pings.
// It owns the socket's write side and closes the socket when the queue is
// closed, which in turn unblocks the read pump.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
