package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landhub-tz/backend/internal/logger"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long an idle connection may go without a pong.
	pongWait = 60 * time.Second
	// pingPeriod is the transport-level keepalive interval. Must be
	// shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound client messages.
	maxMessageSize = 4096
	// sendBuffer is the per-connection outbound queue. A peer that
	// cannot drain this fast enough is treated as disconnected.
	sendBuffer = 32
)

// Conn is one live client connection. Two independent goroutines serve
// it: a read pump for inbound client messages and a write pump for the
// outbound queue and keepalives. They coordinate only through the
// connection's closing signal.
type Conn struct {
	ws       *websocket.Conn
	registry *Registry
	log      *logger.Logger

	userID string
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// Close tears the connection down and removes it from the registry.
// Safe to call from any goroutine, any number of times.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		c.registry.Remove(c)
	})
}

// enqueue places a payload on the outbound queue. It reports false when
// the connection is closed or the peer is too slow to drain the queue.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Run serves the connection until the transport closes. It blocks in
// the read pump; callers own the goroutine (gin handlers do).
func (c *Conn) Run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound client messages. A ping is always answered
// with a pong carrying the current timestamp; other message types
// produce no record mutations and are ignored here.
func (c *Conn) readPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Websocket closed unexpectedly", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if env.Type == TypePing {
			pong, err := NewEnvelope(TypePong, nil)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(pong)
			if err != nil {
				continue
			}
			c.enqueue(payload)
		}
	}
}

// writePump drains the outbound queue and keeps the transport alive
// with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
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
