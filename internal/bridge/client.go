package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arrdeck/arrdeck/internal/constants"
)

// Client is one connected rendering surface.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server

	mu     sync.RWMutex
	closed bool
}

// ID returns the client identifier announced in the hello frame.
func (c *Client) ID() string { return c.id }

type clientKey struct{}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

func clientFrom(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey{}).(*Client)
	return c
}

func (c *Client) enqueue(msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Printf("[Bridge] marshal %s for client %s: %v", msg.Type, c.id, err)
		return false
	}
	return c.enqueueRaw(payload)
}

func (c *Client) enqueueRaw(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.server.logger.Printf("[Bridge] client %s send buffer full, dropping frame", c.id)
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
}

func (c *Client) reply(id string, data interface{}) {
	c.enqueue(Message{Type: TypeResult, ID: id, Data: data, Timestamp: time.Now().UTC()})
}

func (c *Client) replyError(id string, err error) {
	c.enqueue(Message{Type: TypeError, ID: id, Data: ErrorResponse{Error: err.Error()}, Timestamp: time.Now().UTC()})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.BridgePongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.BridgePongTimeout))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Printf("[Bridge] client %s read error: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("", errBadFrame(err))
			continue
		}
		c.server.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(constants.BridgePongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.BridgeWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.BridgeWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
