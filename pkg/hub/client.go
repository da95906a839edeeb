package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingInterval = idleTimeout * 9 / 10

	// Dashboards only send pings and small control messages.
	readLimit = 4 << 10
)

// Client is one dashboard websocket connection.
type Client struct {
	ID    string
	hub   *Hub
	conn  *websocket.Conn
	queue chan Message
}

// Serve joins conn to h and pumps messages until the connection ends or
// the hub stops. It blocks, so call it from the websocket handler.
func Serve(h *Hub, conn *websocket.Conn) {
	c := &Client{
		ID:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		queue: make(chan Message, h.opts.Buffer),
	}
	select {
	case h.join <- c:
	case <-h.stopped:
		conn.Close()
		return
	}
	go c.writeLoop()
	c.readLoop()
}

// offer queues m without blocking and reports whether it fit.
func (c *Client) offer(m Message) bool {
	select {
	case c.queue <- m:
		return true
	default:
		return false
	}
}

// readLoop detects disconnects, keeps the idle deadline fresh on pongs and
// hands text frames to the hub's OnMessage hook.
func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage && c.hub.opts.OnMessage != nil {
			c.hub.opts.OnMessage(c, data)
		}
	}
}

// writeLoop is the only writer on the connection.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			frame := websocket.TextMessage
			if m.Kind == Binary {
				frame = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(frame, m.Data); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
