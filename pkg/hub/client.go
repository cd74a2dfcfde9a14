package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/sitstraight/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds viewer messages, which are only pings
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// Client represents a single websocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// replies carries pongs from readPump to writePump; never closed
	replies chan Message
}

// NewClient creates a new client, queues greeting (if any) as its first
// message and registers it with the hub. It returns nil if the hub has
// stopped.
func NewClient(hub *Hub, conn *websocket.Conn, greeting *protocol.Message) *Client {
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		replies: make(chan Message, 8),
	}
	if greeting != nil {
		if data, err := greeting.Bytes(); err == nil {
			client.send <- NewJSONMessage(data)
		}
	}

	select {
	case hub.register <- client:
		return client
	case <-hub.done:
		return nil
	}
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
}

// readPump reads messages from the websocket connection. Viewers only send
// protocol pings, which are answered with a pong.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypePing {
		c.hub.logger.Debug("ignoring viewer message", "error", err)
		return
	}
	ping, err := msg.GetPingData()
	if err != nil {
		return
	}
	pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	out, err := pong.Bytes()
	if err != nil {
		return
	}

	select {
	case c.replies <- NewJSONMessage(out):
	default:
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel - send close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}

			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
				return
			}

		case reply := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, reply.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
