package ws

import (
	"sync"
	"time"

	"github.com/BelikovArtem/relay/pkg/event"

	"github.com/gorilla/websocket"
)

// Connection parameters.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period.  Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

/*
client manages the connection lifecycle and provides methods for reading
and writing WebSocket messages.

The reason for the send channel is that events must be read and written
sequentially, since the Gorilla WebSocket library allows only one
concurrent writer to a connection at a time.  The channel recieves raw
bytes to avoid expensive JSON encoding for each client in case of event
broadcasting.
*/
type client struct {
	id string
	// unregister is a channel which will notify the server about the client
	// disconnection.
	unregister chan<- *client
	// forward is a channel to which the client will send the readed events.
	forward chan<- event.ClientEvent
	// shutdown is closed when the server's run loop exits; sends to the
	// unregister and forward channels must abort on it, since nobody will
	// ever drain them again.
	shutdown <-chan struct{}
	send     chan []byte
	conn     *websocket.Conn
	once     sync.Once
}

/*
newClient creates a new client and sets the WebSocket connection properties.
*/
func newClient(
	id string,
	unregister chan<- *client,
	forward chan<- event.ClientEvent,
	shutdown <-chan struct{},
	conn *websocket.Conn,
	maxMessageSize int64,
) *client {
	c := &client{
		id:         id,
		unregister: unregister,
		forward:    forward,
		shutdown:   shutdown,
		send:       make(chan []byte, 192),
		conn:       conn,
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return c
}

/*
read reads events from the connection sequentially (one at a time) and
forwards them to the server with the connection id attached.  If an event
cannot be read, the connection will be interrupted.  Unknown actions are
forwarded anyway; the dispatcher ignores them.
*/
func (c *client) read() {
	defer c.cleanup()

	for {
		var e event.ExternalEvent
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}

		select {
		case c.forward <- event.ClientEvent{
			Payload: e.Payload,
			ConnID:  c.id,
			Action:  e.Action,
		}:
		case <-c.shutdown:
			return
		}
	}
}

/*
write takes the incomming events from the send channel and writes them to
the connection sequentially (one at a time).

Automatically sends ping messages to maintain a heartbeat.
*/
func (c *client) write() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		c.cleanup()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

/*
cleanup closes the connection and unregisters the client from the server.
Safe to reach from both pumps; only the first call has an effect.  The
send channel is closed by the server once the unregistration is handled.
After a server shutdown the unregistration is skipped: the run loop is
gone and would never receive it.
*/
func (c *client) cleanup() {
	c.once.Do(func() {
		c.conn.Close()
		select {
		case c.unregister <- c:
		case <-c.shutdown:
		}
	})
}
