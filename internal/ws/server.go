/*
Package ws handles WebSocket connections and drives the relay dispatcher.
All registry and catalog mutations happen on the single run goroutine, so
the rest of the system needs no locks.
*/
package ws

import (
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/BelikovArtem/relay/internal/mq"
	"github.com/BelikovArtem/relay/internal/registry"
	"github.com/BelikovArtem/relay/internal/relay"
	"github.com/BelikovArtem/relay/pkg/event"

	"github.com/gorilla/websocket"
)

/*
upgrader is used to establish a WebSocket connection.  It is safe for
concurrent use.
*/
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

/*
Server owns the set of live connections and routes every inbound event
through the dispatcher.
*/
type Server struct {
	dispatcher *relay.Dispatcher
	reg        *registry.Registry
	// mirror republishes inbound events to AMQP; nil when disabled.
	mirror         *mq.Mirror
	register       chan *websocket.Conn
	unregister     chan *client
	bus            chan event.ClientEvent
	shutdown       chan struct{}
	closeOnce      sync.Once
	clients        map[string]*client
	maxMessageSize int64
}

/*
NewServer creates a Server and starts its run goroutine.  The dispatcher
and registry must not be shared with any other goroutine afterwards.
*/
func NewServer(
	dispatcher *relay.Dispatcher,
	reg *registry.Registry,
	mirror *mq.Mirror,
	maxMessageSize int64,
) *Server {
	s := &Server{
		dispatcher:     dispatcher,
		reg:            reg,
		mirror:         mirror,
		register:       make(chan *websocket.Conn),
		unregister:     make(chan *client),
		bus:            make(chan event.ClientEvent),
		shutdown:       make(chan struct{}),
		clients:        make(map[string]*client),
		maxMessageSize: maxMessageSize,
	}

	go s.run()

	return s
}

/*
run consiquentially (one at a time) recieves incomming events from the
server channels and forwards them to the corresponding handlers.
*/
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case c := <-s.unregister:
			s.handleUnregister(c)

		case e := <-s.bus:
			s.handleEvent(e)

		case <-s.shutdown:
			for _, c := range s.clients {
				c.conn.Close()
			}
			return
		}
	}
}

/*
HandleNewConnection upgrades the HTTP request and hands the connection to
the run loop.  Connections arriving during or after shutdown are closed
instead of parking the handler on a channel nobody drains.
*/
func (s *Server) HandleNewConnection(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	select {
	case s.register <- conn:
	case <-s.shutdown:
		conn.Close()
	}
}

// HandleHealth reports that the relay is up.
func HandleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(rw, "relay is running")
}

// Close stops the run loop and interrupts every live connection.  Safe to
// call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
	})
}

func (s *Server) handleRegister(conn *websocket.Conn) {
	c := newClient(rand.Text(), s.unregister, s.bus, s.shutdown, conn, s.maxMessageSize)
	s.clients[c.id] = c

	go c.read()
	go c.write()

	log.Printf("client \"%s\" connected, %d total", c.id, len(s.clients))
}

/*
handleUnregister purges the dead connection's state as one unit and fans
out the resulting farewell deliveries.  The client is removed from the
population first so it cannot be targeted by its own cleanup.
*/
func (s *Server) handleUnregister(c *client) {
	if _, exists := s.clients[c.id]; !exists {
		return
	}
	delete(s.clients, c.id)

	s.deliver(s.dispatcher.Disconnect(c.id))

	close(c.send)

	log.Printf("client \"%s\" disconnected, %d total", c.id, len(s.clients))
}

func (s *Server) handleEvent(e event.ClientEvent) {
	if s.mirror != nil {
		s.mirror.Publish(e)
	}

	s.deliver(s.dispatcher.Dispatch(e))
}

/*
deliver resolves delivery scopes against the registry and the connection
population and writes each event exactly once per target.
*/
func (s *Server) deliver(ds []relay.Delivery) {
	for _, d := range ds {
		raw := event.EncodeOrPanic(d.Event)

		switch d.Scope {
		case relay.ScopeConn:
			if c, exists := s.clients[d.ConnID]; exists {
				s.send(c, raw)
			}

		case relay.ScopeRoom:
			for _, id := range s.reg.Members(d.RoomID) {
				if id == d.Exclude {
					continue
				}
				if c, exists := s.clients[id]; exists {
					s.send(c, raw)
				}
			}

		case relay.ScopeAll:
			for id, c := range s.clients {
				if id == d.Exclude {
					continue
				}
				s.send(c, raw)
			}
		}
	}
}

// send enqueues raw bytes for the client's write pump.  A client whose
// buffer is full misses the event instead of stalling the run loop.
func (s *Server) send(c *client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		log.Printf("client \"%s\" send buffer is full, dropping event", c.id)
	}
}
