package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string `json:"type"`
	At      int64  `json:"at"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is operator-local; origin checks stay permissive.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans broadcast messages out to every connected client. Slow
// clients are dropped rather than allowed to stall the others.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan wsMessage
	stop       chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan wsMessage
}

// NewHub creates an idle hub; Run starts the fan-out loop.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan wsMessage, 256),
		stop:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	clients := make(map[*client]bool)
	for {
		select {
		case c := <-h.register:
			clients[c] = true
		case c := <-h.unregister:
			if clients[c] {
				delete(clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					delete(clients, c)
					close(c.send)
				}
			}
		case <-h.stop:
			for c := range clients {
				close(c.send)
			}
			return
		}
	}
}

// Stop shuts the fan-out loop down.
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast queues one message for every client, dropping on overflow.
func (h *Hub) Broadcast(msg wsMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// HandleWS upgrades one connection and pumps messages until the
// client goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	cl := &client{conn: conn, send: make(chan wsMessage, 64)}
	h.register <- cl

	go cl.writePump()
	cl.readPump(h)
}

func (c *client) writePump() {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
