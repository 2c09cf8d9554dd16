package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"MarketCore/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WSHub pushes committed events to websocket clients grouped by the entity
// they watch. It is one transport sink behind the Broadcaster; the engines
// never know it exists.
type WSHub struct {
	rooms sync.Map // room key -> *sync.Map of *wsClient

	register   chan *wsClient
	unregister chan *wsClient
	deliveries chan Envelope

	upgrader websocket.Upgrader
	log      zerolog.Logger
	metrics  *observability.Metrics
}

type wsClient struct {
	id   string
	room string
	conn *websocket.Conn
	send chan []byte
}

func NewWSHub(log zerolog.Logger, metrics *observability.Metrics) *WSHub {
	return &WSHub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		deliveries: make(chan Envelope, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		metrics: metrics,
	}
}

func roomKey(entity EntityType, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s", entity, id)
}

// Deliver implements Sink. Non-blocking: drop on full buffer.
func (h *WSHub) Deliver(env Envelope) {
	select {
	case h.deliveries <- env:
	default:
		if h.metrics != nil {
			h.metrics.EventsDropped.WithLabelValues("websocket").Inc()
		}
	}
}

// Run starts the hub's main loop. Should run in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case env := <-h.deliveries:
			h.broadcastToRoom(env)
		}
	}
}

// Handler upgrades an HTTP request to a websocket subscription. The client
// names the entity it watches via query params: ?entity=auction&id=<uuid>.
func (h *WSHub) Handler(w http.ResponseWriter, r *http.Request) {
	entity, err := parseEntityType(r.URL.Query().Get("entity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entityID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "invalid entity id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		room: roomKey(entity, entityID),
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.register <- client
	go client.readPump(h.unregister)
}

func parseEntityType(s string) (EntityType, error) {
	switch s {
	case "auction":
		return EntityAuction, nil
	case "negotiation":
		return EntityNegotiation, nil
	case "cart":
		return EntityCart, nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", s)
	}
}

func (h *WSHub) registerClient(client *wsClient) {
	members, _ := h.rooms.LoadOrStore(client.room, &sync.Map{})
	members.(*sync.Map).Store(client, true)

	if h.metrics != nil {
		h.metrics.WebsocketClients.Inc()
	}
	h.log.Debug().Str("client", client.id).Str("room", client.room).Msg("websocket client joined")

	go client.writePump()
}

// unregisterClient is idempotent: the slow-client path and the client's
// readPump can both queue an unregister for the same client, and only
// the first may close the send channel.
func (h *WSHub) unregisterClient(client *wsClient) {
	members, ok := h.rooms.Load(client.room)
	if !ok {
		return
	}
	if _, present := members.(*sync.Map).LoadAndDelete(client); !present {
		return
	}

	close(client.send)
	client.conn.Close()

	if h.metrics != nil {
		h.metrics.WebsocketClients.Dec()
	}
	h.log.Debug().Str("client", client.id).Str("room", client.room).Msg("websocket client left")
}

func (h *WSHub) broadcastToRoom(env Envelope) {
	members, ok := h.rooms.Load(roomKey(env.EntityType, env.EntityID))
	if !ok {
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Warn().Err(err).Msg("marshal envelope for websocket")
		return
	}

	members.(*sync.Map).Range(func(key, _ any) bool {
		client := key.(*wsClient)
		select {
		case client.send <- payload:
		default:
			// Slow client — disconnect it so it cannot hold up the room.
			go func() { h.unregister <- client }()
		}
		return true
	})
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *wsClient) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump drains client frames so pongs are processed; inbound payloads
// are ignored — subscriptions are fixed at connect time.
func (c *wsClient) readPump(unregister chan<- *wsClient) {
	defer func() {
		unregister <- c
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
