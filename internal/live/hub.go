// Package live pushes reconciliation updates to websocket subscribers of a session.
package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/metrics"
)

// Update types pushed to subscribers.
const (
	TypePartialUpdated = "partial_updated"
	TypeFinalAppended  = "final_appended"
	TypeSessionClosed  = "session_closed"
)

const (
	clientBuffer   = 64
	broadcastQueue = 256
	writeWait      = 10 * time.Second
)

// Update is one message on the live feed.
type Update struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"session_id"`
	Sequence  int                       `json:"sequence,omitempty"`
	Segment   *models.TranscriptSegment `json:"segment,omitempty"`
}

// client is one websocket subscriber of one session.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan Update
}

// Hub manages websocket subscribers grouped by session.
type Hub struct {
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan Update
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	metrics    *metrics.Metrics
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Update, broadcastQueue),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.sessionID] == nil {
				h.clients[c.sessionID] = make(map[*client]struct{})
			}
			h.clients[c.sessionID][c] = struct{}{}
			h.mu.Unlock()
			h.metrics.RecordSubscriber(1)
			log.Debug().Str("sessionId", c.sessionID).Msg("Live client connected")

		case c := <-h.unregister:
			h.remove(c)

		case u := <-h.broadcast:
			h.deliver(u)
		}
	}
}

// Stop shuts the hub down and disconnects every client. Safe to call multiple times.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues u for the subscribers of u.SessionID. It never blocks the
// caller; when the queue is full the update is dropped.
func (h *Hub) Broadcast(u Update) {
	select {
	case h.broadcast <- u:
	case <-h.done:
	default:
		log.Warn().Str("sessionId", u.SessionID).Str("type", u.Type).Msg("Live broadcast queue full, dropping update")
	}
}

// SubscriberCount returns the number of clients subscribed to sessionID.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) deliver(u Update) {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients[u.SessionID] {
		select {
		case c.send <- u:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("sessionId", c.sessionID).Msg("Live client too slow, disconnecting")
		h.remove(c)
	}

	if u.Type == TypeSessionClosed {
		h.mu.RLock()
		var all []*client
		for c := range h.clients[u.SessionID] {
			all = append(all, c)
		}
		h.mu.RUnlock()
		for _, c := range all {
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.sessionID]
	if ok {
		if _, ok = set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.sessionID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.metrics.RecordSubscriber(-1)
		log.Debug().Str("sessionId", c.sessionID).Msg("Live client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for c := range set {
			close(c.send)
			h.metrics.RecordSubscriber(-1)
		}
		delete(h.clients, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and streams updates for sessionID until the
// client disconnects, the session closes, or the hub stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("WebSocket upgrade error")
		return
	}

	c := &client{sessionID: sessionID, conn: conn, send: make(chan Update, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound messages and unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for u := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(u); err != nil {
			log.Debug().Err(err).Str("sessionId", c.sessionID).Msg("Live write error")
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
