package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

// allNodes is the filter of clients that asked for every node.
const allNodes uint16 = 0

type HubConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	QueueSize      int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 512,
		SendBuffer:     256,
		QueueSize:      1000,
	}
}

// LiveRound is the frame pushed to dashboard clients.
type LiveRound struct {
	RunID   string       `json:"runId"`
	EventID string       `json:"eventId"`
	Report  round.Report `json:"report"`
}

// Hub relays collected rounds to websocket clients. A client may restrict
// the feed to one node with ?node_id=N.
type Hub struct {
	clients map[uint16]map[*client]bool
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   HubConfig
	queue    chan LiveRound
}

type client struct {
	id     string
	nodeID uint16
	conn   *websocket.Conn
	send   chan []byte
	// done is closed on unregister. send is never closed so a broadcast
	// racing an unregister cannot panic.
	done chan struct{}
	hub  *Hub
}

func NewHub(config HubConfig) *Hub {
	return &Hub{
		clients: make(map[uint16]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		config: config,
		queue:  make(chan LiveRound, config.QueueSize),
	}
}

// Start fans queued rounds out until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("websocket hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("websocket hub shutting down")
			h.closeAll()
			return
		case msg := <-h.queue:
			h.broadcast(msg)
		}
	}
}

// Store queues a round for broadcast. It never blocks the consumer.
func (h *Hub) Store(_ context.Context, env report.Envelope, r round.Report) error {
	select {
	case h.queue <- LiveRound{RunID: env.RunID, EventID: env.EventID, Report: r}:
	default:
		log.Warn().Uint16("node_id", r.NodeID).Msg("hub queue full, dropping live round")
	}
	return nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nodeID := allNodes
	if v := r.URL.Query().Get("node_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid node_id %q", v), http.StatusBadRequest)
			return
		}
		nodeID = uint16(n)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:     uuid.New().String(),
		nodeID: nodeID,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.nodeID] == nil {
		h.clients[c.nodeID] = make(map[*client]bool)
	}
	h.clients[c.nodeID][c] = true
	log.Debug().Str("client_id", c.id).Uint16("node_filter", c.nodeID).Msg("websocket client registered")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.nodeID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.done)
	if len(set) == 0 {
		delete(h.clients, c.nodeID)
	}
	log.Debug().Str("client_id", c.id).Msg("websocket client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) broadcast(msg LiveRound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal live round")
		return
	}

	h.mu.RLock()
	var targets []*client
	for c := range h.clients[allNodes] {
		targets = append(targets, c)
	}
	if msg.Report.NodeID != allNodes {
		for c := range h.clients[msg.Report.NodeID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("client_id", c.id).Msg("client send buffer full, closing connection")
			h.unregister(c)
			c.conn.Close()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; dashboards never send data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
	}
}
