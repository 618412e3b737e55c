package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/instrument"
	"github.com/nicktill/popwatch/pkg/model"
	"github.com/nicktill/popwatch/pkg/status"
)

// MessageSnapshot is the only message type pushed to clients.
const MessageSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client.
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Message is the full dashboard state as sent over the WebSocket.
type Message struct {
	Type   string          `json:"type"`
	State  status.Snapshot `json:"state"`
	Window []model.Sample  `json:"window"`
}

// Hub manages WebSocket connections for live dashboard updates.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan struct{}
	done       chan struct{}

	// latest is what every broadcast sends and what new clients get first.
	latest []byte

	metrics *instrument.Metrics
	log     logrus.FieldLogger
	mu      sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(metrics *instrument.Metrics, logger logrus.FieldLogger) *Hub {
	if metrics == nil {
		metrics = instrument.Nop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan struct{}, 1),
		done:       make(chan struct{}),
		metrics:    metrics,
		log:        logger.WithField("component", "hub"),
	}
}

// Run is the hub's main loop. All data frames are written from here.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			h.metrics.WSClients.Set(0)
			h.log.Info("Stopping WebSocket hub")
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			latest := h.latest
			h.mu.Unlock()
			h.metrics.WSClients.Set(float64(count))
			h.log.WithField("clients", count).Debug("WebSocket client connected")

			if latest != nil && !h.write(conn, latest) {
				h.drop(conn)
			}

		case conn := <-h.unregister:
			h.drop(conn)

		case <-h.broadcast:
			h.mu.RLock()
			message := h.latest
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()

			for _, conn := range conns {
				if !h.write(conn, message) {
					h.drop(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, message []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		h.log.WithError(err).Debug("WebSocket write failed")
		return false
	}
	return true
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(count))
	h.log.WithField("clients", count).Debug("WebSocket client disconnected")
}

// Publish makes state the latest snapshot and wakes the hub to send it.
// Snapshots published faster than the hub writes are coalesced, so clients
// always end on the newest one. It never blocks.
func (h *Hub) Publish(state status.Snapshot, window []model.Sample) {
	if window == nil {
		window = []model.Sample{}
	}
	message, err := json.Marshal(Message{Type: MessageSnapshot, State: state, Window: window})
	if err != nil {
		h.log.WithError(err).Error("Failed to encode snapshot")
		return
	}

	h.mu.Lock()
	h.latest = message
	h.mu.Unlock()

	select {
	case h.broadcast <- struct{}{}:
	default:
		// A wake-up is already pending and will send this snapshot.
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and holds the connection until the client
// goes away or the hub stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	// Pings go out as control frames, which may be written concurrently
	// with the hub's data frames.
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(config.WSWriteDeadline)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			return
		}
	}
}
