package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 8
)

// Message is sent to connected browsers as JSON.
type Message struct {
	Type  string   `json:"type"`
	ID    string   `json:"id,omitempty"`
	Paths []string `json:"paths,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live reload connections and broadcasts reload messages to them.
// A client that cannot keep up with broadcasts is disconnected.
type Hub struct {
	baseDir  string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewHub creates a hub, output paths passed to Reload are made relative to
// baseDir to form URL paths.
func NewHub(baseDir string) *Hub {
	return &Hub{
		baseDir: baseDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Live reload upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// register adds the client and queues its hello. The hello is queued under
// h.mu so a concurrent Close cannot close c.send first.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	hello, _ := json.Marshal(Message{Type: "hello", ID: c.id})
	c.send <- hello

	h.clients[c.id] = c
	telemetry.GetMetrics().ReloadClients.Add(context.Background(), 1)
	log.Debug().Str("client", c.id).Msg("Live reload client connected")
	return true
}

// unregister removes the client, closing its send channel stops the writer.
// Caller holds h.mu.
func (h *Hub) unregister(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	telemetry.GetMetrics().ReloadClients.Add(context.Background(), -1)
	log.Debug().Str("client", c.id).Msg("Live reload client disconnected")
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.unregister(c)
		h.mu.Unlock()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reload tells every connected browser that paths changed. An empty list asks
// for a full page reload.
func (h *Hub) Reload(paths ...string) {
	msg, err := json.Marshal(Message{Type: "reload", Paths: h.urlPaths(paths)})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode reload message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}

	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("client", c.id).Msg("Dropping slow live reload client")
			h.unregister(c)
		}
	}

	telemetry.GetMetrics().ReloadBroadcastsTotal.Add(context.Background(), 1)
	log.Debug().Int("clients", len(h.clients)).Strs("paths", paths).Msg("Reload broadcast")
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, c := range h.clients {
		h.unregister(c)
	}
}

func (h *Hub) urlPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(h.baseDir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, "/"+filepath.ToSlash(rel))
	}
	return out
}
