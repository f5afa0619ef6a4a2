package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ForecastMCP/internal/domain/models"
	"ForecastMCP/internal/domain/service"
	svcmetrics "ForecastMCP/internal/service/metrics"
	applogger "ForecastMCP/pkg/logger"

	"github.com/gorilla/websocket"
)

// Hub broadcasts study events to websocket subscribers.
type Hub struct {
	l            *applogger.Logger
	upgrader     websocket.Upgrader
	sendBuf      int
	pingInterval time.Duration
	writeWait    time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type HubOption func(*Hub)

// WithSendBuffer sets the per-client queue; a client that falls further behind is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuf = n
		}
	}
}

func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin replaces the default accept-all origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(l *applogger.Logger, opts ...HubOption) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	h := &Hub{
		l:            l.With(applogger.String("component", "stream.hub")),
		sendBuf:      64,
		pingInterval: 30 * time.Second,
		writeWait:    10 * time.Second,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades the request and registers the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuf)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(h.writeWait))
		return conn.Close()
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	svcmetrics.StreamClients.Set(float64(n))

	h.l.Info("websocket client connected",
		applogger.String("remote_addr", r.RemoteAddr),
		applogger.Int("clients", n),
	)
	go h.writeLoop(c)
	go h.readLoop(c)
	return nil
}

// Emit implements service.EventSink.
func (h *Hub) Emit(ev models.StudyEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.l.Warn("event not broadcast", applogger.String("study_id", ev.StudyID), applogger.Error(err))
		return
	}
	h.Broadcast(b)
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
			svcmetrics.StreamMessages.WithLabelValues("queued").Inc()
		default:
			svcmetrics.StreamMessages.WithLabelValues("dropped").Inc()
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.l.Warn("dropping slow websocket client", applogger.String("remote_addr", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	svcmetrics.StreamClients.Set(0)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		svcmetrics.StreamClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop only watches for the peer going away; inbound frames are ignored.
func (h *Hub) readLoop(c *client) {
	pongWait := h.pingInterval * 2
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

var _ service.EventSink = (*Hub)(nil)
