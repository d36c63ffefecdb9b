package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 60 * time.Second
	sendBuffer   = 32
)

// Message is one frame on the live feed.
type Message struct {
	Type string                    `json:"type"`
	Data ledger.SubmissionRecorded `json:"data"`
}

type client struct {
	wc   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// Hub broadcasts every event to all connected websocket clients. A client
// that falls sendBuffer frames behind is disconnected.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	observe  func(clients int) // nil = not observed
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a Hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// SetObserver registers fn to be called with the client count whenever it
// changes. fn runs with the hub locked and must not call back into it.
func (h *Hub) SetObserver(fn func(clients int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observe = fn
}

func (h *Hub) changed() {
	if h.observe != nil {
		h.observe(len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify implements ledger.Notifier.
func (h *Hub) Notify(_ context.Context, ev ledger.SubmissionRecorded) {
	frame, err := json.Marshal(Message{Type: ledger.EventSubmissionRecorded, Data: ev})
	if err != nil {
		h.logger.Error("feed hub: marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("feed hub: dropping slow client", zap.String("remote", c.wc.RemoteAddr().String()))
			delete(h.clients, c)
			c.close()
			h.changed()
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.changed()
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("feed hub: upgrade failed", zap.Error(err))
		return
	}

	c := &client{wc: wc, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		wc.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		wc.Close()
		return
	}

	go h.write(c)
	h.read(c)
	h.unregister(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.changed()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
		h.changed()
	}
}

// read drains the connection; the feed is one-way, so it only waits for
// the client to disconnect.
func (h *Hub) read(c *client) {
	for {
		if _, _, err := c.wc.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("feed hub: read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) write(c *client) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer c.wc.Close()
	for {
		select {
		case frame, ok := <-c.send:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.wc.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
