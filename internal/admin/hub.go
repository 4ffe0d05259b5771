package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendBuf  = 16 // dashboard snapshots, not a high-throughput feed
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// dashboardClient is one connected dashboard browser tab.
type dashboardClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans periodic snapshots out to every connected dashboard. Adapted
// from a higher-throughput register/unregister/broadcast hub; this one
// drops nonce-based deduplication since every snapshot tick is already
// distinct.
type Hub struct {
	clients    map[*dashboardClient]struct{}
	broadcast  chan []byte
	register   chan *dashboardClient
	unregister chan *dashboardClient
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*dashboardClient]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *dashboardClient),
		unregister: make(chan *dashboardClient),
		logger:     logger,
	}
}

// Run services the hub until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("dashboard client connected", zap.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast enqueues a snapshot payload for delivery to every connected
// dashboard. Non-blocking; a full channel drops the tick.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("dashboard broadcast channel full, dropping snapshot")
	}
}

// ServeWS upgrades r to a websocket connection and registers it with the
// hub. Call after token verification.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &dashboardClient{conn: conn, send: make(chan []byte, clientSendBuf)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// readPump only exists to notice the client going away; the dashboard
// never sends application messages upstream.
func (h *Hub) readPump(c *dashboardClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
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

func (h *Hub) writePump(c *dashboardClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
