package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openfeeds/rate-layer/internal/app/domain/price"
	"github.com/openfeeds/rate-layer/internal/app/events"
	"github.com/openfeeds/rate-layer/pkg/fixedpoint"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub fans committed price updates out to websocket clients. Clients start
// subscribed to every asset and can narrow the set with subscribe messages.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
	closed  bool

	unsubscribe func()
}

// clientMessage is what clients send: subscribe/unsubscribe with asset
// indices, or ping.
type clientMessage struct {
	Type   string   `json:"type"`
	Assets []uint32 `json:"assets,omitempty"`
}

// updateMessage is pushed to clients on every committed record they are
// subscribed to.
type updateMessage struct {
	Type         string             `json:"type"`
	Update       events.PriceUpdate `json:"update"`
	PriceDecimal string             `json:"price_decimal"`
}

// NewHub creates a hub subscribed to the bus. Close releases the
// subscription.
func NewHub(bus *events.Bus, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("httpapi.ws")
	}
	h := &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
	if bus != nil {
		h.unsubscribe = bus.Subscribe(h.broadcast)
	}
	return h
}

// HandleConnection upgrades the request and starts the client pumps.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           h,
		subscribedAll: true,
		subscribed:    make(map[price.AssetIndex]bool),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()

	h.log.WithField("remote", conn.RemoteAddr().String()).Info("websocket client connected")
}

// Close drops the bus subscription and disconnects every client.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]bool)
	h.closed = true
	h.mu.Unlock()

	for client := range clients {
		close(client.send)
	}
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// broadcast runs on the publishing goroutine and must not block: clients with
// a full send buffer miss the update.
func (h *Hub) broadcast(u events.PriceUpdate) {
	msg := updateMessage{
		Type:         "price_update",
		Update:       u,
		PriceDecimal: fixedpoint.ToDecimal(u.Value, u.Decimals).String(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("marshal price update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(u.Asset) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn("websocket send buffer full, dropping update")
		}
	}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.RWMutex
	subscribedAll bool
	subscribed    map[price.AssetIndex]bool
}

func (c *wsClient) wants(asset price.AssetIndex) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscribedAll {
		return true
	}
	return c.subscribed[asset]
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *wsClient) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.log.WithError(err).Warn("invalid websocket client message")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribeAssets(msg.Assets)
	case "unsubscribe":
		c.unsubscribeAssets(msg.Assets)
	case "ping":
		c.sendPong()
	default:
		c.hub.log.WithField("type", msg.Type).Warn("unknown websocket message type")
	}
}

// subscribeAssets narrows the subscription to the given assets; an empty list
// subscribes to everything again.
func (c *wsClient) subscribeAssets(assets []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 {
		c.subscribedAll = true
		c.subscribed = make(map[price.AssetIndex]bool)
		return
	}
	c.subscribedAll = false
	for _, a := range assets {
		c.subscribed[price.AssetIndex(a)] = true
	}
}

// unsubscribeAssets removes assets from the subscription; an empty list
// clears it entirely.
func (c *wsClient) unsubscribeAssets(assets []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 {
		c.subscribedAll = false
		c.subscribed = make(map[price.AssetIndex]bool)
		return
	}
	for _, a := range assets {
		delete(c.subscribed, price.AssetIndex(a))
	}
}

func (c *wsClient) sendPong() {
	data, _ := json.Marshal(map[string]string{"type": "pong"})
	select {
	case c.send <- data:
	default:
	}
}
