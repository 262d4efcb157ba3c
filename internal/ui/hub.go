// Package ui is the read-only external consumer surface of spec §6: a
// WebSocket broadcast hub carrying opportunity, position, and portfolio
// snapshots to connected dashboard clients. It observes the core; it never
// feeds back into it.
//
// Grounded on svyatogor45-abitrage's internal/websocket/hub.go (the
// register/unregister/broadcast select loop, the sync.Pool JSON buffer, the
// slow-client eviction under a copy-then-lock pattern) and
// internal/websocket/client.go's writePump, generalised from the teacher's
// pair/notification/balance message set to the arbitrage engine's domain
// messages.
package ui

import (
	"bytes"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"arbitrage/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var bufferPool = sync.Pool{
	New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 512)) },
}

// OpportunityMessage carries a detected opportunity to dashboard clients.
type OpportunityMessage struct {
	Type string            `json:"type"`
	Data model.Opportunity `json:"data"`
}

// PositionUpdateMessage carries a position lifecycle change.
type PositionUpdateMessage struct {
	Type string         `json:"type"`
	Data *model.Position `json:"data"`
}

// PortfolioSnapshotMessage carries a full portfolio snapshot.
type PortfolioSnapshotMessage struct {
	Type string                   `json:"type"`
	Data model.PortfolioSnapshot `json:"data"`
}

// Client is one connected dashboard WebSocket, identified only by its send
// channel; the transport loop lives in server.go.
type Client struct {
	send chan []byte
}

// Hub broadcasts domain messages to every connected Client. Owned by the
// cold path: nothing on the strategy thread blocks on it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	log *zap.SugaredLogger
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving
// WebSocket connections.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		log:        log,
	}
}

// Run drives registration, unregistration, and broadcast fan-out until
// stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, c := range clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						close(c.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

func (h *Hub) publish(v interface{}) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		h.log.Errorw("ui: encode failed", "err", err)
		return
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	select {
	case h.broadcast <- data:
	default:
		h.log.Warnw("ui: broadcast buffer full, dropping message")
	}
}

// BroadcastOpportunity publishes a newly-detected opportunity.
func (h *Hub) BroadcastOpportunity(o model.Opportunity) {
	h.publish(&OpportunityMessage{Type: "opportunity", Data: o})
}

// BroadcastPosition publishes a position lifecycle change.
func (h *Hub) BroadcastPosition(p *model.Position) {
	h.publish(&PositionUpdateMessage{Type: "position", Data: p})
}

// BroadcastPortfolio publishes a portfolio snapshot.
func (h *Hub) BroadcastPortfolio(s model.PortfolioSnapshot) {
	h.publish(&PortfolioSnapshotMessage{Type: "portfolio", Data: s})
}

// ClientCount reports the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
