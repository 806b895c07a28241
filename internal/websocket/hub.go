// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"alarm-gateway/internal/metrics"

	"github.com/rs/zerolog"
)

// Message is the envelope written to subscribers, one per websocket frame.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Greeting builds the messages a client receives when it joins. It runs on
// the hub goroutine, before any later broadcast reaches the client.
type Greeting func() []Message

type registration struct {
	client *Client
	greet  Greeting
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan registration
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		metrics:    m,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.logger.Info().Msg("websocket hub stopped")
			return

		case reg := <-h.register:
			client := reg.client
			h.mu.Lock()
			h.clients[client] = true
			h.updateGauge()
			if reg.greet != nil {
				for _, msg := range reg.greet() {
					b, ok := h.encode(msg.Event, msg.Data)
					if !ok {
						continue
					}
					if !h.deliver(client, b) {
						break
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info().Str("client_id", client.ID).Str("remote_addr", client.remoteAddr()).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliver(client, message)
			}
			h.mu.Unlock()
		}
	}
}

// deliver queues message for client, dropping clients whose buffer is full.
// Caller holds h.mu.
func (h *Hub) deliver(client *Client, message []byte) bool {
	select {
	case client.Send <- message:
		return true
	default:
		h.logger.Warn().Str("client_id", client.ID).Msg("client send buffer full, removing")
		h.drop(client)
		return false
	}
}

// drop removes client and closes its send channel. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.WebsocketClients.Set(float64(len(h.clients)))
	}
}

// RegisterClient adds client to the hub. It reports false when the hub has
// already stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	return h.RegisterWithGreeting(client, nil)
}

// RegisterWithGreeting adds client and queues the messages returned by greet
// ahead of anything broadcast afterwards.
func (h *Hub) RegisterWithGreeting(client *Client, greet Greeting) bool {
	select {
	case h.register <- registration{client: client, greet: greet}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends event to all clients. It implements processor.Broadcaster.
func (h *Hub) Broadcast(event string, payload interface{}) {
	messageBytes, ok := h.encode(event, payload)
	if !ok {
		return
	}
	select {
	case h.broadcast <- messageBytes:
		if h.metrics != nil {
			h.metrics.Broadcasts.WithLabelValues(event).Inc()
		}
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, bool) {
	messageBytes, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("error marshalling message")
		return nil, false
	}
	return messageBytes, true
}
