package hub

import (
	"context"
	"encoding/json"
	"sync"

	"qms/token-service/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Subscription narrows what a display board receives. Empty fields match
// everything.
type Subscription struct {
	BranchID  string
	DeskID    string
	ServiceID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	BranchID  string `json:"branch_id"`
	DeskID    string `json:"desk_id"`
	ServiceID string `json:"service_id"`
}

var droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
	Name: "token_hub_dropped_messages_total",
	Help: "Messages dropped because a display client was not reading",
})

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedMessages.Inc()
			h.logger.Debug("drop message for client", zap.String("client_id", client.ID))
		}
	}
}

// Publish lets the hub act as a notification sink.
func (h *Hub) Publish(_ context.Context, event notify.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(payload, Subscription{BranchID: event.BranchID, DeskID: event.DeskID, ServiceID: event.ServiceID})
	return nil
}

// match reports whether an event described by meta is visible to sub. Events
// without a desk or service reach every subscriber of the branch.
func match(sub Subscription, meta Subscription) bool {
	if sub.BranchID != "" && meta.BranchID != sub.BranchID {
		return false
	}
	if sub.DeskID != "" && meta.DeskID != "" && meta.DeskID != sub.DeskID {
		return false
	}
	if sub.ServiceID != "" && meta.ServiceID != "" && meta.ServiceID != sub.ServiceID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
