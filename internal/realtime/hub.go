// Package realtime keeps the presence stream: live client connections whose
// inbound frames count as heartbeats and which receive notices published
// by any instance.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"
)

// Heartbeater records that a user is active.
type Heartbeater interface {
	Heartbeat(ctx context.Context, user string) error
}

// Hub routes notices to connected clients and turns client frames into
// presence heartbeats.
type Hub struct {
	RegisterCh   chan Client
	UnregisterCh chan Client
	HeartbeatCh  chan string

	Notices  storage.NoticeSubscriber
	Presence Heartbeater
	Logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]Client
	done    chan struct{}
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(notices storage.NoticeSubscriber, presence Heartbeater) *Hub {
	return &Hub{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		HeartbeatCh:  make(chan string, 64),
		Notices:      notices,
		Presence:     presence,
		Logger:       slog.Default(),
		clients:      make(map[string]Client),
		done:         make(chan struct{}),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run serves registrations, heartbeats and notices until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	notices, err := h.Notices.SubscribeNotices(ctx)
	if err != nil {
		return err
	}
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.RegisterCh:
			h.heartbeat(ctx, c.GetUserID())
			h.register(c)

		case c := <-h.UnregisterCh:
			h.unregister(c)

		case user := <-h.HeartbeatCh:
			h.heartbeat(ctx, user)

		case n, ok := <-notices:
			if !ok {
				return nil
			}
			h.deliver(n)
		}
	}
}

// Connected reports whether user has a live connection on this instance.
func (h *Hub) Connected(user string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[user]
	return ok
}

func (h *Hub) register(c Client) {
	h.mu.Lock()
	prev, ok := h.clients[c.GetUserID()]
	h.clients[c.GetUserID()] = c
	h.mu.Unlock()

	// A reconnect replaces the older connection.
	if ok && prev != c {
		prev.Close()
	}
	h.Logger.Info("client connected", "user_id", c.GetUserID())
}

func (h *Hub) unregister(c Client) {
	h.mu.Lock()
	current, ok := h.clients[c.GetUserID()]
	if !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.GetUserID())
	h.mu.Unlock()

	c.Close()
	h.Logger.Info("client disconnected", "user_id", c.GetUserID())
}

func (h *Hub) heartbeat(ctx context.Context, user string) {
	if err := h.Presence.Heartbeat(ctx, user); err != nil {
		h.Logger.Warn("heartbeat failed", "user_id", user, "error", err)
	}
}

// deliver drops the notice when the user is not connected here or their
// buffer is full; notices are advisory.
func (h *Hub) deliver(n models.Notice) {
	h.mu.RLock()
	c, ok := h.clients[n.UserID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case c.GetSendChannel() <- n:
	default:
		h.Logger.Warn("notice dropped, client buffer full", "user_id", n.UserID, "type", n.Type)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
