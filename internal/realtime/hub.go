package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/talentbase/backend/pkg/logger"
)

const (
	defaultSendQueueSize = 64
	minSendQueueSize     = 8
)

// Notification is one server-to-client push message.
type Notification struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// client is one connected socket belonging to a user. Its send queue is
// bounded; a slow consumer loses messages rather than stalling the hub.
type client struct {
	userID    string
	sessionID string
	send      chan Notification
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the in-process registry of connected notification sockets,
// keyed by user. A user may hold several sockets (tabs, devices); a
// publish reaches all of them.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*client]struct{}
	queueSize int
}

func NewHub(queueSize int) *Hub {
	if queueSize < minSendQueueSize {
		queueSize = defaultSendQueueSize
	}
	return &Hub{
		clients:   make(map[string]map[*client]struct{}),
		queueSize: queueSize,
	}
}

func (h *Hub) register(userID, sessionID string) *client {
	c := &client{
		userID:    userID,
		sessionID: sessionID,
		send:      make(chan Notification, h.queueSize),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Publish fans a notification out to every socket of the user and
// reports how many queues accepted it. Full queues drop the message;
// notifications are best-effort.
func (h *Hub) Publish(userID string, n Notification) int {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- n:
			delivered++
		case <-c.done:
		default:
			logger.Debugf("realtime: dropping notification for user %s, queue full", userID)
		}
	}
	return delivered
}

// Broadcast publishes to every connected user.
func (h *Hub) Broadcast(n Notification) int {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for u := range h.clients {
		users = append(users, u)
	}
	h.mu.RUnlock()

	total := 0
	for _, u := range users {
		total += h.Publish(u, n)
	}
	return total
}

// DisconnectSession closes every socket bound to the given session id,
// used when the session is invalidated while sockets are still open.
func (h *Hub) DisconnectSession(sessionID string) {
	h.mu.RLock()
	var targets []*client
	for _, set := range h.clients {
		for c := range set {
			if c.sessionID == sessionID {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.close()
	}
}

// ConnectedUsers reports how many distinct users hold an open socket.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
