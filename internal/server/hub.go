// Package server binds user ids to connections and delivers addressed
// payloads through the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEmptyUserID is returned when a binding is requested without a user id.
var ErrEmptyUserID = errors.New("empty user id")

// Hub is the connection registry. It tracks every open connection and the
// binding from an authenticated user id to its current connection.
// At most one connection is bound per user id.
type Hub struct {
	clients    map[*Client]struct{}
	bindings   map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	started    atomic.Bool
	logger     *slog.Logger
	metrics    *Metrics
}

// NewHub creates a Hub. Run must be started before connections are attached.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		bindings:   make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
		metrics:    metrics,
	}
}

// Attach hands a new connection to the Run loop, which starts its pumps.
// It returns false once the hub is shutting down.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Register binds userID to c, replacing any previous binding for that id.
// The superseded connection is left open.
func (h *Hub) Register(userID string, c *Client) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if c == nil {
		return errors.New("nil client")
	}
	h.mutex.Lock()
	prev, replaced := h.bindings[userID]
	h.bindings[userID] = c
	online := len(h.bindings)
	h.mutex.Unlock()

	if replaced && prev != c {
		h.logger.Info("binding replaced", "user_id", userID, "previous_addr", prev.addr, "remote_addr", c.addr)
	}
	h.logger.Debug("user bound", "user_id", userID, "online", online)
	return nil
}

// Unregister removes the binding for userID if present.
func (h *Hub) Unregister(userID string) {
	h.mutex.Lock()
	delete(h.bindings, userID)
	h.mutex.Unlock()
}

// UnregisterClient removes the binding for userID only if it still points at c.
func (h *Hub) UnregisterClient(userID string, c *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if cur, ok := h.bindings[userID]; ok && cur == c {
		delete(h.bindings, userID)
		return true
	}
	return false
}

// Send queues payload for the connection bound to userID. It reports whether a
// live connection accepted the payload. A connection whose send buffer is
// full is evicted.
func (h *Hub) Send(userID string, payload []byte) bool {
	h.mutex.RLock()
	c, ok := h.bindings[userID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	if h.safeSend(c, payload) {
		return true
	}
	h.evict(c, userID)
	return false
}

// IsOnline reports whether userID is bound to a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	c, ok := h.bindings[userID]
	return ok && !c.closed
}

// OnlineCount returns the number of bound user ids.
func (h *Hub) OnlineCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.bindings)
}

// ConnectionCount returns the number of open connections, bound or not.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	// The read lock is held for the whole send so remove cannot close the
	// channel underneath it.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if client.closed {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

func (h *Hub) evict(c *Client, userID string) {
	if h.remove(c) {
		h.metrics.eviction()
		h.logger.Warn("slow consumer evicted", "user_id", userID, "remote_addr", c.addr)
	}
}

// remove forgets c and closes its send channel, which makes the write pump
// send a close frame and drop the connection. Bindings are left to the
// session so it can tell whether it still owned one. Safe to call repeatedly.
func (h *Hub) remove(c *Client) bool {
	h.mutex.Lock()
	if c.closed {
		h.mutex.Unlock()
		return false
	}
	c.closed = true
	_, tracked := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mutex.Unlock()

	close(c.send)
	if tracked {
		h.metrics.connClosed()
		h.logger.Debug("connection removed", "remote_addr", c.addr, "connections", count)
	}
	return true
}

// release is called by a read pump on exit.
func (h *Hub) release(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
		h.remove(c)
	}
}

// Run is the hub's event loop. It starts the pumps of attached connections
// and removes released ones until Shutdown is called.
func (h *Hub) Run() {
	h.started.Store(true)
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.connOpened()
			h.logger.Info("connection opened", "remote_addr", client.addr, "connections", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// shutdownClients closes every open connection so the pumps exit.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("error closing connection", "remote_addr", client.addr, "err", err)
		}
	}
	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the Run loop, closes all connections and waits for their pumps
// to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Without Run nothing was attached, so there is no loop to wait for.
	if h.started.Load() {
		select {
		case <-h.done:
		case <-deadline.C:
			h.logger.Warn("hub shutdown timeout reached before the run loop exited")
			return context.DeadlineExceeded
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-deadline.C:
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
