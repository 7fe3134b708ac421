// Package server manages individual WebSocket sessions, handling read/write
// pumps, the auth deadline, and frame limits for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

// Client is one WebSocket connection and its session state.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	router         *Router
	addr           string
	closed         bool // guarded by hub.mutex
	maxMessageSize int64
	limiter        *frameLimiter
	authTimeout    time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	state     sessionState
	userID    string
	authTimer *time.Timer
}

// NewClient wraps conn in a session that dispatches its frames to router.
// conn may be nil in tests that only exercise the registry.
func NewClient(conn *websocket.Conn, hub *Hub, router *Router, addr string, cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.Sanitize()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		router:         router,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newFrameLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		authTimeout:    cfg.AuthTimeout,
		logger:         logger.With("remote_addr", addr),
	}
}

// UserID returns the authenticated user id, or "" before auth.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Authenticated reports whether the session has completed auth.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

// authenticate moves the session to Authenticated as userID and returns the
// id it was previously bound to, if any.
func (c *Client) authenticate(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return "", false
	}
	prev := c.userID
	c.userID = userID
	c.state = stateAuthenticated
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	return prev, true
}

// markClosed moves the session to Closed and returns the user id it held.
func (c *Client) markClosed() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasAuthenticated := c.state == stateAuthenticated
	c.state = stateClosed
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	return c.userID, wasAuthenticated
}

// startAuthTimer closes the connection if auth has not arrived within authTimeout.
func (c *Client) startAuthTimer() {
	if c.authTimeout <= 0 || c.conn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateUnauthenticated {
		return
	}
	c.authTimer = time.AfterFunc(c.authTimeout, func() {
		if c.Authenticated() {
			return
		}
		c.logger.Info("closing connection that did not authenticate", "timeout", c.authTimeout)
		c.closeConnection()
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "err", err)
	default:
		c.logger.Debug("websocket read ended", "err", err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter.allow() {
		return true
	}
	c.logger.Warn("rate limit exceeded; discarding frame", "user_id", c.UserID())
	c.router.metrics.event("", outcomeRateLimited)
	return false
}

// readPump reads frames and dispatches them one at a time, so events from
// one connection are handled in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.router.Disconnect(c)
		c.hub.release(c)
		c.closeConnection()
	}()

	c.setupReadConnection()
	c.startAuthTimer()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.router.Dispatch(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket; repeated calls are harmless.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection", "err", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", "err", err)
	}
	return false
}

// writeTextMessage writes message as its own text frame. Frames are never
// coalesced since every frame is a standalone JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "err", err)
		}
		return false
	}
	return true
}

// writeQueuedMessages flushes frames that were queued while the previous write ran.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing ping", "err", err)
		}
		return false
	}
	return true
}
