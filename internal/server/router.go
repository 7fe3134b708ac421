// Package server routes authenticated events to the store and to bound
// recipients through the Router type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/wicara/internal/store"
)

// Router handles decoded events for a session. It holds no per-event state;
// ordering comes from each read pump calling Dispatch sequentially.
type Router struct {
	hub          *Hub
	store        store.Store
	presence     *Presence
	metrics      *Metrics
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// NewRouter builds a Router. storeTimeout bounds each store call made while
// handling an event.
func NewRouter(hub *Hub, st store.Store, presence *Presence, metrics *Metrics, storeTimeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Router{
		hub:          hub,
		store:        st,
		presence:     presence,
		metrics:      metrics,
		logger:       logger.With("component", "router"),
		storeTimeout: storeTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Dispatch decodes frame and handles it on behalf of c. Bad frames are
// logged and dropped; the connection stays open.
func (r *Router) Dispatch(c *Client, frame []byte) {
	ev, err := DecodeEvent(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.logger.Debug("ignoring unknown event", "err", err, "remote_addr", c.addr)
			r.metrics.event("", outcomeUnknown)
			return
		}
		r.logger.Warn("dropping malformed frame", "err", err, "remote_addr", c.addr)
		r.metrics.event("", outcomeMalformed)
		return
	}

	if auth, ok := ev.(AuthEvent); ok {
		r.handleAuth(c, auth)
		return
	}

	userID := c.UserID()
	if !c.Authenticated() {
		r.logger.Debug("dropping event before auth", "type", ev.Type(), "remote_addr", c.addr)
		r.metrics.event(ev.Type(), outcomeUnauthenticated)
		return
	}

	switch ev := ev.(type) {
	case ChatEvent:
		if !r.checkSender(c, ev.Type(), ev.SenderID, userID) {
			return
		}
		r.handleChat(ev)
	case TypingEvent:
		if !r.checkSender(c, ev.Type(), ev.SenderID, userID) {
			return
		}
		r.handleTyping(ev)
	case CallRequestEvent:
		if !r.checkSender(c, ev.Type(), ev.SenderID, userID) {
			return
		}
		r.relay(ev.Type(), ev.ReceiverID, ev.Raw)
	case CallResponseEvent:
		r.relay(ev.Type(), ev.CallerID, ev.Raw)
	}
}

func (r *Router) checkSender(c *Client, t EventType, senderID, userID string) bool {
	if senderID == userID {
		return true
	}
	r.logger.Warn("dropping frame with mismatched senderId", "type", t, "user_id", userID, "sender_id", senderID, "remote_addr", c.addr)
	r.metrics.event(t, outcomeMalformed)
	return false
}

func (r *Router) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.storeTimeout)
}

func (r *Router) handleAuth(c *Client, ev AuthEvent) {
	prev, ok := c.authenticate(ev.UserID)
	if !ok {
		return
	}
	ctx, cancel := r.storeContext()
	defer cancel()

	if prev != "" && prev != ev.UserID && r.hub.UnregisterClient(prev, c) {
		if err := r.presence.MarkOffline(ctx, prev); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("failed to stamp last seen", "user_id", prev, "err", err)
		}
	}
	if err := r.hub.Register(ev.UserID, c); err != nil {
		r.logger.Warn("failed to bind connection", "user_id", ev.UserID, "err", err)
		r.metrics.event(EventAuth, outcomeMalformed)
		return
	}
	c.logger.Info("session authenticated", "user_id", ev.UserID)

	// The id is client-asserted and may not have an account yet.
	if err := r.presence.MarkOnline(ctx, ev.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("failed to mark user online", "user_id", ev.UserID, "err", err)
	}
	r.metrics.event(EventAuth, outcomeHandled)
}

func (r *Router) handleChat(ev ChatEvent) {
	msg := store.Message{
		ID:        r.newID(),
		SenderID:  ev.SenderID,
		Content:   ev.Content,
		Type:      ev.MsgType,
		Timestamp: r.now().UTC(),
	}
	if ev.IsGroup() {
		groupID := ev.GroupID
		msg.GroupID = &groupID
	} else {
		receiverID := ev.ReceiverID
		msg.ReceiverID = &receiverID
	}

	ctx, cancel := r.storeContext()
	defer cancel()

	saved, err := r.store.InsertMessage(ctx, msg)
	if err != nil {
		r.logger.Error("failed to persist message", "sender_id", ev.SenderID, "err", err)
		r.metrics.event(EventChat, outcomeStoreError)
		return
	}
	payload, err := json.Marshal(newChatPayload(saved))
	if err != nil {
		r.logger.Error("failed to encode chat payload", "message_id", saved.ID, "err", err)
		return
	}

	if saved.IsDirect() {
		r.metrics.delivery(r.hub.Send(*saved.ReceiverID, payload))
		r.metrics.event(EventChat, outcomeHandled)
		return
	}

	members, err := r.store.ListGroupMembers(ctx, ev.GroupID)
	if err != nil {
		r.logger.Error("failed to resolve group members", "group_id", ev.GroupID, "err", err)
		r.metrics.event(EventChat, outcomeStoreError)
		return
	}
	for _, member := range members {
		if member == ev.SenderID {
			continue
		}
		r.metrics.delivery(r.hub.Send(member, payload))
	}
	r.metrics.event(EventChat, outcomeHandled)
}

func (r *Router) handleTyping(ev TypingEvent) {
	payload, err := json.Marshal(typingPayload{Type: EventTyping, SenderID: ev.SenderID, IsTyping: ev.IsTyping})
	if err != nil {
		r.logger.Error("failed to encode typing payload", "err", err)
		return
	}
	r.relay(EventTyping, ev.ReceiverID, payload)
}

func (r *Router) relay(t EventType, target string, payload []byte) {
	r.metrics.delivery(r.hub.Send(target, payload))
	r.metrics.event(t, outcomeHandled)
}

// Disconnect closes the session of c. If c still held its user's binding the
// user is marked offline.
func (r *Router) Disconnect(c *Client) {
	userID, wasAuthenticated := c.markClosed()
	if !wasAuthenticated {
		return
	}
	if !r.hub.UnregisterClient(userID, c) {
		c.logger.Debug("superseded session closed", "user_id", userID)
		return
	}

	ctx, cancel := r.storeContext()
	defer cancel()
	if err := r.presence.MarkOffline(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("failed to stamp last seen", "user_id", userID, "err", err)
	}
	c.logger.Info("session closed", "user_id", userID)
}
