// Package server combines live bindings with stored status to report presence.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/wicara/internal/store"
)

// PresenceStatus is the combined live and stored presence of a user.
type PresenceStatus struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen"`
}

// Presence derives online state from the Hub and persists status and
// last-seen through the store.
type Presence struct {
	hub   *Hub
	store store.Store
	now   func() time.Time
}

// NewPresence builds a presence tracker.
func NewPresence(hub *Hub, st store.Store) *Presence {
	return &Presence{hub: hub, store: st, now: time.Now}
}

// MarkOnline records that userID connected.
func (p *Presence) MarkOnline(ctx context.Context, userID string) error {
	return p.store.UpdatePresence(ctx, userID, StatusOnline, p.now().UTC())
}

// MarkOffline records that userID disconnected and stamps last-seen.
func (p *Presence) MarkOffline(ctx context.Context, userID string) error {
	return p.store.UpdatePresence(ctx, userID, StatusOffline, p.now().UTC())
}

// Lookup returns the presence of userID. A live binding wins over the stored
// status, and a bound id without an account is reported online with no
// last-seen. store.ErrNotFound is returned only for ids that are neither.
func (p *Presence) Lookup(ctx context.Context, userID string) (PresenceStatus, error) {
	u, err := p.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) && p.hub.IsOnline(userID) {
		return PresenceStatus{UserID: userID, Online: true, Status: StatusOnline}, nil
	}
	if err != nil {
		return PresenceStatus{}, err
	}
	ps := PresenceStatus{
		UserID:   u.ID,
		Online:   p.hub.IsOnline(u.ID),
		Status:   u.Status,
		LastSeen: u.LastSeen,
	}
	switch {
	case ps.Online:
		ps.Status = StatusOnline
	case ps.Status == "" || ps.Status == StatusOnline:
		ps.Status = StatusOffline
	}
	return ps, nil
}
