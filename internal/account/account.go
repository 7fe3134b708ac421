// Package account implements passwordless login with automatic account
// provisioning. A login key is an email address, a phone number, or the
// caller's network address.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/wicara/internal/store"
)

// ErrInvalidLogin is returned when a login request lacks a usable key.
var ErrInvalidLogin = errors.New("account: invalid login request")

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Identifier string
	Type       store.Channel
	Name       string
	// NetworkAddress is the caller's address as seen by the HTTP layer.
	NetworkAddress string
}

// Service resolves login requests to user accounts.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService builds a login service on top of st.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger.With("component", "account")}
}

// Login returns the account bound to the request's login key, creating it
// on first use. Every successful login refreshes the stored network address.
func (s *Service) Login(ctx context.Context, req LoginRequest) (store.User, error) {
	key, err := loginKey(req)
	if err != nil {
		return store.User{}, err
	}
	addr := strings.TrimSpace(req.NetworkAddress)

	u, err := s.store.FindUserByIdentifier(ctx, req.Type, key)
	switch {
	case err == nil:
		return s.touch(ctx, u, addr)
	case !errors.Is(err, store.ErrNotFound):
		return store.User{}, fmt.Errorf("find user: %w", err)
	}

	created, err := s.store.CreateUser(ctx, newUser(req, key, addr))
	if err == nil {
		s.logger.Info("account provisioned", "user_id", created.ID, "channel", string(req.Type))
		return created, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	// A concurrent login with the same key won the insert.
	u, err = s.store.FindUserByIdentifier(ctx, req.Type, key)
	if err != nil {
		return store.User{}, fmt.Errorf("find user after conflict: %w", err)
	}
	return s.touch(ctx, u, addr)
}

func (s *Service) touch(ctx context.Context, u store.User, addr string) (store.User, error) {
	if addr == "" {
		return u, nil
	}
	if err := s.store.UpdateUserNetworkAddress(ctx, u.ID, addr); err != nil {
		return store.User{}, fmt.Errorf("update network address: %w", err)
	}
	u.IPAddress = &addr
	return u, nil
}

func loginKey(req LoginRequest) (string, error) {
	switch req.Type {
	case store.ChannelEmail:
		key := strings.ToLower(strings.TrimSpace(req.Identifier))
		if key == "" {
			return "", fmt.Errorf("%w: email required", ErrInvalidLogin)
		}
		return key, nil
	case store.ChannelPhone:
		key := strings.TrimSpace(req.Identifier)
		if key == "" {
			return "", fmt.Errorf("%w: phone required", ErrInvalidLogin)
		}
		return key, nil
	case store.ChannelIP:
		key := strings.TrimSpace(req.NetworkAddress)
		if key == "" {
			return "", fmt.Errorf("%w: network address unavailable", ErrInvalidLogin)
		}
		return key, nil
	default:
		return "", fmt.Errorf("%w: unsupported type %q", ErrInvalidLogin, req.Type)
	}
}

func newUser(req LoginRequest, key, addr string) store.User {
	identifier := strings.TrimSpace(req.Identifier)
	name := DisplayName(req.Name, identifier)
	seed := strings.TrimSpace(req.Name)
	if seed == "" {
		seed = identifier
	}

	u := store.User{
		ID:     "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Name:   name,
		Avatar: avatarBaseURL + url.QueryEscape(seed),
	}
	switch req.Type {
	case store.ChannelEmail:
		u.Email = &key
	case store.ChannelPhone:
		u.Phone = &key
	case store.ChannelIP:
		u.IPAddress = &addr
	}
	return u
}

// DisplayName picks the name shown for a new account: the supplied name,
// else the local part of the identifier, else "User".
func DisplayName(name, identifier string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if identifier != "" {
		local, _, _ := strings.Cut(identifier, "@")
		if local != "" {
			return local
		}
	}
	return "User"
}
