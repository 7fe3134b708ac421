// Package server exposes HTTP handlers for login, users, presence, history,
// groups, assistance, and the WebSocket upgrade.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/wicara/internal/account"
	"github.com/Tyrowin/wicara/internal/store"
)

const maxBodyBytes = 1 << 20

// handleWebSocket upgrades the request and hands the connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	client := NewClient(conn, s.hub, s.router, clientAddress(r), s.cfg, s.logger)
	if !s.hub.Attach(client) {
		_ = conn.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Wicara relay is running")
}

type loginRequest struct {
	Identifier string        `json:"identifier"`
	Type       store.Channel `json:"type"`
	Name       string        `json:"name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	addr := clientAddress(r)
	if s.loginLimiter != nil && !s.loginLimiter.Allow(r.Context(), addr) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.accounts.Login(r.Context(), account.LoginRequest{
		Identifier:     req.Identifier,
		Type:           req.Type,
		Name:           req.Name,
		NetworkAddress: addr,
	})
	if err != nil {
		if errors.Is(err, account.ErrInvalidLogin) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("login failed", "err", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.internalError(w, r, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type saveUserRequest struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  *string `json:"email"`
	Avatar string  `json:"avatar"`
}

func (s *Server) handleSaveUser(w http.ResponseWriter, r *http.Request) {
	var req saveUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) == "" {
		req.Email = nil
	}
	err := s.store.SaveUser(r.Context(), store.User{ID: req.ID, Name: req.Name, Email: req.Email, Avatar: req.Avatar})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "email already in use")
			return
		}
		s.internalError(w, r, "save user", err)
		return
	}
	user, err := s.store.GetUser(r.Context(), req.ID)
	if err != nil {
		s.internalError(w, r, "load saved user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	ps, err := s.presence.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, "presence lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	if !validCoordinates(*req.Latitude, *req.Longitude) {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if err := s.store.UpdateLocation(r.Context(), r.PathValue("id"), *req.Latitude, *req.Longitude); err != nil {
		s.storeError(w, r, "update location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferencesRequest struct {
	Theme    string `json:"theme"`
	Language string `json:"language"`
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Theme != "" && req.Theme != "light" && req.Theme != "dark" {
		writeError(w, http.StatusBadRequest, "theme must be light or dark")
		return
	}
	err := s.store.UpdatePreferences(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Theme), strings.TrimSpace(req.Language))
	if err != nil {
		s.storeError(w, r, "update preferences", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearbyQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	users, err := s.store.ListUsersWithLocation(r.Context())
	if err != nil {
		s.internalError(w, r, "list located users", err)
		return
	}
	writeJSON(w, http.StatusOK, filterNearby(users, q))
}

func (s *Server) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessagesBetween(r.Context(), r.PathValue("userId"), r.PathValue("otherId"))
	if err != nil {
		s.internalError(w, r, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkMessageRead(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Avatar  string   `json:"avatar"`
	Members []string `json:"members"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	members := make([]string, 0, len(req.Members))
	for _, m := range req.Members {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}
	group, err := s.store.CreateGroup(r.Context(), store.Group{ID: uuid.NewString(), Name: req.Name, Avatar: req.Avatar}, members)
	if err != nil {
		s.internalError(w, r, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := s.store.AddGroupMember(r.Context(), r.PathValue("id"), strings.TrimSpace(req.UserID)); err != nil {
		s.storeError(w, r, "add group member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if _, err := s.store.GetGroup(r.Context(), groupID); err != nil {
		s.storeError(w, r, "get group", err)
		return
	}
	msgs, err := s.store.ListGroupMessages(r.Context(), groupID)
	if err != nil {
		s.internalError(w, r, "list group messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type translateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": s.assistant.Translate(r.Context(), req.Text, req.TargetLang)})
}

type assistantRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": s.assistant.Reply(r.Context(), req.Message)})
}

// storeError maps store sentinels to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		s.internalError(w, r, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", "err", err, "request_id", requestIDFromContext(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
