// Package server wires HTTP handlers into a ServeMux for the relay.
package server

import "net/http"

// SetupRoutes registers every endpoint on a new ServeMux.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users", s.handleSaveUser)
	mux.HandleFunc("GET /api/users/{id}/presence", s.handlePresence)
	mux.HandleFunc("PUT /api/users/{id}/location", s.handleUpdateLocation)
	mux.HandleFunc("PUT /api/users/{id}/preferences", s.handleUpdatePreferences)
	mux.HandleFunc("GET /api/nearby", s.handleNearby)

	mux.HandleFunc("GET /api/messages/{userId}/{otherId}", s.handleDirectHistory)
	mux.HandleFunc("POST /api/messages/{id}/read", s.handleMarkRead)

	mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
	mux.HandleFunc("POST /api/groups/{id}/members", s.handleAddGroupMember)
	mux.HandleFunc("GET /api/groups/{id}/messages", s.handleGroupHistory)

	mux.HandleFunc("POST /api/translate", s.handleTranslate)
	mux.HandleFunc("POST /api/assistant", s.handleAssistant)
	return mux
}
