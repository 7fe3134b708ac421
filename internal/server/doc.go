// Package server implements the Wicara real-time relay: the connection
// registry (Hub), per-connection sessions (Client), the event Router, presence
// tracking, and the HTTP API that sits next to the WebSocket endpoint.
//
// The implementation is organized into specialized files for configuration,
// registry management, sessions, event decoding, routing, metrics and HTTP
// handlers. Server in server.go wires them together.
package server
