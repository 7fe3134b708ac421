// Package server defines outbound payload types and helpers shared by the
// hub and router.
package server

import (
	"strings"
	"time"

	"github.com/Tyrowin/wicara/internal/store"
)

// Presence status values written to the user record.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// chatPayload is the frame delivered to recipients of a chat message.
type chatPayload struct {
	Type       EventType         `json:"type"`
	ID         string            `json:"id"`
	SenderID   string            `json:"senderId"`
	ReceiverID *string           `json:"receiverId,omitempty"`
	GroupID    *string           `json:"groupId,omitempty"`
	Content    string            `json:"content"`
	MsgType    store.ContentKind `json:"msgType"`
	Timestamp  time.Time         `json:"timestamp"`
}

func newChatPayload(m store.Message) chatPayload {
	return chatPayload{
		Type:       EventChat,
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		MsgType:    m.Type,
		Timestamp:  m.Timestamp.UTC(),
	}
}

type typingPayload struct {
	Type     EventType `json:"type"`
	SenderID string    `json:"senderId"`
	IsTyping bool      `json:"isTyping"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
