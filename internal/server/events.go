// Package server decodes inbound WebSocket frames into typed events and
// rejects frames that fail validation.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/wicara/internal/store"
)

// EventType is the discriminator carried in every frame's "type" field.
type EventType string

const (
	EventAuth         EventType = "auth"
	EventChat         EventType = "chat"
	EventTyping       EventType = "typing"
	EventCallRequest  EventType = "call-request"
	EventCallResponse EventType = "call-response"
)

var (
	// ErrMalformedEvent is returned for frames that are not valid JSON or miss required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for well-formed frames with an unrecognized type.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Event is one decoded inbound frame.
type Event interface {
	Type() EventType
}

// AuthEvent binds the connection to a user id.
type AuthEvent struct {
	UserID string `json:"userId"`
}

// ChatEvent carries a message for exactly one receiver or one group.
type ChatEvent struct {
	SenderID   string            `json:"senderId"`
	ReceiverID string            `json:"receiverId"`
	GroupID    string            `json:"groupId"`
	Content    string            `json:"content"`
	MsgType    store.ContentKind `json:"msgType"`
}

// TypingEvent is a transient typing indicator.
type TypingEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// CallRequestEvent asks the receiver to accept a call. Raw holds the
// original frame, which is relayed unchanged.
type CallRequestEvent struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	ReceiverID string `json:"receiverId"`
	CallType   string `json:"callType"`
	Raw        []byte `json:"-"`
}

// CallResponseEvent answers a call request. Raw holds the original frame.
type CallResponseEvent struct {
	CallerID string `json:"callerId"`
	Raw      []byte `json:"-"`
}

func (AuthEvent) Type() EventType         { return EventAuth }
func (ChatEvent) Type() EventType         { return EventChat }
func (TypingEvent) Type() EventType       { return EventTyping }
func (CallRequestEvent) Type() EventType  { return EventCallRequest }
func (CallResponseEvent) Type() EventType { return EventCallResponse }

// IsGroup reports whether the message is addressed to a group.
func (e ChatEvent) IsGroup() bool { return e.GroupID != "" }

type envelope struct {
	Type EventType `json:"type"`
}

// DecodeEvent parses a raw frame into one of the event types. Errors wrap
// ErrMalformedEvent or ErrUnknownEvent.
func DecodeEvent(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventAuth:
		var ev AuthEvent
		if err := unmarshalEvent(frame, &ev); err != nil {
			return nil, err
		}
		ev.UserID = strings.TrimSpace(ev.UserID)
		if ev.UserID == "" {
			return nil, malformed("auth requires userId")
		}
		return ev, nil

	case EventChat:
		var ev ChatEvent
		if err := unmarshalEvent(frame, &ev); err != nil {
			return nil, err
		}
		if err := validateChat(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EventTyping:
		var ev TypingEvent
		if err := unmarshalEvent(frame, &ev); err != nil {
			return nil, err
		}
		if ev.SenderID == "" || ev.ReceiverID == "" {
			return nil, malformed("typing requires senderId and receiverId")
		}
		return ev, nil

	case EventCallRequest:
		var ev CallRequestEvent
		if err := unmarshalEvent(frame, &ev); err != nil {
			return nil, err
		}
		if ev.SenderID == "" || ev.ReceiverID == "" {
			return nil, malformed("call-request requires senderId and receiverId")
		}
		if ev.CallType != "voice" && ev.CallType != "video" {
			return nil, malformed(fmt.Sprintf("unsupported callType %q", ev.CallType))
		}
		ev.Raw = frame
		return ev, nil

	case EventCallResponse:
		var ev CallResponseEvent
		if err := unmarshalEvent(frame, &ev); err != nil {
			return nil, err
		}
		if ev.CallerID == "" {
			return nil, malformed("call-response requires callerId")
		}
		ev.Raw = frame
		return ev, nil

	case "":
		return nil, malformed("missing type")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func unmarshalEvent(frame []byte, ev any) error {
	if err := json.Unmarshal(frame, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func validateChat(ev *ChatEvent) error {
	if ev.SenderID == "" {
		return malformed("chat requires senderId")
	}
	if (ev.ReceiverID == "") == (ev.GroupID == "") {
		return malformed("chat needs exactly one of receiverId or groupId")
	}
	if ev.MsgType == "" {
		ev.MsgType = store.KindText
	}
	if !ev.MsgType.Valid() {
		return malformed(fmt.Sprintf("unsupported msgType %q", ev.MsgType))
	}
	return nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, reason)
}
