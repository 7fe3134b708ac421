package server

import (
	"errors"
	"testing"

	"github.com/Tyrowin/wicara/internal/store"
)

func TestDecodeEventKinds(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "auth",
			frame: `{"type":"auth","userId":" alice "}`,
			check: func(t *testing.T, ev Event) {
				if a, ok := ev.(AuthEvent); !ok || a.UserID != "alice" {
					t.Errorf("unexpected auth event %#v", ev)
				}
			},
		},
		{
			name:  "direct chat defaults to text",
			frame: `{"type":"chat","senderId":"a","receiverId":"b","content":"hi"}`,
			check: func(t *testing.T, ev Event) {
				c, ok := ev.(ChatEvent)
				if !ok || c.IsGroup() || c.MsgType != store.KindText || c.Content != "hi" {
					t.Errorf("unexpected chat event %#v", ev)
				}
			},
		},
		{
			name:  "group chat",
			frame: `{"type":"chat","senderId":"a","groupId":"g","content":"loc","msgType":"location"}`,
			check: func(t *testing.T, ev Event) {
				c, ok := ev.(ChatEvent)
				if !ok || !c.IsGroup() || c.MsgType != store.KindLocation {
					t.Errorf("unexpected chat event %#v", ev)
				}
			},
		},
		{
			name:  "typing",
			frame: `{"type":"typing","senderId":"a","receiverId":"b","isTyping":true}`,
			check: func(t *testing.T, ev Event) {
				if ty, ok := ev.(TypingEvent); !ok || !ty.IsTyping {
					t.Errorf("unexpected typing event %#v", ev)
				}
			},
		},
		{
			name:  "call request keeps raw bytes",
			frame: `{"type":"call-request","senderId":"a","senderName":"A","receiverId":"b","callType":"voice","extra":1}`,
			check: func(t *testing.T, ev Event) {
				cr, ok := ev.(CallRequestEvent)
				if !ok || cr.SenderName != "A" || string(cr.Raw) != `{"type":"call-request","senderId":"a","senderName":"A","receiverId":"b","callType":"voice","extra":1}` {
					t.Errorf("unexpected call request %#v", ev)
				}
			},
		},
		{
			name:  "call response",
			frame: `{"type":"call-response","callerId":"a","accepted":false}`,
			check: func(t *testing.T, ev Event) {
				if cr, ok := ev.(CallResponseEvent); !ok || cr.CallerID != "a" || len(cr.Raw) == 0 {
					t.Errorf("unexpected call response %#v", ev)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	malformed := []string{
		`not json`,
		`{"userId":"a"}`,
		`{"type":"auth"}`,
		`{"type":"auth","userId":"   "}`,
		`{"type":"chat","senderId":"a","content":"no destination"}`,
		`{"type":"chat","senderId":"a","receiverId":"b","groupId":"g"}`,
		`{"type":"chat","receiverId":"b"}`,
		`{"type":"chat","senderId":"a","receiverId":"b","msgType":"hologram"}`,
		`{"type":"typing","senderId":"a"}`,
		`{"type":"call-request","senderId":"a","receiverId":"b","callType":"fax"}`,
		`{"type":"call-request","senderId":"a","callType":"voice"}`,
		`{"type":"call-response"}`,
		`{"type":"chat","senderId":42}`,
	}
	for _, frame := range malformed {
		if _, err := DecodeEvent([]byte(frame)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("DecodeEvent(%s): expected ErrMalformedEvent, got %v", frame, err)
		}
	}

	if _, err := DecodeEvent([]byte(`{"type":"story","content":"x"}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}
