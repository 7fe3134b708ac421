// Package store is the persistence gateway for users, messages, groups and
// group membership. The only implementation is GormStore, which runs on an
// embedded sqlite file by default and on Postgres in production.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrUnknownSender is returned when a message references a sender that is not a known user.
	ErrUnknownSender = errors.New("store: unknown sender")
	// ErrInvalidDestination is returned when a message does not carry exactly one of receiver or group.
	ErrInvalidDestination = errors.New("store: message needs exactly one of receiver or group")
	// ErrInvalidChannel is returned for an unsupported login channel.
	ErrInvalidChannel = errors.New("store: invalid login channel")
)

// Channel names the durable login key a user account is bound to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
	ChannelIP    Channel = "ip"
)

// Valid reports whether c is a supported login channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPhone, ChannelIP:
		return true
	}
	return false
}

// ContentKind is the payload kind of a chat message.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindVideo    ContentKind = "video"
	KindAudio    ContentKind = "audio"
	KindDocument ContentKind = "document"
	KindLocation ContentKind = "location"
	KindSticker  ContentKind = "sticker"
)

// Valid reports whether k is one of the known content kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument, KindLocation, KindSticker:
		return true
	}
	return false
}

// Default user preferences.
const (
	DefaultTheme    = "light"
	DefaultLanguage = "ms"
)

// User is a chat account.
type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     *string    `json:"email"`
	Phone     *string    `json:"phone"`
	IPAddress *string    `json:"ipAddress"`
	Avatar    string     `json:"avatar"`
	Status    string     `json:"status,omitempty"`
	LastSeen  *time.Time `json:"lastSeen"`
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Theme     string     `json:"theme"`
	Language  string     `json:"language"`
}

// Message is a persisted chat message. Exactly one of ReceiverID and GroupID is set.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID *string     `json:"receiverId"`
	GroupID    *string     `json:"groupId"`
	Content    string      `json:"content"`
	Type       ContentKind `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
}

// IsDirect reports whether the message is addressed to a single receiver.
func (m Message) IsDirect() bool {
	return m.ReceiverID != nil && m.GroupID == nil
}

func (m Message) validDestination() bool {
	hasReceiver := m.ReceiverID != nil && *m.ReceiverID != ""
	hasGroup := m.GroupID != nil && *m.GroupID != ""
	return hasReceiver != hasGroup
}

// Group is a named set of members sharing a conversation.
type Group struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Store defines the persistence operations consumed by the relay.
// Implementations must be safe for concurrent use.
type Store interface {
	// users
	FindUserByIdentifier(ctx context.Context, channel Channel, value string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SaveUser(ctx context.Context, u User) error
	UpdateUserNetworkAddress(ctx context.Context, id, addr string) error
	UpdateLastSeen(ctx context.Context, id string, ts time.Time) error
	UpdatePresence(ctx context.Context, id, status string, ts time.Time) error
	UpdateLocation(ctx context.Context, id string, lat, lng float64) error
	UpdatePreferences(ctx context.Context, id, theme, language string) error
	ListUsersWithLocation(ctx context.Context) ([]User, error)

	// messages
	InsertMessage(ctx context.Context, m Message) (Message, error)
	ListMessagesBetween(ctx context.Context, userA, userB string) ([]Message, error)
	ListGroupMessages(ctx context.Context, groupID string) ([]Message, error)
	MarkMessageRead(ctx context.Context, id string) error

	// groups
	CreateGroup(ctx context.Context, g Group, members []string) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)

	Close() error
}
