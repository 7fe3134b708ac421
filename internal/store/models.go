package store

import "time"

// GORM models used for persistence.
type userRow struct {
	ID        string  `gorm:"primaryKey"`
	Name      string  `gorm:"not null"`
	Email     *string `gorm:"uniqueIndex"`
	Phone     *string `gorm:"uniqueIndex"`
	IPAddress *string `gorm:"index"`
	Avatar    string
	Status    string
	LastSeen  *time.Time
	Latitude  *float64
	Longitude *float64
	Theme     string `gorm:"not null;default:light"`
	Language  string `gorm:"not null;default:ms"`
}

func (userRow) TableName() string { return "users" }

type messageRow struct {
	ID         string    `gorm:"primaryKey"`
	SenderID   string    `gorm:"not null;index"`
	ReceiverID *string   `gorm:"index;check:chk_messages_destination,(receiver_id IS NULL) <> (group_id IS NULL)"`
	GroupID    *string   `gorm:"index"`
	Content    string    `gorm:"not null"`
	Type       string    `gorm:"not null"`
	Timestamp  time.Time `gorm:"not null;index"`
	IsRead     bool      `gorm:"not null;default:false"`
}

func (messageRow) TableName() string { return "messages" }

type groupRow struct {
	ID     string `gorm:"primaryKey"`
	Name   string `gorm:"not null"`
	Avatar string
}

func (groupRow) TableName() string { return "groups" }

type groupMemberRow struct {
	GroupID string `gorm:"primaryKey"`
	UserID  string `gorm:"primaryKey;index"`
}

func (groupMemberRow) TableName() string { return "group_members" }

func userToRow(u User) userRow {
	return userRow{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		IPAddress: u.IPAddress,
		Avatar:    u.Avatar,
		Status:    u.Status,
		LastSeen:  u.LastSeen,
		Latitude:  u.Latitude,
		Longitude: u.Longitude,
		Theme:     u.Theme,
		Language:  u.Language,
	}
}

func userFromRow(r userRow) User {
	return User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Phone:     r.Phone,
		IPAddress: r.IPAddress,
		Avatar:    r.Avatar,
		Status:    r.Status,
		LastSeen:  r.LastSeen,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Theme:     r.Theme,
		Language:  r.Language,
	}
}

func messageToRow(m Message) messageRow {
	return messageRow{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		Type:       string(m.Type),
		Timestamp:  m.Timestamp,
		IsRead:     m.IsRead,
	}
}

func messageFromRow(r messageRow) Message {
	return Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		GroupID:    r.GroupID,
		Content:    r.Content,
		Type:       ContentKind(r.Type),
		Timestamp:  r.Timestamp.UTC(),
		IsRead:     r.IsRead,
	}
}

func messagesFromRows(rows []messageRow) []Message {
	res := make([]Message, 0, len(rows))
	for _, r := range rows {
		res = append(res, messageFromRow(r))
	}
	return res
}
