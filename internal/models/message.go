package models

import "time"

// UserSummary is the denormalized participant view embedded in messages.
type UserSummary struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Message represents one direct message between two users.
type Message struct {
	ID        int         `db:"id" json:"id"`
	Sender    UserSummary `json:"sender"`
	Receiver  UserSummary `json:"receiver"`
	Content   string      `db:"content" json:"content"`
	IsRead    bool        `db:"is_read" json:"is_read"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// MessageRow is the flat shape read from the messages_with_users view.
type MessageRow struct {
	ID           int       `db:"id" json:"id"`
	SenderID     int       `db:"sender_id" json:"sender_id"`
	SenderName   string    `db:"sender_name" json:"sender_name"`
	ReceiverID   int       `db:"receiver_id" json:"receiver_id"`
	ReceiverName string    `db:"receiver_name" json:"receiver_name"`
	Content      string    `db:"content" json:"content"`
	IsRead       bool      `db:"is_read" json:"is_read"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Message converts the flat row into the nested message shape.
func (r MessageRow) Message() Message {
	return Message{
		ID:        r.ID,
		Sender:    UserSummary{ID: r.SenderID, Name: r.SenderName},
		Receiver:  UserSummary{ID: r.ReceiverID, Name: r.ReceiverName},
		Content:   r.Content,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Conversation is the derived per-thread aggregate. It is never stored;
// it is rebuilt from the message cache after every mutation.
type Conversation struct {
	Key          string         `json:"key"`
	Participants [2]UserSummary `json:"participants"`
	LastMessage  Message        `json:"last_message"`
	UnreadCount  int            `json:"unread_count"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// InboxEvent is broadcasted through websockets.
type InboxEvent struct {
	Type          string         `json:"type"`
	Conversations []Conversation `json:"conversations,omitempty"`
	Message       *Message       `json:"message,omitempty"`
	Notification  *Notification  `json:"notification,omitempty"`
}
