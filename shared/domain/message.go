package domain

import (
	"fmt"
	"time"
)

type (
	MessageId = string
	Username  = string
	Emoji     = string
)

// Delivery is local-only bookkeeping for optimistic entries. It is never persisted and
// every record that arrives from the backend is DeliveryConfirmed.
type Delivery int

const (
	DeliveryConfirmed Delivery = iota
	DeliveryPending
	DeliveryFailed
)

func (d Delivery) String() string {
	switch d {
	case DeliveryPending:
		return "pending"
	case DeliveryFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

type Message struct {
	Id          MessageId    `json:"id"`
	Author      Username     `json:"user_name"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Reactions   Reactions    `json:"reactions"`
	ReplyTo     *MessageId   `json:"reply_to"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at"`
	DeletedAt   *time.Time   `json:"deleted_at"`

	Delivery Delivery `json:"-"`
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Clone returns a deep copy so reducers never alias the caller's slices or maps.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	out.Reactions = m.Reactions.Clone()
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		out.ReplyTo = &id
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// for debug
func (m *Message) String() string {
	return fmt.Sprintf("[id:%s, author:%s, content:%q, created:%s, attachments:%d, delivery:%s]",
		m.Id, m.Author, m.Content, m.CreatedAt.Format(time.StampMilli), len(m.Attachments), m.Delivery)
}

// NewMessage is the insert payload for a fresh message.
type NewMessage struct {
	Id          MessageId    `json:"id" validate:"required,uuid"`
	Author      Username     `json:"user_name" validate:"required,max=30"`
	Content     *string      `json:"content"`
	ReplyTo     *MessageId   `json:"reply_to"`
	Attachments []Attachment `json:"attachments" validate:"dive"`
}

// MessagePatch is an update payload. Exactly one group of fields is expected to be set:
// an edit (Content+EditedAt), a reaction change (Reactions), or a deletion (Deleted).
type MessagePatch struct {
	Content   *string
	EditedAt  *time.Time
	Reactions Reactions
	Deleted   *time.Time
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one notification from the change feed.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	Record    *Message  `json:"record"`
}

// DefaultEmojis is the quick reaction picker set.
var DefaultEmojis = []Emoji{"😂", "👍", "😮", "😢", "😡"}
