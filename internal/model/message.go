package model

import (
	"strings"
	"time"
)

type (
	// Message is one entry of a conversation log. Both mirrored copies carry
	// the same ID and payload; Seq is assigned by the log that stores the copy.
	Message struct {
		ID                string    `json:"id" bson:"id"`
		SenderID          string    `json:"sender_id" bson:"sender_id"`
		Body              string    `json:"text,omitempty" bson:"text,omitempty"`
		AttachmentAddress string    `json:"image_address,omitempty" bson:"image_address,omitempty"`
		CreatedAt         time.Time `json:"timestamp" bson:"timestamp"`
		Delivered         bool      `json:"is_read" bson:"is_read"`
		Seq               int64     `json:"seq" bson:"seq"`
	}

	// Repair describes a message copy missing from Target.
	Repair struct {
		Target  ConversationID `json:"target"`
		Message *Message       `json:"message"`
	}
)

func NewTextMessage(id, senderID, body string, at time.Time) *Message {
	return &Message{
		ID:        id,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: Timestamp(at),
	}
}

func NewImageMessage(id, senderID, address string, at time.Time) *Message {
	return &Message{
		ID:                id,
		SenderID:          senderID,
		AttachmentAddress: address,
		CreatedAt:         Timestamp(at),
	}
}

// Timestamp truncates t to the millisecond precision kept by the store.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (m *Message) IsImage() bool {
	return m.Body == "" && m.AttachmentAddress != ""
}

// Validate checks the invariants every stored copy must satisfy.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return invalid("nil message")
	case m.ID == "":
		return invalid("id is required")
	case m.SenderID == "":
		return invalid("sender_id is required")
	case m.CreatedAt.IsZero():
		return invalid("timestamp is required")
	case m.Body != "" && m.AttachmentAddress != "":
		return invalid("text and image_address are mutually exclusive")
	case strings.TrimSpace(m.Body) == "" && m.AttachmentAddress == "":
		return invalid("either text or image_address is required")
	}
	return nil
}

// SamePayload reports whether two copies carry the same logical message.
// Seq is local to each log and is ignored.
func (m *Message) SamePayload(o *Message) bool {
	return m.ID == o.ID &&
		m.SenderID == o.SenderID &&
		m.Body == o.Body &&
		m.AttachmentAddress == o.AttachmentAddress &&
		m.CreatedAt.Equal(o.CreatedAt) &&
		m.Delivered == o.Delivered
}

func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// Less is the log order: timestamp ascending, then per-log sequence.
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
