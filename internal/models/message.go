package models

import (
	"strings"
	"time"
)

// Attachment carries a file name and an opaque payload reference. The
// payload encoding is chosen by the client and never inspected here.
type Attachment struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Message is a persisted chat unit. ID and CreatedAt are assigned by the
// store and the record is never mutated afterwards.
type Message struct {
	ID          int64       `json:"id"`
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId"`
	Text        string      `json:"text,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewMessage is the input to a store insert.
type NewMessage struct {
	SenderID    string
	RecipientID string
	Text        string
	Attachment  *Attachment
}

// HasContent reports whether at least one of text or attachment is present.
func (m *NewMessage) HasContent() bool {
	if strings.TrimSpace(m.Text) != "" {
		return true
	}
	return m.Attachment != nil && m.Attachment.Name != ""
}
