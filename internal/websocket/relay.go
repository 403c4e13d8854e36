package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chat-relay/internal/models"
)

// MessageStore is the durable store the relay writes through.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.NewMessage) (*models.Message, error)
}

// Sender identifies the connection an inbound frame arrived on.
type Sender struct {
	ConnectionID string
	Identity     models.Identity
}

// Relay persists inbound messages and fans the stored record out to the
// recipient's live connections.
type Relay struct {
	store    MessageStore
	registry *Registry
	echo     bool
}

// NewRelay builds a relay. With echo set, the stored message is also sent
// to the sender's other connections.
func NewRelay(store MessageStore, registry *Registry, echo bool) *Relay {
	return &Relay{store: store, registry: registry, echo: echo}
}

// DecodeFrame parses an inbound message frame.
func DecodeFrame(raw []byte) (*models.InboundFrame, error) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &frame, nil
}

func validate(frame *models.InboundFrame) (*models.NewMessage, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidMessage)
	}
	recipient := strings.TrimSpace(frame.RecipientID)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipientId is required", ErrInvalidMessage)
	}
	if frame.Attachment != nil && frame.Attachment.Name == "" {
		return nil, fmt.Errorf("%w: attachment name is required", ErrInvalidMessage)
	}

	msg := &models.NewMessage{
		RecipientID: recipient,
		Text:        frame.Text,
		Attachment:  frame.Attachment,
	}
	if !msg.HasContent() {
		return nil, fmt.Errorf("%w: text or attachment is required", ErrInvalidMessage)
	}
	return msg, nil
}

// Relay validates frame, stores it, then delivers the stored record. Nothing
// is delivered unless the store call succeeds.
func (r *Relay) Relay(ctx context.Context, from Sender, frame *models.InboundFrame) (*models.Message, error) {
	msg, err := validate(frame)
	if err != nil {
		return nil, err
	}
	msg.SenderID = from.Identity.UserID

	stored, err := r.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if stored == nil || stored.ID == 0 || stored.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: store returned no id", ErrPersistenceFailed)
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return stored, fmt.Errorf("encode message %d: %w", stored.ID, err)
	}

	targets := r.registry.ConnectionsFor(stored.RecipientID)
	if r.echo {
		seen := make(map[string]bool, len(targets)+1)
		seen[from.ConnectionID] = true
		for _, id := range targets {
			seen[id] = true
		}
		for _, id := range r.registry.ConnectionsFor(stored.SenderID) {
			if !seen[id] {
				targets = append(targets, id)
			}
		}
	}
	r.registry.Deliver(targets, payload)

	return stored, nil
}
