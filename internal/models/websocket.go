package models

// InboundFrame is what a client sends to relay a message.
type InboundFrame struct {
	RecipientID string      `json:"recipientId"`
	Text        string      `json:"text,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
}

type OnlineUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// PresenceFrame announces the online set.
type PresenceFrame struct {
	Online []OnlineUser `json:"online"`
}

// ErrorFrame reports a rejected inbound frame back to its sender.
type ErrorFrame struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
