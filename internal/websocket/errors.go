package websocket

import (
	"encoding/json"
	"errors"

	"chat-relay/internal/models"
)

var (
	ErrIdentityRejected  = errors.New("identity rejected")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrConnectionLost    = errors.New("connection lost")
	ErrSlowConsumer      = errors.New("send buffer full")
	ErrRegistryClosed    = errors.New("registry closed")
)

// errorCode names an error the way it is reported to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return "InvalidMessage"
	case errors.Is(err, ErrPersistenceFailed):
		return "PersistenceFailed"
	case errors.Is(err, ErrIdentityRejected):
		return "IdentityRejected"
	default:
		return "InternalError"
	}
}

// ErrorFrame encodes err as an outbound error frame.
func ErrorFrame(err error) []byte {
	data, _ := json.Marshal(models.ErrorFrame{Error: errorCode(err), Detail: err.Error()})
	return data
}
