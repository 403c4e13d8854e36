package websocket

import (
	"encoding/json"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

// PresenceSink receives every computed snapshot in addition to the
// connected clients. Implementations must not block.
type PresenceSink interface {
	PublishPresence(snapshot models.PresenceSnapshot)
}

// Broadcaster turns a presence snapshot into one presence frame and hands
// it to every target connection.
type Broadcaster struct {
	sinks []PresenceSink
}

func NewBroadcaster(sinks ...PresenceSink) *Broadcaster {
	return &Broadcaster{sinks: sinks}
}

// EncodePresence builds the outbound presence frame for a snapshot.
func EncodePresence(snapshot models.PresenceSnapshot) ([]byte, error) {
	return json.Marshal(models.PresenceFrame{Online: snapshot.Online()})
}

// Broadcast sends the snapshot to targets and returns the indexes of the
// targets that did not accept it.
func (b *Broadcaster) Broadcast(snapshot models.PresenceSnapshot, targets []Conn) []int {
	for _, sink := range b.sinks {
		sink.PublishPresence(snapshot.Clone())
	}

	data, err := EncodePresence(snapshot)
	if err != nil {
		logger.Error("Error marshaling presence update: %v", err)
		return nil
	}

	var failed []int
	for i, conn := range targets {
		if !conn.Send(data) {
			failed = append(failed, i)
		}
	}
	logger.Debug("Presence update: %d online, %d connections notified", len(snapshot), len(targets)-len(failed))
	return failed
}
