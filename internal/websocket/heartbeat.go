package websocket

import (
	"time"

	"chat-relay/pkg/logger"
)

// Monitor probes every tracked connection each period and evicts those that
// do not acknowledge within the grace window. All timer state lives on the
// registry entry, so a removed connection cannot be acted on by a stale timer.
type Monitor struct {
	registry *Registry
	period   time.Duration
	grace    time.Duration
}

func NewMonitor(registry *Registry, period, grace time.Duration) *Monitor {
	return &Monitor{registry: registry, period: period, grace: grace}
}

// Track starts probing a registered connection.
func (m *Monitor) Track(id string) bool {
	return m.registry.schedule(id, m.period, func() { m.probe(id) })
}

// Pong handles a liveness acknowledgment from the connection. Pongs for
// connections that are no longer registered are ignored.
func (m *Monitor) Pong(id string) {
	m.registry.acknowledge(id, m.period, func() { m.probe(id) })
}

func (m *Monitor) probe(id string) {
	conn, ok := m.registry.beginProbe(id, m.grace, func(probe uint64) { m.expire(id, probe) })
	if !ok {
		return
	}
	if err := conn.Ping(); err != nil {
		logger.Debug("Ping to connection %s failed: %v", id, err)
		m.registry.evict(id, ErrConnectionLost)
	}
}

func (m *Monitor) expire(id string, probe uint64) {
	if m.registry.expireProbe(id, probe) {
		logger.Warn("Connection %s missed heartbeat within %s", id, m.grace)
	}
}
