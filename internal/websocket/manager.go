package websocket

import (
	"context"
	"sync"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/models"

	"github.com/gorilla/websocket"
)

// Manager wires the registry, heartbeat monitor and relay together and
// owns the goroutines of every served connection.
type Manager struct {
	registry *Registry
	monitor  *Monitor
	relay    *Relay
	cfg      config.RealtimeConfig

	ctx context.Context
	wg  sync.WaitGroup
}

// NewManager starts the registry; it runs until ctx is cancelled.
func NewManager(ctx context.Context, store MessageStore, cfg config.RealtimeConfig, sinks ...PresenceSink) *Manager {
	registry := NewRegistry(NewBroadcaster(sinks...))
	m := &Manager{
		registry: registry,
		monitor:  NewMonitor(registry, cfg.PingPeriod, cfg.PongGrace),
		relay:    NewRelay(store, registry, cfg.EchoToSender),
		cfg:      cfg,
		ctx:      ctx,
	}

	go registry.Run(ctx)
	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Snapshot returns the current presence.
func (m *Manager) Snapshot(context.Context) (models.PresenceSnapshot, error) {
	return m.registry.Snapshot(), nil
}

// Serve registers an upgraded connection under a verified identity, starts
// its heartbeat and runs its pumps. The connection is closed if it cannot be
// registered.
func (m *Manager) Serve(conn *websocket.Conn, identity *models.Identity) (string, error) {
	if identity == nil {
		conn.Close()
		return "", ErrIdentityRejected
	}

	// Counted before registering so Wait cannot observe a zero counter
	// between a successful Register and the pumps starting.
	m.wg.Add(2)
	client := NewClient(conn, *identity, m.cfg)
	id, err := m.registry.Register(client, identity)
	if err != nil {
		m.wg.Add(-2)
		conn.Close()
		return "", err
	}
	client.id = id
	m.monitor.Track(id)

	go func() {
		defer m.wg.Done()
		client.writePump()
	}()
	go func() {
		defer m.wg.Done()
		client.readPump(m.ctx, m)
	}()

	return id, nil
}

// Wait blocks until the registry has shut down and every connection
// goroutine has exited, or the timeout elapses.
func (m *Manager) Wait(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-m.registry.Done():
	case <-deadline.C:
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-deadline.C:
		return context.DeadlineExceeded
	}
}
