package websocket

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
)

type entry struct {
	id         string
	conn       Conn
	identity   models.Identity
	state      ConnState
	lastPongAt time.Time

	// timer is the single pending heartbeat timer for this connection.
	// It is replaced on every state transition and stopped on removal.
	timer *time.Timer
	probe uint64
}

func (e *entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Registry owns the set of open connections. All reads and writes run on
// the goroutine started by Run, one operation at a time.
type Registry struct {
	entries  map[string]*entry
	byUser   map[string]map[string]*entry
	presence *Broadcaster

	ops  chan func()
	done chan struct{}
}

func NewRegistry(presence *Broadcaster) *Registry {
	if presence == nil {
		presence = NewBroadcaster()
	}
	return &Registry{
		entries:  make(map[string]*entry),
		byUser:   make(map[string]map[string]*entry),
		presence: presence,
		ops:      make(chan func()),
		done:     make(chan struct{}),
	}
}

// Run processes registry operations until ctx is cancelled, then closes
// every remaining connection and stops its timer.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case op := <-r.ops:
			op()
		}
	}
}

// Done is closed once Run has released every entry.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// do runs fn on the registry goroutine and waits for it to finish.
func (r *Registry) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrRegistryClosed
	}
	<-finished
	return nil
}

// Register binds a connection to a verified identity and announces the new
// presence. A nil or empty identity is refused before anything is stored.
func (r *Registry) Register(conn Conn, identity *models.Identity) (string, error) {
	if identity == nil || identity.UserID == "" {
		return "", ErrIdentityRejected
	}
	if conn == nil {
		return "", fmt.Errorf("register: nil connection")
	}

	e := &entry{
		id:         uuid.NewString(),
		conn:       conn,
		identity:   *identity,
		state:      StateOpen,
		lastPongAt: time.Now(),
	}

	err := r.do(func() {
		r.entries[e.id] = e
		conns, ok := r.byUser[e.identity.UserID]
		if !ok {
			conns = make(map[string]*entry)
			r.byUser[e.identity.UserID] = conns
		}
		conns[e.id] = e
		logger.Info("User %s registered connection %s (%d open)", e.identity.UserID, e.id, len(r.entries))
		r.announce()
	})
	if err != nil {
		return "", err
	}
	return e.id, nil
}

// Unregister removes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	_ = r.do(func() {
		if e, ok := r.entries[id]; ok {
			r.remove(e, nil)
		}
	})
}

func (r *Registry) evict(id string, reason error) bool {
	removed := false
	_ = r.do(func() {
		if e, ok := r.entries[id]; ok {
			r.remove(e, reason)
			removed = true
		}
	})
	return removed
}

// ConnectionsFor returns the ids of every connection bound to userID.
func (r *Registry) ConnectionsFor(userID string) []string {
	var ids []string
	_ = r.do(func() {
		for id := range r.byUser[userID] {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

// Snapshot computes the current presence.
func (r *Registry) Snapshot() models.PresenceSnapshot {
	var s models.PresenceSnapshot
	if err := r.do(func() { s = r.snapshot() }); err != nil {
		return models.PresenceSnapshot{}
	}
	return s
}

// Info reports the state of one connection.
func (r *Registry) Info(id string) (ConnInfo, bool) {
	var info ConnInfo
	var ok bool
	_ = r.do(func() {
		var e *entry
		if e, ok = r.entries[id]; ok {
			info = ConnInfo{
				ID:          e.id,
				UserID:      e.identity.UserID,
				DisplayName: e.identity.DisplayName,
				State:       e.state,
				LastPongAt:  e.lastPongAt,
			}
		}
	})
	return info, ok
}

func (r *Registry) Len() int {
	n := 0
	_ = r.do(func() { n = len(r.entries) })
	return n
}

// Deliver queues payload on each listed connection that is still registered
// and returns how many accepted it. Connections whose queue is full are
// evicted.
func (r *Registry) Deliver(ids []string, payload []byte) int {
	delivered := 0
	_ = r.do(func() {
		var stalled []*entry
		for _, id := range ids {
			e, ok := r.entries[id]
			if !ok {
				continue
			}
			if e.conn.Send(payload) {
				delivered++
			} else {
				stalled = append(stalled, e)
			}
		}
		if len(stalled) > 0 {
			for _, e := range stalled {
				r.detach(e, ErrSlowConsumer)
			}
			r.announce()
		}
	})
	return delivered
}

// schedule arms the connection's timer while it is Open.
func (r *Registry) schedule(id string, d time.Duration, fn func()) bool {
	armed := false
	_ = r.do(func() {
		e, ok := r.entries[id]
		if !ok || e.state != StateOpen {
			return
		}
		e.stopTimer()
		e.timer = time.AfterFunc(d, fn)
		armed = true
	})
	return armed
}

// beginProbe moves an Open connection to AwaitingPong and arms the grace
// timer. onExpire receives the probe number it was armed for.
func (r *Registry) beginProbe(id string, grace time.Duration, onExpire func(probe uint64)) (Conn, bool) {
	var conn Conn
	_ = r.do(func() {
		e, ok := r.entries[id]
		if !ok || e.state != StateOpen {
			return
		}
		e.stopTimer()
		e.state = StateAwaitingPong
		e.probe++
		probe := e.probe
		e.timer = time.AfterFunc(grace, func() { onExpire(probe) })
		conn = e.conn
	})
	return conn, conn != nil
}

// acknowledge records a liveness acknowledgment. An acknowledgment of an
// outstanding probe cancels the grace timer, returns the connection to
// Open and arms the next probe.
func (r *Registry) acknowledge(id string, next time.Duration, onNext func()) bool {
	answered := false
	_ = r.do(func() {
		e, ok := r.entries[id]
		if !ok {
			return
		}
		e.lastPongAt = time.Now()
		if e.state != StateAwaitingPong {
			return
		}
		e.stopTimer()
		e.state = StateOpen
		e.timer = time.AfterFunc(next, onNext)
		answered = true
	})
	return answered
}

// expireProbe evicts the connection if the given probe is still outstanding.
func (r *Registry) expireProbe(id string, probe uint64) bool {
	expired := false
	_ = r.do(func() {
		e, ok := r.entries[id]
		if !ok || e.state != StateAwaitingPong || e.probe != probe {
			return
		}
		r.remove(e, ErrConnectionLost)
		expired = true
	})
	return expired
}

// remove detaches e and announces the new presence. Registry goroutine only.
func (r *Registry) remove(e *entry, reason error) {
	r.detach(e, reason)
	r.announce()
}

func (r *Registry) detach(e *entry, reason error) {
	e.stopTimer()
	e.state = StateClosed
	delete(r.entries, e.id)
	if conns, ok := r.byUser[e.identity.UserID]; ok {
		delete(conns, e.id)
		if len(conns) == 0 {
			delete(r.byUser, e.identity.UserID)
		}
	}
	if err := e.conn.Close(); err != nil {
		logger.Debug("Error closing connection %s: %v", e.id, err)
	}

	if reason != nil {
		logger.Info("User %s connection %s removed: %v (%d open)", e.identity.UserID, e.id, reason, len(r.entries))
	} else {
		logger.Info("User %s connection %s closed (%d open)", e.identity.UserID, e.id, len(r.entries))
	}
}

func (r *Registry) snapshot() models.PresenceSnapshot {
	s := make(models.PresenceSnapshot, len(r.byUser))
	for _, e := range r.entries {
		if models.IsPlaceholderName(e.identity.DisplayName) {
			continue
		}
		s[e.identity.UserID] = e.identity.DisplayName
	}
	return s
}

// announce publishes the current presence to every registered connection.
// Connections that cannot accept the frame are dropped and the presence is
// recomputed and published again.
func (r *Registry) announce() {
	for {
		targets := make([]*entry, 0, len(r.entries))
		conns := make([]Conn, 0, len(r.entries))
		for _, e := range r.entries {
			targets = append(targets, e)
			conns = append(conns, e.conn)
		}

		failed := r.presence.Broadcast(r.snapshot(), conns)
		if len(failed) == 0 {
			return
		}
		for _, i := range failed {
			r.detach(targets[i], ErrSlowConsumer)
		}
	}
}

func (r *Registry) shutdown() {
	logger.Info("Registry shutting down, closing %d connections", len(r.entries))
	for _, e := range r.entries {
		e.stopTimer()
		e.state = StateClosed
		if err := e.conn.Close(); err != nil {
			logger.Debug("Error closing connection %s: %v", e.id, err)
		}
	}
	r.entries = make(map[string]*entry)
	r.byUser = make(map[string]map[string]*entry)
}
