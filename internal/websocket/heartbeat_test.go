package websocket

import (
	"errors"
	"testing"
	"time"

	"chat-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPeriod = 20 * time.Millisecond
	testGrace  = 10 * time.Millisecond
)

func TestMonitorEvictsSilentConnection(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	m := NewMonitor(r, testPeriod, testGrace)

	conn := &fakeConn{}
	id := mustRegister(t, r, conn, identity("1", "A"))
	require.True(t, m.Track(id))

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, conn.pingCount())

	// One broadcast for the registration and exactly one for the eviction.
	assert.Equal(t, 2, sink.count())
	assert.Empty(t, sink.last())
}

func TestMonitorKeepsAcknowledgingConnection(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	m := NewMonitor(r, testPeriod, testGrace)

	conn := &fakeConn{}
	id := mustRegister(t, r, conn, identity("1", "A"))
	conn.setOnPing(func() { m.Pong(id) })
	require.True(t, m.Track(id))

	assert.Eventually(t, func() bool { return conn.pingCount() >= 4 }, time.Second, 5*time.Millisecond)

	info, ok := r.Info(id)
	require.True(t, ok)
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())
	assert.WithinDuration(t, time.Now(), info.LastPongAt, 5*testPeriod)
	assert.False(t, conn.isClosed())
	assert.Equal(t, 1, sink.count())
}

func TestMonitorIgnoresPongAfterEviction(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	m := NewMonitor(r, testPeriod, testGrace)

	a, b := &fakeConn{}, &fakeConn{}
	mustRegister(t, r, a, identity("1", "A"))
	idB := mustRegister(t, r, b, identity("2", "B"))
	require.True(t, m.Track(idB))

	require.Eventually(t, func() bool { return b.isClosed() }, time.Second, 5*time.Millisecond)
	broadcasts := sink.count()

	m.Pong(idB)
	m.Pong(idB)

	_, ok := r.Info(idB)
	assert.False(t, ok)
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())
	assert.Equal(t, broadcasts, sink.count())
	assert.Equal(t, 1, b.closeCount())
}

func TestMonitorStopsAfterUnregister(t *testing.T) {
	r := startRegistry(t)
	m := NewMonitor(r, testPeriod, testGrace)

	conn := &fakeConn{}
	id := mustRegister(t, r, conn, identity("1", "A"))
	require.True(t, m.Track(id))
	r.Unregister(id)

	time.Sleep(5 * testPeriod)
	assert.Equal(t, 0, conn.pingCount())
	assert.False(t, m.Track(id), "removed connections cannot be tracked")
}

func TestMonitorEvictsOnPingFailure(t *testing.T) {
	r := startRegistry(t)
	m := NewMonitor(r, testPeriod, time.Hour)

	conn := &fakeConn{pingErr: errors.New("broken pipe")}
	id := mustRegister(t, r, conn, identity("1", "A"))
	require.True(t, m.Track(id))

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, conn.isClosed())
}

func TestMonitorUnsolicitedPongDoesNotDisturbSchedule(t *testing.T) {
	r := startRegistry(t)
	m := NewMonitor(r, testPeriod, testGrace)

	conn := &fakeConn{}
	id := mustRegister(t, r, conn, identity("1", "A"))
	require.True(t, m.Track(id))

	before, _ := r.Info(id)
	time.Sleep(time.Millisecond)
	m.Pong(id)

	after, ok := r.Info(id)
	require.True(t, ok)
	assert.Equal(t, StateOpen, after.State)
	assert.True(t, after.LastPongAt.After(before.LastPongAt))

	// Without a reply to the scheduled probe the connection is still evicted.
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
