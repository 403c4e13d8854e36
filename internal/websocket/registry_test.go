package websocket

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"chat-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndSnapshot(t *testing.T) {
	r := startRegistry(t)

	a, b := &fakeConn{}, &fakeConn{}
	idA := mustRegister(t, r, a, identity("1", "A"))
	idB := mustRegister(t, r, b, identity("2", "B"))

	assert.NotEqual(t, idA, idB)
	assert.Equal(t, models.PresenceSnapshot{"1": "A", "2": "B"}, r.Snapshot())
	assert.Equal(t, []string{idA}, r.ConnectionsFor("1"))
	assert.Empty(t, r.ConnectionsFor("3"))

	info, ok := r.Info(idA)
	require.True(t, ok)
	assert.Equal(t, StateOpen, info.State)
	assert.Equal(t, "1", info.UserID)
	assert.False(t, info.LastPongAt.IsZero())
}

func TestRegistryRejectsMissingIdentity(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	conn := &fakeConn{}

	_, err := r.Register(conn, nil)
	assert.ErrorIs(t, err, ErrIdentityRejected)

	_, err = r.Register(conn, &models.Identity{DisplayName: "nobody"})
	assert.ErrorIs(t, err, ErrIdentityRejected)

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, conn.rawFrames())
	assert.Equal(t, 0, sink.count())
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	a, b := &fakeConn{}, &fakeConn{}
	idA := mustRegister(t, r, a, identity("1", "A"))
	mustRegister(t, r, b, identity("2", "B"))

	r.Unregister(idA)
	once := r.Snapshot()
	broadcasts := sink.count()

	r.Unregister(idA)
	r.Unregister("never-registered")

	assert.Equal(t, once, r.Snapshot())
	assert.Equal(t, models.PresenceSnapshot{"2": "B"}, once)
	assert.Equal(t, broadcasts, sink.count(), "no-op unregister must not broadcast")
	assert.Equal(t, 1, a.closeCount())

	_, ok := r.Info(idA)
	assert.False(t, ok)
}

func TestRegistryMultiDevice(t *testing.T) {
	r := startRegistry(t)
	phone, laptop := &fakeConn{}, &fakeConn{}
	idPhone := mustRegister(t, r, phone, identity("1", "A"))
	idLaptop := mustRegister(t, r, laptop, identity("1", "A"))

	assert.ElementsMatch(t, []string{idPhone, idLaptop}, r.ConnectionsFor("1"))
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())

	r.Unregister(idPhone)
	assert.Equal(t, []string{idLaptop}, r.ConnectionsFor("1"))
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())
	assert.False(t, laptop.isClosed())

	r.Unregister(idLaptop)
	assert.Empty(t, r.Snapshot())
}

func TestRegistryExcludesPlaceholderNames(t *testing.T) {
	r := startRegistry(t)
	mustRegister(t, r, &fakeConn{}, identity("1", "A"))
	mustRegister(t, r, &fakeConn{}, identity("2", ""))
	mustRegister(t, r, &fakeConn{}, identity("3", "undefined"))

	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())
	assert.Len(t, r.ConnectionsFor("2"), 1)
}

func TestRegistryBroadcastsEveryMutationInOrder(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	a, b := &fakeConn{}, &fakeConn{}

	mustRegister(t, r, a, identity("1", "A"))
	idB := mustRegister(t, r, b, identity("2", "B"))
	r.Unregister(idB)

	assert.Equal(t, []models.PresenceSnapshot{
		{"1": "A"},
		{"1": "A", "2": "B"},
		{"1": "A"},
	}, a.presences(t))

	// b joined after the first broadcast and left before the last.
	assert.Equal(t, []models.PresenceSnapshot{{"1": "A", "2": "B"}}, b.presences(t))
	assert.Equal(t, 3, sink.count())
}

func TestRegistrySnapshotMatchesRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		r := startRegistry(t)
		live := map[string]string{} // connection id -> user id
		var ids []string

		for step := 0; step < 50; step++ {
			if len(ids) == 0 || rng.Intn(3) > 0 {
				user := fmt.Sprint(rng.Intn(5) + 1)
				id := mustRegister(t, r, &fakeConn{}, identity(user, "user"+user))
				live[id] = user
				ids = append(ids, id)
				continue
			}
			// Unregister may hit an already removed id.
			id := ids[rng.Intn(len(ids))]
			r.Unregister(id)
			delete(live, id)
		}

		want := models.PresenceSnapshot{}
		for _, user := range live {
			want[user] = "user" + user
		}
		assert.Equal(t, want, r.Snapshot(), "round %d", round)
		assert.Equal(t, len(live), r.Len(), "round %d", round)
	}
}

func TestRegistryConcurrentOperations(t *testing.T) {
	r := startRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprint(i % 4)
			id, err := r.Register(&fakeConn{}, identity(user, "u"+user))
			if !assert.NoError(t, err) {
				return
			}
			_ = r.Snapshot()
			_ = r.ConnectionsFor(user)
			r.Unregister(id)
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRegistryDeliverEvictsSlowConsumer(t *testing.T) {
	sink := &recordingSink{}
	r := startRegistry(t, sink)
	a, b := &fakeConn{}, &fakeConn{}
	mustRegister(t, r, a, identity("1", "A"))
	idB := mustRegister(t, r, b, identity("2", "B"))
	b.setRefuse(true)

	delivered := r.Deliver([]string{idB, "gone"}, []byte(`{}`))

	assert.Equal(t, 0, delivered)
	assert.True(t, b.isClosed())
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, r.Snapshot())
	assert.Equal(t, models.PresenceSnapshot{"1": "A"}, sink.last())
}

func TestRegistryShutdownReleasesEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(nil)
	go r.Run(ctx)

	a := &fakeConn{}
	id := mustRegister(t, r, a, identity("1", "A"))
	r.schedule(id, 1<<40, func() { t.Error("timer fired after shutdown") })

	cancel()
	<-r.Done()

	assert.True(t, a.isClosed())
	_, err := r.Register(&fakeConn{}, identity("2", "B"))
	assert.ErrorIs(t, err, ErrRegistryClosed)
	r.Unregister(id)
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, r.ConnectionsFor("1"))
}
