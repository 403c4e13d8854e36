package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closes  int
	closed  bool
	refuse  bool
	pingErr error
	onPing  func()
}

func (c *fakeConn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.refuse {
		return false
	}
	c.frames = append(c.frames, payload)
	return true
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	c.pings++
	err, hook := c.pingErr, c.onPing
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *fakeConn) setRefuse(v bool) {
	c.mu.Lock()
	c.refuse = v
	c.mu.Unlock()
}

func (c *fakeConn) setOnPing(fn func()) {
	c.mu.Lock()
	c.onPing = fn
	c.mu.Unlock()
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) rawFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// presences decodes every presence frame received so far.
func (c *fakeConn) presences(t *testing.T) []models.PresenceSnapshot {
	t.Helper()
	var out []models.PresenceSnapshot
	for _, raw := range c.rawFrames() {
		var keys map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &keys))
		if _, ok := keys["online"]; !ok {
			continue
		}
		var frame models.PresenceFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		snap := models.PresenceSnapshot{}
		for _, u := range frame.Online {
			snap[u.UserID] = u.DisplayName
		}
		out = append(out, snap)
	}
	return out
}

// messages decodes every message frame received so far.
func (c *fakeConn) messages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	for _, raw := range c.rawFrames() {
		var keys map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &keys))
		if _, ok := keys["senderId"]; !ok {
			continue
		}
		var msg models.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []models.PresenceSnapshot
}

func (s *recordingSink) PublishPresence(snapshot models.PresenceSnapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snapshot)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func (s *recordingSink) last() models.PresenceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return nil
	}
	return s.snaps[len(s.snaps)-1]
}

type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	err      error
	saved    []*models.Message
	onInsert func(msg *models.NewMessage)
}

func (s *fakeStore) InsertMessage(_ context.Context, msg *models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	hook, err := s.onInsert, s.err
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := &models.Message{
		ID:          s.nextID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Text:        msg.Text,
		Attachment:  msg.Attachment,
		CreatedAt:   time.Now().UTC().Add(time.Duration(s.nextID) * time.Microsecond),
	}
	s.saved = append(s.saved, stored)
	return stored, nil
}

func (s *fakeStore) failWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

var errStoreDown = errors.New("store unavailable")

func startRegistry(t *testing.T, sinks ...PresenceSink) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(NewBroadcaster(sinks...))
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return r
}

func identity(id, name string) *models.Identity {
	return &models.Identity{UserID: id, DisplayName: name}
}

func mustRegister(t *testing.T, r *Registry, conn Conn, id *models.Identity) string {
	t.Helper()
	connID, err := r.Register(conn, id)
	require.NoError(t, err)
	return connID
}
