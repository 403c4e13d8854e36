package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/services"
	ws "chat-relay/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memoryDB is an in-process database.Database.
type memoryDB struct {
	mu       sync.Mutex
	users    map[string]*models.User
	byName   map[string]*models.User
	messages []*models.Message
	nextUser int
	nextMsg  int64
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		users:  make(map[string]*models.User),
		byName: make(map[string]*models.User),
	}
}

func (db *memoryDB) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.byName[username]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func (db *memoryDB) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.byName[username]; ok {
		return nil, database.ErrDuplicate
	}
	db.nextUser++
	u := &models.User{
		ID:           strconv.Itoa(db.nextUser),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users[u.ID] = u
	db.byName[username] = u
	return u, nil
}

func (db *memoryDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func (db *memoryDB) ListUsers(context.Context) ([]*models.DirectoryEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*models.DirectoryEntry, 0, len(db.users))
	for _, u := range db.users {
		out = append(out, &models.DirectoryEntry{UserID: u.ID, DisplayName: u.Username})
	}
	return out, nil
}

func (db *memoryDB) InsertMessage(_ context.Context, msg *models.NewMessage) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextMsg++
	stored := &models.Message{
		ID:          db.nextMsg,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Text:        msg.Text,
		Attachment:  msg.Attachment,
		CreatedAt:   time.Now().UTC(),
	}
	db.messages = append(db.messages, stored)
	return stored, nil
}

func (db *memoryDB) QueryConversation(_ context.Context, a, b string) ([]*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Message
	for _, m := range db.messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (db *memoryDB) Close() error { return nil }

type fixture struct {
	db      *memoryDB
	auth    *auth.Service
	manager *ws.Manager
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	realtime := config.DefaultRealtime()
	realtime.PingPeriod = time.Minute
	realtime.PongGrace = time.Minute
	realtime.WriteWait = time.Second

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"http://chat.example"}},
		JWT: config.JWTConfig{
			Secret:     []byte("handler-test-secret"),
			ExpiresIn:  time.Hour,
			CookieName: "token",
		},
		Realtime: realtime,
	}
	return newFixtureWithConfig(t, cfg)
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	db := newMemoryDB()
	authService := auth.NewService(db, cfg.JWT)

	ctx, cancel := context.WithCancel(context.Background())
	manager := ws.NewManager(ctx, db, cfg.Realtime)
	t.Cleanup(func() {
		cancel()
		_ = manager.Wait(2 * time.Second)
	})

	router := NewRouter(Dependencies{
		Config:        cfg,
		Auth:          authService,
		Conversations: services.NewConversationService(db, db),
		Realtime:      manager,
	})

	return &fixture{db: db, auth: authService, manager: manager, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// register creates a user through the API and returns its id and session cookie.
func (f *fixture) register(t *testing.T, username string) (string, *http.Cookie) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/register", models.RegisterRequest{Username: username, Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID, sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
