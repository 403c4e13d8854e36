package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/models"

	"github.com/gorilla/websocket"
)

var (
	ErrIdentityRejected = errors.New("identity rejected")
	ErrNoSession        = errors.New("no active session")
)

// WebSocketDialer opens connections to the server's /ws endpoint, sending
// the credential as the session cookie.
type WebSocketDialer struct {
	URL        string
	CookieName string
	Dialer     *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: d.CookieName, Value: credential}).String())

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", ErrIdentityRejected, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// Account talks to the HTTP API and holds the session credential issued at
// login.
type Account struct {
	baseURL *url.URL
	http    *http.Client

	mu    sync.Mutex
	token string
	user  *models.LoginResponse
}

func NewAccount(baseURL string) (*Account, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return &Account{baseURL: u, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// WebSocketURL is the realtime endpoint of the account's server.
func (a *Account) WebSocketURL() string {
	u := *a.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (a *Account) Register(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	return a.authenticate(ctx, "/register", username, password)
}

func (a *Account) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	return a.authenticate(ctx, "/login", username, password)
}

// Logout ends the session on the server and forgets the credential.
func (a *Account) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.user = nil
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL.String()+"/logout", nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Credential returns the current session credential. It satisfies
// CredentialSource.
func (a *Account) Credential(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return "", ErrNoSession
	}
	return a.token, nil
}

// User returns the logged-in user, or nil.
func (a *Account) User() *models.LoginResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *Account) authenticate(ctx context.Context, path, username, password string) (*models.LoginResponse, error) {
	body, err := json.Marshal(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("%s: %s: %s", path, resp.Status, apiErr.Error)
	}

	var out models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", path, err)
	}

	a.mu.Lock()
	a.token = out.Token
	a.user = &out
	a.mu.Unlock()
	return &out, nil
}
