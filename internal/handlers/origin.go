package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"chat-relay/pkg/logger"
)

// OriginPolicy decides which browser origins may call the API and open
// websocket connections. Only explicitly listed origins are trusted with the
// session cookie; "*" opens anonymous cross-origin reads and nothing else.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			logger.Warn("Wildcard origin configured: cross-origin requests will not carry credentials")
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether a request carrying the given Origin header may act
// with the caller's session. Requests without an Origin header come from
// non-browser clients and are always accepted. The wildcard does not count.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// AllowsAnyOrigin reports whether "*" was configured.
func (p *OriginPolicy) AllowsAnyOrigin() bool {
	return p.allowAll
}

// CheckOrigin is the websocket upgrader hook. The socket is authenticated by
// cookie, so only trusted origins pass.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.Allowed(origin) {
		return true
	}
	logger.Warn("Blocked WebSocket connection from disallowed origin: %q", origin)
	return false
}
