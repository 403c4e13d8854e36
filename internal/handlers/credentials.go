package handlers

import (
	"net/http"
	"strings"
)

// TokenFromRequest extracts the session credential, looking at the session
// cookie first, then a bearer Authorization header, then the token query
// parameter.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}

	return r.URL.Query().Get("token")
}
