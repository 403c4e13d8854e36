package models

import (
	"sort"
	"strings"
)

// PresenceSnapshot maps userId to displayName for every user with at
// least one registered connection. It is always a private copy.
type PresenceSnapshot map[string]string

// IsPlaceholderName reports names that must not appear in presence.
func IsPlaceholderName(name string) bool {
	switch strings.TrimSpace(name) {
	case "", "undefined", "null":
		return true
	}
	return false
}

// Online returns the snapshot as a slice ordered by userId.
func (s PresenceSnapshot) Online() []OnlineUser {
	users := make([]OnlineUser, 0, len(s))
	for id, name := range s {
		users = append(users, OnlineUser{UserID: id, DisplayName: name})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (s PresenceSnapshot) Clone() PresenceSnapshot {
	out := make(PresenceSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
