package models

import "time"

type User struct {
	ID           string    `json:"userId"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is what a verified credential binds to a connection.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
}

// DirectoryEntry is one row of the people list.
type DirectoryEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}
