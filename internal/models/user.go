package models

import "time"

// Admin is an operator allowed to drive generation through the admin API.
// Admins come from the configured allow-list, not from the users table.
type Admin struct {
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	Admin     Admin     `json:"admin"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
