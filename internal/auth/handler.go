// Package auth issues and checks admin tokens. Admins are the configured
// allow-list of usernames with bcrypt password hashes; there is no user
// table behind the admin API.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/abaquiz/backend/internal/models"
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

type Handler struct {
	secret []byte
	ttl    time.Duration
	admins map[string]string
	now    func() time.Time
}

// NewHandler takes the signing secret, token lifetime and a map of
// username to bcrypt hash.
func NewHandler(secret string, ttl time.Duration, admins map[string]string) *Handler {
	return &Handler{
		secret: []byte(secret),
		ttl:    ttl,
		admins: admins,
		now:    time.Now,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Username and password are required"})
		return
	}

	hash, ok := h.admins[req.Username]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid username or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid username or password"})
		return
	}

	token, admin, expires, err := h.IssueToken(req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token"})
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{Token: token, Admin: admin, ExpiresAt: expires})
}

// IssueToken signs an HS256 token for username.
func (h *Handler) IssueToken(username string) (string, models.Admin, time.Time, error) {
	now := h.now()
	expires := now.Add(h.ttl)
	claims := jwt.MapClaims{
		"sub": username,
		"exp": expires.Unix(),
		"iat": now.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", models.Admin{}, time.Time{}, err
	}
	return token, models.Admin{Username: username, IssuedAt: now.UTC()}, expires.UTC(), nil
}

// ValidateToken checks the signature and expiry and that the subject is
// still on the allow-list.
func (h *Handler) ValidateToken(tokenString string) (*models.Admin, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithTimeFunc(h.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidToken
	}
	if _, ok := h.admins[sub]; !ok {
		return nil, ErrInvalidToken
	}

	admin := &models.Admin{Username: sub}
	if iat, err := token.Claims.GetIssuedAt(); err == nil && iat != nil {
		admin.IssuedAt = iat.UTC()
	}
	return admin, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
