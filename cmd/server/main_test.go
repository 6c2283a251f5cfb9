package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/abaquiz/backend/internal/app"
	"github.com/abaquiz/backend/internal/config"
	"github.com/abaquiz/backend/internal/models"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(root, "abaquiz.db")
	cfg.LLM.Mock = true
	cfg.Content.Dir = filepath.Join(root, "content")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AdminUsers = map[string]string{"admin": string(hash)}
	cfg.Auth.BotAPIKey = "bot-key"

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return newRouter(context.Background(), a)
}

func request(h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := request(h, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the test content directory is empty
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, models.AllContentAreas, resp.MissingContent)
}

func TestAdminRoutesRequireLogin(t *testing.T) {
	h := newTestServer(t)

	rec := request(h, "GET", "/api/v1/pool/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(h, "POST", "/api/v1/auth/login", models.LoginRequest{Username: "admin", Password: "hunter2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var auth models.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	require.NotEmpty(t, auth.Token)

	bearer := map[string]string{"Authorization": "Bearer " + auth.Token}
	rec = request(h, "GET", "/api/v1/pool/stats", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.PoolStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, models.HealthEmpty, stats.Status)

	rec = request(h, "GET", "/api/v1/questions", nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the admin token does not open the bot endpoints
	rec = request(h, "POST", "/api/v1/answers", models.RecordAnswerRequest{UserID: 1, QuestionID: 1, Answer: "A"}, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBotRoutesRequireKey(t *testing.T) {
	h := newTestServer(t)
	body := models.RecordDeliveryRequest{UserID: 1, QuestionID: 99}

	rec := request(h, "POST", "/api/v1/deliveries", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(h, "POST", "/api/v1/deliveries", body, map[string]string{"X-Bot-API-Key": "bot-key"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	request(h, "GET", "/health", nil, nil)

	rec := request(h, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abaquiz_http_requests_total")
}
