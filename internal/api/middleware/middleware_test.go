package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/token"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
)

type mockUserLookup struct {
	users map[uint]*model.User
	err   error
	calls int
}

func (m *mockUserLookup) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

type mockLimiter struct {
	allowed bool
	wait    time.Duration
	err     error
	keys    []string
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	m.keys = append(m.keys, key)
	return m.allowed, m.wait, m.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.NewService("middleware-secret", "HS256", 30)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return svc
}

func newGuardedRouter(tokens TokenValidator, users UserLookup, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(tokens, users, newTestLogger())}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "role": user.Role})
	})
	r.GET("/protected", handlers...)
	return r
}

func doGet(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate_ValidTokenResolvesUser(t *testing.T) {
	tokens := newTokenService(t)
	users := &mockUserLookup{users: map[uint]*model.User{5: {ID: 5, Role: model.RoleUser, IsActive: true}}}
	r := newGuardedRouter(tokens, users)

	tok, err := tokens.Issue(5, model.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	w := doGet(r, "Bearer "+tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":5`) {
		t.Fatalf("expected resolved user id 5, got %s", w.Body.String())
	}
}

func TestAuthenticate_MissingOrMalformedHeader(t *testing.T) {
	r := newGuardedRouter(newTokenService(t), &mockUserLookup{})
	for _, header := range []string{"", "Token abc", "Bearer", "Bearer   "} {
		w := doGet(r, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
		if w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("header %q: expected WWW-Authenticate challenge", header)
		}
		if !strings.Contains(w.Body.String(), "Not authenticated") {
			t.Fatalf("header %q: unexpected body %s", header, w.Body.String())
		}
	}
}

func TestAuthenticate_InvalidAndExpiredToken(t *testing.T) {
	tokens := newTokenService(t)
	users := &mockUserLookup{users: map[uint]*model.User{1: {ID: 1, Role: model.RoleUser}}}
	r := newGuardedRouter(tokens, users)

	past := time.Now().Add(-2 * time.Hour)
	expiredIssuer, err := token.NewService("middleware-secret", "HS256", 30, token.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("expired issuer: %v", err)
	}
	expired, err := expiredIssuer.Issue(1, model.RoleUser)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}

	for _, tok := range []string{"not-a-jwt", expired} {
		w := doGet(r, "Bearer "+tok)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Invalid or expired token") {
			t.Fatalf("unexpected body %s", w.Body.String())
		}
	}
	if users.calls != 0 {
		t.Fatalf("user store must not be queried for rejected tokens")
	}
}

func TestAuthenticate_DeletedAccount(t *testing.T) {
	tokens := newTokenService(t)
	r := newGuardedRouter(tokens, &mockUserLookup{users: map[uint]*model.User{}})

	tok, _ := tokens.Issue(99, model.RoleUser)
	w := doGet(r, "Bearer "+tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "User not found") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestAuthenticate_InactiveUserStillAccepted(t *testing.T) {
	tokens := newTokenService(t)
	users := &mockUserLookup{users: map[uint]*model.User{3: {ID: 3, Role: model.RoleUser, IsActive: false}}}
	r := newGuardedRouter(tokens, users)

	tok, _ := tokens.Issue(3, model.RoleUser)
	if w := doGet(r, "Bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("expected inactive user to pass authentication, got %d", w.Code)
	}
}

func TestAuthenticate_StoreError(t *testing.T) {
	tokens := newTokenService(t)
	r := newGuardedRouter(tokens, &mockUserLookup{err: errors.New("db down")})

	tok, _ := tokens.Issue(1, model.RoleUser)
	if w := doGet(r, "Bearer "+tok); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tokens := newTokenService(t)
	users := &mockUserLookup{users: map[uint]*model.User{
		1: {ID: 1, Role: model.RoleUser},
		2: {ID: 2, Role: model.RoleAdmin},
	}}
	r := newGuardedRouter(tokens, users, RequireRole(model.RoleAdmin))

	// 角色以数据库记录为准，而不是 token 中的 role
	userTok, _ := tokens.Issue(1, model.RoleAdmin)
	w := doGet(r, "Bearer "+userTok)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Admins only") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	adminTok, _ := tokens.Issue(2, model.RoleAdmin)
	if w := doGet(r, "Bearer "+adminTok); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestRateLimitByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	newRouter := func(l Limiter) *gin.Engine {
		r := gin.New()
		r.POST("/login", RateLimitByIP(l, "login", newTestLogger()), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}
	post := func(r http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.1.2.3:4567"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	rejecting := &mockLimiter{allowed: false, wait: 1500 * time.Millisecond}
	w := post(newRouter(rejecting))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", w.Header().Get("Retry-After"))
	}
	if len(rejecting.keys) != 1 || rejecting.keys[0] != "login:10.1.2.3" {
		t.Fatalf("unexpected limiter keys %v", rejecting.keys)
	}

	if w := post(newRouter(&mockLimiter{allowed: true})); w.Code != http.StatusOK {
		t.Fatalf("expected 200 when allowed, got %d", w.Code)
	}
	if w := post(newRouter(&mockLimiter{err: errors.New("redis down")})); w.Code != http.StatusOK {
		t.Fatalf("expected fail-open on limiter error, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	generated := w.Header().Get(RequestIDHeader)
	if generated == "" || generated != w.Body.String() {
		t.Fatalf("expected generated request id, header=%q body=%q", generated, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected request id to be propagated")
	}
}
