package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandler_LoginSetsSessionCookie(t *testing.T) {
	handler := NewHandler(newTestService(t), true)

	rec := httptest.NewRecorder()
	handler.Login(rec, newLoginRequest(`{"username":"operator","password":"correct horse battery"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Contains(t, rec.Body.String(), cookies[0].Value)
}

func TestHandler_LoginValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `{"username":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"username":"operator","password":"correct horse battery","x":1}`, status: http.StatusBadRequest},
		{name: "bad username", body: `{"username":"a","password":"correct horse battery"}`, status: http.StatusBadRequest},
		{name: "short password", body: `{"username":"operator","password":"short"}`, status: http.StatusBadRequest},
		{name: "wrong password", body: `{"username":"operator","password":"not the password"}`, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(newTestService(t), false)
			rec := httptest.NewRecorder()
			handler.Login(rec, newLoginRequest(tt.body))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMiddleware(t *testing.T) {
	service := newTestService(t)
	issued, err := service.Login(context.Background(), testUser, testPassword)
	require.NoError(t, err)
	tokens := issued.AccessToken

	refreshTyped := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator", "typ": "refresh", "exp": time.Now().Add(time.Hour).Unix(),
	})
	refreshToken, err := refreshTyped.SignedString([]byte(testSecret))
	require.NoError(t, err)

	protected := Middleware(testSecret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		header string
		cookie string
		status int
	}{
		{name: "bearer", header: "Bearer " + tokens, status: http.StatusTeapot},
		{name: "cookie", cookie: tokens, status: http.StatusTeapot},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "wrong type", header: "Bearer " + refreshToken, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLoginRateLimiter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewLoginRateLimiter(2, time.Minute)
	limiter.WithClock(clock)

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)

	blocked := call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "60", blocked.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, call("10.0.0.2").Code)

	clock.Advance(61 * time.Second)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)
}
