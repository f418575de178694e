package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-jwt-secret-with-enough-bytes"
	testUser     = "operator"
	testPassword = "correct horse battery"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	service := NewService(testSecret)
	require.NoError(t, service.BootstrapFromEnv(" Operator ", testPassword))
	return service
}

func TestService_LoginIssuesAccessToken(t *testing.T) {
	service := newTestService(t)

	tokens, err := service.Login(context.Background(), "OPERATOR", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(defaultAccessTTL.Seconds()), tokens.ExpiresIn)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokens.AccessToken, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "operator", claims["sub"])
	assert.Equal(t, "access", claims["typ"])
}

func TestService_BootstrapRejectsUnusableOperator(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		message  string
	}{
		{name: "missing password", username: testUser, password: "", message: "required together"},
		{name: "short password", username: testUser, password: "hunter2", message: "ADMIN_PASSWORD"},
		{name: "padded short password", username: testUser, password: "   short   ", message: "ADMIN_PASSWORD"},
		{name: "bad username", username: "op erator", password: testPassword, message: "ADMIN_USERNAME"},
		{name: "short username", username: "op", password: testPassword, message: "ADMIN_USERNAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewService(testSecret).BootstrapFromEnv(tt.username, tt.password)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestService_LoginRejectsWrongCredentials(t *testing.T) {
	service := newTestService(t)

	_, err := service.Login(context.Background(), testUser, "wrong password!!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(context.Background(), "someone", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_LocksAfterRepeatedFailures(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	service := newTestService(t)
	service.WithClock(clock)
	service.WithSecurityConfig(3, 10*time.Minute, 0)

	for i := 0; i < 2; i++ {
		_, err := service.Login(context.Background(), testUser, "wrong password!!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.Login(context.Background(), testUser, "wrong password!!")
	var locked ErrLoginLocked
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, clock.Now().UTC().Add(10*time.Minute), locked.Until)

	_, err = service.Login(context.Background(), testUser, testPassword)
	require.True(t, errors.As(err, &locked))

	clock.Advance(11 * time.Minute)
	_, err = service.Login(context.Background(), testUser, testPassword)
	require.NoError(t, err)
}

func TestService_LoginWithoutOperator(t *testing.T) {
	_, err := NewService(testSecret).Login(context.Background(), testUser, testPassword)
	assert.ErrorIs(t, err, ErrNoOperator)
}

func TestService_BootstrapRequiresBoth(t *testing.T) {
	assert.Error(t, NewService(testSecret).BootstrapFromEnv("operator", ""))
	assert.Error(t, NewService(testSecret).BootstrapFromEnv("", testPassword))
}
