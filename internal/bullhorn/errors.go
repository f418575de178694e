package bullhorn

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuth                  = errors.New("bullhorn authorization failed")
	ErrRefreshExpired        = errors.New("bullhorn refresh token expired")
	ErrSessionExchangeFailed = errors.New("bullhorn session exchange failed")
	ErrAPI                   = errors.New("bullhorn api request failed")
	ErrInvalidRange          = errors.New("invalid date range")
)

// AuthError carries the token endpoint's error fields as the provider sent them.
type AuthError struct {
	Status      int
	Code        string
	Description string
	Body        string
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString("bullhorn oauth error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return ErrAuth
}

type SessionAttempt struct {
	URL    string
	Status int
	Err    error
}

// SessionError lists every login endpoint tried during one exchange.
type SessionError struct {
	Attempts []SessionAttempt
}

func (e *SessionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.URL, a.Err))
	}
	return "bullhorn session exchange failed: " + strings.Join(parts, "; ")
}

func (e *SessionError) Unwrap() error {
	return ErrSessionExchangeFailed
}

// APIError is a non-2xx REST response, body kept verbatim for the caller.
type APIError struct {
	Entity string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bullhorn %s request failed with status %d: %s", e.Entity, e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}
