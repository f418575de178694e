package tokenstore

import (
	"errors"
	"time"
)

// Record is the persisted Bullhorn credential set. The BhRestToken is only
// usable against the RestURL it was issued with, so the two are written
// together through WithSession.
type Record struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	BhRestToken          string    `json:"bh_rest_token"`
	BhRestTokenExpiresAt time.Time `json:"bh_rest_token_expires_at"`
	RestURL              string    `json:"rest_url"`

	// RefreshTokenRejectedAt is set when the vendor rejects RefreshToken as
	// expired or revoked. Only a new authorization clears it.
	RefreshTokenRejectedAt time.Time `json:"refresh_token_rejected_at,omitzero"`
}

type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventAuthorized       = "authorized"
	EventRefreshed        = "refreshed"
	EventSessionExchanged = "session_exchanged"
	EventRefreshExpired   = "refresh_expired"
	EventLogout           = "logout"
)

func (r Record) HasSession() bool {
	return r.BhRestToken != "" && r.RestURL != ""
}

func (r Record) WithSession(bhRestToken, restURL string, expiresAt time.Time) Record {
	r.BhRestToken = bhRestToken
	r.RestURL = restURL
	r.BhRestTokenExpiresAt = expiresAt
	return r
}

func (r Record) RefreshRejected() bool {
	return !r.RefreshTokenRejectedAt.IsZero()
}

func (r Record) WithoutSession() Record {
	return r.WithSession("", "", time.Time{})
}

func (r Record) normalized() Record {
	r.AccessTokenExpiresAt = normalizeTime(r.AccessTokenExpiresAt)
	r.BhRestTokenExpiresAt = normalizeTime(r.BhRestTokenExpiresAt)
	r.RefreshTokenRejectedAt = normalizeTime(r.RefreshTokenRejectedAt)
	return r
}

// mirrored matches the microsecond resolution of timestamptz columns.
func (r Record) mirrored() Record {
	r = r.normalized()
	r.AccessTokenExpiresAt = r.AccessTokenExpiresAt.Truncate(time.Microsecond)
	r.BhRestTokenExpiresAt = r.BhRestTokenExpiresAt.Truncate(time.Microsecond)
	r.RefreshTokenRejectedAt = r.RefreshTokenRejectedAt.Truncate(time.Microsecond)
	return r
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

var (
	ErrNotFound    = errors.New("token record not found")
	ErrPersistence = errors.New("token persistence failed")
)
