package session

import (
	"time"

	"bullhorn-gateway/internal/tokenstore"
)

type State int

const (
	NoToken State = iota
	Valid
	AccessExpiringSoon
	SessionExpiringSoon
	Broken
)

var allStates = []State{NoToken, Valid, AccessExpiringSoon, SessionExpiringSoon, Broken}

func (s State) String() string {
	switch s {
	case NoToken:
		return "no_token"
	case Valid:
		return "valid"
	case AccessExpiringSoon:
		return "access_expiring_soon"
	case SessionExpiringSoon:
		return "session_expiring_soon"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateNames() []string {
	names := make([]string, 0, len(allStates))
	for _, s := range allStates {
		names = append(names, s.String())
	}
	return names
}

// Evaluate classifies a record at now. Access expiry wins over session
// expiry because a session cannot be re-derived from a stale access token.
// A record without a session counts as SessionExpiringSoon; an unknown
// session expiry does not. A record whose refresh token was rejected stays
// Broken until a new authorization replaces it.
func Evaluate(rec tokenstore.Record, now time.Time, accessWindow, sessionWindow time.Duration) State {
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return NoToken
	}
	if rec.RefreshRejected() {
		return Broken
	}

	if rec.AccessToken == "" || rec.AccessTokenExpiresAt.IsZero() || rec.AccessTokenExpiresAt.Sub(now) <= accessWindow {
		return AccessExpiringSoon
	}

	if !rec.HasSession() {
		return SessionExpiringSoon
	}
	if !rec.BhRestTokenExpiresAt.IsZero() && rec.BhRestTokenExpiresAt.Sub(now) <= sessionWindow {
		return SessionExpiringSoon
	}

	return Valid
}
