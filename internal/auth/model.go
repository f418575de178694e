package auth

import "time"

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator is the single account allowed to drive the Bullhorn authorization.
type Operator struct {
	Username     string
	PasswordHash []byte
}

type loginAttempt struct {
	failedAttempts int
	lockedUntil    time.Time
}
