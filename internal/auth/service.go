package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL   = 12 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute

	minPasswordLen = 12
	maxPasswordLen = 200
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoOperator         = errors.New("operator account is not configured")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

type Service struct {
	jwtSecret    []byte
	accessTTL    time.Duration
	maxAttempts  int
	lockDuration time.Duration
	clock        clockwork.Clock

	mu       sync.Mutex
	operator *Operator
	attempt  loginAttempt
}

func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    defaultAccessTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		clock:        clockwork.NewRealClock(),
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
}

func (s *Service) WithClock(clock clockwork.Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// BootstrapFromEnv installs the operator account. The password is kept only
// as a bcrypt hash.
func (s *Service) BootstrapFromEnv(adminUsername, adminPassword string) error {
	adminUsername = strings.TrimSpace(strings.ToLower(adminUsername))
	adminPassword = strings.TrimSpace(adminPassword)

	if adminUsername == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}
	if !validUsername(adminUsername) {
		return fmt.Errorf("ADMIN_USERNAME must match %s", usernameRegex.String())
	}
	if !validPassword(adminPassword) {
		return fmt.Errorf("ADMIN_PASSWORD must be %d to %d characters", minPasswordLen, maxPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash operator password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.operator = &Operator{Username: adminUsername, PasswordHash: hash}
	s.attempt = loginAttempt{}
	return nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.operator == nil {
		return Tokens{}, ErrNoOperator
	}

	now := s.clock.Now().UTC()
	if now.Before(s.attempt.lockedUntil) {
		return Tokens{}, ErrLoginLocked{Until: s.attempt.lockedUntil}
	}

	// compare even on a username mismatch so timing does not reveal which part was wrong
	passwordErr := bcrypt.CompareHashAndPassword(s.operator.PasswordHash, []byte(password))
	if username != s.operator.Username || passwordErr != nil {
		if until, locked := s.registerFailedAttempt(now); locked {
			return Tokens{}, ErrLoginLocked{Until: until}
		}
		return Tokens{}, ErrInvalidCredentials
	}

	s.attempt = loginAttempt{}
	return s.issueAccessToken(s.operator.Username, now)
}

func (s *Service) registerFailedAttempt(now time.Time) (time.Time, bool) {
	s.attempt.failedAttempts++
	if s.attempt.failedAttempts < s.maxAttempts {
		return time.Time{}, false
	}

	s.attempt = loginAttempt{lockedUntil: now.Add(s.lockDuration)}
	return s.attempt.lockedUntil, true
}

func (s *Service) issueAccessToken(subject string, now time.Time) (Tokens, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return Tokens{}, fmt.Errorf("sign jwt: %w", err)
	}

	return Tokens{
		AccessToken: encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
	}, nil
}

func validUsername(username string) bool {
	return usernameRegex.MatchString(strings.ToLower(username))
}

func validPassword(password string) bool {
	return len(password) >= minPasswordLen && len(password) <= maxPasswordLen
}
