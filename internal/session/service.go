package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/tokenstore"
)

var (
	ErrNotAuthorized = errors.New("bullhorn is not authorized")
	ErrNoSession     = errors.New("no bullhorn rest session")

	// ErrRefreshRejected is returned without contacting the vendor when the
	// stored refresh token was already rejected.
	ErrRefreshRejected = fmt.Errorf("%w: stored refresh token was already rejected", bullhorn.ErrRefreshExpired)
)

type OAuth interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (bullhorn.Grant, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (bullhorn.Grant, error)
}

type Exchanger interface {
	Exchange(ctx context.Context, accessToken, knownRestURL string) (bullhorn.Session, error)
	Ping(ctx context.Context, session bullhorn.Session) (time.Time, error)
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, kind, detail string) error
}

type Service struct {
	store     tokenstore.Store
	oauth     OAuth
	exchanger Exchanger
	events    EventRecorder
	logger    *zap.Logger
	group     singleflight.Group

	// cycleMu serializes every write of a new access token or session.
	cycleMu sync.Mutex
}

func NewService(store tokenstore.Store, oauth OAuth, exchanger Exchanger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		oauth:     oauth,
		exchanger: exchanger,
		logger:    logger,
	}
}

func (s *Service) WithEvents(events EventRecorder) {
	s.events = events
}

func (s *Service) AuthorizeURL(state string) string {
	return s.oauth.AuthorizeURL(state)
}

// Complete finishes the authorization-code flow. The OAuth pair is persisted
// before the session exchange so a failed exchange can be retried by the
// maintainer without another operator login.
func (s *Service) Complete(ctx context.Context, code string) (tokenstore.Record, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	grant, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return tokenstore.Record{}, err
	}

	knownRestURL := grant.RestURL
	if knownRestURL == "" {
		if previous, err := s.store.Load(ctx); err == nil {
			knownRestURL = previous.RestURL
		}
	}

	record := tokenstore.Record{
		AccessToken:          grant.AccessToken,
		RefreshToken:         grant.RefreshToken,
		AccessTokenExpiresAt: grant.ExpiresAt,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return tokenstore.Record{}, fmt.Errorf("save token record: %w", err)
	}

	s.logger.Info("bullhorn_authorized", zap.Time("access_token_expires_at", grant.ExpiresAt))
	s.recordEvent(ctx, tokenstore.EventAuthorized, "")

	return s.attachSession(ctx, knownRestURL)
}

// Refresh runs one refresh cycle: new access token first, then a new REST
// session derived from it. Concurrent callers share a single cycle, which
// is not cancelled when the caller that started it goes away.
func (s *Service) Refresh(ctx context.Context) (tokenstore.Record, error) {
	value, err, _ := s.group.Do("refresh", func() (any, error) {
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()
		return s.refresh(context.WithoutCancel(ctx))
	})
	record, _ := value.(tokenstore.Record)
	return record, err
}

func (s *Service) refresh(ctx context.Context) (tokenstore.Record, error) {
	current, err := s.load(ctx)
	if err != nil {
		return tokenstore.Record{}, err
	}
	if current.RefreshRejected() {
		return current, fmt.Errorf("refresh access token: %w", ErrRefreshRejected)
	}

	grant, err := s.oauth.RefreshAccessToken(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, bullhorn.ErrRefreshExpired) {
			s.logger.Warn("bullhorn_refresh_expired", zap.Error(err))
			s.markRefreshRejected(ctx, current.RefreshToken)
			s.recordEvent(ctx, tokenstore.EventRefreshExpired, err.Error())
		}
		return current, fmt.Errorf("refresh access token: %w", err)
	}

	updated, err := s.store.Update(ctx, func(record tokenstore.Record) (tokenstore.Record, error) {
		record.AccessToken = grant.AccessToken
		if grant.RefreshToken != "" {
			record.RefreshToken = grant.RefreshToken
		}
		record.AccessTokenExpiresAt = grant.ExpiresAt
		return record, nil
	})
	if err != nil {
		return current, fmt.Errorf("save refreshed tokens: %w", err)
	}

	s.logger.Info("bullhorn_access_token_refreshed",
		zap.Time("access_token_expires_at", updated.AccessTokenExpiresAt),
		zap.Bool("refresh_token_rotated", grant.RefreshToken != current.RefreshToken),
	)
	s.recordEvent(ctx, tokenstore.EventRefreshed, "")

	knownRestURL := updated.RestURL
	if grant.RestURL != "" {
		knownRestURL = grant.RestURL
	}
	return s.attachSession(ctx, knownRestURL)
}

// markRefreshRejected flags the record so no later cycle, in this process or
// another one sharing the store, sends the rejected token again.
func (s *Service) markRefreshRejected(ctx context.Context, refreshToken string) {
	_, err := s.store.Update(ctx, func(record tokenstore.Record) (tokenstore.Record, error) {
		if record.RefreshToken == refreshToken {
			record.RefreshTokenRejectedAt = time.Now().UTC()
		}
		return record, nil
	})
	if err != nil {
		s.logger.Error("bullhorn_refresh_reject_mark_failed", zap.Error(err))
	}
}

// ResyncSession re-derives the REST session from the stored access token.
func (s *Service) ResyncSession(ctx context.Context) (tokenstore.Record, error) {
	value, err, _ := s.group.Do("session", func() (any, error) {
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()

		ctx := context.WithoutCancel(ctx)
		current, err := s.load(ctx)
		if err != nil {
			return tokenstore.Record{}, err
		}
		return s.attachSession(ctx, current.RestURL)
	})
	record, _ := value.(tokenstore.Record)
	return record, err
}

func (s *Service) attachSession(ctx context.Context, knownRestURL string) (tokenstore.Record, error) {
	current, err := s.load(ctx)
	if err != nil {
		return tokenstore.Record{}, err
	}

	session, err := s.exchanger.Exchange(ctx, current.AccessToken, knownRestURL)
	if err != nil {
		s.logger.Warn("bullhorn_session_exchange_failed", zap.Error(err))
		return current, err
	}

	expiresAt := s.sessionExpiry(ctx, session)

	updated, err := s.store.Update(ctx, func(record tokenstore.Record) (tokenstore.Record, error) {
		return record.WithSession(session.BhRestToken, session.RestURL, expiresAt), nil
	})
	if err != nil {
		return current, fmt.Errorf("save rest session: %w", err)
	}

	s.logger.Info("bullhorn_session_exchanged",
		zap.String("rest_url", session.RestURL),
		zap.Time("bh_rest_token_expires_at", expiresAt),
	)
	s.recordEvent(ctx, tokenstore.EventSessionExchanged, session.RestURL)

	return updated, nil
}

func (s *Service) sessionExpiry(ctx context.Context, session bullhorn.Session) time.Time {
	expiresAt, err := s.exchanger.Ping(ctx, session)
	if err != nil {
		s.logger.Warn("bullhorn_session_ping_failed", zap.Error(err))
		return time.Time{}
	}
	return expiresAt
}

// Check pings the stored session and records the expiry the server reports.
func (s *Service) Check(ctx context.Context) (tokenstore.Record, error) {
	session, err := s.CurrentSession(ctx)
	if err != nil {
		return tokenstore.Record{}, err
	}

	expiresAt, err := s.exchanger.Ping(ctx, session)
	if err != nil {
		return tokenstore.Record{}, err
	}

	return s.store.Update(ctx, func(record tokenstore.Record) (tokenstore.Record, error) {
		if record.BhRestToken != session.BhRestToken {
			return record, nil
		}
		record.BhRestTokenExpiresAt = expiresAt
		return record, nil
	})
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx); err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("delete token record: %w", err)
	}

	s.logger.Info("bullhorn_logout")
	s.recordEvent(ctx, tokenstore.EventLogout, "")
	return nil
}

func (s *Service) Current(ctx context.Context) (tokenstore.Record, error) {
	return s.store.Load(ctx)
}

func (s *Service) CurrentSession(ctx context.Context) (bullhorn.Session, error) {
	record, err := s.load(ctx)
	if err != nil {
		return bullhorn.Session{}, err
	}
	if !record.HasSession() {
		return bullhorn.Session{}, ErrNoSession
	}
	return bullhorn.Session{BhRestToken: record.BhRestToken, RestURL: record.RestURL}, nil
}

func (s *Service) load(ctx context.Context) (tokenstore.Record, error) {
	record, err := s.store.Load(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return tokenstore.Record{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	if err != nil {
		return tokenstore.Record{}, fmt.Errorf("load token record: %w", err)
	}
	return record, nil
}

func (s *Service) recordEvent(ctx context.Context, kind, detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordEvent(ctx, kind, detail); err != nil {
		s.logger.Warn("token_event_failed", zap.String("kind", kind), zap.Error(err))
	}
}
