package bullhorn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bullhorn-gateway/internal/metrics"
)

type Session struct {
	BhRestToken string
	RestURL     string
}

type SessionExchanger struct {
	loginURL   string
	httpClient *http.Client
}

func NewSessionExchanger(cfg Config) *SessionExchanger {
	cfg = cfg.withDefaults()
	return &SessionExchanger{loginURL: cfg.LoginURL, httpClient: cfg.HTTPClient}
}

type loginResponse struct {
	BhRestToken string `json:"BhRestToken"`
	RestURL     string `json:"restUrl"`
}

// Exchange trades an access token for a REST session. The tenant login
// endpoint derived from knownRestURL is tried before the global one. When
// every endpoint fails the error is a *SessionError listing each attempt.
func (e *SessionExchanger) Exchange(ctx context.Context, accessToken, knownRestURL string) (Session, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Session{}, &SessionError{Attempts: []SessionAttempt{{URL: e.loginURL, Err: errors.New("missing access token")}}}
	}

	sessionErr := &SessionError{}
	for _, candidate := range e.candidates(knownRestURL) {
		session, status, err := e.login(ctx, candidate.url, accessToken)
		metrics.IncrementSessionExchange(candidate.kind, err == nil)
		if err == nil {
			return session, nil
		}
		sessionErr.Attempts = append(sessionErr.Attempts, SessionAttempt{URL: candidate.url, Status: status, Err: err})

		if ctx.Err() != nil {
			break
		}
	}

	return Session{}, sessionErr
}

type loginCandidate struct {
	kind string
	url  string
}

func (e *SessionExchanger) candidates(knownRestURL string) []loginCandidate {
	out := make([]loginCandidate, 0, 2)

	if tenant := tenantLoginURL(knownRestURL); tenant != "" && tenant != e.loginURL {
		out = append(out, loginCandidate{kind: "tenant", url: tenant})
	}

	return append(out, loginCandidate{kind: "global", url: e.loginURL})
}

func tenantLoginURL(restURL string) string {
	restURL = strings.TrimSpace(restURL)
	if restURL == "" {
		return ""
	}

	parsed, err := url.Parse(restURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	return parsed.Scheme + "://" + parsed.Host + "/rest-services/login"
}

func (e *SessionExchanger) login(ctx context.Context, loginURL, accessToken string) (Session, int, error) {
	query := url.Values{}
	query.Set("version", "*")
	query.Set("access_token", accessToken)

	var payload loginResponse
	status, errBody, err := getJSON(ctx, e.httpClient, loginURL+"?"+query.Encode(), &payload)
	if err != nil {
		return Session{}, status, err
	}
	if errBody != "" || status < 200 || status >= 300 {
		return Session{}, status, fmt.Errorf("status %d: %s", status, errBody)
	}
	if payload.BhRestToken == "" || payload.RestURL == "" {
		return Session{}, status, errors.New("login response missing BhRestToken or restUrl")
	}

	return Session{BhRestToken: payload.BhRestToken, RestURL: payload.RestURL}, status, nil
}

type pingResponse struct {
	SessionExpires json.Number `json:"sessionExpires"`
}

// Ping reports the server-side expiry of the REST session.
func (e *SessionExchanger) Ping(ctx context.Context, session Session) (time.Time, error) {
	if session.BhRestToken == "" || session.RestURL == "" {
		return time.Time{}, errors.New("ping session: no session")
	}

	query := url.Values{}
	query.Set("BhRestToken", session.BhRestToken)

	var payload pingResponse
	status, errBody, err := getJSON(ctx, e.httpClient, restEndpoint(session.RestURL, "ping")+"?"+query.Encode(), &payload)
	if err != nil {
		return time.Time{}, fmt.Errorf("ping session: %w", err)
	}
	if status < 200 || status >= 300 {
		return time.Time{}, &APIError{Entity: "ping", Status: status, Body: errBody}
	}

	millis, err := payload.SessionExpires.Int64()
	if err != nil || millis <= 0 {
		return time.Time{}, errors.New("ping session: response missing sessionExpires")
	}

	return time.UnixMilli(millis).UTC(), nil
}

func restEndpoint(restURL string, parts ...string) string {
	base := strings.TrimRight(restURL, "/")
	return base + "/" + strings.Join(parts, "/")
}
