package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/tokenstore"
)

const (
	stateCookieName   = "oauth_state"
	stateCookieMaxAge = 10 * time.Minute
	maskedPrefixLen   = 6
)

type StatusReporter interface {
	Status() Status
}

type EventLister interface {
	ListEvents(ctx context.Context, limit int) ([]tokenstore.Event, error)
}

const recentEventLimit = 20

type Handler struct {
	service       *Service
	status        StatusReporter
	events        EventLister
	secureCookies bool
}

func NewHandler(service *Service, status StatusReporter, secureCookies bool) *Handler {
	return &Handler{service: service, status: status, secureCookies: secureCookies}
}

// WithEvents adds the audit trail to the /api/tokens view.
func (h *Handler) WithEvents(events EventLister) {
	h.events = events
}

type tokenView struct {
	Authorized           bool       `json:"authorized"`
	AccessToken          string     `json:"access_token,omitempty"`
	RefreshToken         string     `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
	BhRestToken          string     `json:"bh_rest_token,omitempty"`
	BhRestTokenExpiresAt *time.Time `json:"bh_rest_token_expires_at,omitempty"`
	RestURL              string     `json:"rest_url,omitempty"`
	RefreshRejectedAt    *time.Time `json:"refresh_token_rejected_at,omitempty"`
	Maintainer           *Status    `json:"maintainer,omitempty"`

	RecentEvents []tokenstore.Event `json:"recent_events,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.AuthorizeURL(state), http.StatusFound)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerError := query.Get("error"); providerError != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":                      "authorization was not granted",
			"provider_error":             providerError,
			"provider_error_description": query.Get("error_description"),
		})
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.secureCookies})

	record, err := h.service.Complete(r.Context(), code)
	if err != nil {
		var authErr *bullhorn.AuthError
		var sessionErr *bullhorn.SessionError
		switch {
		case errors.As(err, &authErr):
			writeProviderError(w, http.StatusBadRequest, "authorization code exchange failed", authErr)
		case errors.As(err, &sessionErr):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    "authorized, but the rest session could not be established",
				"attempts": attemptViews(sessionErr),
			})
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to complete authorization")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                   "authorized",
		"rest_url":                 record.RestURL,
		"access_token_expires_at":  timeOrNil(record.AccessTokenExpiresAt),
		"bh_rest_token_expires_at": timeOrNil(record.BhRestTokenExpiresAt),
	})
}

func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Check(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "session check failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"rest_url":           record.RestURL,
		"session_expires_at": timeOrNil(record.BhRestTokenExpiresAt),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	view := tokenView{}
	if h.status != nil {
		status := h.status.Status()
		view.Maintainer = &status
	}
	if h.events != nil {
		events, err := h.events.ListEvents(r.Context(), recentEventLimit)
		if err != nil {
			sentry.CaptureException(err)
		} else {
			view.RecentEvents = events
		}
	}

	record, err := h.service.Current(r.Context())
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			writeJSON(w, http.StatusOK, view)
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to read tokens")
		return
	}

	view.Authorized = true
	view.AccessToken = mask(record.AccessToken)
	view.RefreshToken = mask(record.RefreshToken)
	view.AccessTokenExpiresAt = timeOrNil(record.AccessTokenExpiresAt)
	view.BhRestToken = mask(record.BhRestToken)
	view.BhRestTokenExpiresAt = timeOrNil(record.BhRestTokenExpiresAt)
	view.RestURL = record.RestURL
	view.RefreshRejectedAt = timeOrNil(record.RefreshTokenRejectedAt)

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Refresh(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                   "refreshed",
		"rest_url":                 record.RestURL,
		"access_token_expires_at":  timeOrNil(record.AccessTokenExpiresAt),
		"bh_rest_token_expires_at": timeOrNil(record.BhRestTokenExpiresAt),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	var authErr *bullhorn.AuthError
	var sessionErr *bullhorn.SessionError
	var apiErr *bullhorn.APIError

	switch {
	case errors.Is(err, ErrNotAuthorized):
		writeError(w, http.StatusConflict, "bullhorn is not authorized, visit /login")
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusConflict, "no rest session, try /api/refresh")
	case errors.Is(err, bullhorn.ErrRefreshExpired) && errors.As(err, &authErr):
		writeProviderError(w, http.StatusUnauthorized, "refresh token expired, visit /login", authErr)
	case errors.Is(err, bullhorn.ErrRefreshExpired):
		writeError(w, http.StatusUnauthorized, "refresh token expired, visit /login")
	case errors.As(err, &authErr):
		writeProviderError(w, http.StatusBadGateway, message, authErr)
	case errors.As(err, &sessionErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": message, "attempts": attemptViews(sessionErr)})
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": message, "vendor_status": apiErr.Status, "vendor_body": apiErr.Body})
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, message)
	}
}

func writeProviderError(w http.ResponseWriter, status int, message string, authErr *bullhorn.AuthError) {
	body := map[string]any{
		"error":                      message,
		"provider_error":             authErr.Code,
		"provider_error_description": authErr.Description,
	}
	if authErr.Status != 0 {
		body["provider_status"] = authErr.Status
	}
	writeJSON(w, status, body)
}

func attemptViews(err *bullhorn.SessionError) []map[string]any {
	views := make([]map[string]any, 0, len(err.Attempts))
	for _, a := range err.Attempts {
		view := map[string]any{"url": a.URL}
		if a.Status != 0 {
			view["status"] = a.Status
		}
		if a.Err != nil {
			view["error"] = a.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= maskedPrefixLen {
		return "…"
	}
	return value[:maskedPrefixLen] + "…"
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
