package bullhorn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"bullhorn-gateway/internal/metrics"
)

// DefaultAccessTokenLifetime applies when the token endpoint omits expires_in.
const DefaultAccessTokenLifetime = 10 * time.Minute

type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	ExpiresAt    time.Time
	RestURL      string
}

type OAuthClient struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewOAuthClient(cfg Config) *OAuthClient {
	cfg = cfg.withDefaults()

	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthBaseURL + "/authorize",
				TokenURL:  cfg.AuthBaseURL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
	}
}

func (c *OAuthClient) AuthorizeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (Grant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		metrics.IncrementOAuthGrant("authorization_code", false)
		return Grant{}, &AuthError{Code: "invalid_request", Description: "missing authorization code"}
	}

	token, err := c.config.Exchange(c.clientContext(ctx), code)
	if err != nil {
		metrics.IncrementOAuthGrant("authorization_code", false)
		return Grant{}, tokenError("exchange authorization code", err)
	}

	metrics.IncrementOAuthGrant("authorization_code", true)
	return grantFromToken(token, time.Now()), nil
}

// RefreshAccessToken mints a new access token. When the provider does not
// rotate the refresh token the previous one is kept in the returned Grant.
// A rejected refresh token yields an error matching ErrRefreshExpired.
func (c *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (Grant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		metrics.IncrementOAuthGrant("refresh_token", false)
		return Grant{}, fmt.Errorf("%w: %w", ErrRefreshExpired, &AuthError{Code: "invalid_grant", Description: "no refresh token stored"})
	}

	source := c.config.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		metrics.IncrementOAuthGrant("refresh_token", false)
		err = tokenError("refresh access token", err)
		var authErr *AuthError
		if errors.As(err, &authErr) && isRefreshExpired(authErr) {
			return Grant{}, fmt.Errorf("%w: %w", ErrRefreshExpired, authErr)
		}
		return Grant{}, err
	}

	metrics.IncrementOAuthGrant("refresh_token", true)
	grant := grantFromToken(token, time.Now())
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

func (c *OAuthClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func grantFromToken(token *oauth2.Token, now time.Time) Grant {
	grant := Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}

	if token.Expiry.IsZero() {
		grant.ExpiresAt = now.Add(DefaultAccessTokenLifetime).UTC()
	}
	grant.ExpiresIn = int64(grant.ExpiresAt.Sub(now).Round(time.Second).Seconds())

	if restURL, ok := token.Extra("restUrl").(string); ok {
		grant.RestURL = restURL
	}

	return grant
}

func tokenError(action string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		authErr := &AuthError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Body:        truncate(string(retrieveErr.Body), maxErrorBodyBytes),
		}
		if retrieveErr.Response != nil {
			authErr.Status = retrieveErr.Response.StatusCode
		}
		return authErr
	}

	if strings.Contains(err.Error(), "missing access_token") {
		return &AuthError{Code: "invalid_response", Description: "token response missing access_token"}
	}

	return fmt.Errorf("%s: %w", action, err)
}

func isRefreshExpired(err *AuthError) bool {
	if strings.EqualFold(err.Code, "invalid_grant") {
		return true
	}

	description := strings.ToLower(err.Description + " " + err.Body)
	return strings.Contains(description, "expired") || strings.Contains(description, "revoked")
}
