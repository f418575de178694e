package bullhorn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAuthBaseURL = "https://auth.bullhornstaffing.com/oauth"
	DefaultLoginURL    = "https://rest.bullhornstaffing.com/rest-services/login"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 8 << 20
	maxErrorBodyBytes  = 2 << 10
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthBaseURL  string
	LoginURL     string
	HTTPClient   *http.Client
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AuthBaseURL) == "" {
		c.AuthBaseURL = DefaultAuthBaseURL
	}
	if strings.TrimSpace(c.LoginURL) == "" {
		c.LoginURL = DefaultLoginURL
	}
	c.AuthBaseURL = strings.TrimRight(c.AuthBaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(defaultHTTPTimeout)
	}
	return c
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// url.Error repeats the query string, which carries tokens
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, truncate(string(body), maxErrorBodyBytes), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
	}

	return resp.StatusCode, "", nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
