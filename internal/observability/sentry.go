package observability

import (
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"
)

var sensitiveParams = []string{"access_token", "refresh_token", "BhRestToken", "code", "client_secret"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			scrubEvent(event)
			return event
		},
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

func scrubEvent(event *sentry.Event) {
	if event == nil || event.Request == nil {
		return
	}
	event.Request.QueryString = scrubQuery(event.Request.QueryString)
	if parsed, err := url.Parse(event.Request.URL); err == nil && parsed.RawQuery != "" {
		parsed.RawQuery = scrubQuery(parsed.RawQuery)
		event.Request.URL = parsed.String()
	}
	delete(event.Request.Headers, "Authorization")
	delete(event.Request.Headers, "Cookie")
}

// scrubQuery replaces credential values in a raw query string.
func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	for _, key := range sensitiveParams {
		if values.Has(key) {
			values.Set(key, "[filtered]")
		}
	}
	return values.Encode()
}
