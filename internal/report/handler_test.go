package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/session"
)

type stubSessions struct {
	session bullhorn.Session
	err     error
}

func (s stubSessions) CurrentSession(context.Context) (bullhorn.Session, error) {
	return s.session, s.err
}

type stubFetcher struct {
	lastQuery  bullhorn.EntityQuery
	lastSearch string
	records    []map[string]any
	err        error
}

func (f *stubFetcher) FetchEntity(_ context.Context, _ bullhorn.Session, q bullhorn.EntityQuery) ([]map[string]any, error) {
	f.lastQuery = q
	return f.records, f.err
}

func (f *stubFetcher) SearchEntity(_ context.Context, _ bullhorn.Session, entity, query string, _ []string, count int) ([]map[string]any, error) {
	f.lastSearch = fmt.Sprintf("%s?%s&count=%d", entity, query, count)
	return f.records, f.err
}

func decodeRecords(t *testing.T, raw string) []map[string]any {
	t.Helper()
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var records []map[string]any
	require.NoError(t, decoder.Decode(&records))
	return records
}

var liveSession = stubSessions{session: bullhorn.Session{BhRestToken: "bh-1", RestURL: "https://rest42.example.com/rest-services/7abc/"}}

func TestHandler_DetailedSubmissions(t *testing.T) {
	fetcher := &stubFetcher{records: decodeRecords(t, `[
		{"id":11,"status":"Submitted","dateAdded":1767312000000,"candidate":{"id":5,"firstName":"Ada","lastName":"Lovelace"},"jobOrder":{"id":9,"title":"Hospitalist","clientCorporation":{"name":"Concord"}},"sendingUser":{"firstName":"Sam","lastName":"Reyes"}},
		{"id":12,"status":"Submitted","dateAdded":1767398400000,"candidate":{"id":6,"firstName":"Grace","lastName":"Hopper"},"jobOrder":{"id":9,"title":"Hospitalist"}},
		{"id":13,"dateAdded":1767484800000}
	]`)}
	handler := NewHandler(liveSession, fetcher, time.UTC, nil)

	rec := httptest.NewRecorder()
	handler.Detailed(Submissions)(rec, httptest.NewRequest(http.MethodGet, "/api/submissions/detailed?start=2026-01-01&end=2026-01-31", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "JobSubmission", fetcher.lastQuery.Entity)
	assert.Equal(t, int64(1767225600000), fetcher.lastQuery.Range.StartMillis())
	assert.Equal(t, int64(1769903999999), fetcher.lastQuery.Range.EndMillis())
	assert.Equal(t, bullhorn.MaxCount, fetcher.lastQuery.Count)

	var body struct {
		Count     int               `json:"count"`
		Truncated bool              `json:"truncated"`
		Summary   map[string]int    `json:"summary"`
		Range     map[string]string `json:"range"`
		Data      []map[string]any  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, 3, body.Count)
	assert.False(t, body.Truncated)
	assert.Equal(t, map[string]int{"Submitted": 2, "Unknown": 1}, body.Summary)
	assert.Equal(t, "2026-01-31T23:59:59.999Z", body.Range["end"])
	assert.Equal(t, "Ada Lovelace", body.Data[0]["candidate_name"])
	assert.Equal(t, "Concord", body.Data[0]["client"])
	assert.Equal(t, "Sam Reyes", body.Data[0]["recruiter"])
	assert.Equal(t, "2026-01-02T00:00:00Z", body.Data[0]["date_added"])
	assert.Equal(t, "", body.Data[1]["client"])
}

func TestHandler_DetailedDefaultsToCurrentMonth(t *testing.T) {
	fetcher := &stubFetcher{}
	handler := NewHandler(liveSession, fetcher, time.UTC, nil)
	handler.WithClock(clockwork.NewFakeClockAt(time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)))

	rec := httptest.NewRecorder()
	handler.Detailed(Placements)(rec, httptest.NewRequest(http.MethodGet, "/api/placements/detailed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Placement", fetcher.lastQuery.Entity)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), fetcher.lastQuery.Range.Start)
	assert.Equal(t, 28, fetcher.lastQuery.Range.End.Day())
}

func TestHandler_DetailedFlagsTruncation(t *testing.T) {
	records := make([]map[string]any, 0, 10)
	for i := 0; i < 10; i++ {
		records = append(records, map[string]any{"id": json.Number(fmt.Sprint(i)), "status": "Open"})
	}
	fetcher := &stubFetcher{records: records}
	handler := NewHandler(liveSession, fetcher, time.UTC, nil)

	rec := httptest.NewRecorder()
	handler.Detailed(Jobs)(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/detailed?year=2026&count=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, fetcher.lastQuery.Count)
	assert.Contains(t, rec.Body.String(), `"truncated":true`)
}

func TestHandler_DetailedErrors(t *testing.T) {
	tests := []struct {
		name     string
		sessions stubSessions
		fetchErr error
		target   string
		status   int
	}{
		{name: "bad range", sessions: liveSession, target: "/x?start=2026-01-01", status: http.StatusBadRequest},
		{name: "bad count", sessions: liveSession, target: "/x?count=-3", status: http.StatusBadRequest},
		{name: "not authorized", sessions: stubSessions{err: session.ErrNotAuthorized}, target: "/x", status: http.StatusConflict},
		{name: "no session", sessions: stubSessions{err: session.ErrNoSession}, target: "/x", status: http.StatusConflict},
		{name: "vendor error", sessions: liveSession, fetchErr: &bullhorn.APIError{Entity: "JobOrder", Status: 401, Body: `{"errorMessage":"Bad 'BhRestToken' or timed-out."}`}, target: "/x", status: http.StatusBadGateway},
		{name: "transport error", sessions: liveSession, fetchErr: fmt.Errorf("query JobOrder: %w", context.DeadlineExceeded), target: "/x", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(tt.sessions, &stubFetcher{err: tt.fetchErr}, time.UTC, nil)

			rec := httptest.NewRecorder()
			handler.Detailed(Jobs)(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandler_VendorErrorBodyPassedThrough(t *testing.T) {
	vendorBody := `{"errorMessage":"Bad 'BhRestToken' or timed-out."}`
	handler := NewHandler(liveSession, &stubFetcher{err: &bullhorn.APIError{Entity: "JobOrder", Status: 401, Body: vendorBody}}, time.UTC, nil)

	rec := httptest.NewRecorder()
	handler.Detailed(Jobs)(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/detailed", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, vendorBody, body["vendor_body"])
	assert.Equal(t, float64(401), body["vendor_status"])
}

func TestHandler_OpenJobs(t *testing.T) {
	fetcher := &stubFetcher{records: decodeRecords(t, `[{"id":7,"title":"Welder","isOpen":true,"status":"Accepting Candidates","clientCorporation":{"name":"Acme"}}]`)}
	handler := NewHandler(liveSession, fetcher, time.UTC, nil)

	rec := httptest.NewRecorder()
	handler.OpenJobs(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/open?count=100", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "JobOrder?isOpen:1&count=100", fetcher.lastSearch)
	assert.Contains(t, rec.Body.String(), `"client":"Acme"`)
	assert.Contains(t, rec.Body.String(), `"truncated":false`)
}
