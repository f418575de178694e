package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/session"
)

type SessionSource interface {
	CurrentSession(ctx context.Context) (bullhorn.Session, error)
}

type Fetcher interface {
	FetchEntity(ctx context.Context, s bullhorn.Session, q bullhorn.EntityQuery) ([]map[string]any, error)
	SearchEntity(ctx context.Context, s bullhorn.Session, entity, query string, fields []string, count int) ([]map[string]any, error)
}

type Handler struct {
	sessions SessionSource
	fetcher  Fetcher
	location *time.Location
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewHandler(sessions SessionSource, fetcher Fetcher, location *time.Location, logger *zap.Logger) *Handler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		fetcher:  fetcher,
		location: location,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
}

func (h *Handler) WithClock(clock clockwork.Clock) {
	if clock != nil {
		h.clock = clock
	}
}

type rangeView struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type response struct {
	Report    string         `json:"report"`
	Entity    string         `json:"entity"`
	Range     *rangeView     `json:"range,omitempty"`
	Count     int            `json:"count"`
	Truncated bool           `json:"truncated"`
	Summary   map[string]int `json:"summary"`
	Data      []Row          `json:"data"`
}

func (h *Handler) Detailed(def Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		dateRange, err := bullhorn.ParseDateRange(
			query.Get("start"), query.Get("end"), query.Get("year"), query.Get("month"),
			h.location, h.clock.Now(),
		)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		count, err := countParam(query.Get("count"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s, err := h.sessions.CurrentSession(r.Context())
		if err != nil {
			h.writeFetchError(w, def.Entity, err)
			return
		}

		records, err := h.fetcher.FetchEntity(r.Context(), s, bullhorn.EntityQuery{
			Entity:    def.Entity,
			DateField: def.DateField,
			Range:     dateRange,
			Fields:    def.Fields,
			OrderBy:   def.OrderBy,
			Count:     count,
		})
		if err != nil {
			h.writeFetchError(w, def.Entity, err)
			return
		}

		rows := Flatten(def, records)
		writeJSON(w, http.StatusOK, response{
			Report: def.Name,
			Entity: def.Entity,
			Range: &rangeView{
				Start: dateRange.Start.Format(time.RFC3339),
				End:   dateRange.End.Format("2006-01-02T15:04:05.000Z07:00"),
			},
			Count:     len(rows),
			Truncated: len(records) >= effectiveCount(count),
			Summary:   Summarize(rows),
			Data:      rows,
		})
	}
}

func (h *Handler) OpenJobs(w http.ResponseWriter, r *http.Request) {
	count, err := countParam(r.URL.Query().Get("count"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.sessions.CurrentSession(r.Context())
	if err != nil {
		h.writeFetchError(w, "JobOrder", err)
		return
	}

	records, err := h.fetcher.SearchEntity(r.Context(), s, "JobOrder", "isOpen:1", OpenJobFields, count)
	if err != nil {
		h.writeFetchError(w, "JobOrder", err)
		return
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, flattenJob(record))
	}

	writeJSON(w, http.StatusOK, response{
		Report:    "open_jobs",
		Entity:    "JobOrder",
		Count:     len(rows),
		Truncated: len(records) >= effectiveCount(count),
		Summary:   Summarize(rows),
		Data:      rows,
	})
}

func (h *Handler) writeFetchError(w http.ResponseWriter, entity string, err error) {
	var apiErr *bullhorn.APIError
	switch {
	case errors.Is(err, session.ErrNotAuthorized):
		writeError(w, http.StatusConflict, "bullhorn is not authorized, visit /login")
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusConflict, "no rest session, try /api/refresh")
	case errors.As(err, &apiErr):
		h.logger.Warn("bullhorn_query_failed",
			zap.String("entity", entity),
			zap.Int("vendor_status", apiErr.Status),
		)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         "bullhorn " + entity + " query failed",
			"vendor_status": apiErr.Status,
			"vendor_body":   apiErr.Body,
		})
	default:
		h.logger.Error("bullhorn_query_error", zap.String("entity", entity), zap.Error(err))
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to query bullhorn")
	}
}

func countParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return bullhorn.MaxCount, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return 0, errors.New("count must be a positive integer")
	}
	return effectiveCount(count), nil
}

func effectiveCount(count int) int {
	if count <= 0 || count > bullhorn.MaxCount {
		return bullhorn.MaxCount
	}
	return count
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
