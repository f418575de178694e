package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"bullhorn-gateway/internal/session"
)

type Ticker interface {
	Tick(ctx context.Context) (session.State, error)
}

type EventPruner interface {
	PruneEvents(ctx context.Context, retention time.Duration, batchSize int) (int64, error)
}

type TickHandler struct {
	maintainer     Ticker
	pruner         EventPruner
	logger         *zap.Logger
	cronSecret     string
	eventRetention time.Duration
	batchSize      int
}

// NewTickHandler returns a handler for the scheduler hook. pruner may be nil
// when no database mirror is configured.
func NewTickHandler(
	maintainer Ticker,
	pruner EventPruner,
	logger *zap.Logger,
	cronSecret string,
	eventRetention time.Duration,
	batchSize int,
) *TickHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickHandler{
		maintainer:     maintainer,
		pruner:         pruner,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		eventRetention: eventRetention,
		batchSize:      batchSize,
	}
}

type tickResult struct {
	State        session.State `json:"state"`
	TickError    string        `json:"tick_error,omitempty"`
	PrunedEvents int64         `json:"pruned_events"`
	PruneSkipped bool          `json:"prune_skipped,omitempty"`
	PruneError   string        `json:"prune_error,omitempty"`
}

func (h *TickHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var result tickResult
	state, tickErr := h.maintainer.Tick(r.Context())
	result.State = state
	if tickErr != nil {
		result.TickError = tickErr.Error()
	}

	if h.pruner == nil {
		result.PruneSkipped = true
	} else {
		deleted, err := h.pruner.PruneEvents(r.Context(), h.eventRetention, h.batchSize)
		if err != nil {
			h.logger.Error("token_event_prune_failed", zap.Stringer("state", state), zap.Error(err))
			sentry.CaptureException(err)
			result.PruneError = err.Error()
			writeJSON(w, http.StatusInternalServerError, struct {
				Error string `json:"error"`
				tickResult
			}{Error: "prune failed", tickResult: result})
			return
		}
		result.PrunedEvents = deleted
	}

	h.logger.Info("maintenance_tick_completed",
		zap.Stringer("state", state),
		zap.Int64("pruned_events", result.PrunedEvents),
		zap.NamedError("tick_error", tickErr),
	)

	status := http.StatusOK
	if tickErr != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
