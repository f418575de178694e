package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/metrics"
	"bullhorn-gateway/internal/tokenstore"
)

const (
	DefaultInterval      = 10 * time.Minute
	DefaultRefreshWindow = 30 * time.Minute
)

type Refresher interface {
	Current(ctx context.Context) (tokenstore.Record, error)
	Refresh(ctx context.Context) (tokenstore.Record, error)
	ResyncSession(ctx context.Context) (tokenstore.Record, error)
}

type MaintainerConfig struct {
	Interval      time.Duration
	AccessWindow  time.Duration
	SessionWindow time.Duration
	Clock         clockwork.Clock
}

type Status struct {
	State     State     `json:"state"`
	LastTick  time.Time `json:"last_tick"`
	LastError string    `json:"last_error,omitempty"`
}

// Maintainer keeps the token record alive on a fixed interval. Once a
// refresh token is rejected the record is marked and the token is never sent
// again; a new authorization replaces it and clears the Broken state. The
// rejected token is also kept in memory in case the mark could not be saved.
type Maintainer struct {
	refresher     Refresher
	logger        *zap.Logger
	clock         clockwork.Clock
	interval      time.Duration
	accessWindow  time.Duration
	sessionWindow time.Duration

	tickMu           sync.Mutex
	deadRefreshToken string

	statusMu sync.RWMutex
	status   Status
}

func NewMaintainer(refresher Refresher, logger *zap.Logger, cfg MaintainerConfig) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.AccessWindow <= 0 {
		cfg.AccessWindow = DefaultRefreshWindow
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = cfg.AccessWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Maintainer{
		refresher:     refresher,
		logger:        logger,
		clock:         cfg.Clock,
		interval:      cfg.Interval,
		accessWindow:  cfg.AccessWindow,
		sessionWindow: cfg.SessionWindow,
		status:        Status{State: NoToken},
	}
}

// Run ticks once immediately and then every interval until ctx is done.
func (m *Maintainer) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("maintainer_started", zap.Duration("interval", m.interval))
	m.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("maintainer_stopped")
			return nil
		case <-ticker.Chan():
			m.runTick(ctx)
		}
	}
}

func (m *Maintainer) runTick(ctx context.Context) {
	if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("maintainer_tick_failed", zap.Error(err))
	}
}

func (m *Maintainer) Tick(ctx context.Context) (State, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	previous := m.Status().State
	state, err := m.tick(ctx, previous)

	status := Status{State: state, LastTick: m.clock.Now().UTC()}
	if err != nil {
		status.LastError = err.Error()
	}
	m.statusMu.Lock()
	m.status = status
	m.statusMu.Unlock()

	metrics.SetMaintainerState(state.String(), stateNames())
	metrics.IncrementMaintainerTick(err == nil)

	if state != previous {
		m.logger.Info("maintainer_state_changed", zap.Stringer("from", previous), zap.Stringer("to", state))
	}
	m.logger.Debug("maintainer_tick", zap.Stringer("state", state))

	return state, err
}

func (m *Maintainer) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

func (m *Maintainer) tick(ctx context.Context, previous State) (State, error) {
	record, err := m.refresher.Current(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		m.deadRefreshToken = ""
		return NoToken, nil
	}
	if err != nil {
		return previous, fmt.Errorf("load token record: %w", err)
	}

	if m.deadRefreshToken != "" {
		if record.RefreshToken == m.deadRefreshToken {
			return Broken, nil
		}
		m.deadRefreshToken = ""
	}

	switch state := Evaluate(record, m.clock.Now(), m.accessWindow, m.sessionWindow); state {
	case AccessExpiringSoon:
		return m.refresh(ctx, record)
	case SessionExpiringSoon:
		if _, err := m.refresher.ResyncSession(ctx); err != nil {
			m.logger.Warn("maintainer_session_resync_failed", zap.Error(err))
			return m.refresh(ctx, record)
		}
		return Valid, nil
	default:
		return state, nil
	}
}

func (m *Maintainer) refresh(ctx context.Context, record tokenstore.Record) (State, error) {
	if _, err := m.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, bullhorn.ErrRefreshExpired) {
			m.deadRefreshToken = record.RefreshToken
			sentry.CaptureException(err)
			return Broken, err
		}
		return Evaluate(record, m.clock.Now(), m.accessWindow, m.sessionWindow), err
	}
	return Valid, nil
}
