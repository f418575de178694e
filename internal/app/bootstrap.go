package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bullhorn-gateway/internal/auth"
	"bullhorn-gateway/internal/bullhorn"
	"bullhorn-gateway/internal/db"
	"bullhorn-gateway/internal/maintenance"
	"bullhorn-gateway/internal/observability"
	"bullhorn-gateway/internal/report"
	"bullhorn-gateway/internal/session"
	"bullhorn-gateway/internal/tokenstore"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler    http.Handler
	Maintainer *session.Maintainer
	Logger     *zap.Logger
	Close      func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger, logCloser, err := observability.NewLogger(observability.LogConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt, err := build(options, logger)
	if err != nil {
		_ = logger.Sync()
		_ = logCloser.Close()
		return nil, err
	}

	closeDatabase := rt.Close
	rt.Close = func() error {
		observability.FlushSentry()
		err := closeDatabase()
		_ = logger.Sync()
		return errors.Join(err, logCloser.Close())
	}
	return rt, nil
}

func build(options Options, logger *zap.Logger) (*Runtime, error) {
	clientID, err := mustEnv("BULLHORN_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	clientSecret, err := mustEnv("BULLHORN_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	redirectURI, err := mustEnv("BULLHORN_REDIRECT_URI")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	location, err := time.LoadLocation(envOrDefault("REPORT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("load report timezone: %w", err)
	}

	secureCookies := EnvBoolOrDefault("SECURE_COOKIES", envOrDefault("APP_ENV", "development") == "production")

	fileStore := tokenstore.NewFileStore(envOrDefault("TOKEN_FILE", "token_store.json"))
	var (
		store    tokenstore.Store = fileStore
		database *sql.DB
		mirror   *tokenstore.Postgres
	)

	if databaseURL := envOrDefault("DATABASE_URL", ""); databaseURL != "" {
		database, err = openDatabase(databaseURL, options.RunMigrations)
		if err != nil {
			return nil, err
		}
		mirror = tokenstore.NewPostgres(database)
		store = tokenstore.NewMirroredStore(fileStore, mirror, logger)
	}

	bhConfig := bullhorn.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		AuthBaseURL:  envOrDefault("BULLHORN_AUTH_URL", bullhorn.DefaultAuthBaseURL),
		LoginURL:     envOrDefault("BULLHORN_LOGIN_URL", bullhorn.DefaultLoginURL),
		HTTPClient:   bullhorn.NewHTTPClient(envSecondsOrDefault("BULLHORN_HTTP_TIMEOUT_SECONDS", 30)),
	}

	sessionService := session.NewService(
		store,
		bullhorn.NewOAuthClient(bhConfig),
		bullhorn.NewSessionExchanger(bhConfig),
		logger,
	)
	if mirror != nil {
		sessionService.WithEvents(mirror)
	}

	maintainer := session.NewMaintainer(sessionService, logger, session.MaintainerConfig{
		Interval:      envMinutesOrDefault("MAINTAINER_INTERVAL_MINUTES", 10),
		AccessWindow:  envMinutesOrDefault("ACCESS_REFRESH_WINDOW_MINUTES", 30),
		SessionWindow: envMinutesOrDefault("SESSION_REFRESH_WINDOW_MINUTES", 30),
	})

	authService := auth.NewService(jwtSecret)
	authService.WithSecurityConfig(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 720),
	)
	if err := authService.BootstrapFromEnv(os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		if database != nil {
			_ = database.Close()
		}
		return nil, fmt.Errorf("bootstrap operator: %w", err)
	}
	authHandler := auth.NewHandler(authService, secureCookies)
	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	sessionHandler := session.NewHandler(sessionService, maintainer, secureCookies)
	if mirror != nil {
		sessionHandler.WithEvents(mirror)
	}
	reportHandler := report.NewHandler(sessionService, bullhorn.NewQueryClient(bhConfig), location, logger)

	var (
		pruner       maintenance.EventPruner
		healthPinger pinger
	)
	if mirror != nil {
		pruner = mirror
		healthPinger = mirror
	}
	tickHandler := maintenance.NewTickHandler(
		maintainer,
		pruner,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("TOKEN_EVENT_RETENTION_DAYS", 30),
		envIntOrDefault("TOKEN_EVENT_CLEANUP_BATCH_SIZE", 500),
	)

	operator := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(jwtSecret, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)

	mux.Handle("GET /login", operator(sessionHandler.Login))
	mux.HandleFunc("GET /oauth/callback", sessionHandler.Callback)
	mux.Handle("GET /test", operator(sessionHandler.Test))
	mux.Handle("GET /logout", operator(sessionHandler.Logout))
	mux.Handle("GET /api/tokens", operator(sessionHandler.Tokens))
	mux.Handle("POST /api/refresh", operator(sessionHandler.Refresh))

	mux.Handle("GET /api/submissions/detailed", operator(reportHandler.Detailed(report.Submissions)))
	mux.Handle("GET /api/placements/detailed", operator(reportHandler.Detailed(report.Placements)))
	mux.Handle("GET /api/jobs/detailed", operator(reportHandler.Detailed(report.Jobs)))
	mux.Handle("GET /api/jobs/open", operator(reportHandler.OpenJobs))

	mux.HandleFunc("GET /internal/maintenance/tick", tickHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/tick", tickHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(maintainer, healthPinger))
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.SecurityHeadersMiddleware(mux)))

	return &Runtime{
		Handler:    handler,
		Maintainer: maintainer,
		Logger:     logger,
		Close: func() error {
			if database == nil {
				return nil
			}
			return database.Close()
		},
	}, nil
}

func openDatabase(databaseURL string, runMigrations bool) (*sql.DB, error) {
	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 5))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 2))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if runMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return database, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports the maintainer state. With a database mirror
// configured, an unreachable database degrades the status.
func healthHandler(maintainer *session.Maintainer, mirror pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{
			"status":     "ok",
			"time":       time.Now().UTC().Format(time.RFC3339),
			"maintainer": maintainer.Status(),
		}

		if mirror != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := mirror.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
