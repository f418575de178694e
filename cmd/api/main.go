package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bullhorn-gateway/internal/app"
)

func main() {
	rt, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	if err := run(rt); err != nil {
		rt.Logger.Error("server_failed", zap.Error(err))
		_ = rt.Close()
		os.Exit(1)
	}
	_ = rt.Close()
}

func run(rt *app.Runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	maintainerDone := make(chan struct{})
	go func() {
		defer close(maintainerDone)
		_ = rt.Maintainer.Run(ctx)
	}()

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.Logger.Info("server_start", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-maintainerDone
		return err
	case <-ctx.Done():
	}

	rt.Logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-maintainerDone
	return err
}
