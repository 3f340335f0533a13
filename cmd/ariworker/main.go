package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jywan/PBX/internal/ari"
	"github.com/Jywan/PBX/internal/call"
	"github.com/Jywan/PBX/internal/config"
	"github.com/Jywan/PBX/internal/database"
	"github.com/Jywan/PBX/internal/metrics"
	"github.com/Jywan/PBX/internal/ops"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting ariworker",
		"ari_host", cfg.ARIHost,
		"ari_port", cfg.ARIPort,
		"app", cfg.ARIApp,
		"http_port", cfg.HTTPPort,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	recorder := database.NewCallRepository(db)

	// REST client to the telephony engine.
	client := ari.NewClient(cfg.RESTBaseURL(), cfg.ARIApp, cfg.ARIUser, cfg.ARIPass)
	client.Start()
	defer client.Close()

	service := call.NewService(client, recorder)

	// Context for the event listener and background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	listener := ari.NewListener(cfg.EventsURL(), service.HandleEvent)

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(appCtx); err != nil && appCtx.Err() == nil {
			slog.Error("event listener stopped", "error", err)
		}
	}()

	// Ops HTTP server: /healthz and /metrics.
	collector := metrics.NewCollector(service, recorder, time.Now())
	handler := ops.NewServer(db, collector)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("ops server error", "error", err)
	}

	// Graceful shutdown: stop the reader loop first, then let in-flight
	// bridge tasks finish best-effort.
	slog.Info("shutting down")
	appCancel()
	<-listenerDone
	service.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("ops server shutdown error", "error", err)
	}

	slog.Info("ariworker stopped")
}
