package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doodlelabs/doodlechat/internal/ai"
	"github.com/doodlelabs/doodlechat/internal/config"
	"github.com/doodlelabs/doodlechat/internal/logger"
	"github.com/doodlelabs/doodlechat/internal/metrics"
	"github.com/doodlelabs/doodlechat/internal/room"
	"github.com/doodlelabs/doodlechat/internal/server"
	"github.com/doodlelabs/doodlechat/internal/session"
	"github.com/doodlelabs/doodlechat/internal/userstore"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("Starting doodlechat server",
		"instance_id", logger.GetInstanceID(),
		"listen_addr", cfg.ListenAddr,
		"tls", cfg.TLSEnabled(),
		"user_file", cfg.UserFile,
		"ai_endpoint", cfg.AIEndpointURL,
		"ai_model", cfg.AIModel)

	users, err := userstore.Open(cfg.UserFile, log)
	if err != nil {
		log.Error("Failed to open user store", "error", err)
		os.Exit(1)
	}

	sessions := session.NewRegistry(cfg.SessionTTL, cfg.SweepInterval, log)

	completer := ai.NewCompleter(ai.Config{
		EndpointURL:    cfg.AIEndpointURL,
		Model:          cfg.AIModel,
		ConnectTimeout: cfg.AIConnectTimeout,
		RequestTimeout: cfg.AIRequestTimeout,
		CacheTTL:       cfg.AICacheTTL,
	}, log)

	srv := server.New(cfg, log, users, sessions, room.NewRegistry(), completer)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr)
	if metricsSrv != nil {
		log.Info("Metrics endpoint enabled", "addr", cfg.MetricsAddr)
		go func() {
			for err := range metricsSrv.Start() {
				log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srv.Shutdown()
	sessions.Shutdown()
	log.Info("Completion pipeline", "stats", completer.Stats())

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Error("Metrics server shutdown failed", "error", err)
		}
	}

	log.Info("Server stopped")
}
