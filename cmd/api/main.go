package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/ChrisPatten/haven-sub001/internal/adapters/http"
	"github.com/ChrisPatten/haven-sub001/internal/bootstrap"
	"github.com/ChrisPatten/haven-sub001/internal/config"
	"github.com/ChrisPatten/haven-sub001/internal/observability/logging"
	"github.com/ChrisPatten/haven-sub001/internal/observability/metrics"
)

const serviceName = "haven-api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		app.IngestUC,
		app.StatusUC,
		app.SearchUC,
		app.DeleteUC,
		httpadapter.Options{
			Service:        serviceName,
			RateLimitRPS:   cfg.SearchRateLimitPerSecond,
			RateLimitBurst: cfg.SearchRateLimitBurst,
			Metrics:        metrics.NewHTTPServerMetrics(serviceName),
			Logger:         logger,
		},
	)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown", "error", err)
	}
}
