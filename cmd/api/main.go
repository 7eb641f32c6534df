package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	httpadapter "github.com/kirillkom/bidmatch/internal/adapters/http"
	"github.com/kirillkom/bidmatch/internal/bootstrap"
	"github.com/kirillkom/bidmatch/internal/config"
	"github.com/kirillkom/bidmatch/internal/observability/logging"
	"github.com/kirillkom/bidmatch/internal/observability/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger("api", cfg.LogLevel, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer logging.Install(logger)()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    "api",
		Registerer: httpMetrics.Registry(),
	}, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Services{
		Ingestor:  app.Ingest,
		Documents: app.Documents,
		Search:    app.Search,
		Metadata:  app.Metadata,
		Analysis:  app.Analysis,
		Matching:  app.Matching,
		Drafts:    app.Drafts,
		Workflow:  app.Workflow,
	}, httpMetrics, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	// No WriteTimeout: SSE streams stay open for the whole analysis.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}
	return nil
}
