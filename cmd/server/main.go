// Command server runs the survey file API. With PROCESSING_DISPATCHER=inline
// the processing pipeline runs in the same process; with asynq it only
// enqueues and cmd/worker does the processing.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/app"
	"github.com/dharsanguruparan/surveyfiles/internal/config"
	"github.com/dharsanguruparan/surveyfiles/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	a, err := app.Open(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Fatal("init dependencies", zap.Error(err))
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
