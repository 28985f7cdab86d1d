package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/app"
	"github.com/imrishuroy/fulfillment-sync/internal/config"
	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/reconcile"
)

// Summary is returned to the scheduler invocation.
type Summary struct {
	Reconcile  reconcile.CycleResult `json:"reconcile"`
	Redispatch int                   `json:"redispatched"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	a, err := app.New(context.Background(), cfg, zl, app.Options{})
	if err != nil {
		zl.Fatal("failed to init application", zap.Error(err))
	}
	defer func() { _ = a.Close(context.Background()) }()

	handle := func(ctx context.Context, _ events.CloudWatchEvent) (Summary, error) {
		return runOnce(ctx, a, zl)
	}

	if os.Getenv("RUN_LOCAL") == "true" {
		summary, err := handle(context.Background(), events.CloudWatchEvent{})
		if err != nil {
			zl.Fatal("local run failed", zap.Error(err))
		}
		zl.Info("local run finished", zap.Any("summary", summary))
		return
	}

	lambda.Start(handle)
}

// runOnce performs one tracking cycle, reports it and re-dispatches due retries.
func runOnce(ctx context.Context, a *app.App, zl *zap.Logger) (Summary, error) {
	var s Summary
	res, err := a.Reconciler.RunCycle(ctx)
	s.Reconcile = res
	if err != nil {
		return s, err
	}
	if err := a.Reporter.Report(ctx, res); err != nil {
		zl.Warn("reporting cycle failed", zap.Error(err))
	}
	n, err := a.Sweeper.Sweep(ctx)
	s.Redispatch = n
	return s, err
}
