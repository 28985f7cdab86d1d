package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/app"
	"github.com/imrishuroy/fulfillment-sync/internal/config"
	"github.com/imrishuroy/fulfillment-sync/internal/logger"
)

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

	if cfg.App.RunMode == "lambda" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, zl, app.Options{})
	if err != nil {
		zl.Fatal("failed to init application", zap.Error(err))
	}

	r := a.Router()

	// lambda adapter; background loops run as their own scheduled functions there
	if cfg.App.RunMode == "lambda" {
		adapter := ginadapter.New(r)
		lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			return adapter.ProxyWithContext(ctx, req)
		})
		return
	}

	runServer(cfg, a, r, zl)
}

func runServer(cfg *config.Config, a *app.App, r *gin.Engine, zl *zap.Logger) {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if err := a.StartBackground(bgCtx); err != nil {
		zl.Fatal("failed to start background loops", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Shipping.RequestTimeout*3 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zl.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
	stopBackground()
	if err := a.Close(ctx); err != nil {
		zl.Error("application shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
	zl.Info("server shutdown complete")
}
