// Package app builds the process-wide object graph once at startup and
// tears it down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/aws"
	"github.com/imrishuroy/fulfillment-sync/internal/config"
	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/gateway/bagy"
	"github.com/imrishuroy/fulfillment-sync/internal/gateway/melhorenvio"
	"github.com/imrishuroy/fulfillment-sync/internal/handlers"
	"github.com/imrishuroy/fulfillment-sync/internal/idempotency"
	"github.com/imrishuroy/fulfillment-sync/internal/ingest"
	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/reconcile"
	"github.com/imrishuroy/fulfillment-sync/internal/shipment"
)

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Store    orders.Store
	Locker   idempotency.Locker
	Shipping gateway.Shipping
	Source   gateway.Source

	Workflow   *shipment.Workflow
	Dispatcher shipment.Dispatcher
	Ingestor   *ingest.Ingestor
	Sweeper    *shipment.Sweeper
	Reconciler *reconcile.Reconciler
	Reporter   *reconcile.Reporter

	Tracker *reconcile.Loop
	Retries *reconcile.Loop

	aws     *aws.Clients
	closers []func() error
}

// Options override components, mainly for tests.
type Options struct {
	AWS      *aws.Clients
	Store    orders.Store
	Locker   idempotency.Locker
	Shipping gateway.Shipping
	Source   gateway.Source
}

// New wires the application from cfg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	metrics.RegisterDefault()

	a := &App{Config: cfg, Logger: log, aws: opts.AWS}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	var err error
	if a.Store = opts.Store; a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if a.Locker = opts.Locker; a.Locker == nil {
		if a.Locker, err = a.openLocker(ctx); err != nil {
			return nil, err
		}
	}

	guardCfg := gateway.GuardConfig{
		RateLimit:        cfg.Resilience.RateLimit,
		RateBurst:        cfg.Resilience.RateBurst,
		BreakerFailures:  cfg.Resilience.BreakerFailures,
		BreakerOpenAfter: cfg.Resilience.BreakerOpenAfter,
	}
	if a.Shipping = opts.Shipping; a.Shipping == nil {
		client := melhorenvio.New(cfg.MelhorEnvio.Base, cfg.MelhorEnvio.Token, cfg.Shipping.RequestTimeout)
		a.Shipping = gateway.NewResilientShipping(client, gateway.NewGuard(melhorenvio.Name, guardCfg, log))
	}
	if a.Source = opts.Source; a.Source == nil {
		client := bagy.New(cfg.Bagy.Base, cfg.Bagy.Token, cfg.Shipping.RequestTimeout)
		a.Source = gateway.NewResilientSource(client, gateway.NewGuard(bagy.Name, guardCfg, log))
	}

	a.Workflow = shipment.NewWorkflow(a.Store, a.Shipping, a.Source, a.Locker, shipment.Config{
		ServiceID:  cfg.Shipping.ServiceID,
		MaxRetries: cfg.Shipping.MaxRetries,
		Backoff:    shipment.Backoff{Base: cfg.Shipping.BackoffBase, Max: cfg.Shipping.BackoffMax, Jitter: 0.1},
		LeaseTTL:   cfg.Lease.TTL,
		Sender:     senderFrom(cfg.Sender),
	}, log)

	if a.Dispatcher, err = a.newDispatcher(ctx); err != nil {
		return nil, err
	}
	a.Ingestor = ingest.New(a.Store, a.Dispatcher, cfg.Shipping.TriggerStatus, log)
	a.Sweeper = shipment.NewSweeper(a.Store, a.Dispatcher, log)
	a.Reconciler = reconcile.New(a.Store, a.Shipping, a.Source, cfg.Shipping.MaxRetries, log)

	var publisher reconcile.CountPublisher
	if cfg.AWS.MetricsNamespace != "" {
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		publisher = aws.NewCloudWatchReporter(clients.CloudWatch, cfg.AWS.MetricsNamespace)
	}
	a.Reporter = reconcile.NewReporter(a.Store, publisher, log)

	a.Tracker = reconcile.NewLoop("tracker", cfg.Tracker.Interval, reconcile.Task(a.Reconciler, a.Reporter, log), log)
	a.Retries = reconcile.NewLoop("retries", cfg.Tracker.RetryInterval, func(ctx context.Context) {
		if _, err := a.Sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error("retry sweep failed", zap.Error(err))
		}
	}, log)

	if !cfg.TokensConfigured() {
		log.Warn("remote platform tokens missing, gateway calls will be rejected",
			zap.Bool("bagy_token_configured", cfg.Bagy.Token != ""),
			zap.Bool("melhorenvio_token_configured", cfg.MelhorEnvio.Token != ""))
	}

	ok = true
	log.Info("application initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("lease", cfg.Lease.Driver),
		zap.String("dispatch", cfg.Dispatch.Mode),
		zap.Int("service_id", cfg.Shipping.ServiceID),
		zap.String("service_name", cfg.Shipping.ServiceName()),
		zap.Int("max_retries", cfg.Shipping.MaxRetries),
		zap.Duration("tracker_interval", cfg.Tracker.Interval))
	return a, nil
}

// Router returns the HTTP engine serving the webhook and status routes.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.HandlerConfig{
		Ingestor: a.Ingestor,
		Source:   a.Source,
		Store:    a.Store,
		Health: handlers.HealthInfo{
			SourceTokenConfigured:   a.Config.Bagy.Token != "",
			ShippingTokenConfigured: a.Config.MelhorEnvio.Token != "",
			SenderZipcode:           a.Config.Sender.Zipcode,
			ServiceID:               a.Config.Shipping.ServiceID,
			ServiceName:             a.Config.Shipping.ServiceName(),
			TrackerInterval:         a.Config.Tracker.Interval,
			StoreDriver:             a.Config.Store.Driver,
			DispatchMode:            a.Config.Dispatch.Mode,
		},
		TestWebhookEnabled: a.Config.App.TestWebhookEnabled,
		Logger:             a.Logger,
	})
}

// StartBackground starts the tracking reconciler and the retry sweeper.
func (a *App) StartBackground(ctx context.Context) error {
	if err := a.Tracker.Start(ctx); err != nil {
		return fmt.Errorf("start tracker: %w", err)
	}
	if err := a.Retries.Start(ctx); err != nil {
		return fmt.Errorf("start retry sweeper: %w", err)
	}
	return nil
}

// Close stops background loops, drains in-process dispatch and releases
// connections, in that order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, l := range []*reconcile.Loop{a.Tracker, a.Retries} {
		if l == nil {
			continue
		}
		if err := l.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) awsClients(ctx context.Context) (*aws.Clients, error) {
	if a.aws != nil {
		return a.aws, nil
	}
	clients, err := aws.NewClients(ctx, aws.Options{Region: a.Config.AWS.Region, Endpoint: a.Config.AWS.Endpoint, MaxAttempts: 3})
	if err != nil {
		return nil, err
	}
	a.aws = clients
	return clients, nil
}

func (a *App) openStore(ctx context.Context) (orders.Store, error) {
	cfg := a.Config.Store
	switch cfg.Driver {
	case "memory":
		return orders.NewMemoryStore(), nil
	case "sqlite", "postgres":
		dsn := cfg.DBPath
		if cfg.Driver == "postgres" {
			dsn = cfg.DatabaseURL
		}
		db, err := orders.OpenDatabase(cfg.Driver, dsn)
		if err != nil {
			return nil, err
		}
		store, err := orders.NewGormStore(db)
		if err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "dynamodb":
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openLocker(ctx context.Context) (idempotency.Locker, error) {
	cfg := a.Config.Lease
	switch cfg.Driver {
	case "memory":
		return idempotency.NewMemoryLocker(), nil
	case "redis":
		client, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return idempotency.NewRedisLocker(client, ""), nil
	case "dynamodb":
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return idempotency.NewDynamoLocker(clients.DynamoDB, cfg.Table), nil
	default:
		return nil, fmt.Errorf("unknown lease driver %q", cfg.Driver)
	}
}

func (a *App) newDispatcher(ctx context.Context) (shipment.Dispatcher, error) {
	cfg := a.Config.Dispatch
	switch cfg.Mode {
	case "inline":
		return shipment.NewInlineDispatcher(a.Workflow), nil
	case "pool":
		pool := shipment.NewPool(a.Workflow, cfg.Workers, cfg.Workers*16, a.executionTimeout(), a.Logger)
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return pool, nil
	case "sqs":
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return shipment.NewSQSDispatcher(aws.NewPublisher(clients.SQS, cfg.QueueURL)), nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Mode)
	}
}

// executionTimeout bounds one workflow run: the carrier call and the
// source notification, plus store writes.
func (a *App) executionTimeout() time.Duration {
	return 3 * a.Config.Shipping.RequestTimeout
}

func senderFrom(s config.SenderConfig) shipment.Sender {
	return shipment.Sender{
		Name:       s.Name,
		Phone:      s.Phone,
		Email:      s.Email,
		Document:   s.Document,
		Address:    s.Address,
		Complement: s.Complement,
		Number:     s.Number,
		District:   s.District,
		City:       s.City,
		State:      s.State,
		Zipcode:    s.Zipcode,
	}
}
