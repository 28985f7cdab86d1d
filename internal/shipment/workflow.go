// Package shipment turns CREATED orders into carrier shipments: it builds
// the request, applies the retry policy and tells the source platform.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/idempotency"
	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
)

// Config is the workflow policy.
type Config struct {
	ServiceID  int
	MaxRetries int
	Backoff    Backoff
	LeaseTTL   time.Duration
	Sender     Sender
}

// Workflow executes the shipment step for one order at a time per order id.
type Workflow struct {
	store    orders.Store
	shipping gateway.Shipping
	source   gateway.Source
	locker   idempotency.Locker
	cfg      Config
	logger   *zap.Logger
	nowFunc  func() time.Time
}

// NewWorkflow wires a Workflow.
func NewWorkflow(store orders.Store, shipping gateway.Shipping, source gateway.Source, locker idempotency.Locker, cfg Config, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	return &Workflow{
		store:    store,
		shipping: shipping,
		source:   source,
		locker:   locker,
		cfg:      cfg,
		logger:   log.Named("shipment"),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// LeaseKey is the lease guarding shipment creation for orderID.
func LeaseKey(orderID string) string {
	return "shipment#" + orderID
}

// Execute attempts to create the carrier shipment for orderID. Gateway
// failures are recorded on the order and do not surface as errors; only
// lease and storage failures do. A lease held elsewhere is a no-op.
func (w *Workflow) Execute(ctx context.Context, orderID string) error {
	log := logger.FromContextOr(ctx, w.logger).With(zap.String("order_id", orderID))

	lease, err := w.locker.Acquire(ctx, LeaseKey(orderID), w.cfg.LeaseTTL)
	if errors.Is(err, idempotency.ErrHeld) {
		log.Debug("shipment already in progress elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lease for order %s: %w", orderID, err)
	}
	defer func() {
		if rerr := w.locker.Release(context.WithoutCancel(ctx), lease); rerr != nil {
			log.Warn("release lease failed", zap.Error(rerr))
		}
	}()

	o, err := w.store.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.State != orders.StateCreated {
		log.Debug("order not awaiting shipment", zap.String("state", string(o.State)))
		return nil
	}
	now := w.nowFunc()
	if !o.DueForAttempt(now) {
		log.Debug("order not due yet", zap.Time("next_attempt_at", o.NextAttemptAt))
		return nil
	}

	req := BuildRequest(o, w.cfg.Sender, w.cfg.ServiceID)
	if req.To.Document == "" {
		log.Warn("recipient document missing or invalid, sending empty")
	}

	shipment, err := w.shipping.CreateShipment(ctx, req)

	// the carrier call has happened; its outcome is written even if ctx ends now
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err != nil {
		return w.recordFailure(pctx, log, o, err)
	}

	shipped, err := w.store.UpdateState(pctx, orderID, orders.StateShipped, orders.Patch{
		ShipmentID:   orders.String(shipment.ID),
		TrackingCode: orders.String(shipment.TrackingCode),
		LastError:    orders.String(""),
	})
	if err != nil {
		// the carrier shipment exists but is not recorded; surface loudly
		log.Error("shipment created but not persisted",
			zap.String("shipment_id", shipment.ID), zap.Error(err))
		return fmt.Errorf("record shipment for order %s: %w", orderID, err)
	}
	metrics.ShipmentAttempts.WithLabelValues("created").Inc()
	log.Info("shipment created",
		zap.String("shipment_id", shipment.ID),
		zap.String("tracking_code", shipment.TrackingCode))

	if _, err := NotifyShipped(ctx, w.store, w.source, shipped, log); err != nil {
		return err
	}
	return nil
}

func (w *Workflow) recordFailure(ctx context.Context, log *zap.Logger, o orders.Order, cause error) error {
	retries := o.RetryCount + 1
	patch := orders.Patch{
		RetryCount: orders.Int(retries),
		LastError:  orders.String(truncate(cause.Error(), 500)),
	}

	switch {
	case gateway.IsPermanent(cause):
		metrics.ShipmentAttempts.WithLabelValues("rejected").Inc()
		log.Warn("shipment rejected, failing order", zap.Error(cause))
		_, err := w.store.UpdateState(ctx, o.OrderID, orders.StateFailed, patch)
		return wrapStore(o.OrderID, err)

	case retries >= w.cfg.MaxRetries:
		metrics.ShipmentAttempts.WithLabelValues("exhausted").Inc()
		log.Warn("shipment retries exhausted, failing order",
			zap.Int("retry_count", retries), zap.Error(cause))
		_, err := w.store.UpdateState(ctx, o.OrderID, orders.StateFailed, patch)
		return wrapStore(o.OrderID, err)

	default:
		delay := w.cfg.Backoff.Delay(retries)
		patch.NextAttemptAt = orders.Time(w.nowFunc().Add(delay))
		metrics.ShipmentAttempts.WithLabelValues("retry").Inc()
		log.Warn("shipment attempt failed, will retry",
			zap.Int("retry_count", retries),
			zap.Duration("backoff", delay),
			zap.Error(cause))
		_, err := w.store.UpdateState(ctx, o.OrderID, orders.StateCreated, patch)
		return wrapStore(o.OrderID, err)
	}
}

// NotifyShipped tells the source platform that o shipped and records the
// outcome on the order. A gateway failure leaves source_synced false for the
// reconciler to retry; only storage failures are returned.
func NotifyShipped(ctx context.Context, store orders.Store, source gateway.Source, o orders.Order, log *zap.Logger) (orders.Order, error) {
	return notify(ctx, store, o, log, "mark_shipped", func() error {
		return source.MarkShipped(ctx, o.OrderID, o.TrackingCode)
	})
}

// NotifyDelivered is NotifyShipped for the delivered update.
func NotifyDelivered(ctx context.Context, store orders.Store, source gateway.Source, o orders.Order, log *zap.Logger) (orders.Order, error) {
	return notify(ctx, store, o, log, "mark_delivered", func() error {
		return source.MarkDelivered(ctx, o.OrderID)
	})
}

func notify(ctx context.Context, store orders.Store, o orders.Order, log *zap.Logger, op string, call func() error) (orders.Order, error) {
	patch := orders.Patch{SyncAttempts: orders.Int(o.SyncAttempts + 1)}
	callErr := call()
	if callErr != nil {
		metrics.SourceNotifications.WithLabelValues(op, "error").Inc()
		log.Warn("source update failed", zap.String("operation", op), zap.Error(callErr))
		patch.LastError = orders.String(truncate(op+": "+callErr.Error(), 500))
	} else {
		metrics.SourceNotifications.WithLabelValues(op, "ok").Inc()
		patch.SourceSynced = orders.Bool(true)
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()
	updated, err := store.UpdateState(pctx, o.OrderID, o.State, patch)
	if errors.Is(err, orders.ErrInvalidTransition) {
		// the order moved on meanwhile; its new state owns the next notification
		log.Debug("order changed state during source update", zap.String("operation", op))
		cur, gerr := store.Get(pctx, o.OrderID)
		if gerr != nil {
			return o, wrapStore(o.OrderID, gerr)
		}
		return cur, nil
	}
	if err != nil {
		return o, wrapStore(o.OrderID, err)
	}
	return updated, nil
}

// persistTimeout bounds a write that records a remote call's outcome.
const persistTimeout = 10 * time.Second

// persistContext detaches ctx from its caller's cancellation and deadline.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func wrapStore(orderID string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("update order %s: %w", orderID, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
