// Package reconcile polls the carrier for shipped orders and pushes
// delivery and pending fulfillment updates back to the source platform.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/shipment"
)

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	Checked    int           `json:"checked"`
	Delivered  int           `json:"delivered"`
	Pending    int           `json:"pending"`
	Errors     int           `json:"errors"`
	Synced     int           `json:"synced"`
	SyncErrors int           `json:"sync_errors"`
	Duration   time.Duration `json:"duration"`
}

// Reconciler moves SHIPPED orders to DELIVERED once the carrier says so.
type Reconciler struct {
	store           orders.Store
	shipping        gateway.Shipping
	source          gateway.Source
	maxSyncAttempts int
	logger          *zap.Logger
}

// New returns a Reconciler. Source notifications are attempted at most
// maxSyncAttempts times per order state.
func New(store orders.Store, shipping gateway.Shipping, source gateway.Source, maxSyncAttempts int, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if maxSyncAttempts < 1 {
		maxSyncAttempts = 1
	}
	return &Reconciler{
		store:           store,
		shipping:        shipping,
		source:          source,
		maxSyncAttempts: maxSyncAttempts,
		logger:          log.Named("reconcile"),
	}
}

// RunCycle checks every SHIPPED order once. A failure on one order is
// counted and logged and never stops the others. The returned error is
// set only when the order lists cannot be read.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var res CycleResult
	defer func() {
		res.Duration = time.Since(start)
		metrics.ReconcileDuration.Observe(res.Duration.Seconds())
	}()

	shipped, err := r.store.ListByState(ctx, orders.StateShipped)
	if err != nil {
		return res, fmt.Errorf("list shipped orders: %w", err)
	}

	justDelivered := make(map[string]bool)
	for _, o := range shipped {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		delivered, err := r.checkOrder(ctx, o, &res)
		if err != nil {
			res.Errors++
			metrics.ReconcileOrders.WithLabelValues("error").Inc()
			r.logger.Warn("tracking check failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		if delivered {
			justDelivered[o.OrderID] = true
		}
	}

	// delivered notifications that failed in earlier cycles
	delivered, err := r.store.ListByState(ctx, orders.StateDelivered)
	if err != nil {
		return res, fmt.Errorf("list delivered orders: %w", err)
	}
	for _, o := range delivered {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if justDelivered[o.OrderID] || !r.needsSync(o) {
			continue
		}
		r.sync(ctx, o, &res)
	}

	if res.Checked > 0 || res.Synced > 0 || res.SyncErrors > 0 {
		r.logger.Info("reconcile cycle finished",
			zap.Int("checked", res.Checked),
			zap.Int("delivered", res.Delivered),
			zap.Int("pending", res.Pending),
			zap.Int("errors", res.Errors),
			zap.Int("synced", res.Synced),
			zap.Int("sync_errors", res.SyncErrors))
	}
	return res, nil
}

func (r *Reconciler) checkOrder(ctx context.Context, o orders.Order, res *CycleResult) (bool, error) {
	log := r.logger.With(zap.String("order_id", o.OrderID), zap.String("shipment_id", o.ShipmentID))

	status, err := r.shipping.TrackingStatus(ctx, o.ShipmentID)
	if err != nil {
		return false, err
	}
	if !status.Delivered {
		res.Pending++
		metrics.ReconcileOrders.WithLabelValues("pending").Inc()
		if r.needsSync(o) {
			r.sync(ctx, o, res)
		}
		return false, nil
	}

	updated, err := r.store.UpdateState(ctx, o.OrderID, orders.StateDelivered, orders.Patch{
		SourceSynced: orders.Bool(false),
		SyncAttempts: orders.Int(0),
		LastError:    orders.String(""),
	})
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	res.Delivered++
	metrics.ReconcileOrders.WithLabelValues("delivered").Inc()
	log.Info("order delivered", zap.String("carrier_status", status.RawStatus))

	r.sync(ctx, updated, res)
	return true, nil
}

func (r *Reconciler) needsSync(o orders.Order) bool {
	return !o.SourceSynced && o.SyncAttempts < r.maxSyncAttempts
}

func (r *Reconciler) sync(ctx context.Context, o orders.Order, res *CycleResult) {
	log := r.logger.With(zap.String("order_id", o.OrderID))
	var (
		updated orders.Order
		err     error
	)
	switch o.State {
	case orders.StateShipped:
		updated, err = shipment.NotifyShipped(ctx, r.store, r.source, o, log)
	case orders.StateDelivered:
		updated, err = shipment.NotifyDelivered(ctx, r.store, r.source, o, log)
	default:
		return
	}
	if err != nil {
		res.SyncErrors++
		log.Error("recording source update failed", zap.Error(err))
		return
	}
	if updated.SourceSynced {
		res.Synced++
		return
	}
	res.SyncErrors++
	if updated.SyncAttempts >= r.maxSyncAttempts {
		log.Warn("giving up on source update", zap.Int("sync_attempts", updated.SyncAttempts))
	}
}
