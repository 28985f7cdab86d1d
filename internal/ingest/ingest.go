// Package ingest decides what an inbound order webhook means for the
// order store and whether it starts the shipment workflow.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/shipment"
	"github.com/imrishuroy/fulfillment-sync/internal/validation"
)

// Result reasons
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonDuplicate      = "duplicate"
	ReasonProcessing     = "processing"
	ReasonInProgress     = "in_progress"
)

// Result is the outcome reported back to the webhook sender.
type Result struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason"`
	OrderID  string       `json:"order_id,omitempty"`
	State    orders.State `json:"state,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// Ingestor turns webhooks into orders.
type Ingestor struct {
	store      orders.Store
	dispatcher shipment.Dispatcher
	validate   *validatorv10.Validate
	trigger    string
	logger     *zap.Logger
}

// New returns an Ingestor that starts the workflow for payloads whose
// fulfillment status equals trigger.
func New(store orders.Store, dispatcher shipment.Dispatcher, trigger string, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		store:      store,
		dispatcher: dispatcher,
		validate:   validation.New(),
		trigger:    trigger,
		logger:     log.Named("ingest"),
	}
}

// Ingest handles one decoded payload. Only storage failures are returned
// as errors; everything else is reported in the Result.
func (i *Ingestor) Ingest(ctx context.Context, p validation.WebhookPayload) (Result, error) {
	orderID := string(p.ID)
	log := logger.FromContextOr(ctx, i.logger).With(zap.String("order_id", orderID))

	if err := validation.Validate(i.validate, p, i.trigger); err != nil {
		log.Info("webhook rejected", zap.String("fulfillment_status", p.FulfillmentStatus), zap.Error(err))
		return i.done(Result{Accepted: false, Reason: ReasonInvalidPayload, OrderID: orderID, Detail: err.Error()}), nil
	}

	details := p.Details()
	o, created, err := i.store.UpsertIfAbsent(ctx, orders.NewOrder(orderID, details))
	if err != nil {
		return Result{}, fmt.Errorf("upsert order %s: %w", orderID, err)
	}

	if !created {
		switch o.State {
		case orders.StateShipped, orders.StateDelivered:
			log.Info("duplicate webhook for processed order", zap.String("state", string(o.State)))
			return i.done(Result{Accepted: true, Reason: ReasonDuplicate, OrderID: orderID, State: o.State}), nil
		case orders.StateCreated:
			log.Info("order already awaiting shipment", zap.Int("retry_count", o.RetryCount))
			return i.done(Result{Accepted: true, Reason: ReasonInProgress, OrderID: orderID, State: o.State}), nil
		case orders.StateFailed:
			o, err = i.store.UpdateState(ctx, orderID, orders.StateCreated, orders.Patch{
				ExpectState:   orders.StatePtr(orders.StateFailed),
				RetryCount:    orders.Int(0),
				LastError:     orders.String(""),
				NextAttemptAt: orders.Time(time.Time{}),
				Details:       &details,
			})
			if errors.Is(err, orders.ErrInvalidTransition) {
				// another delivery revived it first, or it moved on meanwhile
				cur, gerr := i.store.Get(ctx, orderID)
				if gerr != nil {
					return Result{}, fmt.Errorf("reload order %s: %w", orderID, gerr)
				}
				log.Info("failed order already revived", zap.String("state", string(cur.State)))
				return i.done(Result{Accepted: true, Reason: ReasonInProgress, OrderID: orderID, State: cur.State}), nil
			}
			if err != nil {
				return Result{}, fmt.Errorf("revive order %s: %w", orderID, err)
			}
			log.Info("failed order revived by new webhook")
		}
	} else {
		log.Info("order created")
	}

	if err := i.dispatcher.Dispatch(ctx, orderID); err != nil {
		if orders.IsStorageError(err) {
			return Result{}, err
		}
		// the order stays CREATED and the retry sweeper will pick it up
		log.Warn("dispatch failed, leaving order for the sweeper", zap.Error(err))
	}

	cur, err := i.store.Get(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("reload order %s: %w", orderID, err)
	}
	return i.done(Result{Accepted: true, Reason: ReasonProcessing, OrderID: orderID, State: cur.State}), nil
}

func (i *Ingestor) done(r Result) Result {
	metrics.Ingestions.WithLabelValues(r.Reason).Inc()
	return r
}
