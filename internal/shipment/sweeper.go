package shipment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/orders"
)

// Sweeper re-dispatches CREATED orders whose backoff has elapsed. It also
// recovers orders whose dispatch was lost to a crash or a full queue.
type Sweeper struct {
	store      orders.Store
	dispatcher Dispatcher
	logger     *zap.Logger
	nowFunc    func() time.Time
}

// NewSweeper wires a Sweeper.
func NewSweeper(store orders.Store, dispatcher Dispatcher, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		logger:     log.Named("sweeper"),
		nowFunc:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep dispatches every due CREATED order and returns how many were
// dispatched. A failed dispatch does not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.store.ListByState(ctx, orders.StateCreated)
	if err != nil {
		return 0, fmt.Errorf("list created orders: %w", err)
	}

	now := s.nowFunc()
	dispatched := 0
	for _, o := range pending {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if !o.DueForAttempt(now) {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, o.OrderID); err != nil {
			s.logger.Warn("redispatch failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		s.logger.Info("redispatched due orders", zap.Int("count", dispatched))
	}
	return dispatched, nil
}
