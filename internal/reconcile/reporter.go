package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
)

// CountPublisher ships named counts to an external metrics backend.
type CountPublisher interface {
	PutCounts(ctx context.Context, counts map[string]float64) error
}

// Reporter publishes order counts per state and the last cycle's numbers.
type Reporter struct {
	store     orders.Store
	publisher CountPublisher
	logger    *zap.Logger
}

// NewReporter returns a Reporter. publisher may be nil, in which case only
// the Prometheus gauges are updated.
func NewReporter(store orders.Store, publisher CountPublisher, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{store: store, publisher: publisher, logger: log.Named("reporter")}
}

// Report refreshes the orders_by_state gauges and, when a publisher is set,
// pushes the counts and res to it.
func (r *Reporter) Report(ctx context.Context, res CycleResult) error {
	counts, err := r.store.CountByState(ctx)
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	for _, s := range orders.States {
		metrics.OrdersByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	if r.publisher == nil {
		return nil
	}

	data := map[string]float64{
		"ReconcileChecked":   float64(res.Checked),
		"ReconcileDelivered": float64(res.Delivered),
		"ReconcileErrors":    float64(res.Errors),
		"SourceSyncFailures": float64(res.SyncErrors),
	}
	for _, s := range orders.States {
		data["Orders"+titleCase(string(s))] = float64(counts[s])
	}
	if err := r.publisher.PutCounts(ctx, data); err != nil {
		return fmt.Errorf("publish counts: %w", err)
	}
	return nil
}

// Task returns a loop task running one cycle and reporting it.
func Task(rec *Reconciler, rep *Reporter, log *zap.Logger) func(ctx context.Context) {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) {
		res, err := rec.RunCycle(ctx)
		if err != nil {
			log.Error("reconcile cycle failed", zap.Error(err))
		}
		if rep == nil || ctx.Err() != nil {
			return
		}
		if err := rep.Report(ctx, res); err != nil {
			log.Warn("reporting cycle failed", zap.Error(err))
		}
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
