package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/fulfillment-sync/internal/metrics"
)

// GuardConfig tunes a Guard.
type GuardConfig struct {
	RateLimit        float64 // requests per second, 0 disables limiting
	RateBurst        int
	BreakerFailures  uint32 // consecutive transient failures that open the circuit
	BreakerOpenAfter time.Duration
}

// Guard rate-limits calls to one remote platform and stops calling it while
// it keeps failing. Permanent rejections do not count against the circuit.
type Guard struct {
	name    string
	cb      *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGuard builds a Guard named after the gateway it protects.
func NewGuard(name string, cfg GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("breaker").With(zap.String("gateway", name))

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state transition",
				zap.String("from", stateToString(from)),
				zap.String("to", stateToString(to)))
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Guard{name: name, cb: cb, limiter: limiter, logger: logger}
}

// State returns the breaker state as "closed", "half-open" or "open".
func (g *Guard) State() string {
	return stateToString(g.cb.State())
}

func (g *Guard) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &RemoteError{Gateway: g.name, Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}
	result, err := g.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &RemoteError{Gateway: g.name, Op: op, Err: err}
	}
	return result, err
}

// castResult safely type-casts the circuit breaker result
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ResilientShipping wraps a Shipping gateway with a Guard.
type ResilientShipping struct {
	next  Shipping
	guard *Guard
}

// NewResilientShipping guards next.
func NewResilientShipping(next Shipping, guard *Guard) *ResilientShipping {
	return &ResilientShipping{next: next, guard: guard}
}

func (r *ResilientShipping) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	return castResult[Shipment](r.guard.execute(ctx, "create_shipment", func() (any, error) {
		return r.next.CreateShipment(ctx, req)
	}))
}

func (r *ResilientShipping) TrackingStatus(ctx context.Context, shipmentID string) (TrackingStatus, error) {
	return castResult[TrackingStatus](r.guard.execute(ctx, "tracking_status", func() (any, error) {
		return r.next.TrackingStatus(ctx, shipmentID)
	}))
}

// ResilientSource wraps a Source gateway with a Guard.
type ResilientSource struct {
	next  Source
	guard *Guard
}

// NewResilientSource guards next.
func NewResilientSource(next Source, guard *Guard) *ResilientSource {
	return &ResilientSource{next: next, guard: guard}
}

func (r *ResilientSource) MarkShipped(ctx context.Context, orderID, trackingCode string) error {
	_, err := r.guard.execute(ctx, "mark_shipped", func() (any, error) {
		return nil, r.next.MarkShipped(ctx, orderID, trackingCode)
	})
	return err
}

func (r *ResilientSource) MarkDelivered(ctx context.Context, orderID string) error {
	_, err := r.guard.execute(ctx, "mark_delivered", func() (any, error) {
		return nil, r.next.MarkDelivered(ctx, orderID)
	})
	return err
}

func (r *ResilientSource) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return castResult[json.RawMessage](r.guard.execute(ctx, "fetch_order", func() (any, error) {
		return r.next.FetchOrder(ctx, orderID)
	}))
}
