package shipment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/aws"
	"github.com/imrishuroy/fulfillment-sync/internal/logger"
)

// ErrQueueFull is returned by Pool.Dispatch when no worker can take the job.
// The order stays CREATED and the retry sweeper picks it up.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrClosed is returned by Pool.Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Executor runs the shipment step for an order.
type Executor interface {
	Execute(ctx context.Context, orderID string) error
}

// Dispatcher schedules the shipment step for an order.
type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string) error
}

// Message is the payload sent from API -> SQS -> Worker.
type Message struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// InlineDispatcher executes on the caller's goroutine.
type InlineDispatcher struct {
	exec Executor
}

// NewInlineDispatcher returns a dispatcher that runs exec synchronously.
func NewInlineDispatcher(exec Executor) *InlineDispatcher {
	return &InlineDispatcher{exec: exec}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, orderID string) error {
	return d.exec.Execute(ctx, orderID)
}

// Pool runs executions on a fixed set of goroutines, detached from the
// request that dispatched them.
type Pool struct {
	exec    Executor
	jobs    chan job
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	orderID   string
	requestID string
}

// NewPool starts workers goroutines. Each execution gets its own timeout.
func NewPool(exec Executor, workers, queueSize int, timeout time.Duration, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		exec:    exec,
		jobs:    make(chan job, queueSize),
		timeout: timeout,
		logger:  log.Named("dispatch"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	log := p.logger.With(zap.String("order_id", j.orderID))
	if j.requestID != "" {
		log = log.With(zap.String("request_id", j.requestID))
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("shipment execution panicked", zap.Any("panic", r))
		}
	}()

	ctx := logger.WithContext(context.Background(), log)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.exec.Execute(ctx, j.orderID); err != nil {
		log.Error("shipment execution failed", zap.Error(err))
	}
}

// Dispatch enqueues orderID without blocking.
func (p *Pool) Dispatch(ctx context.Context, orderID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job{orderID: orderID, requestID: logger.RequestID(ctx)}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued executions to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// SQSDispatcher hands executions to the worker Lambda through a queue.
type SQSDispatcher struct {
	publisher *aws.Publisher
}

// NewSQSDispatcher returns a dispatcher publishing to publisher's queue.
func NewSQSDispatcher(publisher *aws.Publisher) *SQSDispatcher {
	return &SQSDispatcher{publisher: publisher}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, orderID string) error {
	msg := Message{OrderID: orderID, CorrelationID: logger.RequestID(ctx)}
	_, err := d.publisher.Publish(ctx, aws.Envelope{
		Payload: msg,
		Key:     orderID,
		Attributes: map[string]string{
			"order_id":       orderID,
			"correlation_id": msg.CorrelationID,
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue order %s: %w", orderID, err)
	}
	return nil
}
