package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRunning is returned by Start on a loop that is already running.
var ErrRunning = errors.New("loop already running")

// Loop runs a task immediately and then on every tick until stopped. A
// stopped loop can be started again.
type Loop struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context)
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, task func(ctx context.Context), logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.Named("loop").With(zap.String("loop", name)),
	}
}

// Start launches the background goroutine. The loop ends when ctx is
// cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrRunning
	}
	if l.interval <= 0 {
		return errors.New("loop interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("loop started", zap.Duration("interval", l.interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight run to return, or for
// ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.safeRun(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	l.task(ctx)
}
