package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker keeps leases in process memory.
type MemoryLocker struct {
	mu      sync.Mutex
	leases  map[string]Lease
	nowFunc func() time.Time
}

// NewMemoryLocker returns an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases:  make(map[string]Lease),
		nowFunc: time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if cur, ok := l.leases[key]; ok && now.Before(cur.ExpiresAt) {
		return Lease{}, ErrHeld
	}
	lease := Lease{Key: key, Owner: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	l.leases[key] = lease
	return lease, nil
}

func (l *MemoryLocker) Release(ctx context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[lease.Key]; ok && cur.Owner == lease.Owner {
		delete(l.leases, lease.Key)
	}
	return nil
}
