package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned by Acquire when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease held by another owner")

// Lease is an exclusive, expiring claim on a key.
type Lease struct {
	Key       string
	Owner     string
	ExpiresAt time.Time
}

// Locker hands out leases. A lease that is never released expires after
// its ttl so a crashed holder cannot block the key forever.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

// LeaseRecord is the shape persisted in the leases DynamoDB table.
type LeaseRecord struct {
	LeaseKey  string    `dynamodbav:"lease_key"` // PK
	Owner     string    `dynamodbav:"owner"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
