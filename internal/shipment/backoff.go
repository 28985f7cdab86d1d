package shipment

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes the delay before the next shipment attempt.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // randomization factor in [0, 1)
}

// Delay returns the wait after the given failed attempt (1-based): Base
// doubled per attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.MaxInterval = b.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = b.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}
