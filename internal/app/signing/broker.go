// Package signing defines the contract with the external wallet. The wallet
// is a capability this system depends on but does not implement; only the
// three documented outcomes exist: signed, rejected, unavailable/timeout.
package signing

import (
	"context"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
)

// Broker requests a signature for an unsigned envelope from the external
// wallet. Implementations must classify every failure as one of
// payment.KindUserRejected, payment.KindSignerUnavailable or
// payment.KindSignTimeout.
type Broker interface {
	Sign(ctx context.Context, envelope payment.UnsignedEnvelope) (payment.SignedEnvelope, error)
}

// Retry wraps a broker with a bounded retry policy for transient failures.
// A user rejection is terminal and is surfaced unchanged on the first
// occurrence; it is never retried.
type Retry struct {
	broker   Broker
	attempts int
	wait     func(ctx context.Context, d time.Duration) error
	backoff  time.Duration
}

// NewRetry wraps broker with up to attempts tries, waiting backoff between
// transient failures.
func NewRetry(broker Broker, attempts int, backoff time.Duration) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Retry{
		broker:   broker,
		attempts: attempts,
		backoff:  backoff,
		wait:     sleepCtx,
	}
}

// Sign implements Broker.
func (r *Retry) Sign(ctx context.Context, envelope payment.UnsignedEnvelope) (payment.SignedEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if err := r.wait(ctx, r.backoff*time.Duration(attempt)); err != nil {
				return payment.SignedEnvelope{}, err
			}
		}

		signed, err := r.broker.Sign(ctx, envelope)
		if err == nil {
			return signed, nil
		}
		if !payment.KindOf(err).Retryable() {
			return payment.SignedEnvelope{}, err
		}
		lastErr = err
	}
	return payment.SignedEnvelope{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
