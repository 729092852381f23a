// Package entitlement answers "is this fan currently entitled to this
// creator's content" from authoritative on-chain state. Local records are
// never trusted as ground truth; a cache only memoizes the last truth
// observed, for a short TTL.
package entitlement

import (
	"context"
	"errors"
	"time"

	domain "github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/app/metrics"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// DefaultTTL bounds how stale a cached verdict may be.
const DefaultTTL = 30 * time.Second

// Ledger is the slice of the gateway the resolver needs.
type Ledger interface {
	SubscriptionExpiry(ctx context.Context, fanAddress, creatorAddress string) (int64, error)
}

// Cache memoizes entitlement records per (fan, creator) pair. Entries are
// advisory; the resolver re-verifies from source once they age out.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Record, bool)
	Set(ctx context.Context, key string, record domain.Record)
	Delete(ctx context.Context, key string)
}

// Resolver resolves entitlement from ledger state with a short-lived cache.
type Resolver struct {
	ledger Ledger
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	log    *logger.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithNow overrides the time source for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver. A nil cache falls back to an in-memory one.
func New(ledger Ledger, cache Cache, log *logger.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = logger.NewDefault("entitlement")
	}
	r := &Resolver{
		ledger: ledger,
		cache:  cache,
		ttl:    DefaultTTL,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache(1024, r.ttl)
	}
	return r
}

// IsEntitled reports whether the fan currently has paid access to the
// creator's gated content. A ledger outage fails closed: access is denied
// and the error is returned so callers can distinguish outage from a plain
// negative.
func (r *Resolver) IsEntitled(ctx context.Context, fanAddress, creatorAddress string) (bool, error) {
	expiry, found, err := r.Expiry(ctx, fanAddress, creatorAddress)
	if err != nil {
		return false, err
	}
	return found && expiry > r.now().Unix(), nil
}

// Expiry returns the subscription expiry in epoch seconds for the pair.
// found is false when no subscription entry exists, which is a legitimate
// negative, not an error.
func (r *Resolver) Expiry(ctx context.Context, fanAddress, creatorAddress string) (int64, bool, error) {
	key := cacheKey(fanAddress, creatorAddress)

	if record, ok := r.cache.Get(ctx, key); ok {
		metrics.EntitlementCheck("cache")
		return record.ExpiresAt, record.ExpiresAt > 0, nil
	}

	expiry, err := r.ledger.SubscriptionExpiry(ctx, fanAddress, creatorAddress)
	switch {
	case err == nil:

	case errors.Is(err, stellar.ErrNoSubscription):
		expiry = 0

	default:
		// Fail closed. False access is a content-integrity violation;
		// false denial is a retryable inconvenience.
		metrics.EntitlementCheck("unavailable")
		r.log.WithError(err).Warn("entitlement check failed; denying access")
		return 0, false, payment.WrapError(payment.KindLedgerUnavailable, err,
			"entitlement could not be verified")
	}

	now := r.now().UTC()
	record := domain.Record{
		FanAddress:     fanAddress,
		CreatorAddress: creatorAddress,
		IsActive:       expiry > now.Unix(),
		ExpiresAt:      expiry,
		LastVerifiedAt: now,
	}
	r.cache.Set(ctx, key, record)
	metrics.EntitlementCheck("ledger")

	return expiry, expiry > 0, nil
}

// Invalidate drops the cached verdict for a pair. The checkout pipeline
// calls this after a confirmed subscription payment as a write-through hint;
// the next check re-verifies from source either way.
func (r *Resolver) Invalidate(fanAddress, creatorAddress string) {
	r.cache.Delete(context.Background(), cacheKey(fanAddress, creatorAddress))
}

func cacheKey(fan, creator string) string { return fan + "|" + creator }
