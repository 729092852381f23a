// Package renewal reconciles locally recorded subscriptions with on-chain
// state. Subscriptions that renewed on-chain get their expiry refreshed;
// subscriptions that lapsed get marked so downstream consumers stop treating
// the fan as subscribed.
package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/metrics"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
	"github.com/MyFanss/MyFans-sub002/internal/app/system"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "@every 5m"

// DefaultLookahead includes subscriptions expiring within the window in each
// sweep so renewals are picked up before access actually lapses.
const DefaultLookahead = time.Hour

// Verifier re-reads a pair's subscription expiry from the chain, bypassing
// any cache.
type Verifier interface {
	Invalidate(fanAddress, creatorAddress string)
	Expiry(ctx context.Context, fanAddress, creatorAddress string) (int64, bool, error)
}

// Scanner periodically sweeps expiring subscriptions.
type Scanner struct {
	store     storage.SubscriptionStore
	verifier  Verifier
	schedule  string
	lookahead time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Scanner)(nil)

// Option customizes a Scanner.
type Option func(*Scanner)

// WithSchedule overrides the cron schedule.
func WithSchedule(spec string) Option {
	return func(s *Scanner) { s.schedule = spec }
}

// WithLookahead overrides the expiry lookahead window.
func WithLookahead(d time.Duration) Option {
	return func(s *Scanner) { s.lookahead = d }
}

// WithNow overrides the time source for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a Scanner.
func New(store storage.SubscriptionStore, verifier Verifier, log *logger.Logger, opts ...Option) *Scanner {
	if log == nil {
		log = logger.NewDefault("renewal")
	}
	s := &Scanner{
		store:     store,
		verifier:  verifier,
		schedule:  DefaultSchedule,
		lookahead: DefaultLookahead,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Name() string { return "renewal-scanner" }

// Start schedules the periodic sweep.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(sweepCtx)
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true

	s.log.WithField("schedule", s.schedule).Info("renewal scanner started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep re-verifies every subscription expiring within the lookahead window
// against the chain and reconciles the local record.
func (s *Scanner) Sweep(ctx context.Context) {
	now := s.now().UTC()
	subs, err := s.store.ListExpiringSubscriptions(ctx, now.Add(s.lookahead).Unix())
	if err != nil {
		s.log.WithError(err).Errorf("failed to list expiring subscriptions")
		return
	}

	for _, sub := range subs {
		if err := s.reconcile(ctx, now, sub); err != nil {
			s.log.WithError(err).
				WithField("subscription_id", sub.ID).
				Warn("failed to reconcile subscription")
			metrics.RenewalSweep("error")
		}
	}
}

func (s *Scanner) reconcile(ctx context.Context, now time.Time, sub entitlement.Subscription) error {
	// Drop the cached verdict so the read below hits the chain.
	s.verifier.Invalidate(sub.FanAddress, sub.CreatorAddress)

	expiry, found, err := s.verifier.Expiry(ctx, sub.FanAddress, sub.CreatorAddress)
	if err != nil {
		// Transient. The subscription stays unlapsed and the next sweep
		// retries; access decisions are never made from this record anyway.
		return err
	}

	switch {
	case found && expiry > sub.ExpiresAt:
		sub.ExpiresAt = expiry
		if _, err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		metrics.RenewalSweep("renewed")
		s.log.WithField("subscription_id", sub.ID).Debugf("subscription renewed on-chain until %d", expiry)

	case !found || expiry <= now.Unix():
		if err := s.store.MarkSubscriptionLapsed(ctx, sub.ID, now); err != nil {
			return err
		}
		metrics.RenewalSweep("lapsed")
		s.log.WithField("subscription_id", sub.ID).Info("subscription lapsed")

	default:
		// Still current, expiring soon. Nothing to do yet.
		metrics.RenewalSweep("current")
	}
	return nil
}
