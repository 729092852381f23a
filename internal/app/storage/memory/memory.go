// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/checkout"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/plan"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu             sync.RWMutex
	nextPlanID     int64
	plans          map[int64]plan.Plan
	sessions       map[string]checkout.Session
	sessionsByHash map[string]string
	subscriptions  map[string]entitlement.Subscription
	subsByPair     map[string]string
}

var _ storage.PlanStore = (*Store)(nil)
var _ storage.CheckoutStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextPlanID:     1,
		plans:          make(map[int64]plan.Plan),
		sessions:       make(map[string]checkout.Session),
		sessionsByHash: make(map[string]string),
		subscriptions:  make(map[string]entitlement.Subscription),
		subsByPair:     make(map[string]string),
	}
}

// PlanStore implementation ----------------------------------------------------

func (s *Store) CreatePlan(_ context.Context, p plan.Plan) (plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextPlanID
		s.nextPlanID++
	} else if _, exists := s.plans[p.ID]; exists {
		return plan.Plan{}, fmt.Errorf("plan %d already exists", p.ID)
	} else if p.ID >= s.nextPlanID {
		s.nextPlanID = p.ID + 1
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.plans[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePlan(_ context.Context, p plan.Plan) (plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.plans[p.ID]
	if !ok {
		return plan.Plan{}, fmt.Errorf("plan %d: %w", p.ID, storage.ErrNotFound)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.plans[p.ID] = p
	return p, nil
}

func (s *Store) GetPlan(_ context.Context, id int64) (plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return plan.Plan{}, fmt.Errorf("plan %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListPlansByCreator(_ context.Context, creatorAddress string) ([]plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]plan.Plan, 0)
	for _, p := range s.plans {
		if strings.EqualFold(p.CreatorAddress, creatorAddress) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CheckoutStore implementation ------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess checkout.Session) (checkout.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return checkout.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	s.sessions[sess.ID] = sess
	if sess.EnvelopeHash != "" {
		s.sessionsByHash[sess.EnvelopeHash] = sess.ID
	}
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, sess checkout.Session) (checkout.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sessions[sess.ID]
	if !ok {
		return checkout.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}

	sess.CreatedAt = original.CreatedAt
	sess.UpdatedAt = time.Now().UTC()

	s.sessions[sess.ID] = sess
	if sess.EnvelopeHash != "" {
		s.sessionsByHash[sess.EnvelopeHash] = sess.ID
	}
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (checkout.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return checkout.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) GetSessionByEnvelopeHash(_ context.Context, hash string) (checkout.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionsByHash[hash]
	if !ok {
		return checkout.Session{}, fmt.Errorf("session for envelope %s: %w", hash, storage.ErrNotFound)
	}
	return s.sessions[id], nil
}

func (s *Store) ListOpenSessions(_ context.Context) ([]checkout.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]checkout.Session, 0)
	for _, sess := range s.sessions {
		if !sess.State.Terminal() {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// SubscriptionStore implementation --------------------------------------------

func (s *Store) UpsertSubscription(_ context.Context, sub entitlement.Subscription) (entitlement.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := pairKey(sub.FanAddress, sub.CreatorAddress)
	now := time.Now().UTC()

	if id, ok := s.subsByPair[pair]; ok {
		existing := s.subscriptions[id]
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.UpdatedAt = now
		s.subscriptions[id] = sub
		return sub, nil
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subscriptions[sub.ID] = sub
	s.subsByPair[pair] = sub.ID
	return sub, nil
}

func (s *Store) GetSubscription(_ context.Context, fanAddress, creatorAddress string) (entitlement.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.subsByPair[pairKey(fanAddress, creatorAddress)]
	if !ok {
		return entitlement.Subscription{}, fmt.Errorf("subscription for pair: %w", storage.ErrNotFound)
	}
	return s.subscriptions[id], nil
}

func (s *Store) ListExpiringSubscriptions(_ context.Context, before int64) ([]entitlement.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]entitlement.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.LapsedAt == nil && sub.ExpiresAt <= before {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt < result[j].ExpiresAt })
	return result, nil
}

func (s *Store) MarkSubscriptionLapsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, storage.ErrNotFound)
	}
	at = at.UTC()
	sub.LapsedAt = &at
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[id] = sub
	return nil
}

func pairKey(fan, creator string) string { return fan + "|" + creator }
