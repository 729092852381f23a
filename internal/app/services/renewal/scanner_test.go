package renewal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage/memory"
)

type fakeVerifier struct {
	mu          sync.Mutex
	expiries    map[string]int64
	err         error
	invalidated int
}

func (v *fakeVerifier) Invalidate(fan, creator string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidated++
}

func (v *fakeVerifier) Expiry(ctx context.Context, fan, creator string) (int64, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return 0, false, v.err
	}
	expiry, ok := v.expiries[fan+"|"+creator]
	return expiry, ok, nil
}

func seedSubscription(t *testing.T, store *memory.Store, fan, creator string, expiresAt int64) entitlement.Subscription {
	t.Helper()
	sub, err := store.UpsertSubscription(context.Background(), entitlement.Subscription{
		FanAddress:     fan,
		CreatorAddress: creator,
		PlanID:         1,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func TestSweepRenewsWhenChainExpiryAdvanced(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	seedSubscription(t, store, "GFAN", "GCREATOR", now.Add(30*time.Minute).Unix())

	renewed := now.Add(30 * 24 * time.Hour).Unix()
	verifier := &fakeVerifier{expiries: map[string]int64{"GFAN|GCREATOR": renewed}}

	scanner := New(store, verifier, nil, WithNow(func() time.Time { return now }))
	scanner.Sweep(context.Background())

	sub, err := store.GetSubscription(context.Background(), "GFAN", "GCREATOR")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.ExpiresAt != renewed {
		t.Fatalf("expected expiry %d, got %d", renewed, sub.ExpiresAt)
	}
	if sub.LapsedAt != nil {
		t.Fatal("renewed subscription must not be lapsed")
	}
	if verifier.invalidated != 1 {
		t.Fatalf("expected one cache invalidation, got %d", verifier.invalidated)
	}
}

func TestSweepLapsesExpiredSubscription(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	sub := seedSubscription(t, store, "GFAN", "GCREATOR", now.Add(-time.Minute).Unix())

	// Chain has no entry at all for the pair.
	verifier := &fakeVerifier{expiries: map[string]int64{}}

	scanner := New(store, verifier, nil, WithNow(func() time.Time { return now }))
	scanner.Sweep(context.Background())

	subs, err := store.ListExpiringSubscriptions(context.Background(), now.Add(24*time.Hour).Unix())
	if err != nil {
		t.Fatalf("ListExpiringSubscriptions: %v", err)
	}
	for _, got := range subs {
		if got.ID == sub.ID {
			t.Fatal("lapsed subscription still listed as live")
		}
	}
}

func TestSweepLeavesCurrentSubscriptionAlone(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	expiry := now.Add(30 * time.Minute).Unix()
	seedSubscription(t, store, "GFAN", "GCREATOR", expiry)

	verifier := &fakeVerifier{expiries: map[string]int64{"GFAN|GCREATOR": expiry}}

	scanner := New(store, verifier, nil, WithNow(func() time.Time { return now }))
	scanner.Sweep(context.Background())

	sub, err := store.GetSubscription(context.Background(), "GFAN", "GCREATOR")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.ExpiresAt != expiry || sub.LapsedAt != nil {
		t.Fatalf("expected untouched subscription, got %+v", sub)
	}
}

func TestSweepKeepsSubscriptionOnVerifierError(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	seedSubscription(t, store, "GFAN", "GCREATOR", now.Add(-time.Minute).Unix())

	verifier := &fakeVerifier{err: errors.New("rpc down")}

	scanner := New(store, verifier, nil, WithNow(func() time.Time { return now }))
	scanner.Sweep(context.Background())

	// A chain read failure must never lapse a subscription.
	sub, err := store.GetSubscription(context.Background(), "GFAN", "GCREATOR")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.LapsedAt != nil {
		t.Fatal("subscription lapsed on a transient verifier error")
	}
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	verifier := &fakeVerifier{expiries: map[string]int64{}}
	scanner := New(store, verifier, nil, WithSchedule("@every 1h"))

	if err := scanner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scanner.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := scanner.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := scanner.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
