package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
)

const (
	fanAddr     = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	creatorAddr = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
)

type ledgerResult struct {
	expiry int64
	err    error
}

// fakeLedger plays scripted expiry results; the last one repeats.
type fakeLedger struct {
	mu      sync.Mutex
	results []ledgerResult
	calls   int
}

func (l *fakeLedger) SubscriptionExpiry(ctx context.Context, fan, creator string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	idx := l.calls - 1
	if idx >= len(l.results) {
		idx = len(l.results) - 1
	}
	return l.results[idx].expiry, l.results[idx].err
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestEntitledAndCached(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).Unix()
	ledger := &fakeLedger{results: []ledgerResult{{expiry: future}}}
	r := New(ledger, NewMemoryCache(8, time.Minute), nil)

	ok, err := r.IsEntitled(context.Background(), fanAddr, creatorAddr)
	if err != nil {
		t.Fatalf("IsEntitled: %v", err)
	}
	if !ok {
		t.Fatal("expected entitled")
	}

	// Second check within the TTL answers from cache.
	if _, err := r.IsEntitled(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("cached IsEntitled: %v", err)
	}
	if ledger.callCount() != 1 {
		t.Fatalf("ledger calls %d, want 1", ledger.callCount())
	}
}

func TestExpiredSubscriptionIsNotEntitled(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	ledger := &fakeLedger{results: []ledgerResult{{expiry: past}}}
	r := New(ledger, NewMemoryCache(8, time.Minute), nil)

	ok, err := r.IsEntitled(context.Background(), fanAddr, creatorAddr)
	if err != nil {
		t.Fatalf("IsEntitled: %v", err)
	}
	if ok {
		t.Fatal("lapsed subscription must not grant access")
	}

	// The entry still exists on-chain, so Expiry reports it.
	expiry, found, err := r.Expiry(context.Background(), fanAddr, creatorAddr)
	if err != nil || !found {
		t.Fatalf("Expiry: %d %v %v", expiry, found, err)
	}
	if expiry != past {
		t.Fatalf("expiry %d, want %d", expiry, past)
	}
}

func TestNoSubscriptionIsPlainNegative(t *testing.T) {
	ledger := &fakeLedger{results: []ledgerResult{{err: stellar.ErrNoSubscription}}}
	r := New(ledger, NewMemoryCache(8, time.Minute), nil)

	expiry, found, err := r.Expiry(context.Background(), fanAddr, creatorAddr)
	if err != nil {
		t.Fatalf("a missing entry is not an error: %v", err)
	}
	if found || expiry != 0 {
		t.Fatalf("expiry=%d found=%v", expiry, found)
	}

	// The negative verdict is memoized too.
	if _, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("cached Expiry: %v", err)
	}
	if ledger.callCount() != 1 {
		t.Fatalf("ledger calls %d, want 1", ledger.callCount())
	}
}

func TestOutageFailsClosed(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).Unix()
	ledger := &fakeLedger{results: []ledgerResult{
		{err: &stellar.UnavailableError{Op: "getContractData", Status: 503}},
		{expiry: future},
	}}
	r := New(ledger, NewMemoryCache(8, time.Minute), nil)

	ok, err := r.IsEntitled(context.Background(), fanAddr, creatorAddr)
	if err == nil {
		t.Fatal("outage must surface an error")
	}
	if ok {
		t.Fatal("outage must never grant access")
	}
	if !payment.IsKind(err, payment.KindLedgerUnavailable) {
		t.Fatalf("kind %s", payment.KindOf(err))
	}

	// The failure is not cached; the next check reaches the ledger and
	// succeeds.
	ok, err = r.IsEntitled(context.Background(), fanAddr, creatorAddr)
	if err != nil || !ok {
		t.Fatalf("recovery check: %v %v", ok, err)
	}
	if ledger.callCount() != 2 {
		t.Fatalf("ledger calls %d, want 2", ledger.callCount())
	}
}

func TestInvalidateForcesReverification(t *testing.T) {
	first := time.Now().Add(time.Hour).Unix()
	second := time.Now().Add(48 * time.Hour).Unix()
	ledger := &fakeLedger{results: []ledgerResult{{expiry: first}, {expiry: second}}}
	r := New(ledger, NewMemoryCache(8, time.Minute), nil)

	if _, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	r.Invalidate(fanAddr, creatorAddr)

	expiry, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr)
	if err != nil {
		t.Fatalf("Expiry after invalidate: %v", err)
	}
	if expiry != second {
		t.Fatalf("expiry %d, want fresh value %d", expiry, second)
	}
	if ledger.callCount() != 2 {
		t.Fatalf("ledger calls %d, want 2", ledger.callCount())
	}
}

func TestCacheEntryAgesOut(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).Unix()
	ledger := &fakeLedger{results: []ledgerResult{{expiry: future}}}

	cache := NewMemoryCache(8, 30*time.Second)
	current := time.Now()
	cache.now = func() time.Time { return current }

	r := New(ledger, cache, nil, WithNow(func() time.Time { return current }))
	if _, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("Expiry: %v", err)
	}

	current = current.Add(29 * time.Second)
	if _, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	if ledger.callCount() != 1 {
		t.Fatalf("entry aged out early: %d calls", ledger.callCount())
	}

	current = current.Add(2 * time.Second)
	if _, _, err := r.Expiry(context.Background(), fanAddr, creatorAddr); err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	if ledger.callCount() != 2 {
		t.Fatalf("stale entry served: %d calls", ledger.callCount())
	}
}

func TestMemoryCacheEviction(t *testing.T) {
	cache := NewMemoryCache(2, time.Minute)
	record := domain.Record{FanAddress: fanAddr, CreatorAddress: creatorAddr, LastVerifiedAt: time.Now()}

	cache.Set(context.Background(), "a", record)
	cache.Set(context.Background(), "b", record)
	cache.Set(context.Background(), "c", record)

	if _, ok := cache.Get(context.Background(), "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := cache.Get(context.Background(), "c"); !ok {
		t.Fatal("newest entry missing")
	}

	cache.Delete(context.Background(), "c")
	if _, ok := cache.Get(context.Background(), "c"); ok {
		t.Fatal("deleted entry still present")
	}
}
