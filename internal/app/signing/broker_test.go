package signing

import (
	"context"
	"testing"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
)

func testEnvelope() payment.UnsignedEnvelope {
	return payment.UnsignedEnvelope{
		SourceAccount:  "GFAN",
		SequenceNumber: 101,
		Memo:           "sub:7",
		TimeBounds:     payment.TimeBounds{MinTime: 1000, MaxTime: 1300},
	}
}

func noWait(ctx context.Context, d time.Duration) error { return nil }

func TestStubSignsDeterministically(t *testing.T) {
	stub := NewStub()

	first, err := stub.Sign(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := stub.Sign(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if first.XDR != second.XDR || first.Hash != second.Hash {
		t.Fatal("same envelope must seal to the same bytes and hash")
	}
	if stub.SignedCount() != 2 {
		t.Fatalf("signed count %d", stub.SignedCount())
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	stub := NewStub(Outcome{Unavailable: true}, Outcome{Timeout: true}, Outcome{})
	retry := NewRetry(stub, 3, time.Millisecond)
	retry.wait = noWait

	signed, err := retry.Sign(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signed.XDR == "" {
		t.Fatal("expected a signed envelope")
	}
	if stub.SignedCount() != 1 {
		t.Fatalf("signed count %d", stub.SignedCount())
	}
}

func TestRetryNeverRetriesUserRejection(t *testing.T) {
	stub := NewStub(Outcome{Reject: true}, Outcome{})
	retry := NewRetry(stub, 3, time.Millisecond)
	retry.wait = noWait

	_, err := retry.Sign(context.Background(), testEnvelope())
	if !payment.IsKind(err, payment.KindUserRejected) {
		t.Fatalf("expected user rejection, got %v", err)
	}
	if stub.SignedCount() != 0 {
		t.Fatal("a rejected request must never be retried into a signature")
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	stub := NewStub(
		Outcome{Unavailable: true},
		Outcome{Unavailable: true},
		Outcome{Unavailable: true},
	)
	retry := NewRetry(stub, 3, time.Millisecond)
	retry.wait = noWait

	_, err := retry.Sign(context.Background(), testEnvelope())
	if !payment.IsKind(err, payment.KindSignerUnavailable) {
		t.Fatalf("expected signer unavailable, got %v", err)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	stub := NewStub(Outcome{Unavailable: true}, Outcome{})
	retry := NewRetry(stub, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retry.Sign(ctx, testEnvelope())
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if stub.SignedCount() != 0 {
		t.Fatal("no signature should happen after cancellation")
	}
}
