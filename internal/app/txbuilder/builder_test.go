package txbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
)

const (
	fanAddr      = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	creatorAddr  = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	contractAddr = "CAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB6N4O"
)

type fakeGateway struct {
	account *stellar.Account
	err     error
	calls   int
}

func (g *fakeGateway) LoadAccount(ctx context.Context, address string) (*stellar.Account, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.account, nil
}

func (g *fakeGateway) NetworkPassphrase() string { return "Test SDF Network ; September 2015" }

func validIntent() payment.SubscriptionIntent {
	return payment.SubscriptionIntent{
		FanAddress:     fanAddr,
		CreatorAddress: creatorAddr,
		PlanID:         7,
		AssetCode:      "USDC",
		Amount:         "25",
		IntervalDays:   30,
	}
}

func TestBuild(t *testing.T) {
	gw := &fakeGateway{account: &stellar.Account{Address: fanAddr, Sequence: 100}}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New(gw, contractAddr, WithNow(func() time.Time { return now }))

	env, err := b.Build(context.Background(), validIntent())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if env.SourceAccount != fanAddr {
		t.Fatalf("source %s", env.SourceAccount)
	}
	if env.SequenceNumber != 101 {
		t.Fatalf("sequence %d, want account sequence + 1", env.SequenceNumber)
	}
	if env.BaseFee != DefaultBaseFee {
		t.Fatalf("fee %d", env.BaseFee)
	}
	if env.NetworkPassphrase != gw.NetworkPassphrase() {
		t.Fatalf("passphrase %q", env.NetworkPassphrase)
	}
	if env.TimeBounds.MinTime != now.Unix() {
		t.Fatalf("min time %d", env.TimeBounds.MinTime)
	}
	if env.TimeBounds.MaxTime != now.Add(DefaultValidity).Unix() {
		t.Fatalf("max time %d, want now + validity", env.TimeBounds.MaxTime)
	}
	if env.Memo != "sub:7" {
		t.Fatalf("memo %q", env.Memo)
	}
	if len(env.Operations) != 1 {
		t.Fatalf("expected exactly one operation, got %d", len(env.Operations))
	}
	op := env.Operations[0]
	if op.Type != payment.OpInvokeContract || op.Function != "subscribe" || op.Contract != contractAddr {
		t.Fatalf("unexpected operation %+v", op)
	}
	if len(op.Args) != 4 || op.Args[0] != fanAddr || op.Args[1] != creatorAddr || op.Args[2] != "7" {
		t.Fatalf("unexpected args %v", op.Args)
	}
}

func TestBuildDeterministicForSameSequence(t *testing.T) {
	gw := &fakeGateway{account: &stellar.Account{Address: fanAddr, Sequence: 100}}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New(gw, contractAddr, WithNow(func() time.Time { return now }))

	first, err := b.Build(context.Background(), validIntent())
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := b.Build(context.Background(), validIntent())
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if first.SequenceNumber != second.SequenceNumber ||
		first.TimeBounds != second.TimeBounds ||
		first.Memo != second.Memo {
		t.Fatal("same intent and sequence must produce a structurally identical envelope")
	}
}

func TestBuildValidation(t *testing.T) {
	gw := &fakeGateway{account: &stellar.Account{Address: fanAddr, Sequence: 100}}
	b := New(gw, contractAddr)

	cases := []struct {
		name   string
		mutate func(*payment.SubscriptionIntent)
	}{
		{"bad fan address", func(i *payment.SubscriptionIntent) { i.FanAddress = "bogus" }},
		{"bad creator address", func(i *payment.SubscriptionIntent) { i.CreatorAddress = "bogus" }},
		{"self subscription", func(i *payment.SubscriptionIntent) { i.CreatorAddress = i.FanAddress }},
		{"zero plan", func(i *payment.SubscriptionIntent) { i.PlanID = 0 }},
		{"zero interval", func(i *payment.SubscriptionIntent) { i.IntervalDays = 0 }},
		{"empty asset", func(i *payment.SubscriptionIntent) { i.AssetCode = "" }},
		{"zero amount", func(i *payment.SubscriptionIntent) { i.Amount = "0" }},
		{"negative amount", func(i *payment.SubscriptionIntent) { i.Amount = "-5" }},
		{"over-precise amount", func(i *payment.SubscriptionIntent) { i.Amount = "1.12345678" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := validIntent()
			tc.mutate(&intent)
			gw.calls = 0

			_, err := b.Build(context.Background(), intent)
			if !payment.IsKind(err, payment.KindInvalidIntent) {
				t.Fatalf("expected invalid intent, got %v", err)
			}
			if gw.calls != 0 {
				t.Fatal("validation failures must not touch the ledger")
			}
		})
	}
}

func TestBuildAccountNotFound(t *testing.T) {
	gw := &fakeGateway{err: stellar.ErrAccountNotFound}
	b := New(gw, contractAddr)

	_, err := b.Build(context.Background(), validIntent())
	if !payment.IsKind(err, payment.KindAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestBuildLedgerUnavailable(t *testing.T) {
	gw := &fakeGateway{err: &stellar.UnavailableError{Op: "load account", Status: 503}}
	b := New(gw, contractAddr)

	_, err := b.Build(context.Background(), validIntent())
	if !payment.IsKind(err, payment.KindLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
}

func TestBuildRejectsBadContract(t *testing.T) {
	gw := &fakeGateway{account: &stellar.Account{Address: fanAddr, Sequence: 100}}
	b := New(gw, "not-a-contract")

	_, err := b.Build(context.Background(), validIntent())
	if !payment.IsKind(err, payment.KindInvalidIntent) {
		t.Fatalf("expected invalid intent for bad contract, got %v", err)
	}
}
