// Package txbuilder turns subscription intents into unsigned transaction
// envelopes. The only side effect is the single account read needed for the
// fan's current sequence number; given the same intent and sequence the
// output is structurally identical.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
)

// DefaultBaseFee is the per-operation fee in stroops.
const DefaultBaseFee = 100_000

// DefaultValidity bounds how long an unsigned envelope stays submittable.
// A stale envelope cannot be resurrected later with a now-invalid sequence.
const DefaultValidity = 5 * time.Minute

// Gateway is the slice of the ledger client the builder needs.
type Gateway interface {
	LoadAccount(ctx context.Context, address string) (*stellar.Account, error)
	NetworkPassphrase() string
}

// Builder constructs unsigned subscription envelopes.
type Builder struct {
	gateway    Gateway
	contractID string
	baseFee    int64
	validity   time.Duration
	now        func() time.Time
}

// Option customizes a Builder.
type Option func(*Builder)

// WithBaseFee overrides the per-operation fee.
func WithBaseFee(fee int64) Option {
	return func(b *Builder) { b.baseFee = fee }
}

// WithValidity overrides the envelope validity window.
func WithValidity(d time.Duration) Option {
	return func(b *Builder) { b.validity = d }
}

// WithNow overrides the time source; tests use this to pin time bounds.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New creates a Builder bound to the subscription contract.
func New(gateway Gateway, contractID string, opts ...Option) *Builder {
	b := &Builder{
		gateway:    gateway,
		contractID: contractID,
		baseFee:    DefaultBaseFee,
		validity:   DefaultValidity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the intent, fetches the fan's sequence number and returns
// the unsigned envelope for the wallet to sign.
func (b *Builder) Build(ctx context.Context, intent payment.SubscriptionIntent) (payment.UnsignedEnvelope, error) {
	if err := validateIntent(intent); err != nil {
		return payment.UnsignedEnvelope{}, err
	}
	if !stellar.IsValidContractAddress(b.contractID) {
		return payment.UnsignedEnvelope{}, payment.NewError(payment.KindInvalidIntent,
			"subscription contract address %q is malformed", b.contractID)
	}

	acct, err := b.gateway.LoadAccount(ctx, intent.FanAddress)
	if err != nil {
		switch {
		case errors.Is(err, stellar.ErrAccountNotFound):
			return payment.UnsignedEnvelope{}, payment.WrapError(payment.KindAccountNotFound, err,
				"fan account %s does not exist on the ledger", intent.FanAddress)
		case stellar.IsUnavailable(err):
			return payment.UnsignedEnvelope{}, payment.WrapError(payment.KindLedgerUnavailable, err,
				"account lookup failed")
		default:
			return payment.UnsignedEnvelope{}, fmt.Errorf("load account: %w", err)
		}
	}

	now := b.now().UTC()
	return payment.UnsignedEnvelope{
		SourceAccount:     intent.FanAddress,
		SequenceNumber:    acct.Sequence + 1,
		BaseFee:           b.baseFee,
		NetworkPassphrase: b.gateway.NetworkPassphrase(),
		TimeBounds: payment.TimeBounds{
			MinTime: now.Unix(),
			MaxTime: now.Add(b.validity).Unix(),
		},
		Memo: fmt.Sprintf("sub:%d", intent.PlanID),
		Operations: []payment.Operation{
			{
				Type:     payment.OpInvokeContract,
				Source:   intent.FanAddress,
				Contract: b.contractID,
				Function: "subscribe",
				Args: []string{
					intent.FanAddress,
					intent.CreatorAddress,
					strconv.FormatInt(intent.PlanID, 10),
					intent.AssetCode,
				},
			},
		},
	}, nil
}

func validateIntent(intent payment.SubscriptionIntent) error {
	if !stellar.IsValidAccountAddress(intent.FanAddress) {
		return payment.NewError(payment.KindInvalidIntent, "fan address %q is malformed", intent.FanAddress)
	}
	if !stellar.IsValidAccountAddress(intent.CreatorAddress) {
		return payment.NewError(payment.KindInvalidIntent, "creator address %q is malformed", intent.CreatorAddress)
	}
	if intent.FanAddress == intent.CreatorAddress {
		return payment.NewError(payment.KindInvalidIntent, "fan and creator address are the same account")
	}
	if intent.PlanID <= 0 {
		return payment.NewError(payment.KindInvalidIntent, "plan id must be positive")
	}
	if intent.IntervalDays <= 0 {
		return payment.NewError(payment.KindInvalidIntent, "interval days must be positive")
	}
	if intent.AssetCode == "" {
		return payment.NewError(payment.KindInvalidIntent, "asset code is required")
	}
	stroops, err := payment.ParseAmount(intent.Amount)
	if err != nil {
		return payment.WrapError(payment.KindInvalidIntent, err, "amount %q is invalid", intent.Amount)
	}
	if stroops <= 0 {
		return payment.NewError(payment.KindInvalidIntent, "amount must be positive")
	}
	return nil
}
