// Package checkout defines the checkout session domain model. A session is
// the caller-facing wrapper around one subscription payment attempt.
package checkout

import "time"

// State is a checkout session lifecycle state. Once a signed envelope has
// been submitted the session mirrors the submission coordinator's states.
type State string

const (
	StateCreated           State = "created"
	StateAwaitingSignature State = "awaiting_signature"
	StateSubmitted         State = "submitted"
	StatePending           State = "pending"
	StateConfirmed         State = "confirmed"
	StateRejected          State = "rejected"
	StateTimedOut          State = "timed_out"
	StateExpired           State = "expired"
)

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateTimedOut, StateExpired:
		return true
	}
	return false
}

// Session is one checkout attempt for a (fan, plan) pair. Monetary fields
// are decimal asset amount strings.
type Session struct {
	ID             string
	FanAddress     string
	CreatorAddress string
	PlanID         int64
	AssetCode      string
	AssetIssuer    string
	Amount         string
	PlatformFee    string
	NetworkFee     string
	Total          string
	State          State
	EnvelopeHash   string
	TxHash         string
	LastError      string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PriceBreakdown itemizes what the fan pays for a session.
type PriceBreakdown struct {
	Subtotal    string
	PlatformFee string
	NetworkFee  string
	Total       string
	Currency    string
}

// AssetBalance is one balance line from the fan's wallet account.
type AssetBalance struct {
	Code     string
	Issuer   string
	Balance  string
	IsNative bool
}

// WalletStatus reports the fan account's balances as last read from the
// ledger.
type WalletStatus struct {
	Address  string
	Balances []AssetBalance
}

// Preview is the human-reviewable summary of the transaction the fan is
// about to sign.
type Preview struct {
	CheckoutID string
	From       string
	To         string
	AssetCode  string
	Amount     string
	Fee        string
	Total      string
	Memo       string
}

// BalanceValidation is the result of checking a wallet balance against the
// session total.
type BalanceValidation struct {
	Valid     bool
	Balance   string
	Shortfall string
}
