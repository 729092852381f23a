// Package entitlement defines the derived access-rights model. Records are
// memos of the last on-chain truth observed, never a source of truth.
package entitlement

import "time"

// Record is the cached answer to "is fan F entitled to creator C's content".
// IsActive equals ExpiresAt > now as of LastVerifiedAt; ExpiresAt is zero
// when no subscription entry exists on the ledger.
type Record struct {
	FanAddress     string
	CreatorAddress string
	IsActive       bool
	ExpiresAt      int64
	LastVerifiedAt time.Time
}

// Subscription is an observed on-chain subscription for bookkeeping and
// renewal scanning. It mirrors ledger state and is refreshed, not authored.
type Subscription struct {
	ID             string
	FanAddress     string
	CreatorAddress string
	PlanID         int64
	TxHash         string
	ExpiresAt      int64
	LapsedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
