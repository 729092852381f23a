// Package payment defines the transaction-lifecycle domain model: the
// subscription intent, the envelope before and after signing, and the
// submission record tracked by the coordinator.
package payment

import (
	"fmt"
	"strings"
	"time"
)

// SubscriptionIntent captures a fan's decision to subscribe to a creator's
// plan. It is immutable once created and consumed exactly once by the
// transaction builder.
type SubscriptionIntent struct {
	FanAddress     string
	CreatorAddress string
	PlanID         int64
	AssetCode      string
	AssetIssuer    string
	Amount         string
	IntervalDays   int
}

// Operation is a single ledger operation inside an envelope. The builder
// emits one contract invocation per subscription payment.
type Operation struct {
	Type     string
	Source   string
	Contract string
	Function string
	Args     []string
}

// OpInvokeContract is the operation type for a Soroban contract call.
const OpInvokeContract = "invoke_contract"

// TimeBounds is the network-enforced validity window of an envelope,
// expressed in epoch seconds.
type TimeBounds struct {
	MinTime int64
	MaxTime int64
}

// UnsignedEnvelope is the transaction payload handed to the signing broker.
// It is owned exclusively by the pipeline between builder and broker and is
// never persisted; the network rejects it after MaxTime passes.
type UnsignedEnvelope struct {
	SourceAccount     string
	SequenceNumber    int64
	Operations        []Operation
	BaseFee           int64
	NetworkPassphrase string
	TimeBounds        TimeBounds
	Memo              string
}

// SignedEnvelope is the opaque signed artifact returned by the wallet. The
// pipeline forwards the XDR blob verbatim and never inspects or mutates it.
type SignedEnvelope struct {
	XDR  string
	Hash string
}

// Status is a submission lifecycle state. Transitions are monotonic: once a
// terminal status is reached the record never reverts.
type Status string

const (
	StatusCreated   Status = "created"
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further transitions are possible. TimedOut is
// terminal for the coordinator even though the underlying transaction may
// still finalize on the network.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusTimedOut:
		return true
	}
	return false
}

// SubmissionRecord tracks one logical submission chain, keyed by the
// envelope hash so retried submissions of the same signed bytes share a
// record.
type SubmissionRecord struct {
	EnvelopeHash     string
	Status           Status
	Attempts         int
	FirstSubmittedAt time.Time
	LastCheckedAt    time.Time
	ResultHash       string
	Err              *Error
}

// Snapshot is one status observation emitted on the coordinator's stream,
// one per state transition.
type Snapshot struct {
	State           Status
	TransactionHash string
	Err             *Error
	At              time.Time
}

// Stroop is the smallest asset unit: one ten-millionth of a whole unit.
const StroopsPerUnit = 10_000_000

// ParseAmount converts a decimal asset amount string ("10", "10.25") into
// stroops. It rejects negative, malformed and over-precise values.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 7 {
		return 0, fmt.Errorf("amount %q exceeds 7 decimal places", s)
	}

	var units int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a number", s)
		}
		units = units*10 + int64(r-'0')
		if units > (1<<62)/StroopsPerUnit {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
	}

	stroops := units * StroopsPerUnit
	scale := int64(StroopsPerUnit / 10)
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a number", s)
		}
		stroops += int64(r-'0') * scale
		scale /= 10
	}
	return stroops, nil
}

// FormatAmount renders stroops as a 7-decimal-place asset amount string.
func FormatAmount(stroops int64) string {
	return fmt.Sprintf("%d.%07d", stroops/StroopsPerUnit, stroops%StroopsPerUnit)
}
