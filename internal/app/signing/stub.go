package signing

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
)

// Stub is a deterministic wallet double. Each Sign call consumes the next
// scripted outcome; with an empty script it signs everything.
type Stub struct {
	mu      sync.Mutex
	script  []Outcome
	signed  int
	refused int
}

// Outcome scripts one Sign call on a Stub.
type Outcome struct {
	Reject      bool
	Unavailable bool
	Timeout     bool
}

// NewStub creates a wallet double with the given scripted outcomes.
func NewStub(script ...Outcome) *Stub {
	return &Stub{script: script}
}

// Sign implements Broker.
func (s *Stub) Sign(_ context.Context, envelope payment.UnsignedEnvelope) (payment.SignedEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outcome Outcome
	if len(s.script) > 0 {
		outcome = s.script[0]
		s.script = s.script[1:]
	}

	switch {
	case outcome.Reject:
		s.refused++
		return payment.SignedEnvelope{}, payment.NewError(payment.KindUserRejected, "signature request declined in wallet")
	case outcome.Unavailable:
		return payment.SignedEnvelope{}, payment.NewError(payment.KindSignerUnavailable, "wallet not reachable")
	case outcome.Timeout:
		return payment.SignedEnvelope{}, payment.NewError(payment.KindSignTimeout, "wallet did not respond")
	}

	s.signed++
	return Seal(envelope), nil
}

// SignedCount returns how many envelopes the stub has signed.
func (s *Stub) SignedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed
}

// Seal produces the deterministic signed artifact for an envelope. The blob
// is a stand-in for wallet output: same envelope, same bytes, same hash.
func Seal(envelope payment.UnsignedEnvelope) payment.SignedEnvelope {
	material := fmt.Sprintf("%s|%d|%d|%s", envelope.SourceAccount, envelope.SequenceNumber,
		envelope.TimeBounds.MaxTime, envelope.Memo)
	for _, op := range envelope.Operations {
		material += fmt.Sprintf("|%s:%s:%s:%v", op.Type, op.Contract, op.Function, op.Args)
	}

	xdr := base64.StdEncoding.EncodeToString([]byte(material))
	sum := sha256.Sum256([]byte(xdr))
	return payment.SignedEnvelope{
		XDR:  xdr,
		Hash: hex.EncodeToString(sum[:]),
	}
}
