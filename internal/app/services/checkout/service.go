// Package checkout implements the checkout session service: the caller-facing
// orchestration of plan lookup, pricing, envelope building, signed submission
// and entitlement refresh.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/MyFanss/MyFans-sub002/internal/app/domain/checkout"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/plan"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
	"github.com/MyFanss/MyFans-sub002/internal/app/submit"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// DefaultSessionTTL bounds how long an unfinished checkout session stays
// usable before reads report it expired.
const DefaultSessionTTL = 30 * time.Minute

// DefaultPlatformFeeBps is the platform's cut in basis points.
const DefaultPlatformFeeBps = 250

// EnvelopeBuilder builds unsigned envelopes from intents.
type EnvelopeBuilder interface {
	Build(ctx context.Context, intent payment.SubscriptionIntent) (payment.UnsignedEnvelope, error)
}

// Submitter is the slice of the submission coordinator the service needs.
type Submitter interface {
	Submit(ctx context.Context, signed payment.SignedEnvelope) (*submit.Watch, error)
	Record(hash string) (payment.SubmissionRecord, bool)
	Watch(hash string) (*submit.Watch, bool)
	Lookup(ctx context.Context, hash string) (*stellar.TransactionStatus, error)
}

// Wallet reads fan account state from the ledger.
type Wallet interface {
	LoadAccount(ctx context.Context, address string) (*stellar.Account, error)
}

// Entitlements is the cache-invalidation hook into the entitlement resolver.
type Entitlements interface {
	Invalidate(fanAddress, creatorAddress string)
}

// Config tunes pricing and session lifetime.
type Config struct {
	PlatformFeeBps int
	NetworkFee     int64 // stroops
	SessionTTL     time.Duration
}

func (c *Config) applyDefaults() {
	if c.PlatformFeeBps <= 0 {
		c.PlatformFeeBps = DefaultPlatformFeeBps
	}
	if c.NetworkFee <= 0 {
		c.NetworkFee = 100_000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
}

// Service runs checkout sessions end to end.
type Service struct {
	plans        storage.PlanStore
	sessions     storage.CheckoutStore
	subs         storage.SubscriptionStore
	builder      EnvelopeBuilder
	submitter    Submitter
	wallet       Wallet
	entitlements Entitlements
	cfg          Config
	log          *logger.Logger
	now          func() time.Time
}

// New creates a checkout Service.
func New(plans storage.PlanStore, sessions storage.CheckoutStore, subs storage.SubscriptionStore,
	builder EnvelopeBuilder, submitter Submitter, wallet Wallet, entitlements Entitlements,
	cfg Config, log *logger.Logger) *Service {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("checkout")
	}
	return &Service{
		plans:        plans,
		sessions:     sessions,
		subs:         subs,
		builder:      builder,
		submitter:    submitter,
		wallet:       wallet,
		entitlements: entitlements,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// CreateSession opens a checkout session for a fan against an active plan.
func (s *Service) CreateSession(ctx context.Context, fanAddress string, planID int64) (domain.Session, error) {
	if !stellar.IsValidAccountAddress(fanAddress) {
		return domain.Session{}, payment.NewError(payment.KindInvalidIntent,
			"fan address %q is malformed", fanAddress)
	}

	p, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, payment.NewError(payment.KindInvalidIntent, "plan %d does not exist", planID)
		}
		return domain.Session{}, err
	}
	if !p.Active {
		return domain.Session{}, payment.NewError(payment.KindInvalidIntent, "plan %d is not active", planID)
	}
	if fanAddress == p.CreatorAddress {
		return domain.Session{}, payment.NewError(payment.KindInvalidIntent,
			"creators cannot subscribe to their own plan")
	}

	breakdown, err := s.priceBreakdown(p)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.now().UTC()
	sess, err := s.sessions.CreateSession(ctx, domain.Session{
		FanAddress:     fanAddress,
		CreatorAddress: p.CreatorAddress,
		PlanID:         p.ID,
		AssetCode:      p.AssetCode,
		AssetIssuer:    p.AssetIssuer,
		Amount:         p.Amount,
		PlatformFee:    breakdown.PlatformFee,
		NetworkFee:     breakdown.NetworkFee,
		Total:          breakdown.Total,
		State:          domain.StateCreated,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.log.WithField("session_id", sess.ID).WithField("plan_id", p.ID).Info("checkout session created")
	return sess, nil
}

// GetSession returns a session, flipping it to expired when its window has
// passed without a submission.
func (s *Service) GetSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	return s.reapExpired(ctx, sess)
}

// PriceBreakdown itemizes the charge for a session.
func (s *Service) PriceBreakdown(ctx context.Context, sessionID string) (domain.PriceBreakdown, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	return domain.PriceBreakdown{
		Subtotal:    sess.Amount,
		PlatformFee: sess.PlatformFee,
		NetworkFee:  sess.NetworkFee,
		Total:       sess.Total,
		Currency:    sess.AssetCode,
	}, nil
}

// WalletStatus reads the fan account's balances from the ledger.
func (s *Service) WalletStatus(ctx context.Context, sessionID string) (domain.WalletStatus, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.WalletStatus{}, err
	}

	acct, err := s.wallet.LoadAccount(ctx, sess.FanAddress)
	if err != nil {
		switch {
		case errors.Is(err, stellar.ErrAccountNotFound):
			return domain.WalletStatus{}, payment.WrapError(payment.KindAccountNotFound, err,
				"fan account %s does not exist on the ledger", sess.FanAddress)
		case stellar.IsUnavailable(err):
			return domain.WalletStatus{}, payment.WrapError(payment.KindLedgerUnavailable, err,
				"wallet status unavailable")
		default:
			return domain.WalletStatus{}, err
		}
	}

	status := domain.WalletStatus{Address: acct.Address}
	for _, b := range acct.Balances {
		status.Balances = append(status.Balances, domain.AssetBalance{
			Code:     b.AssetCode,
			Issuer:   b.AssetIssuer,
			Balance:  b.Balance,
			IsNative: b.Native(),
		})
	}
	return status, nil
}

// ValidateBalance checks the fan's balance of the plan asset against the
// session total.
func (s *Service) ValidateBalance(ctx context.Context, sessionID string) (domain.BalanceValidation, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.BalanceValidation{}, err
	}
	status, err := s.WalletStatus(ctx, sessionID)
	if err != nil {
		return domain.BalanceValidation{}, err
	}

	var balance string
	for _, b := range status.Balances {
		if b.Code == sess.AssetCode || (b.IsNative && sess.AssetCode == "XLM") {
			balance = b.Balance
			break
		}
	}
	if balance == "" {
		return domain.BalanceValidation{Valid: false, Balance: "0", Shortfall: sess.Total}, nil
	}

	have, err := payment.ParseAmount(balance)
	if err != nil {
		return domain.BalanceValidation{}, fmt.Errorf("parse balance: %w", err)
	}
	need, err := payment.ParseAmount(sess.Total)
	if err != nil {
		return domain.BalanceValidation{}, fmt.Errorf("parse total: %w", err)
	}

	v := domain.BalanceValidation{Valid: have >= need, Balance: balance}
	if !v.Valid {
		v.Shortfall = payment.FormatAmount(need - have)
	}
	return v, nil
}

// BuildEnvelope constructs the unsigned envelope for the session and moves it
// to awaiting_signature. Preview renders the same envelope for review.
func (s *Service) BuildEnvelope(ctx context.Context, sessionID string) (payment.UnsignedEnvelope, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return payment.UnsignedEnvelope{}, err
	}
	if sess.State.Terminal() {
		return payment.UnsignedEnvelope{}, payment.NewError(payment.KindInvalidIntent,
			"session %s is %s", sess.ID, sess.State)
	}

	p, err := s.plans.GetPlan(ctx, sess.PlanID)
	if err != nil {
		return payment.UnsignedEnvelope{}, err
	}

	env, err := s.builder.Build(ctx, payment.SubscriptionIntent{
		FanAddress:     sess.FanAddress,
		CreatorAddress: sess.CreatorAddress,
		PlanID:         sess.PlanID,
		AssetCode:      sess.AssetCode,
		AssetIssuer:    sess.AssetIssuer,
		Amount:         sess.Amount,
		IntervalDays:   p.IntervalDays,
	})
	if err != nil {
		return payment.UnsignedEnvelope{}, err
	}

	if sess.State == domain.StateCreated {
		sess.State = domain.StateAwaitingSignature
		if _, err := s.sessions.UpdateSession(ctx, sess); err != nil {
			return payment.UnsignedEnvelope{}, err
		}
	}
	return env, nil
}

// Preview returns the human-reviewable summary of what the fan is about to
// sign.
func (s *Service) Preview(ctx context.Context, sessionID string) (domain.Preview, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Preview{}, err
	}
	env, err := s.BuildEnvelope(ctx, sessionID)
	if err != nil {
		return domain.Preview{}, err
	}
	return domain.Preview{
		CheckoutID: sess.ID,
		From:       sess.FanAddress,
		To:         sess.CreatorAddress,
		AssetCode:  sess.AssetCode,
		Amount:     sess.Amount,
		Fee:        payment.FormatAmount(env.BaseFee),
		Total:      sess.Total,
		Memo:       env.Memo,
	}, nil
}

// SubmitSigned hands the wallet-signed envelope to the submission coordinator
// and mirrors the submission chain into the session until it settles.
func (s *Service) SubmitSigned(ctx context.Context, sessionID string, signed payment.SignedEnvelope) (domain.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State.Terminal() {
		return domain.Session{}, payment.NewError(payment.KindInvalidIntent,
			"session %s is %s", sess.ID, sess.State)
	}

	// The pipeline must outlive the caller: an HTTP request context is
	// cancelled as soon as the response is written, and the poll loop has to
	// keep running until the chain settles.
	watch, err := s.submitter.Submit(context.WithoutCancel(ctx), signed)
	if err != nil {
		return domain.Session{}, err
	}

	sess.State = domain.StateSubmitted
	sess.EnvelopeHash = watch.Record().EnvelopeHash
	sess, err = s.sessions.UpdateSession(ctx, sess)
	if err != nil {
		watch.Close()
		return domain.Session{}, err
	}

	go s.mirror(sess.ID, watch)
	return sess, nil
}

// Watch re-attaches to the submission chain of a submitted session.
func (s *Service) Watch(ctx context.Context, sessionID string) (*submit.Watch, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EnvelopeHash == "" {
		return nil, payment.NewError(payment.KindInvalidIntent, "session %s has not been submitted", sess.ID)
	}
	watch, found := s.submitter.Watch(sess.EnvelopeHash)
	if !found {
		return nil, fmt.Errorf("submission chain for session %s is gone", sess.ID)
	}
	return watch, nil
}

// AwaitResult blocks until the session's submission chain settles and the
// mirrored state has been persisted, then returns the settled session.
// Rejected and timed-out outcomes are still a result, not an error; the
// session's state and last_error fields carry the detail.
func (s *Service) AwaitResult(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State.Terminal() {
		return sess, nil
	}

	watch, err := s.Watch(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer watch.Close()

	record, err := watch.Await(ctx)
	if err != nil && !record.Status.Terminal() {
		return domain.Session{}, err
	}

	// The mirror goroutine persists the terminal state on its own clock;
	// hold until the session catches up with the record.
	for {
		sess, err = s.GetSession(ctx, sessionID)
		if err != nil {
			return domain.Session{}, err
		}
		if sess.State.Terminal() {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SessionByEnvelopeHash resolves a session from the envelope hash reported by
// the submission layer.
func (s *Service) SessionByEnvelopeHash(ctx context.Context, hash string) (domain.Session, error) {
	sess, err := s.sessions.GetSessionByEnvelopeHash(ctx, hash)
	if err != nil {
		return domain.Session{}, err
	}
	return s.reapExpired(ctx, sess)
}

// RecoverOpenSessions reconciles sessions left submitted or pending by an
// earlier process. The coordinator's in-memory chains are gone after a
// restart, so each surviving session is settled against the ledger directly:
// a found transaction settles the session, an unknown hash leaves it for the
// caller to resubmit, and a ledger outage leaves it untouched for the next
// sweep.
func (s *Service) RecoverOpenSessions(ctx context.Context) error {
	open, err := s.sessions.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing open sessions: %w", err)
	}

	for _, sess := range open {
		if sess.State != domain.StateSubmitted && sess.State != domain.StatePending {
			continue
		}
		hash := sess.TxHash
		if hash == "" {
			hash = sess.EnvelopeHash
		}
		if hash == "" {
			continue
		}

		status, err := s.submitter.Lookup(ctx, hash)
		switch {
		case err == nil && status.Successful:
			s.applySnapshot(ctx, sess.ID, payment.Snapshot{
				State:           payment.StatusConfirmed,
				TransactionHash: status.Hash,
				At:              s.now(),
			})
		case err == nil:
			s.applySnapshot(ctx, sess.ID, payment.Snapshot{
				State:           payment.StatusRejected,
				TransactionHash: status.Hash,
				Err: payment.NewError(payment.KindRejected,
					"transaction %s failed with %s", abbrev(status.Hash), status.ResultCode),
				At: s.now(),
			})
		case errors.Is(err, stellar.ErrTransactionNotFound):
			s.log.WithField("session_id", sess.ID).Warnf("no ledger record for recovered session; awaiting resubmission")
		default:
			s.log.WithError(err).WithField("session_id", sess.ID).Errorf("recovery lookup failed")
		}
	}
	return nil
}

// mirror consumes the submission stream and keeps the persisted session in
// step with it. On confirmation it records the observed subscription and
// invalidates the entitlement cache so the next check reads fresh chain
// state.
func (s *Service) mirror(sessionID string, watch *submit.Watch) {
	defer watch.Close()

	for snap := range watch.Updates() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s.applySnapshot(ctx, sessionID, snap)
		cancel()
	}
}

func (s *Service) applySnapshot(ctx context.Context, sessionID string, snap payment.Snapshot) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Errorf("session vanished while mirroring")
		return
	}
	if sess.State.Terminal() {
		return
	}

	switch snap.State {
	case payment.StatusSubmitted:
		sess.State = domain.StateSubmitted
	case payment.StatusPending:
		sess.State = domain.StatePending
	case payment.StatusConfirmed:
		sess.State = domain.StateConfirmed
	case payment.StatusRejected:
		sess.State = domain.StateRejected
	case payment.StatusTimedOut:
		sess.State = domain.StateTimedOut
	default:
		return
	}
	if snap.TransactionHash != "" {
		sess.TxHash = snap.TransactionHash
	}
	if snap.Err != nil {
		sess.LastError = snap.Err.Error()
	} else {
		sess.LastError = ""
	}

	if _, err := s.sessions.UpdateSession(ctx, sess); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Errorf("failed to mirror submission state")
		return
	}

	if sess.State == domain.StateConfirmed {
		s.finalize(ctx, sess)
	}
}

// finalize records the confirmed subscription and drops the stale cache
// entry. Storage failures here are logged, not surfaced: the chain already
// holds the truth and the renewal scanner will reconcile.
func (s *Service) finalize(ctx context.Context, sess domain.Session) {
	p, err := s.plans.GetPlan(ctx, sess.PlanID)
	expiresAt := s.now().Unix()
	if err == nil {
		expiresAt += int64(p.IntervalDays) * 24 * 60 * 60
	}

	_, err = s.subs.UpsertSubscription(ctx, entitlement.Subscription{
		FanAddress:     sess.FanAddress,
		CreatorAddress: sess.CreatorAddress,
		PlanID:         sess.PlanID,
		TxHash:         sess.TxHash,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Errorf("failed to record confirmed subscription")
	}

	if s.entitlements != nil {
		s.entitlements.Invalidate(sess.FanAddress, sess.CreatorAddress)
	}
	s.log.WithField("session_id", sess.ID).WithField("tx_hash", abbrev(sess.TxHash)).Info("subscription confirmed")
}

func (s *Service) reapExpired(ctx context.Context, sess domain.Session) (domain.Session, error) {
	if sess.State.Terminal() || sess.State == domain.StateSubmitted || sess.State == domain.StatePending {
		return sess, nil
	}
	if s.now().Before(sess.ExpiresAt) {
		return sess, nil
	}
	sess.State = domain.StateExpired
	return s.sessions.UpdateSession(ctx, sess)
}

func (s *Service) priceBreakdown(p plan.Plan) (domain.PriceBreakdown, error) {
	subtotal, err := payment.ParseAmount(p.Amount)
	if err != nil {
		return domain.PriceBreakdown{}, payment.WrapError(payment.KindInvalidIntent, err,
			"plan %d has an invalid amount", p.ID)
	}
	platformFee := subtotal * int64(s.cfg.PlatformFeeBps) / 10_000
	total := subtotal + platformFee + s.cfg.NetworkFee

	return domain.PriceBreakdown{
		Subtotal:    payment.FormatAmount(subtotal),
		PlatformFee: payment.FormatAmount(platformFee),
		NetworkFee:  payment.FormatAmount(s.cfg.NetworkFee),
		Total:       payment.FormatAmount(total),
		Currency:    p.AssetCode,
	}, nil
}

func abbrev(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
