// Package submit owns the submit → confirm → finalize pipeline. One
// submission record exists per envelope hash; concurrent submissions of the
// same signed bytes collapse onto that record so at most one in-flight
// network submission exists per hash.
package submit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
	"github.com/MyFanss/MyFans-sub002/internal/app/metrics"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// Gateway is the slice of the ledger client the coordinator needs.
type Gateway interface {
	SubmitTransaction(ctx context.Context, signedXDR string) (*stellar.SubmitResult, error)
	GetTransaction(ctx context.Context, hash string) (*stellar.TransactionStatus, error)
}

// Config tunes the retry and poll behaviour.
type Config struct {
	// InitialPollInterval is the first wait before looking a transaction up.
	InitialPollInterval time.Duration
	// MaxPollInterval caps the exponential backoff between lookups.
	MaxPollInterval time.Duration
	// PollBudget bounds the total time spent polling before TimedOut.
	PollBudget time.Duration
	// TransientAttempts bounds consecutive ledger-unavailable retries while
	// submitting or polling before the error is surfaced.
	TransientAttempts int
}

// DefaultConfig returns the production poll budget.
func DefaultConfig() Config {
	return Config{
		InitialPollInterval: 2 * time.Second,
		MaxPollInterval:     15 * time.Second,
		PollBudget:          2 * time.Minute,
		TransientAttempts:   3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.InitialPollInterval <= 0 {
		c.InitialPollInterval = d.InitialPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = d.MaxPollInterval
	}
	if c.PollBudget <= 0 {
		c.PollBudget = d.PollBudget
	}
	if c.TransientAttempts <= 0 {
		c.TransientAttempts = d.TransientAttempts
	}
}

// Coordinator runs the submission state machine for each envelope hash.
type Coordinator struct {
	gateway Gateway
	cfg     Config
	clock   Clock
	log     *logger.Logger
	lookups singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	record   payment.SubmissionRecord
	history  []payment.Snapshot
	watchers map[int]chan payment.Snapshot
	nextID   int
	running  bool
}

// New creates a Coordinator.
func New(gateway Gateway, cfg Config, clock Clock, log *logger.Logger) *Coordinator {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = logger.NewDefault("submit")
	}
	return &Coordinator{
		gateway: gateway,
		cfg:     cfg,
		clock:   clock,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Submit registers the signed envelope and starts (or joins) its pipeline.
// Submitting the same hash again while a pipeline runs, or after a terminal
// status, returns a watch on the existing record without touching the
// network. A record parked on a transient failure is restarted.
//
// Cancelling ctx stops further polling for this submission; it has no effect
// on a transaction the network has already accepted.
func (c *Coordinator) Submit(ctx context.Context, signed payment.SignedEnvelope) (*Watch, error) {
	if signed.XDR == "" {
		return nil, fmt.Errorf("signed envelope is empty")
	}
	hash := signed.Hash
	if hash == "" {
		sum := sha256.Sum256([]byte(signed.XDR))
		hash = hex.EncodeToString(sum[:])
	}

	c.mu.Lock()
	e, exists := c.entries[hash]
	if !exists {
		e = &entry{
			record: payment.SubmissionRecord{
				EnvelopeHash: hash,
				Status:       payment.StatusCreated,
			},
			watchers: make(map[int]chan payment.Snapshot),
		}
		c.entries[hash] = e
		e.history = append(e.history, payment.Snapshot{State: payment.StatusCreated, At: c.clock.Now()})
	}

	start := false
	if !e.running && !e.record.Status.Terminal() {
		e.running = true
		e.record.Err = nil
		if exists {
			// A restarted chain must not replay the stale failure snapshot
			// to new watchers.
			e.history = []payment.Snapshot{{
				State:           e.record.Status,
				TransactionHash: e.record.ResultHash,
				At:              c.clock.Now(),
			}}
		}
		start = true
	}
	watch := c.newWatchLocked(e)
	c.mu.Unlock()

	if start {
		go c.run(ctx, hash, signed.XDR)
	}
	return watch, nil
}

// Record returns the current submission record for a hash.
func (c *Coordinator) Record(hash string) (payment.SubmissionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return payment.SubmissionRecord{}, false
	}
	return e.record, true
}

// Forget discards a record once its terminal status has been observed and
// reported. Records for in-flight submissions cannot be discarded.
func (c *Coordinator) Forget(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok || e.running {
		return false
	}
	delete(c.entries, hash)
	return true
}

// Lookup queries the ledger for a transaction by hash, collapsing concurrent
// identical lookups into one network call. Callers use this to re-query
// after a TimedOut outcome instead of resubmitting.
func (c *Coordinator) Lookup(ctx context.Context, hash string) (*stellar.TransactionStatus, error) {
	v, err, _ := c.lookups.Do(hash, func() (interface{}, error) {
		return c.gateway.GetTransaction(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*stellar.TransactionStatus), nil
}

// run drives one submission chain to its end: a terminal state, a surfaced
// transient failure, or caller cancellation.
func (c *Coordinator) run(ctx context.Context, hash, xdr string) {
	defer func() {
		c.mu.Lock()
		e := c.entries[hash]
		e.running = false
		terminal := e.record.Status.Terminal()
		c.mu.Unlock()
		if terminal {
			c.closeWatchers(hash)
		}
	}()

	log := c.log.WithField("envelope_hash", abbrev(hash))

	// A chain parked on a transient poll failure resumes polling; the
	// network already holds the envelope, so resubmitting is pointless.
	c.mu.Lock()
	resume := c.entries[hash].record.Status == payment.StatusPending
	resumeHash := c.entries[hash].record.ResultHash
	c.mu.Unlock()
	if resume {
		c.poll(ctx, hash, resumeHash, log)
		return
	}

	c.transition(hash, payment.StatusSubmitted, "", nil)

	result, err := c.submitWithRetry(ctx, hash, xdr)
	if err != nil {
		var rej *stellar.RejectionError
		switch {
		case errors.As(err, &rej):
			// Structural failure. The caller must rebuild a fresh envelope;
			// resubmitting these bytes can never succeed.
			log.WithError(err).Warn("submission rejected by the network")
			c.transition(hash, payment.StatusRejected, "",
				payment.WrapError(payment.KindRejected, err, "envelope rejected (%s)", rej.ResultCode))
		case errors.Is(err, ctx.Err()) && ctx.Err() != nil:
			log.Info("submission abandoned by caller before acceptance")
			c.fail(hash, payment.WrapError(payment.KindLedgerUnavailable, err, "submission cancelled"))
		default:
			log.WithError(err).Warn("ledger unavailable while submitting")
			c.fail(hash, payment.WrapError(payment.KindLedgerUnavailable, err, "submission attempts exhausted"))
		}
		return
	}

	txHash := result.Hash
	if txHash == "" {
		txHash = hash
	}
	if result.Duplicate {
		log.Info("network already holds this envelope; treating as accepted")
	}
	c.transition(hash, payment.StatusPending, txHash, nil)

	c.poll(ctx, hash, txHash, log)
}

// submitWithRetry performs the network submission with bounded backoff for
// transient errors. Structural rejections are returned immediately.
func (c *Coordinator) submitWithRetry(ctx context.Context, hash, xdr string) (*stellar.SubmitResult, error) {
	interval := c.cfg.InitialPollInterval
	var lastErr error

	for attempt := 1; attempt <= c.cfg.TransientAttempts; attempt++ {
		c.mu.Lock()
		e := c.entries[hash]
		e.record.Attempts++
		if e.record.FirstSubmittedAt.IsZero() {
			e.record.FirstSubmittedAt = c.clock.Now()
		}
		c.mu.Unlock()

		result, err := c.gateway.SubmitTransaction(ctx, xdr)
		if err == nil {
			metrics.SubmissionAttempt("accepted")
			return result, nil
		}
		if !stellar.IsUnavailable(err) {
			metrics.SubmissionAttempt("rejected")
			return nil, err
		}

		metrics.SubmissionAttempt("unavailable")
		lastErr = err
		if attempt == c.cfg.TransientAttempts {
			break
		}
		if err := c.wait(ctx, interval); err != nil {
			return nil, err
		}
		interval = c.nextInterval(interval)
	}
	return nil, lastErr
}

// poll watches the transaction by hash until it reaches a terminal state,
// the poll budget runs out, or the caller cancels.
func (c *Coordinator) poll(ctx context.Context, hash, txHash string, log *logger.Logger) {
	deadline := c.clock.Now().Add(c.cfg.PollBudget)
	interval := c.cfg.InitialPollInterval
	transient := 0

	for {
		if err := c.wait(ctx, interval); err != nil {
			log.Info("polling stopped by caller; transaction may still finalize")
			return
		}
		metrics.PollAttempt()

		c.mu.Lock()
		c.entries[hash].record.LastCheckedAt = c.clock.Now()
		c.mu.Unlock()

		status, err := c.Lookup(ctx, txHash)
		switch {
		case err == nil && status.Successful:
			log.WithField("ledger", status.Ledger).Info("transaction confirmed")
			c.transition(hash, payment.StatusConfirmed, txHash, nil)
			return

		case err == nil:
			// Included but failed: structural, equivalent to a synchronous
			// rejection observed late.
			log.Warnf("transaction failed in ledger %d (%s)", status.Ledger, status.ResultCode)
			c.transition(hash, payment.StatusRejected, txHash,
				payment.NewError(payment.KindRejected, "transaction failed on-chain (%s)", status.ResultCode))
			return

		case errors.Is(err, stellar.ErrTransactionNotFound):
			transient = 0

		case stellar.IsUnavailable(err):
			transient++
			if transient >= c.cfg.TransientAttempts {
				log.WithError(err).Warn("ledger unavailable while polling; giving up for now")
				c.fail(hash, payment.WrapError(payment.KindLedgerUnavailable, err, "poll attempts exhausted"))
				return
			}

		default:
			log.WithError(err).Warn("unexpected lookup failure")
			c.fail(hash, payment.WrapError(payment.KindLedgerUnavailable, err, "lookup failed"))
			return
		}

		if c.clock.Now().After(deadline) {
			// Indeterminate, not failed: the transaction may still finalize.
			// Callers re-query by hash; they must never blindly resubmit.
			log.Warn("poll budget exhausted without confirmation")
			c.transition(hash, payment.StatusTimedOut, txHash,
				payment.NewError(payment.KindTimedOut, "no confirmation within %s", c.cfg.PollBudget))
			return
		}
		interval = c.nextInterval(interval)
	}
}

func (c *Coordinator) nextInterval(current time.Duration) time.Duration {
	next := current * 2
	if next > c.cfg.MaxPollInterval {
		next = c.cfg.MaxPollInterval
	}
	return next
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// transition applies a state change and fans the snapshot out to watchers.
// Terminal states are sticky: a transition away from one is ignored.
func (c *Coordinator) transition(hash string, status payment.Status, txHash string, perr *payment.Error) {
	c.mu.Lock()
	e := c.entries[hash]
	if e.record.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	e.record.Status = status
	if txHash != "" {
		e.record.ResultHash = txHash
	}
	e.record.Err = perr

	snap := payment.Snapshot{
		State:           status,
		TransactionHash: e.record.ResultHash,
		Err:             perr,
		At:              c.clock.Now(),
	}
	e.history = append(e.history, snap)
	for _, ch := range e.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
	c.mu.Unlock()

	if status.Terminal() {
		metrics.SubmissionFinished(string(status))
	}
}

// fail surfaces a transient error on the stream without a state transition;
// the record stays non-terminal so a later Submit can restart the chain.
func (c *Coordinator) fail(hash string, perr *payment.Error) {
	c.mu.Lock()
	e := c.entries[hash]
	e.record.Err = perr
	snap := payment.Snapshot{
		State:           e.record.Status,
		TransactionHash: e.record.ResultHash,
		Err:             perr,
		At:              c.clock.Now(),
	}
	e.history = append(e.history, snap)
	for _, ch := range e.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
	c.mu.Unlock()
	c.closeWatchers(hash)
}

func (c *Coordinator) closeWatchers(hash string) {
	c.mu.Lock()
	e := c.entries[hash]
	for id, ch := range e.watchers {
		close(ch)
		delete(e.watchers, id)
	}
	c.mu.Unlock()
}

func abbrev(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
