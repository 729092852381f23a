// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/checkout"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/plan"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.PlanStore = (*Store)(nil)
var _ storage.CheckoutStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- PlanStore --------------------------------------------------------------

func (s *Store) CreatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscription_plans
			(creator_address, creator_name, name, description, asset_code, asset_issuer,
			 amount, interval_days, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, p.CreatorAddress, p.CreatorName, p.Name, p.Description, p.AssetCode, p.AssetIssuer,
		p.Amount, p.IntervalDays, p.Active, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return plan.Plan{}, err
	}
	return p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error) {
	existing, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		return plan.Plan{}, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscription_plans
		SET creator_name = $2, name = $3, description = $4, asset_code = $5,
			asset_issuer = $6, amount = $7, interval_days = $8, active = $9, updated_at = $10
		WHERE id = $1
	`, p.ID, p.CreatorName, p.Name, p.Description, p.AssetCode,
		p.AssetIssuer, p.Amount, p.IntervalDays, p.Active, p.UpdatedAt)
	if err != nil {
		return plan.Plan{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return plan.Plan{}, fmt.Errorf("plan %d: %w", p.ID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (plan.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, creator_address, creator_name, name, description, asset_code,
			asset_issuer, amount, interval_days, active, created_at, updated_at
		FROM subscription_plans
		WHERE id = $1
	`, id)

	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Plan{}, fmt.Errorf("plan %d: %w", id, storage.ErrNotFound)
	}
	return p, err
}

func (s *Store) ListPlansByCreator(ctx context.Context, creatorAddress string) ([]plan.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_address, creator_name, name, description, asset_code,
			asset_issuer, amount, interval_days, active, created_at, updated_at
		FROM subscription_plans
		WHERE creator_address = $1
		ORDER BY id
	`, creatorAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row scanner) (plan.Plan, error) {
	var p plan.Plan
	err := row.Scan(&p.ID, &p.CreatorAddress, &p.CreatorName, &p.Name, &p.Description,
		&p.AssetCode, &p.AssetIssuer, &p.Amount, &p.IntervalDays, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// --- CheckoutStore ----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess checkout.Session) (checkout.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions
			(id, fan_address, creator_address, plan_id, asset_code, asset_issuer,
			 amount, platform_fee, network_fee, total, state, envelope_hash, tx_hash,
			 last_error, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, sess.ID, sess.FanAddress, sess.CreatorAddress, sess.PlanID, sess.AssetCode,
		sess.AssetIssuer, sess.Amount, sess.PlatformFee, sess.NetworkFee, sess.Total,
		string(sess.State), sess.EnvelopeHash, sess.TxHash, sess.LastError,
		sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return checkout.Session{}, err
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess checkout.Session) (checkout.Session, error) {
	sess.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET state = $2, envelope_hash = $3, tx_hash = $4, last_error = $5,
			expires_at = $6, updated_at = $7
		WHERE id = $1
	`, sess.ID, string(sess.State), sess.EnvelopeHash, sess.TxHash, sess.LastError,
		sess.ExpiresAt, sess.UpdatedAt)
	if err != nil {
		return checkout.Session{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return checkout.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (checkout.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return sess, err
}

func (s *Store) GetSessionByEnvelopeHash(ctx context.Context, hash string) (checkout.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE envelope_hash = $1`, hash)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkout.Session{}, fmt.Errorf("session for envelope %s: %w", hash, storage.ErrNotFound)
	}
	return sess, err
}

func (s *Store) ListOpenSessions(ctx context.Context) ([]checkout.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionSelect+` WHERE state NOT IN ('confirmed', 'rejected', 'timed_out', 'expired') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []checkout.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const sessionSelect = `
	SELECT id, fan_address, creator_address, plan_id, asset_code, asset_issuer,
		amount, platform_fee, network_fee, total, state, envelope_hash, tx_hash,
		last_error, expires_at, created_at, updated_at
	FROM checkout_sessions`

func scanSession(row scanner) (checkout.Session, error) {
	var sess checkout.Session
	var state string
	err := row.Scan(&sess.ID, &sess.FanAddress, &sess.CreatorAddress, &sess.PlanID,
		&sess.AssetCode, &sess.AssetIssuer, &sess.Amount, &sess.PlatformFee,
		&sess.NetworkFee, &sess.Total, &state, &sess.EnvelopeHash, &sess.TxHash,
		&sess.LastError, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	sess.State = checkout.State(state)
	return sess, err
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) UpsertSubscription(ctx context.Context, sub entitlement.Subscription) (entitlement.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chain_subscriptions
			(id, fan_address, creator_address, plan_id, tx_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fan_address, creator_address) DO UPDATE
		SET plan_id = EXCLUDED.plan_id, tx_hash = EXCLUDED.tx_hash,
			expires_at = EXCLUDED.expires_at, lapsed_at = NULL, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, sub.ID, sub.FanAddress, sub.CreatorAddress, sub.PlanID, sub.TxHash,
		sub.ExpiresAt, sub.CreatedAt, sub.UpdatedAt).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return entitlement.Subscription{}, err
	}
	sub.LapsedAt = nil
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, fanAddress, creatorAddress string) (entitlement.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fan_address, creator_address, plan_id, tx_hash, expires_at,
			lapsed_at, created_at, updated_at
		FROM chain_subscriptions
		WHERE fan_address = $1 AND creator_address = $2
	`, fanAddress, creatorAddress)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Subscription{}, fmt.Errorf("subscription for pair: %w", storage.ErrNotFound)
	}
	return sub, err
}

func (s *Store) ListExpiringSubscriptions(ctx context.Context, before int64) ([]entitlement.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fan_address, creator_address, plan_id, tx_hash, expires_at,
			lapsed_at, created_at, updated_at
		FROM chain_subscriptions
		WHERE lapsed_at IS NULL AND expires_at <= $1
		ORDER BY expires_at
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []entitlement.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) MarkSubscriptionLapsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chain_subscriptions
		SET lapsed_at = $2, updated_at = $3
		WHERE id = $1
	`, id, at.UTC(), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("subscription %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func scanSubscription(row scanner) (entitlement.Subscription, error) {
	var sub entitlement.Subscription
	var lapsed sql.NullTime
	err := row.Scan(&sub.ID, &sub.FanAddress, &sub.CreatorAddress, &sub.PlanID,
		&sub.TxHash, &sub.ExpiresAt, &lapsed, &sub.CreatedAt, &sub.UpdatedAt)
	if lapsed.Valid {
		t := lapsed.Time
		sub.LapsedAt = &t
	}
	return sub, err
}
