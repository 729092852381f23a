package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/checkout"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/domain/plan"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("record not found")

// PlanStore persists creator subscription plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error)
	UpdatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error)
	GetPlan(ctx context.Context, id int64) (plan.Plan, error)
	ListPlansByCreator(ctx context.Context, creatorAddress string) ([]plan.Plan, error)
}

// CheckoutStore persists checkout sessions.
type CheckoutStore interface {
	CreateSession(ctx context.Context, s checkout.Session) (checkout.Session, error)
	UpdateSession(ctx context.Context, s checkout.Session) (checkout.Session, error)
	GetSession(ctx context.Context, id string) (checkout.Session, error)
	GetSessionByEnvelopeHash(ctx context.Context, hash string) (checkout.Session, error)
	ListOpenSessions(ctx context.Context) ([]checkout.Session, error)
}

// SubscriptionStore persists observed on-chain subscriptions for
// bookkeeping and renewal scanning.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub entitlement.Subscription) (entitlement.Subscription, error)
	GetSubscription(ctx context.Context, fanAddress, creatorAddress string) (entitlement.Subscription, error)
	ListExpiringSubscriptions(ctx context.Context, before int64) ([]entitlement.Subscription, error)
	MarkSubscriptionLapsed(ctx context.Context, id string, at time.Time) error
}
