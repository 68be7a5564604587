package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const getSubscriptionByUserID = `-- name: GetSubscriptionByUserID :one
SELECT user_id, tier, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at
FROM subscriptions
WHERE user_id = $1
`

func (q *Queries) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	var i Subscription
	err := q.db.GetContext(ctx, &i, getSubscriptionByUserID, userID)
	return i, err
}

const getSubscriptionByStripeCustomerID = `-- name: GetSubscriptionByStripeCustomerID :one
SELECT user_id, tier, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at
FROM subscriptions
WHERE stripe_customer_id = $1
`

func (q *Queries) GetSubscriptionByStripeCustomerID(ctx context.Context, customerID string) (Subscription, error) {
	var i Subscription
	err := q.db.GetContext(ctx, &i, getSubscriptionByStripeCustomerID, customerID)
	return i, err
}

const upsertSubscription = `-- name: UpsertSubscription :exec
INSERT INTO subscriptions (
    user_id, tier, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at
) VALUES (
    $1,
    COALESCE(NULLIF($2::text, ''), 'free'),
    COALESCE(NULLIF($3::text, ''), 'inactive'),
    NULLIF($4::text, ''),
    NULLIF($5::text, ''),
    $6,
    now()
)
ON CONFLICT (user_id) DO UPDATE SET
    tier = COALESCE(NULLIF($2::text, ''), subscriptions.tier),
    status = COALESCE(NULLIF($3::text, ''), subscriptions.status),
    stripe_customer_id = COALESCE(NULLIF($4::text, ''), subscriptions.stripe_customer_id),
    stripe_subscription_id = COALESCE(NULLIF($5::text, ''), subscriptions.stripe_subscription_id),
    current_period_end = COALESCE($6, subscriptions.current_period_end),
    updated_at = now()
`

type UpsertSubscriptionParams struct {
	UserID               uuid.UUID
	Tier                 string
	Status               string
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     sql.NullTime
}

func (q *Queries) UpsertSubscription(ctx context.Context, arg UpsertSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, upsertSubscription,
		arg.UserID,
		arg.Tier,
		arg.Status,
		arg.StripeCustomerID,
		arg.StripeSubscriptionID,
		arg.CurrentPeriodEnd,
	)
	return err
}
