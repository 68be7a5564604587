package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type UsageEvent struct {
	ID        uuid.UUID             `db:"id"`
	UserID    uuid.UUID             `db:"user_id"`
	EventType string                `db:"event_type"`
	Metadata  pqtype.NullRawMessage `db:"metadata"`
	CreatedAt time.Time             `db:"created_at"`
}

type Subscription struct {
	UserID               uuid.UUID      `db:"user_id"`
	Tier                 string         `db:"tier"`
	Status               string         `db:"status"`
	StripeCustomerID     sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID sql.NullString `db:"stripe_subscription_id"`
	CurrentPeriodEnd     sql.NullTime   `db:"current_period_end"`
	UpdatedAt            time.Time      `db:"updated_at"`
}
