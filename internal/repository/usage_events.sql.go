package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const insertUsageEvent = `-- name: InsertUsageEvent :exec
INSERT INTO usage_events (id, user_id, event_type, metadata, created_at)
VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), $5)
`

type InsertUsageEventParams struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventType string
	Metadata  pqtype.NullRawMessage
	CreatedAt time.Time
}

func (q *Queries) InsertUsageEvent(ctx context.Context, arg InsertUsageEventParams) error {
	_, err := q.db.ExecContext(ctx, insertUsageEvent,
		arg.ID,
		arg.UserID,
		arg.EventType,
		arg.Metadata,
		arg.CreatedAt,
	)
	return err
}

const countUsageEventsSince = `-- name: CountUsageEventsSince :many
SELECT event_type, COUNT(*) AS count
FROM usage_events
WHERE user_id = $1 AND created_at >= $2
GROUP BY event_type
`

type CountUsageEventsSinceRow struct {
	EventType string `db:"event_type"`
	Count     int64  `db:"count"`
}

func (q *Queries) CountUsageEventsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]CountUsageEventsSinceRow, error) {
	var items []CountUsageEventsSinceRow
	if err := q.db.SelectContext(ctx, &items, countUsageEventsSince, userID, since); err != nil {
		return nil, err
	}
	return items, nil
}

const listUsageEventsSince = `-- name: ListUsageEventsSince :many
SELECT id, user_id, event_type, metadata, created_at
FROM usage_events
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT $3
`

func (q *Queries) ListUsageEventsSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int32) ([]UsageEvent, error) {
	var items []UsageEvent
	if err := q.db.SelectContext(ctx, &items, listUsageEventsSince, userID, since, limit); err != nil {
		return nil, err
	}
	return items, nil
}
