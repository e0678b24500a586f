package repository

import (
	"context"

	"github.com/google/uuid"
)

const getSubscriptionByUserID = `-- name: GetSubscriptionByUserID :one
SELECT user_id, plan, status, current_period_end, next_billing_at, created_at, updated_at
FROM subscriptions
WHERE user_id = $1
`

func (q *Queries) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscriptionByUserID, userID)
	var i Subscription
	err := row.Scan(
		&i.UserID,
		&i.Plan,
		&i.Status,
		&i.CurrentPeriodEnd,
		&i.NextBillingAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
