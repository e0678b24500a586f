package repository

import (
	"context"
	"time"
)

const checkAndIncrementQuota = `-- name: CheckAndIncrementQuota :one
SELECT o_allowed, o_count, o_window_start, o_window_end
FROM quota_check_and_increment($1, $2, $3, $4, $5, $6)
`

type CheckAndIncrementQuotaParams struct {
	IdentityKey  string
	ResourceType string
	Limit        int32
	WindowStart  time.Time
	WindowEnd    time.Time
	Now          time.Time
}

type CheckAndIncrementQuotaRow struct {
	Allowed     bool
	Count       int32
	WindowStart time.Time
	WindowEnd   time.Time
}

func (q *Queries) CheckAndIncrementQuota(ctx context.Context, arg CheckAndIncrementQuotaParams) (CheckAndIncrementQuotaRow, error) {
	row := q.db.QueryRowContext(ctx, checkAndIncrementQuota,
		arg.IdentityKey,
		arg.ResourceType,
		arg.Limit,
		arg.WindowStart,
		arg.WindowEnd,
		arg.Now,
	)
	var i CheckAndIncrementQuotaRow
	err := row.Scan(
		&i.Allowed,
		&i.Count,
		&i.WindowStart,
		&i.WindowEnd,
	)
	return i, err
}

const peekQuota = `-- name: PeekQuota :one
SELECT o_count, o_window_start, o_window_end
FROM quota_peek($1, $2, $3, $4, $5)
`

type PeekQuotaParams struct {
	IdentityKey  string
	ResourceType string
	WindowStart  time.Time
	WindowEnd    time.Time
	Now          time.Time
}

type PeekQuotaRow struct {
	Count       int32
	WindowStart time.Time
	WindowEnd   time.Time
}

func (q *Queries) PeekQuota(ctx context.Context, arg PeekQuotaParams) (PeekQuotaRow, error) {
	row := q.db.QueryRowContext(ctx, peekQuota,
		arg.IdentityKey,
		arg.ResourceType,
		arg.WindowStart,
		arg.WindowEnd,
		arg.Now,
	)
	var i PeekQuotaRow
	err := row.Scan(&i.Count, &i.WindowStart, &i.WindowEnd)
	return i, err
}

const rekeyQuota = `-- name: RekeyQuota :one
SELECT quota_rekey($1, $2, $3)
`

type RekeyQuotaParams struct {
	FromKey string
	ToKey   string
	Now     time.Time
}

func (q *Queries) RekeyQuota(ctx context.Context, arg RekeyQuotaParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, rekeyQuota, arg.FromKey, arg.ToKey, arg.Now)
	var moved int32
	err := row.Scan(&moved)
	return moved, err
}

const deleteExpiredQuotaBuckets = `-- name: DeleteExpiredQuotaBuckets :execrows
DELETE FROM quota_buckets WHERE window_end < $1
`

func (q *Queries) DeleteExpiredQuotaBuckets(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteExpiredQuotaBuckets, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
