package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/repository"
)

// PostgresStore is the durable ledger layer. Both paths call dedicated
// database routines: quota_check_and_increment locks and updates the
// bucket row in one statement, quota_peek is a STABLE function run inside
// a read-only transaction and so cannot write.
type PostgresStore struct {
	db      *sql.DB
	queries *repository.Queries
}

// NewPostgresStore creates a Postgres-backed ledger layer.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		queries: repository.New(db),
	}
}

// Layer implements Store.
func (s *PostgresStore) Layer() domain.Layer {
	return domain.LayerDatabase
}

// CheckAndIncrement implements Store.
func (s *PostgresStore) CheckAndIncrement(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error) {
	const op = "ledger.postgres.check_and_increment"

	row, err := s.queries.CheckAndIncrementQuota(ctx, repository.CheckAndIncrementQuotaParams{
		IdentityKey:  key,
		ResourceType: string(resource),
		Limit:        storeLimit(limit),
		WindowStart:  w.Start,
		WindowEnd:    w.End,
		Now:          now,
	})
	if err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to check and increment quota")
	}

	return newResult(row.Allowed, int(row.Count), limit, row.WindowStart, row.WindowEnd, domain.LayerDatabase), nil
}

// Peek implements Store.
func (s *PostgresStore) Peek(ctx context.Context, key string, resource domain.ResourceType, limit int, w Window, now time.Time) (Result, error) {
	const op = "ledger.postgres.peek"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to begin read-only transaction")
	}
	defer tx.Rollback()

	row, err := s.queries.WithTx(tx).PeekQuota(ctx, repository.PeekQuotaParams{
		IdentityKey:  key,
		ResourceType: string(resource),
		WindowStart:  w.Start,
		WindowEnd:    w.End,
		Now:          now,
	})
	if err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to read quota")
	}

	if err := tx.Commit(); err != nil {
		return Result{}, domain.Unavailable(err, op, "failed to close read-only transaction")
	}

	count := int(row.Count)
	allowed := limit > 0 && count < limit
	return newResult(allowed, count, limit, row.WindowStart, row.WindowEnd, domain.LayerDatabase), nil
}

// Rekey moves the buckets of one identity onto another inside tx. It is
// part of the guest migration transaction and commits or rolls back with it.
func (s *PostgresStore) Rekey(ctx context.Context, tx *sql.Tx, fromKey, toKey string, now time.Time) (int64, error) {
	const op = "ledger.postgres.rekey"

	moved, err := s.queries.WithTx(tx).RekeyQuota(ctx, repository.RekeyQuotaParams{
		FromKey: fromKey,
		ToKey:   toKey,
		Now:     now,
	})
	if err != nil {
		return 0, domain.Unavailable(err, op, "failed to re-key quota buckets")
	}
	return int64(moved), nil
}

// DeleteExpired removes buckets whose window ended before the given time.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const op = "ledger.postgres.delete_expired"

	n, err := s.queries.DeleteExpiredQuotaBuckets(ctx, before)
	if err != nil {
		return 0, domain.Unavailable(err, op, "failed to delete expired quota buckets")
	}
	return n, nil
}
