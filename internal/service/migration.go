package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/ledger"
	"github.com/DukeRupert/chatquota/internal/metrics"
	"github.com/DukeRupert/chatquota/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pgUniqueViolation is raised when a concurrent migration already inserted
// the same conversation IDs.
const pgUniqueViolation = "23505"

// =============================================================================
// Interface Definition
// =============================================================================

// MigrationService moves a guest session's data to an authenticated user.
type MigrationService interface {
	// Transfer moves guest conversations, messages and quota usage for
	// sessionHash to userID in one transaction. Calling it again after a
	// successful transfer returns all zeros. Storage errors abort the whole
	// transaction and are returned, including a failed re-key of the cached
	// quota bucket.
	Transfer(ctx context.Context, sessionHash string, userID uuid.UUID) (*domain.TransferResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type migrationService struct {
	db      *sql.DB
	queries *repository.Queries
	durable *ledger.PostgresStore
	cache   *ledger.RedisStore
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewMigrationService creates a new MigrationService. cache may be nil when
// no Redis layer is configured.
func NewMigrationService(db *sql.DB, durable *ledger.PostgresStore, cache *ledger.RedisStore, logger *slog.Logger) MigrationService {
	return &migrationService{
		db:      db,
		queries: repository.New(db),
		durable: durable,
		cache:   cache,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Transfer moves guest data for sessionHash to userID.
func (s *migrationService) Transfer(ctx context.Context, sessionHash string, userID uuid.UUID) (*domain.TransferResult, error) {
	const op = "migration.transfer"

	if sessionHash == "" {
		return nil, domain.Invalid(op, "session hash is required")
	}
	if userID == uuid.Nil {
		return nil, domain.Invalid(op, "user ID is required")
	}

	ctx, span := s.tracer.Start(ctx, "MigrationService.Transfer")
	defer span.End()

	now := s.now()
	result, err := s.transfer(ctx, sessionHash, userID, now)
	if err != nil {
		if domain.ErrorCode(err) == domain.ECONCURRENT {
			s.logger.Info("guest data already migrated by a concurrent request",
				"user_id", userID,
			)
			metrics.GuestMigrations.WithLabelValues("empty").Inc()
			return &domain.TransferResult{}, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		metrics.GuestMigrations.WithLabelValues("failed").Inc()
		s.logger.Error("guest migration failed",
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("migration.conversations", result.ConversationsTransferred),
		attribute.Int64("migration.messages", result.MessagesTransferred),
		attribute.Int64("migration.rate_limits", result.RateLimitsTransferred),
	)

	if result.IsEmpty() {
		metrics.GuestMigrations.WithLabelValues("empty").Inc()
		return result, nil
	}

	metrics.GuestMigrations.WithLabelValues("migrated").Inc()
	metrics.GuestMigratedRows.WithLabelValues("conversations").Add(float64(result.ConversationsTransferred))
	metrics.GuestMigratedRows.WithLabelValues("messages").Add(float64(result.MessagesTransferred))
	metrics.GuestMigratedRows.WithLabelValues("rate_limits").Add(float64(result.RateLimitsTransferred))

	s.logger.Info("guest data migrated",
		"user_id", userID,
		"conversations", result.ConversationsTransferred,
		"messages", result.MessagesTransferred,
		"rate_limits", result.RateLimitsTransferred,
	)

	return result, nil
}

// transfer runs the migration transaction.
func (s *migrationService) transfer(ctx context.Context, sessionHash string, userID uuid.UUID, now time.Time) (*domain.TransferResult, error) {
	const op = "migration.transfer"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	// Blocks a concurrent migration of the same session until this
	// transaction ends. It then finds no rows.
	if _, err := qtx.LockGuestConversations(ctx, sessionHash); err != nil {
		return nil, classify(err, op, "failed to lock guest conversations")
	}

	conversations, err := qtx.CopyGuestConversations(ctx, repository.CopyGuestConversationsParams{
		SessionHash: sessionHash,
		UserID:      userID,
	})
	if err != nil {
		return nil, classify(err, op, "failed to copy guest conversations")
	}

	messages, err := qtx.MoveGuestMessages(ctx, repository.MoveGuestMessagesParams{
		SessionHash: sessionHash,
		UserID:      userID,
	})
	if err != nil {
		return nil, classify(err, op, "failed to move guest messages")
	}

	if _, err := qtx.DeleteGuestConversations(ctx, sessionHash); err != nil {
		return nil, classify(err, op, "failed to delete guest conversations")
	}

	rateLimits, err := s.durable.Rekey(ctx, tx, domain.GuestKey(sessionHash), domain.UserKey(userID), now)
	if err != nil {
		return nil, err
	}

	// The cache bucket can hold usage the durable store never saw, so it is
	// moved whether or not any staging rows existed. A failure rolls the
	// transaction back and the caller retries the whole transfer.
	cached, err := s.rekeyCache(ctx, sessionHash, userID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Unavailable(err, op, "failed to commit transaction")
	}

	return &domain.TransferResult{
		ConversationsTransferred: conversations,
		MessagesTransferred:      messages,
		RateLimitsTransferred:    rateLimits + cached,
	}, nil
}

// rekeyCache moves the guest bucket in the cache layer and returns the
// number of buckets moved.
func (s *migrationService) rekeyCache(ctx context.Context, sessionHash string, userID uuid.UUID, now time.Time) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Rekey(ctx, domain.ResourceChatMessage, domain.GuestKey(sessionHash), domain.UserKey(userID), now)
}

// classify maps a storage error from the migration transaction.
func classify(err error, op, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ConcurrentMigration(op)
	}
	return domain.Unavailable(err, op, message)
}
