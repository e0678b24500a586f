//go:build integration

package service

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/chatquota/internal"
	"github.com/DukeRupert/chatquota/internal/billing"
	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/ledger"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

// setupPostgres starts a PostgreSQL container with all migrations applied.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("chatquota_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, internal.RunMigrations(ctx, db, testLogger()))

	return db
}

func TestIntegration_ConcurrentChargesNeverExceedLimit(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	quota := ledger.New(testLogger(), []ledger.Store{ledger.NewPostgresStore(db)})
	svc := NewRateLimitService(quota, billing.NewPostgresReader(db), NewTierPolicy(testLimits), 24, testLogger())
	guest := domain.GuestIdentity("race-hash")

	var allowed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < testLimits.Guest+5; i++ {
		g.Go(func() error {
			res := svc.Enforce(gctx, guest)
			if res.Allowed {
				allowed.Add(1)
			}
			assert.Equal(t, domain.LayerDatabase, res.Layer)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(testLimits.Guest), allowed.Load())

	status := svc.Status(ctx, guest)
	assert.False(t, status.Allowed)
	assert.Equal(t, testLimits.Guest, status.Count)
	assert.Equal(t, 0, status.Remaining)

	// Status never charges
	again := svc.Status(ctx, guest)
	assert.Equal(t, status.Count, again.Count)
}

func TestIntegration_ProSubscriptionRaisesLimit(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, current_period_end) VALUES ($1, 'pro', 'active', $2)`,
		userID, time.Now().Add(30*24*time.Hour))
	require.NoError(t, err)

	quota := ledger.New(testLogger(), []ledger.Store{ledger.NewPostgresStore(db)})
	svc := NewRateLimitService(quota, billing.NewPostgresReader(db), NewTierPolicy(testLimits), 24, testLogger())

	res := svc.Enforce(ctx, domain.UserIdentity(userID, ""))
	require.True(t, res.Allowed)
	assert.Equal(t, domain.TierPro, res.Tier)
	assert.Equal(t, testLimits.Pro, res.Limit)
}

func seedGuest(t *testing.T, db *sql.DB, sessionHash string, messages int) {
	t.Helper()
	ctx := context.Background()

	convID := uuid.New()
	_, err := db.ExecContext(ctx,
		`INSERT INTO guest_conversations (id, session_hash, title) VALUES ($1, $2, 'hello')`,
		convID, sessionHash)
	require.NoError(t, err)

	for i := 0; i < messages; i++ {
		_, err := db.ExecContext(ctx,
			`INSERT INTO guest_messages (id, conversation_id, session_hash, role, content) VALUES ($1, $2, $3, 'user', 'hi')`,
			uuid.New(), convID, sessionHash)
		require.NoError(t, err)
	}
}

func TestIntegration_TransferMovesGuestData(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	sessionHash := "migrate-hash"
	userID := uuid.New()

	seedGuest(t, db, sessionHash, 2)

	durable := ledger.NewPostgresStore(db)
	quota := ledger.New(testLogger(), []ledger.Store{durable})
	rateLimits := NewRateLimitService(quota, billing.NewPostgresReader(db), NewTierPolicy(testLimits), 24, testLogger())
	for i := 0; i < 3; i++ {
		require.True(t, rateLimits.Enforce(ctx, domain.GuestIdentity(sessionHash)).Allowed)
	}

	migrations := NewMigrationService(db, durable, nil, testLogger())

	result, err := migrations.Transfer(ctx, sessionHash, userID)
	require.NoError(t, err)
	assert.Equal(t, &domain.TransferResult{
		ConversationsTransferred: 1,
		MessagesTransferred:      2,
		RateLimitsTransferred:    1,
	}, result)

	// The guest's consumption follows the user
	status := rateLimits.Status(ctx, domain.UserIdentity(userID, sessionHash))
	assert.Equal(t, 3, status.Count)
	assert.Equal(t, domain.TierFree, status.Tier)

	var guestRows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM guest_conversations WHERE session_hash = $1`, sessionHash).Scan(&guestRows))
	assert.Zero(t, guestRows)

	var userMessages int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE user_id = $1`, userID).Scan(&userMessages))
	assert.Equal(t, 2, userMessages)

	repeat, err := migrations.Transfer(ctx, sessionHash, userID)
	require.NoError(t, err)
	assert.True(t, repeat.IsEmpty())
}

func TestIntegration_ConcurrentTransfersMoveDataOnce(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	sessionHash := "double-login"
	userID := uuid.New()

	seedGuest(t, db, sessionHash, 4)
	migrations := NewMigrationService(db, ledger.NewPostgresStore(db), nil, testLogger())

	results := make([]*domain.TransferResult, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			res, err := migrations.Transfer(gctx, sessionHash, userID)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := results[0].MessagesTransferred + results[1].MessagesTransferred
	assert.Equal(t, int64(4), total)
	assert.True(t, results[0].IsEmpty() || results[1].IsEmpty())
}
