// Package billing reads subscription records for entitlement decisions.
//
// Subscriptions are written by the payment provider integration elsewhere;
// this package only reads them.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/repository"
	"github.com/google/uuid"
)

// Reader defines the interface for subscription lookups.
type Reader interface {
	// ReadSubscription returns the subscription for userID, or nil when the
	// user has none. A non-nil error means the store could not be read.
	ReadSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionRecord, error)
}

// Ensure interface compliance at compile time.
var (
	_ Reader = (*PostgresReader)(nil)
	_ Reader = (*CachedReader)(nil)
)

// PostgresReader reads subscriptions from the subscriptions table.
type PostgresReader struct {
	queries *repository.Queries
}

// NewPostgresReader creates a PostgresReader.
func NewPostgresReader(db repository.DBTX) *PostgresReader {
	return &PostgresReader{queries: repository.New(db)}
}

// ReadSubscription implements Reader.
func (r *PostgresReader) ReadSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionRecord, error) {
	const op = "billing.get_subscription"

	row, err := r.queries.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Unavailable(err, op, "failed to read subscription")
	}

	return toRecord(row), nil
}

func toRecord(row repository.Subscription) *domain.SubscriptionRecord {
	return &domain.SubscriptionRecord{
		UserID:           row.UserID,
		Plan:             domain.SubscriptionPlan(row.Plan),
		Status:           domain.SubscriptionStatus(row.Status),
		CurrentPeriodEnd: nullTime(row.CurrentPeriodEnd),
		NextBillingAt:    nullTime(row.NextBillingAt),
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
