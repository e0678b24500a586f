package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Subscription struct {
	UserID           uuid.UUID
	Plan             string
	Status           string
	CurrentPeriodEnd sql.NullTime
	NextBillingAt    sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
