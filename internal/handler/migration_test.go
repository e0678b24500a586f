package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMigrations struct {
	result      *domain.TransferResult
	err         error
	sessionHash string
	userID      uuid.UUID
}

func (s *stubMigrations) Transfer(_ context.Context, sessionHash string, userID uuid.UUID) (*domain.TransferResult, error) {
	s.sessionHash = sessionHash
	s.userID = userID
	return s.result, s.err
}

func TestMigrationHandler_Migrate(t *testing.T) {
	svc := &stubMigrations{result: &domain.TransferResult{ConversationsTransferred: 3, MessagesTransferred: 12, RateLimitsTransferred: 1}}
	h := NewMigrationHandler(svc, testLogger(), true)
	userID := uuid.New()

	req := withIdentity(httptest.NewRequest("POST", "/api/session/migrate", nil), domain.UserIdentity(userID, "hash-1"))
	rec := httptest.NewRecorder()
	h.Migrate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hash-1", svc.sessionHash)
	assert.Equal(t, userID, svc.userID)

	var body domain.TransferResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(3), body.ConversationsTransferred)
	assert.Equal(t, int64(12), body.MessagesTransferred)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session_id", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestMigrationHandler_RejectsGuests(t *testing.T) {
	svc := &stubMigrations{}
	h := NewMigrationHandler(svc, testLogger(), true)

	req := withIdentity(httptest.NewRequest("POST", "/api/session/migrate", nil), domain.GuestIdentity("hash-1"))
	rec := httptest.NewRecorder()
	h.Migrate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.sessionHash)
}

func TestMigrationHandler_StorageFailure(t *testing.T) {
	svc := &stubMigrations{err: domain.Unavailable(errors.New("connection refused"), "migration.transfer", "failed to begin transaction")}
	h := NewMigrationHandler(svc, testLogger(), true)

	req := withIdentity(httptest.NewRequest("POST", "/api/session/migrate", nil), domain.UserIdentity(uuid.New(), "hash-1"))
	rec := httptest.NewRecorder()
	h.Migrate(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
