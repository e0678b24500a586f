package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/chatquota/internal/auth"
	"github.com/DukeRupert/chatquota/internal/service"
	"github.com/DukeRupert/chatquota/internal/session"
)

// MigrationHandler moves a guest session's data to the signed-in user.
type MigrationHandler struct {
	migrations service.MigrationService
	logger     *slog.Logger
	isSecure   bool
}

// NewMigrationHandler creates a new MigrationHandler.
func NewMigrationHandler(migrations service.MigrationService, logger *slog.Logger, isSecure bool) *MigrationHandler {
	return &MigrationHandler{
		migrations: migrations,
		logger:     logger,
		isSecure:   isSecure,
	}
}

// RegisterRoutes registers the migration route. stack must resolve identity
// and require an authenticated user.
func (h *MigrationHandler) RegisterRoutes(mux *http.ServeMux, stack func(http.Handler) http.Handler) {
	mux.Handle("POST /api/session/migrate", stack(http.HandlerFunc(h.Migrate)))
}

// Migrate is called once after login. The guest cookie is cleared after a
// successful transfer so the retired guest identity is not used again.
func (h *MigrationHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetIdentityFromRequest(r)
	if !ok || identity.IsGuest() {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	result, err := h.migrations.Transfer(r.Context(), identity.SessionHash, identity.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, session.ClearCookie(h.isSecure))
	writeJSON(w, http.StatusOK, result)
}
