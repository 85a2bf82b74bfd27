package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gestix-erp/gestix/internal/platform/httpx"
)

// PermissionsHandler lets the client fetch the actor's resolved access so
// navigation and buttons can be gated before any action is attempted.
type PermissionsHandler struct {
	service *Service
	logger  *slog.Logger
}

// NewPermissionsHandler constructs PermissionsHandler.
func NewPermissionsHandler(service *Service, logger *slog.Logger) *PermissionsHandler {
	return &PermissionsHandler{service: service, logger: logger}
}

// MountRoutes attaches permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	actorID, ok := ActorID(r)
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "forbidden", "missing actor identity")
		return
	}
	access, err := h.service.Access(r.Context(), actorID)
	if err != nil {
		h.logger.Error("resolve access", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "access resolution failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}
