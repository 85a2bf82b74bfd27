package agenda

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gestix-erp/gestix/internal/platform/httpx"
	"github.com/gestix-erp/gestix/internal/rbac"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Handler exposes the agenda HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: mw}
}

// MountRoutes attaches agenda routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("agenda:read")).Get("/", h.list)
	r.With(h.rbac.RequireAny("agenda:write")).Post("/", h.create)
	r.With(h.rbac.RequireAny("agenda:write")).Post("/{id}/cancel", h.cancel)
	r.With(h.rbac.RequireAny("agenda:write")).Post("/sweep", h.sweep)
}

type createRequest struct {
	Title          string    `json:"title" validate:"required"`
	InterventionID *int64    `json:"intervention_id"`
	EmployeeID     *int64    `json:"employee_id"`
	StartsAt       time.Time `json:"starts_at" validate:"required"`
	EndsAt         time.Time `json:"ends_at" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}

	e, err := h.service.Create(r.Context(), CreateInput{
		Title:          req.Title,
		InterventionID: req.InterventionID,
		EmployeeID:     req.EmployeeID,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrTitleRequired):
			httpx.Problem(w, http.StatusUnprocessableEntity, "invalid event", err.Error())
		default:
			h.logger.Error("create agenda event", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "create failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "path id must be a positive integer")
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "event does not exist")
			return
		}
		h.logger.Error("cancel agenda event", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "cancel failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	closed, err := h.service.Sweep(r.Context())
	if err != nil {
		h.logger.Error("agenda sweep", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "sweep failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"closed": closed})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, 0, -7)
	to := now.AddDate(0, 0, 30)
	if raw := r.URL.Query().Get("from"); raw != "" {
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			from = v
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			to = v
		}
	}

	events, err := h.service.Range(r.Context(), from, to)
	if err != nil {
		h.logger.Error("list agenda events", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}
