package interventions

import (
	"context"
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

// Handler exposes the interventions HTTP API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	events   interface {
		List(ctx context.Context, interventionID int64) ([]LogEntry, error)
	}
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, events *EventLog, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		events:   events,
		validate: validator.New(),
		rbac:     mw,
	}
}

// MountRoutes attaches intervention routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("interventions:read")).Get("/", h.list)
	r.With(h.rbac.RequireAny("interventions:write")).Post("/", h.create)
	r.With(h.rbac.RequireAny("interventions:read")).Get("/{id}", h.get)
	r.With(h.rbac.RequireAny("interventions:write")).Post("/{id}/status", h.changeStatus)
	r.With(h.rbac.RequireAny("interventions:read")).Get("/{id}/logs", h.logs)
	r.With(h.rbac.RequireAny("interventions:read")).Get("/{id}/consumables", h.consumables)
	r.With(h.rbac.RequireAny("interventions:read")).Get("/{id}/services", h.services)
}

type createRequest struct {
	ClientID    int64      `json:"client_id" validate:"required"`
	QuoteID     *int64     `json:"quote_id"`
	Title       string     `json:"title" validate:"required"`
	Description *string    `json:"description"`
	ScheduledAt *time.Time `json:"scheduled_at"`
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

	iv, err := h.service.Create(r.Context(), CreateInput{
		ClientID:    req.ClientID,
		QuoteID:     req.QuoteID,
		Title:       req.Title,
		Description: req.Description,
		ScheduledAt: req.ScheduledAt,
	}, rbac.ActorName(r))
	if err != nil {
		h.logger.Error("create intervention", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "create failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, iv)
}

type statusRequest struct {
	Status Status `json:"status" validate:"required"`
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}

	iv, err := h.service.ChangeStatus(r.Context(), id, req.Status, rbac.ActorName(r))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidTransition):
			httpx.Problem(w, http.StatusUnprocessableEntity, "invalid transition", err.Error())
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", err.Error())
		default:
			h.logger.Error("change intervention status", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "status change failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, iv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	iv, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "intervention does not exist")
			return
		}
		h.logger.Error("get intervention", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, iv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		req.Status = &status
	}
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.ClientID = &v
		}
	}
	req.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	req.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list interventions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.events.List(r.Context(), id)
	if err != nil {
		h.logger.Error("list intervention logs", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) consumables(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := h.service.Consumables(r.Context(), id)
	if err != nil {
		h.logger.Error("list consumables", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) services(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := h.service.Services(r.Context(), id)
	if err != nil {
		h.logger.Error("list services", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
