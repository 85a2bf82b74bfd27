package invoices

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gestix-erp/gestix/internal/platform/httpx"
	"github.com/gestix-erp/gestix/internal/rbac"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Handler exposes the invoices HTTP API.
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

// MountRoutes attaches invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("invoices:read")).Get("/", h.list)
	r.With(h.rbac.RequireAny("invoices:write")).Post("/", h.create)
	r.With(h.rbac.RequireAny("invoices:read")).Get("/{id}", h.get)
	r.With(h.rbac.RequireAny("invoices:write")).Post("/{id}/status", h.changeStatus)
}

type createRequest struct {
	InterventionID int64 `json:"intervention_id" validate:"required"`
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

	inv, err := h.service.CreateFromIntervention(r.Context(), req.InterventionID, rbac.ActorName(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyInvoiced):
			httpx.Problem(w, http.StatusConflict, "already invoiced", err.Error())
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", "intervention does not exist")
		default:
			h.logger.Error("create invoice", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnprocessableEntity, "generation failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
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

	inv, err := h.service.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidTransition):
			httpx.Problem(w, http.StatusUnprocessableEntity, "invalid transition", err.Error())
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", err.Error())
		default:
			h.logger.Error("change invoice status", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "status change failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "invoice does not exist")
			return
		}
		h.logger.Error("get invoice", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
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
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
