package quotes

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

// Handler exposes the quotes HTTP API.
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

// MountRoutes attaches quote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("quotes:read")).Get("/", h.list)
	r.With(h.rbac.RequireAny("quotes:write")).Post("/", h.create)
	r.With(h.rbac.RequireAny("quotes:read")).Get("/{id}", h.get)
	r.With(h.rbac.RequireAny("quotes:write")).Put("/{id}", h.update)
	r.With(h.rbac.RequireAny("quotes:write")).Post("/{id}/status", h.changeStatus)
	r.With(h.rbac.RequireAny("quotes:write", "interventions:write")).Post("/{id}/convert", h.convert)
}

type saveRequest struct {
	ClientID       int64          `json:"client_id" validate:"required"`
	Title          string         `json:"title" validate:"required"`
	GlobalDiscount float64        `json:"global_discount_pct" validate:"gte=0,lte=100"`
	DepositPct     float64        `json:"deposit_pct" validate:"gte=0,lte=100"`
	ValidUntil     *time.Time     `json:"valid_until"`
	Lines          []LineInput    `json:"lines"`
	Packages       []PackageInput `json:"packages"`
}

func (r saveRequest) input() SaveInput {
	return SaveInput{
		ClientID:       r.ClientID,
		Title:          r.Title,
		GlobalDiscount: r.GlobalDiscount,
		DepositPct:     r.DepositPct,
		ValidUntil:     r.ValidUntil,
		Lines:          r.Lines,
		Packages:       r.Packages,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}

	q, err := h.service.Create(r.Context(), req.input())
	if err != nil {
		h.logger.Error("create quote", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "create failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}

	q, err := h.service.Update(r.Context(), id, req.input())
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", "quote does not exist")
		default:
			h.logger.Error("update quote", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnprocessableEntity, "update failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, q)
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

	q, err := h.service.ChangeStatus(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidTransition):
			httpx.Problem(w, http.StatusUnprocessableEntity, "invalid transition", err.Error())
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", err.Error())
		default:
			h.logger.Error("change quote status", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "status change failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

type convertRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req convertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	interventionID, err := h.service.ConvertToIntervention(r.Context(), id, req.ScheduledAt, rbac.ActorName(r))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "not found", "quote does not exist")
		default:
			h.logger.Error("convert quote", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnprocessableEntity, "conversion failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"intervention_id": interventionID})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "quote does not exist")
			return
		}
		h.logger.Error("get quote", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, q)
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
		h.logger.Error("list quotes", slog.Any("error", err))
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
