package timesheets

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/platform/httpx"
	"github.com/gestix-erp/gestix/internal/rbac"
)

// Handler exposes the timesheets HTTP API.
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

// MountRoutes attaches timesheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("timesheets:write")).Post("/punch", h.punch)
	r.With(h.rbac.RequireAny("timesheets:read")).Get("/day/{employeeID}", h.day)
}

type punchRequest struct {
	EmployeeID     int64      `json:"employee_id" validate:"required"`
	InterventionID *int64     `json:"intervention_id"`
	Kind           string     `json:"kind" validate:"required"`
	At             *time.Time `json:"at"`
}

func (h *Handler) punch(w http.ResponseWriter, r *http.Request) {
	var req punchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}

	p, err := h.service.RecordPunch(r.Context(), PunchInput{
		EmployeeID:     req.EmployeeID,
		InterventionID: req.InterventionID,
		Kind:           interventions.PunchKind(req.Kind),
		At:             req.At,
	}, rbac.ActorName(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrEmployeeRequired):
			httpx.Problem(w, http.StatusUnprocessableEntity, "invalid punch", err.Error())
		default:
			h.logger.Error("record punch", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "punch failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) day(w http.ResponseWriter, r *http.Request) {
	employeeID, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil || employeeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "path id must be a positive integer")
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}

	summary, err := h.service.Day(r.Context(), employeeID, day, time.Local)
	if err != nil {
		h.logger.Error("day summary", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "summary failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
