package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gestix-erp/gestix/internal/platform/httpx"
	"github.com/gestix-erp/gestix/internal/rbac"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Handler exposes the stock HTTP API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	export  ExportPort
	rbac    rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, export ExportPort, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, export: export, rbac: mw}
}

// MountRoutes attaches stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny("inventory:read")).Get("/availability", h.availability)
	r.With(h.rbac.RequireAny("inventory:read")).Get("/reservations/{quoteID}", h.reservations)
	r.With(h.rbac.RequireAny("inventory:read")).Get("/planned/{quoteID}", h.planned)
	r.With(h.rbac.RequireAny("inventory:read")).Get("/export", h.exportXLSX)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid item", "item_id must be a positive integer")
		return
	}
	qty, _ := strconv.ParseFloat(r.URL.Query().Get("qty"), 64)

	q := AvailabilityQuery{ItemID: itemID, QtyNeeded: qty}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			q.From = v
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			q.To = v
		}
	}
	if raw := r.URL.Query().Get("exclude_quote_id"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			q.ExcludeQuoteID = &v
		}
	}

	avail, err := h.service.CheckAvailability(r.Context(), q)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "stock item does not exist")
			return
		}
		h.logger.Error("check availability", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "availability check failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, avail)
}

func (h *Handler) reservations(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathQuoteID(w, r)
	if !ok {
		return
	}
	out, err := h.service.ReservationsForQuote(r.Context(), quoteID)
	if err != nil {
		h.logger.Error("list reservations", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) planned(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathQuoteID(w, r)
	if !ok {
		return
	}
	out, err := h.service.PlannedMovementsForQuote(r.Context(), quoteID)
	if err != nil {
		h.logger.Error("list planned movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	buf, err := ExportXLSX(r.Context(), h.export)
	if err != nil {
		h.logger.Error("export stock", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func pathQuoteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "quoteID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
