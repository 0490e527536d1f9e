package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const maxDateRangeHours = 24 * 366

// LogService defines the business contract for log administration.
type LogService interface {
	List(ctx context.Context, actor rbac.Identity, f audit.Filters) (audit.Result, error)
	Export(ctx context.Context, actor rbac.Identity, f audit.Filters) ([]audit.Row, error)
	Delete(ctx context.Context, actor rbac.Identity, id int64) error
}

// Handler menangani permintaan audit log.
type Handler struct {
	logger  *slog.Logger
	service LogService
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service LogService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), actorFrom(r), filters)
	if err != nil {
		h.respondError(w, "list audit logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), actorFrom(r), filters)
	if err != nil {
		h.respondError(w, "export audit logs", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.respondError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-logs.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: log id", shared.ErrValidation))
		return
	}
	if err := h.service.Delete(r.Context(), actorFrom(r), id); err != nil {
		h.respondError(w, "delete audit log", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	var f audit.Filters
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("%w: from", shared.ErrValidation)
		}
		f.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("%w: to", shared.ErrValidation)
		}
		// inclusive of the whole day
		f.To = to.Add(24 * time.Hour)
	}
	if !f.From.IsZero() && !f.To.IsZero() {
		if !f.From.Before(f.To) || f.To.Sub(f.From) > maxDateRangeHours*time.Hour {
			return audit.Filters{}, fmt.Errorf("%w: range", shared.ErrValidation)
		}
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		t, err := audit.ParseType(v)
		if err != nil {
			return audit.Filters{}, err
		}
		f.Type = t
	}
	if v := strings.TrimSpace(q.Get("source")); v != "" {
		s, err := rbac.ParseSource(v)
		if err != nil {
			return audit.Filters{}, err
		}
		f.Source = s
	}
	f.Actor = strings.TrimSpace(q.Get("actor"))

	var err error
	if f.Page, err = positiveInt(q.Get("page"), "page"); err != nil {
		return audit.Filters{}, err
	}
	if f.PageSize, err = positiveInt(q.Get("page_size"), "page_size"); err != nil {
		return audit.Filters{}, err
	}
	return f, nil
}

func (h *Handler) respondError(w http.ResponseWriter, message string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func positiveInt(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s", shared.ErrValidation, field)
	}
	return v, nil
}

func actorFrom(r *http.Request) rbac.Identity {
	return rbac.IdentityFromSession(shared.SessionFromContext(r.Context()))
}
