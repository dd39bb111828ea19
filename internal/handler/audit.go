package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

// AuditHandler serves the control log to auditors.
type AuditHandler struct {
	Trail  *audit.Trail
	Logger *slog.Logger
}

func NewAuditHandler(trail *audit.Trail, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{Trail: trail, Logger: orDiscard(logger)}
}

// Logs handles GET /v1/audit/logs.
func (h *AuditHandler) Logs(c echo.Context) error {
	var (
		f   repository.LogFilter
		err error
	)
	if f.ActorID, err = queryUint(c, "usuario_id"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if f.RecordID, err = queryUint(c, "registro_id"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if f.DateFrom, err = queryDate(c, "fecha_desde"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if f.DateTo, err = queryDate(c, "fecha_hasta"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	f.Action = strings.TrimSpace(c.QueryParam("accion"))
	f.Table = strings.TrimSpace(c.QueryParam("tabla_afectada"))
	f.Page, f.Size = repository.NormalizePage(queryInt(c, "page", 1), queryInt(c, "size", 20))

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, total, err := h.Trail.Logs(ctx, actorOf(c), f)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, pageResponse(items, total, f.Page, f.Size))
}

// Stats handles GET /v1/audit/stats.
func (h *AuditHandler) Stats(c echo.Context) error {
	from, err := queryDate(c, "fecha_desde")
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	to, err := queryDate(c, "fecha_hasta")
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	st, err := h.Trail.Stats(ctx, actorOf(c), from, to)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, st)
}
