package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

// ReferenceHandler lists the catalogues a visit form is built from. The
// responses are identical for every caller, so the router puts them behind
// the response cache.
type ReferenceHandler struct {
	Refs   *repository.ReferenceRepo
	Logger *slog.Logger
}

func NewReferenceHandler(refs *repository.ReferenceRepo, logger *slog.Logger) *ReferenceHandler {
	return &ReferenceHandler{Refs: refs, Logger: orDiscard(logger)}
}

// Centers handles GET /v1/referencias/centros.
func (h *ReferenceHandler) Centers(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	out, err := h.Refs.ListCenters(ctx)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Areas handles GET /v1/referencias/centros/:id/areas.
func (h *ReferenceHandler) Areas(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid data center id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	exists, err := h.Refs.CenterExists(ctx, id)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if !exists {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "data center not found"})
	}
	out, err := h.Refs.ListAreas(ctx, id)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// ActivityTypes handles GET /v1/referencias/tipos-actividad.
func (h *ReferenceHandler) ActivityTypes(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	out, err := h.Refs.ListActivityTypes(ctx)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
