package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/middleware"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/observability"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/service"
)

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return observability.Discard()
	}
	return l
}

// dbTimeout bounds the database work of a single request.
const dbTimeout = 5 * time.Second

// writeServiceError maps service errors onto HTTP responses. Anything not
// recognised is logged and reported as a 500 without internal detail.
func writeServiceError(c echo.Context, logger *slog.Logger, err error) error {
	var (
		verr   *service.ValidationError
		ill    *service.IllegalTransition
		denied *rbac.PermissionDenied
	)
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &ill):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ill.Error()})
	case errors.As(err, &denied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": denied.Error()})
	case errors.Is(err, service.ErrVisitNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "visit not found"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	logger.Error("request failed",
		slog.String("path", c.Path()),
		slog.String("request_id", middleware.RequestIDOf(c)),
		slog.Any("err", err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// actorOf describes the authenticated caller for the service layer.
func actorOf(c echo.Context) audit.Actor {
	return audit.Actor{
		UserID:    middleware.UserID(c),
		Role:      middleware.RoleOf(c),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func queryUint(c echo.Context, name string) (uint64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &service.ValidationError{Field: name, Msg: "must be a positive integer"}
	}
	return n, nil
}

func queryInt(c echo.Context, name string, def int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// timeLayouts are the accepted request date formats, most specific first.
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"}

// parseTime accepts RFC 3339 or a bare local form read as UTC.
func parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &service.ValidationError{Field: field, Msg: "must be an RFC 3339 timestamp or YYYY-MM-DD"}
}

// optTime parses an optional timestamp; empty means nil.
func optTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseTime(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queryDate validates a YYYY-MM-DD (or RFC 3339) query value and returns
// its date part.
func queryDate(c echo.Context, name string) (string, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return "", nil
	}
	t, err := parseTime(name, raw)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

// pageResponse is the envelope of every paginated listing.
func pageResponse(items any, total, page, size int) echo.Map {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return echo.Map{"items": items, "total": total, "page": page, "size": size, "pages": pages}
}
