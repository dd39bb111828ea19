package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
)

// RequireRank rejects with 403 any caller whose role does not satisfy req.
// It must run after JWTAuth. The services check the same requirement again,
// so this gate only saves work on obviously forbidden requests.
func RequireRank(req rbac.Requirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := rbac.Check(RoleOf(c), req); err != nil {
				return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}
