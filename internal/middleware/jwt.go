package middleware // reusable HTTP middleware for the visit API

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/utils"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTAuth validates a Bearer access token and stores the caller's user id
// (uint64) and role (rbac.Role) in the Echo context. Wrap every protected
// group with it; handlers read the values through UserID and RoleOf.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, rbac.RoleFromID(claims.RoleID))
			return next(c)
		}
	}
}

// UserID returns the authenticated user id, or 0 outside JWTAuth.
func UserID(c echo.Context) uint64 {
	id, _ := c.Get(ctxUserID).(uint64)
	return id
}

// RoleOf returns the authenticated role, or rbac.Unknown outside JWTAuth.
func RoleOf(c echo.Context) rbac.Role {
	r, _ := c.Get(ctxRole).(rbac.Role)
	return r
}
