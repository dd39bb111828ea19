package router

import (
	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/handler"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/middleware"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
)

// RegisterAudit registers the control log endpoints. Only auditors pass.
func RegisterAudit(e *echo.Echo, a *handler.AuditHandler, jwtSecret string) {
	g := e.Group("/v1/audit",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRank(rbac.ReadAudit),
	)
	g.GET("/logs", a.Logs)
	g.GET("/stats", a.Stats)
}

// RegisterReference registers the catalogue endpoints. cache wraps the
// group after authentication so anonymous callers never hit it.
func RegisterReference(e *echo.Echo, r *handler.ReferenceHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/referencias",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRank(rbac.ReadReference),
		cache,
	)
	g.GET("/centros", r.Centers)
	g.GET("/centros/:id/areas", r.Areas)
	g.GET("/tipos-actividad", r.ActivityTypes)
}
