package router

import (
	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/handler"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/middleware"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
)

// RegisterVisits registers the visit lifecycle under /v1/visitas. Every
// route requires a valid JWT plus the rank its operation needs.
func RegisterVisits(e *echo.Echo, v *handler.VisitHandler, jwtSecret string) {
	g := e.Group("/v1/visitas", middleware.JWTAuth(jwtSecret))
	rank := middleware.RequireRank

	// ---- Reads ----
	g.GET("", v.List, rank(rbac.ReadVisits))
	g.GET("/stats", v.Stats, rank(rbac.ReadVisits))
	g.GET("/codigo/:codigo", v.GetByCode, rank(rbac.ReadVisits))
	g.GET("/:id", v.Get, rank(rbac.ReadVisits))

	// ---- Writes ----
	g.POST("", v.Create, rank(rbac.CreateVisit))
	g.PUT("/:id", v.Update, rank(rbac.UpdateVisit))
	g.PATCH("/:id", v.Update, rank(rbac.UpdateVisit)) // same partial semantics as PUT
	g.DELETE("/:id", v.Delete, rank(rbac.DeleteVisit))

	// ---- Transitions ----
	g.POST("/:id/ingreso", v.CheckIn, rank(rbac.CheckInVisit))
	g.POST("/:id/salida", v.CheckOut, rank(rbac.CheckOutVisit))
	g.POST("/:id/cancelar", v.Cancel, rank(rbac.CancelVisit))
	g.POST("/:id/archivar", v.Archive, rank(rbac.ArchiveVisit))
}
