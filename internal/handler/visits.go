package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/service"
)

// VisitHandler exposes the visit lifecycle under /v1/visitas. Role checks
// happen in the service; the router's RequireRank only rejects early.
type VisitHandler struct {
	Svc    *service.VisitService
	Logger *slog.Logger
}

func NewVisitHandler(svc *service.VisitService, logger *slog.Logger) *VisitHandler {
	return &VisitHandler{Svc: svc, Logger: orDiscard(logger)}
}

type createVisitReq struct {
	VisitorID           uint64   `json:"persona_id"`
	CenterID            uint64   `json:"centro_datos_id"`
	ActivityTypeID      uint64   `json:"tipo_actividad_id"`
	AreaID              *uint64  `json:"area_id"`
	AreaIDs             []uint64 `json:"area_ids"`
	ActivityDescription string   `json:"descripcion_actividad"`
	EstimatedMinutes    *int     `json:"duracion_estimada"`
	ScheduledAt         string   `json:"fecha_programada"`
	AuthorizedBy        string   `json:"autorizado_por"`
	AuthorizationReason string   `json:"motivo_autorizacion"`
	EquipmentIn         string   `json:"equipos_ingresados"`
	Notes               string   `json:"observaciones"`
}

type updateVisitReq struct {
	VisitorID           *uint64   `json:"persona_id"`
	CenterID            *uint64   `json:"centro_datos_id"`
	ActivityTypeID      *uint64   `json:"tipo_actividad_id"`
	AreaID              *uint64   `json:"area_id"`
	AreaIDs             *[]uint64 `json:"area_ids"`
	ActivityDescription *string   `json:"descripcion_actividad"`
	EstimatedMinutes    *int      `json:"duracion_estimada"`
	ScheduledAt         *string   `json:"fecha_programada"`
	AuthorizedBy        *string   `json:"autorizado_por"`
	AuthorizationReason *string   `json:"motivo_autorizacion"`
	EquipmentIn         *string   `json:"equipos_ingresados"`
	EquipmentOut        *string   `json:"equipos_retirados"`
	Notes               *string   `json:"observaciones"`
	FinalNotes          *string   `json:"notas_finales"`
}

type checkInReq struct {
	At          *string `json:"fecha_ingreso"`
	EquipmentIn *string `json:"equipos_ingresados"`
	Notes       *string `json:"observaciones"`
}

type checkOutReq struct {
	At           *string `json:"fecha_salida"`
	EquipmentOut *string `json:"equipos_retirados"`
	FinalNotes   *string `json:"notas_finales"`
	Notes        *string `json:"observaciones"`
}

type cancelReq struct {
	Reason string `json:"motivo"`
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
}

func badID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid visit id"})
}

// Create handles POST /v1/visitas and answers 201 with the stored visit.
func (h *VisitHandler) Create(c echo.Context) error {
	var req createVisitReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	scheduled, err := parseTime("fecha_programada", req.ScheduledAt)
	if req.ScheduledAt == "" {
		err = &service.ValidationError{Field: "fecha_programada", Msg: "is required"}
	}
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.Create(ctx, actorOf(c), service.CreateVisitInput{
		VisitorID:           req.VisitorID,
		CenterID:            req.CenterID,
		ActivityTypeID:      req.ActivityTypeID,
		AreaID:              req.AreaID,
		AreaIDs:             req.AreaIDs,
		ActivityDescription: req.ActivityDescription,
		EstimatedMinutes:    req.EstimatedMinutes,
		ScheduledAt:         scheduled,
		AuthorizedBy:        req.AuthorizedBy,
		AuthorizationReason: req.AuthorizationReason,
		EquipmentIn:         req.EquipmentIn,
		Notes:               req.Notes,
	})
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// List handles GET /v1/visitas.
func (h *VisitHandler) List(c echo.Context) error {
	f := repository.VisitFilter{}
	if raw := c.QueryParam("estado"); raw != "" {
		st, ok := model.ParseVisitStatus(raw)
		if !ok {
			return writeServiceError(c, h.Logger, &service.ValidationError{Field: "estado", Msg: "unknown status " + raw})
		}
		f.Status = st
	}
	var err error
	if f.VisitorID, err = queryUint(c, "persona_id"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if f.CenterID, err = queryUint(c, "centro_datos_id"); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	if f.From, f.To, err = periodQuery(c); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	f.Page, f.Size = repository.NormalizePage(queryInt(c, "page", 1), queryInt(c, "size", 20))

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, total, err := h.Svc.List(ctx, actorOf(c), f)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, pageResponse(items, total, f.Page, f.Size))
}

// periodQuery reads fecha_desde and fecha_hasta. A bare date in
// fecha_hasta includes that whole day.
func periodQuery(c echo.Context) (from, to *time.Time, err error) {
	s := c.QueryParam("fecha_desde")
	if from, err = optTime("fecha_desde", &s); err != nil {
		return nil, nil, err
	}
	s = c.QueryParam("fecha_hasta")
	if to, err = optTime("fecha_hasta", &s); err != nil {
		return nil, nil, err
	}
	if to != nil && len(strings.TrimSpace(s)) == len("2006-01-02") {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	return from, to, nil
}

// Stats handles GET /v1/visitas/stats.
func (h *VisitHandler) Stats(c echo.Context) error {
	from, to, err := periodQuery(c)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	st, err := h.Svc.Stats(ctx, actorOf(c), from, to)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Get handles GET /v1/visitas/:id.
func (h *VisitHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	d, err := h.Svc.Get(ctx, actorOf(c), id)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, d)
}

// GetByCode handles GET /v1/visitas/codigo/:codigo.
func (h *VisitHandler) GetByCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.GetByCode(ctx, actorOf(c), c.Param("codigo"))
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Update handles PUT and PATCH /v1/visitas/:id. Both are partial: absent
// fields are left unchanged.
func (h *VisitHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	var req updateVisitReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	scheduled, err := optTime("fecha_programada", req.ScheduledAt)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	areas := req.AreaIDs
	if areas == nil && req.AreaID != nil {
		areas = &[]uint64{*req.AreaID}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.Update(ctx, actorOf(c), id, service.VisitPatch{
		VisitorID:           req.VisitorID,
		CenterID:            req.CenterID,
		ActivityTypeID:      req.ActivityTypeID,
		AreaIDs:             areas,
		ActivityDescription: req.ActivityDescription,
		EstimatedMinutes:    req.EstimatedMinutes,
		ScheduledAt:         scheduled,
		AuthorizedBy:        req.AuthorizedBy,
		AuthorizationReason: req.AuthorizationReason,
		EquipmentIn:         req.EquipmentIn,
		EquipmentOut:        req.EquipmentOut,
		Notes:               req.Notes,
		FinalNotes:          req.FinalNotes,
	})
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// CheckIn handles POST /v1/visitas/:id/ingreso. An empty body is allowed.
func (h *VisitHandler) CheckIn(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	var req checkInReq
	if err := bindOptional(c, &req); err != nil {
		return badBody(c)
	}
	at, err := optTime("fecha_ingreso", req.At)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.CheckIn(ctx, actorOf(c), id, service.CheckInInput{At: at, EquipmentIn: req.EquipmentIn, Notes: req.Notes})
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// CheckOut handles POST /v1/visitas/:id/salida. An empty body is allowed.
func (h *VisitHandler) CheckOut(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	var req checkOutReq
	if err := bindOptional(c, &req); err != nil {
		return badBody(c)
	}
	at, err := optTime("fecha_salida", req.At)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.CheckOut(ctx, actorOf(c), id, service.CheckOutInput{
		At:           at,
		EquipmentOut: req.EquipmentOut,
		FinalNotes:   req.FinalNotes,
		Notes:        req.Notes,
	})
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Cancel handles POST /v1/visitas/:id/cancelar.
func (h *VisitHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	var req cancelReq
	if err := bindOptional(c, &req); err != nil {
		return badBody(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.Cancel(ctx, actorOf(c), id, req.Reason)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Archive handles POST /v1/visitas/:id/archivar.
func (h *VisitHandler) Archive(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	v, err := h.Svc.Archive(ctx, actorOf(c), id)
	if err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Delete handles DELETE /v1/visitas/:id.
func (h *VisitHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Svc.Delete(ctx, actorOf(c), id); err != nil {
		return writeServiceError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "visit deleted", "id": id})
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, dst any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	return c.Bind(dst)
}
