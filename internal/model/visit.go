package model

import (
	"strings"
	"time"
)

// VisitStatus is the lifecycle state of a visit as stored in visits.status.
type VisitStatus string

const (
	StatusScheduled  VisitStatus = "scheduled"
	StatusInProgress VisitStatus = "in_progress"
	StatusCompleted  VisitStatus = "completed"
	StatusCancelled  VisitStatus = "cancelled"
)

// Valid reports whether s is one of the four known states.
func (s VisitStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s VisitStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseVisitStatus accepts the stored value or the Spanish labels used by
// the web client ("programada", "en_curso", "completada", "cancelada").
func ParseVisitStatus(raw string) (VisitStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "scheduled", "programada":
		return StatusScheduled, true
	case "in_progress", "en_curso", "en curso":
		return StatusInProgress, true
	case "completed", "completada":
		return StatusCompleted, true
	case "cancelled", "canceled", "cancelada":
		return StatusCancelled, true
	}
	return "", false
}

// Visit mirrors a row of the `visits` table together with the ids stored
// in visit_areas. JSON names follow the field names the web client uses.
type Visit struct {
	ID                  uint64      `json:"id"`
	Code                string      `json:"codigo_visita"`
	VisitorID           uint64      `json:"persona_id"`
	CenterID            uint64      `json:"centro_datos_id"`
	AreaID              *uint64     `json:"area_id,omitempty"`
	AreaIDs             []uint64    `json:"area_ids,omitempty"`
	ActivityTypeID      uint64      `json:"tipo_actividad_id"`
	ActivityDescription string      `json:"descripcion_actividad"`
	EstimatedMinutes    *int        `json:"duracion_estimada,omitempty"`
	Status              VisitStatus `json:"estado"`
	ScheduledAt         time.Time   `json:"fecha_programada"`
	CheckedInAt         *time.Time  `json:"fecha_ingreso,omitempty"`
	CheckedOutAt        *time.Time  `json:"fecha_salida,omitempty"`
	AuthorizedBy        string      `json:"autorizado_por,omitempty"`
	AuthorizationReason string      `json:"motivo_autorizacion,omitempty"`
	EquipmentIn         string      `json:"equipos_ingresados,omitempty"`
	EquipmentOut        string      `json:"equipos_retirados,omitempty"`
	Notes               string      `json:"observaciones,omitempty"`
	FinalNotes          string      `json:"notas_finales,omitempty"`
	CreatedBy           uint64      `json:"creado_por"`
	Active              bool        `json:"activo"`
	CreatedAt           time.Time   `json:"fecha_creacion"`
	UpdatedAt           time.Time   `json:"fecha_actualizacion"`
}

// AppendNote adds a tagged line to Notes, e.g. "[CHECK-IN] badge 42".
// Empty text leaves Notes untouched.
func (v *Visit) AppendNote(tag, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := "[" + tag + "] " + text
	if v.Notes == "" {
		v.Notes = line
		return
	}
	v.Notes = v.Notes + "\n" + line
}

// VisitDetail is a visit loaded together with the reference rows it points
// to. Repositories build it with explicit joins.
type VisitDetail struct {
	Visit
	Visitor      PersonSummary `json:"persona"`
	Center       CenterSummary `json:"centro_datos"`
	ActivityType ActivityType  `json:"tipo_actividad"`
	Areas        []Area        `json:"areas"`
}

// VisitStats aggregates visits scheduled within a period.
type VisitStats struct {
	Total          int            `json:"total_visitas"`
	ByStatus       map[string]int `json:"visitas_por_estado"`
	ByActivity     []NamedCount   `json:"visitas_por_actividad"`
	Completed      int            `json:"visitas_completadas"`
	Cancelled      int            `json:"visitas_canceladas"`
	CompletionRate float64        `json:"tasa_completitud"`
	// average checked-in time of completed visits; nil when there are none
	AvgDurationMinutes *float64 `json:"duracion_promedio_minutos"`
}

// NamedCount is a generic label/count pair used by stats endpoints.
type NamedCount struct {
	ID    uint64 `json:"id,omitempty"`
	Name  string `json:"nombre"`
	Count int    `json:"cantidad"`
}
