// Package queue defines the visit event payload and the RabbitMQ publisher
// and consumer that carry it.
package queue

// Event names carried in VisitEvent.Event.
const (
	EventScheduled  = "visit.scheduled"
	EventCheckedIn  = "visit.checked_in"
	EventCheckedOut = "visit.checked_out"
	EventCancelled  = "visit.cancelled"
)

// VisitEvent is published after a visit operation commits. It carries
// enough for downstream consumers to log or notify without querying the
// primary database. Times are RFC3339 UTC strings.
type VisitEvent struct {
	Event       string `json:"event"`
	VisitID     uint64 `json:"visit_id"`
	Code        string `json:"codigo_visita"`
	Status      string `json:"estado"`
	VisitorID   uint64 `json:"persona_id"`
	CenterID    uint64 `json:"centro_datos_id"`
	ActorID     uint64 `json:"usuario_id"`
	ScheduledAt string `json:"fecha_programada"`
	OccurredAt  string `json:"occurred_at"`
}
