package model

import "time"

// ControlLogEntry is one append-only row of the `control_log` table.
// ActorID is a weak reference to users.id: there is no foreign key, so
// entries outlive the account that produced them.
type ControlLogEntry struct {
	ID               uint64    `json:"id"`
	Action           string    `json:"accion"`
	Date             string    `json:"fecha"` // YYYY-MM-DD (UTC)
	Time             string    `json:"hora"`  // HH:MM:SS (UTC)
	ActorID          uint64    `json:"usuario_id"`
	ActorName        string    `json:"usuario,omitempty"` // filled by list queries
	AffectedTable    string    `json:"tabla_afectada,omitempty"`
	AffectedRecordID *uint64   `json:"registro_id,omitempty"`
	Details          string    `json:"detalles"`
	SourceIP         string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ControlLogStats aggregates the control log over an optional date range.
type ControlLogStats struct {
	Total    int          `json:"total_acciones"`
	ByActor  []NamedCount `json:"acciones_por_usuario"`
	ByAction []NamedCount `json:"acciones_por_tipo"`
	ByTable  []NamedCount `json:"acciones_por_tabla"`
}
