// Package rbac implements the role hierarchy that gates every visit and
// audit operation.
//
// Administrator, Supervisor and Operator form a linear chain where a lower
// id means more privilege. Auditor is a separate read-only branch: it never
// satisfies a chain requirement and is only admitted by requirements that
// explicitly allow auditor reads.
package rbac

import (
	"fmt"
	"strings"
)

// Role is the numeric role id stored in roles.id and carried in tokens.
type Role uint8

const (
	Unknown       Role = 0
	Administrator Role = 1
	Supervisor    Role = 2
	Operator      Role = 3
	Auditor       Role = 4
)

var roleNames = map[Role]string{
	Administrator: "Administrator",
	Supervisor:    "Supervisor",
	Operator:      "Operator",
	Auditor:       "Auditor",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", uint8(r))
}

// Known reports whether r is one of the seeded roles.
func (r Role) Known() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) inChain() bool { return r >= Administrator && r <= Operator }

// RoleFromID converts a roles.id value; unknown ids map to Unknown.
func RoleFromID(id uint8) Role {
	r := Role(id)
	if !r.Known() {
		return Unknown
	}
	return r
}

// ParseRole accepts English or Spanish role names, case-insensitively.
func ParseRole(name string) Role {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "administrator", "administrador", "admin":
		return Administrator
	case "supervisor":
		return Supervisor
	case "operator", "operador":
		return Operator
	case "auditor":
		return Auditor
	}
	return Unknown
}

// Authorize reports whether actor meets the minimum chain rank. Roles
// outside the chain (Auditor, Unknown) are never authorized.
func Authorize(actor, minimum Role) bool {
	return actor.inChain() && minimum.inChain() && actor <= minimum
}

// Requirement declares what an operation needs. Min is the lowest chain
// rank admitted (Unknown admits nobody from the chain). AuditorRead also
// admits the Auditor role and must only be set on read/reporting operations.
type Requirement struct {
	Min         Role
	AuditorRead bool
}

// Allows applies the requirement to actor. It fails closed.
func (q Requirement) Allows(actor Role) bool {
	if q.Min != Unknown && Authorize(actor, q.Min) {
		return true
	}
	return q.AuditorRead && actor == Auditor
}

func (q Requirement) String() string {
	switch {
	case q.Min != Unknown && q.AuditorRead:
		return fmt.Sprintf("%s (rank %d) or above, or Auditor", q.Min, q.Min)
	case q.Min != Unknown:
		return fmt.Sprintf("%s (rank %d) or above", q.Min, q.Min)
	case q.AuditorRead:
		return "Auditor"
	}
	return "nothing (operation disabled)"
}

// PermissionDenied is returned by Check. It is a client error and must not
// be retried.
type PermissionDenied struct {
	Required Requirement
	Actor    Role
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: requires %s; actor is %s (rank %d)",
		e.Required, e.Actor, uint8(e.Actor))
}

// Check returns *PermissionDenied when actor does not satisfy req.
func Check(actor Role, req Requirement) error {
	if req.Allows(actor) {
		return nil
	}
	return &PermissionDenied{Required: req, Actor: actor}
}

// Requirements of the visit and audit operations.
var (
	CreateVisit   = Requirement{Min: Operator}
	CheckInVisit  = Requirement{Min: Operator}
	CheckOutVisit = Requirement{Min: Operator}
	CancelVisit   = Requirement{Min: Operator}
	UpdateVisit   = Requirement{Min: Operator}
	ArchiveVisit  = Requirement{Min: Supervisor}
	DeleteVisit   = Requirement{Min: Administrator}
	ReadVisits    = Requirement{Min: Operator, AuditorRead: true}
	ReadReference = Requirement{Min: Operator, AuditorRead: true}
	ReadAudit     = Requirement{AuditorRead: true}
)
