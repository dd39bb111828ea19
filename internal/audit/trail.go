// Package audit writes and reads the control log. Every committed visit
// operation and every consult goes through Trail so entries carry the same
// enrichment (actor snapshot, source address, user agent).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/observability"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/utils"
)

// ConsultPrefix marks read actions. Auditors reading the system do not
// generate entries with this prefix.
const ConsultPrefix = "consult_"

// Actor identifies who performs an operation and from where.
type Actor struct {
	UserID    uint64
	Role      rbac.Role
	IP        string
	UserAgent string
}

// Entry is one auditable event before enrichment.
type Entry struct {
	Action           string
	Actor            Actor
	AffectedTable    string
	AffectedRecordID *uint64
	Details          map[string]any
}

// LogStore persists and queries control log rows.
type LogStore interface {
	Create(ctx context.Context, e *model.ControlLogEntry) error
	CreateTx(ctx context.Context, q repository.Querier, e *model.ControlLogEntry) error
	List(ctx context.Context, f repository.LogFilter) ([]model.ControlLogEntry, int, error)
	Stats(ctx context.Context, f repository.LogFilter) (model.ControlLogStats, error)
}

// UserLookup resolves the actor of an entry.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByIDTx(ctx context.Context, q repository.Querier, id uint64) (model.User, error)
}

type Trail struct {
	store  LogStore
	users  UserLookup
	logger *slog.Logger
	now    func() time.Time
}

func NewTrail(store LogStore, users UserLookup, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Trail{store: store, users: users, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for the entry date and time.
func (t *Trail) WithClock(now func() time.Time) *Trail {
	t.now = now
	return t
}

// Record writes e on its own. It returns nil without writing when the
// actor cannot be resolved or when an auditor consults data.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	return t.record(ctx, nil, e)
}

// RecordTx writes e inside tx so the entry commits or rolls back with the
// business change.
func (t *Trail) RecordTx(ctx context.Context, tx *sql.Tx, e Entry) error {
	return t.record(ctx, tx, e)
}

func (t *Trail) record(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.Action == "" {
		return errors.New("audit: empty action")
	}
	if e.Actor.UserID == 0 {
		t.skip(e, "no actor")
		return nil
	}

	var (
		u   model.User
		err error
	)
	if tx != nil {
		u, err = t.users.GetByIDTx(ctx, tx, e.Actor.UserID)
	} else {
		u, err = t.users.GetByID(ctx, e.Actor.UserID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		t.skip(e, "unknown actor")
		return nil
	}
	if err != nil {
		observability.AuditEntriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("audit: resolve actor %d: %w", e.Actor.UserID, err)
	}

	role := rbac.RoleFromID(u.RoleID)
	if role == rbac.Auditor && strings.HasPrefix(e.Action, ConsultPrefix) {
		t.skip(e, "auditor consult")
		return nil
	}

	ip := utils.NormalizeIP(e.Actor.IP)
	ua := utils.TruncateUserAgent(e.Actor.UserAgent)
	details := normalizeDetails(e.Details)
	details["actor"] = map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"name":     u.FullName(),
		"role":     role.String(),
	}
	details["ip_address"] = ip
	details["user_agent"] = ua

	body, err := json.Marshal(details)
	if err != nil {
		// normalizeDetails leaves only marshalable values; keep the entry anyway
		body, _ = json.Marshal(map[string]any{"unserializable": fmt.Sprint(e.Details)})
	}

	now := t.now().UTC()
	row := model.ControlLogEntry{
		Action:           e.Action,
		Date:             now.Format("2006-01-02"),
		Time:             now.Format("15:04:05"),
		ActorID:          u.ID,
		AffectedTable:    e.AffectedTable,
		AffectedRecordID: e.AffectedRecordID,
		Details:          string(body),
		SourceIP:         ip,
		UserAgent:        ua,
		CreatedAt:        now,
	}
	if tx != nil {
		err = t.store.CreateTx(ctx, tx, &row)
	} else {
		err = t.store.Create(ctx, &row)
	}
	if err != nil {
		observability.AuditEntriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("audit: write %s: %w", e.Action, err)
	}
	observability.AuditEntriesTotal.WithLabelValues("written").Inc()
	return nil
}

func (t *Trail) skip(e Entry, reason string) {
	observability.AuditEntriesTotal.WithLabelValues("skipped").Inc()
	t.logger.Debug("audit entry skipped",
		slog.String("action", e.Action),
		slog.Uint64("actor_id", e.Actor.UserID),
		slog.String("reason", reason))
}

// Logs returns one page of the control log. Only auditors may read it.
func (t *Trail) Logs(ctx context.Context, actor Actor, f repository.LogFilter) ([]model.ControlLogEntry, int, error) {
	if err := rbac.Check(actor.Role, rbac.ReadAudit); err != nil {
		return nil, 0, err
	}
	return t.store.List(ctx, f)
}

// Stats aggregates the control log between two YYYY-MM-DD dates
// (inclusive, either may be empty).
func (t *Trail) Stats(ctx context.Context, actor Actor, from, to string) (model.ControlLogStats, error) {
	if err := rbac.Check(actor.Role, rbac.ReadAudit); err != nil {
		return model.ControlLogStats{}, err
	}
	return t.store.Stats(ctx, repository.LogFilter{DateFrom: from, DateTo: to})
}
