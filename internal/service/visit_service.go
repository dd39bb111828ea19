// Package service holds the visit lifecycle. Every operation checks the
// actor's role first, runs its writes in one transaction, then records the
// control log entry and finally publishes a notification.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/config"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/observability"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/queue"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

const (
	visitsTable       = "visits"
	createAttempts    = 3
	minDescriptionLen = 10
	minEstimated      = 15
	maxEstimated      = 480
	auditTimeout      = 5 * time.Second
)

var codePattern = regexp.MustCompile(`^[0-9]{9}$`)

// VisitDeps groups the collaborators of VisitService.
type VisitDeps struct {
	DB          *sql.DB
	Visits      *repository.VisitRepo
	Refs        *repository.ReferenceRepo
	Codes       *CodeGenerator
	Trail       *audit.Trail
	Notifier    Notifier
	Logger      *slog.Logger
	AuditPolicy string // config.AuditAfterCommit or config.AuditTransactional
}

type VisitService struct {
	db            *sql.DB
	visits        *repository.VisitRepo
	refs          *repository.ReferenceRepo
	codes         *CodeGenerator
	trail         *audit.Trail
	notifier      Notifier
	logger        *slog.Logger
	transactional bool
	now           func() time.Time
}

func NewVisitService(d VisitDeps) *VisitService {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = observability.Discard()
	}
	return &VisitService{
		db:            d.DB,
		visits:        d.Visits,
		refs:          d.Refs,
		codes:         d.Codes,
		trail:         d.Trail,
		notifier:      d.Notifier,
		logger:        d.Logger,
		transactional: d.AuditPolicy == config.AuditTransactional,
		now:           time.Now,
	}
}

// WithClock replaces the service clock. Times are truncated to seconds.
func (s *VisitService) WithClock(now func() time.Time) *VisitService {
	s.now = now
	return s
}

func (s *VisitService) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

// outcome is what a committed mutation hands to the audit and notify steps.
type outcome struct {
	entry audit.Entry
	event string // empty: nothing to publish
	visit model.Visit
}

// mutate runs fn in a transaction, then audits and notifies. With the
// transactional policy the audit entry is written before commit and its
// failure aborts the operation.
func (s *VisitService) mutate(ctx context.Context, op string, fn func(tx *sql.Tx) (outcome, error)) (outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return outcome{}, persistence(op+": begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	out, err := fn(tx)
	if err != nil {
		return outcome{}, err
	}
	if s.transactional {
		if err := s.trail.RecordTx(ctx, tx, out.entry); err != nil {
			return outcome{}, persistence(op+": audit", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return outcome{}, persistence(op+": commit", err)
	}
	committed = true
	observability.VisitTransitionsTotal.WithLabelValues(out.entry.Action).Inc()

	if !s.transactional {
		s.recordDetached(ctx, out.entry)
	}
	if out.event != "" {
		s.publish(ctx, out.event, out.visit, out.entry.Actor)
	}
	return out, nil
}

// recordDetached writes an entry after the fact. The request context may
// already be cancelled, so the write gets its own deadline.
func (s *VisitService) recordDetached(ctx context.Context, e audit.Entry) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.trail.Record(actx, e); err != nil {
		s.logger.Error("audit write failed",
			slog.String("action", e.Action),
			slog.Uint64("actor_id", e.Actor.UserID),
			slog.Any("err", err))
	}
}

func (s *VisitService) publish(ctx context.Context, name string, v model.Visit, actor audit.Actor) {
	ev := queue.VisitEvent{
		Event:       name,
		VisitID:     v.ID,
		Code:        v.Code,
		Status:      string(v.Status),
		VisitorID:   v.VisitorID,
		CenterID:    v.CenterID,
		ActorID:     actor.UserID,
		ScheduledAt: v.ScheduledAt.UTC().Format(time.RFC3339),
		OccurredAt:  s.clock().Format(time.RFC3339),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.notifier.Publish(pctx, ev); err != nil {
		s.logger.Warn("visit event not published", slog.String("event", name), slog.Any("err", err))
	}
}

func visitEntry(action string, actor audit.Actor, v model.Visit, details map[string]any) audit.Entry {
	id := v.ID
	if details == nil {
		details = map[string]any{}
	}
	details["codigo_visita"] = v.Code
	return audit.Entry{
		Action:           action,
		Actor:            actor,
		AffectedTable:    visitsTable,
		AffectedRecordID: &id,
		Details:          details,
	}
}

// CreateVisitInput carries the fields a client may set on a new visit.
type CreateVisitInput struct {
	VisitorID           uint64
	CenterID            uint64
	ActivityTypeID      uint64
	AreaID              *uint64
	AreaIDs             []uint64
	ActivityDescription string
	EstimatedMinutes    *int
	ScheduledAt         time.Time
	AuthorizedBy        string
	AuthorizationReason string
	EquipmentIn         string
	Notes               string
}

func validateDescription(field, s string) error {
	if utf8.RuneCountInString(strings.TrimSpace(s)) < minDescriptionLen {
		return invalid(field, "must be at least %d characters", minDescriptionLen)
	}
	return nil
}

func validateEstimated(m *int) error {
	if m != nil && (*m < minEstimated || *m > maxEstimated) {
		return invalid("duracion_estimada", "must be between %d and %d minutes", minEstimated, maxEstimated)
	}
	return nil
}

// mergeAreas folds the single area into the list, drops duplicates and
// zero ids, and returns the primary area.
func mergeAreas(primary *uint64, ids []uint64) (*uint64, []uint64) {
	var out []uint64
	seen := map[uint64]bool{}
	add := func(id uint64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if primary != nil {
		add(*primary)
	}
	for _, id := range ids {
		add(id)
	}
	if len(out) == 0 {
		return nil, nil
	}
	first := out[0]
	return &first, out
}

func (in CreateVisitInput) validate(now time.Time) error {
	switch {
	case in.VisitorID == 0:
		return invalid("persona_id", "is required")
	case in.CenterID == 0:
		return invalid("centro_datos_id", "is required")
	case in.ActivityTypeID == 0:
		return invalid("tipo_actividad_id", "is required")
	case in.ScheduledAt.IsZero():
		return invalid("fecha_programada", "is required")
	case !in.ScheduledAt.After(now):
		return invalid("fecha_programada", "must be in the future")
	}
	if err := validateDescription("descripcion_actividad", in.ActivityDescription); err != nil {
		return err
	}
	return validateEstimated(in.EstimatedMinutes)
}

// checkReferences verifies that every referenced row exists. Zero ids are
// skipped so Update can pass only what changed.
func checkReferences(ctx context.Context, refs *repository.ReferenceRepo, visitorID, centerID, activityID uint64, areas []uint64) error {
	check := func(field string, id uint64, exists func(context.Context, uint64) (bool, error)) error {
		if id == 0 {
			return nil
		}
		ok, err := exists(ctx, id)
		if err != nil {
			return persistence("check "+field, err)
		}
		if !ok {
			return invalid(field, "%d does not exist", id)
		}
		return nil
	}
	if err := check("persona_id", visitorID, refs.PersonExists); err != nil {
		return err
	}
	if err := check("centro_datos_id", centerID, refs.CenterExists); err != nil {
		return err
	}
	if err := check("tipo_actividad_id", activityID, refs.ActivityTypeExists); err != nil {
		return err
	}
	for _, a := range areas {
		ok, err := refs.AreaInCenter(ctx, a, centerID)
		if err != nil {
			return persistence("check area", err)
		}
		if !ok {
			return invalid("area_ids", "area %d does not belong to data center %d", a, centerID)
		}
	}
	return nil
}

// Create schedules a new visit under a fresh code.
func (s *VisitService) Create(ctx context.Context, actor audit.Actor, in CreateVisitInput) (model.Visit, error) {
	if err := rbac.Check(actor.Role, rbac.CreateVisit); err != nil {
		return model.Visit{}, err
	}
	now := s.clock()
	if err := in.validate(now); err != nil {
		return model.Visit{}, err
	}
	primary, areas := mergeAreas(in.AreaID, in.AreaIDs)
	if err := checkReferences(ctx, s.refs, in.VisitorID, in.CenterID, in.ActivityTypeID, areas); err != nil {
		return model.Visit{}, err
	}

	v := model.Visit{
		VisitorID:           in.VisitorID,
		CenterID:            in.CenterID,
		AreaID:              primary,
		AreaIDs:             areas,
		ActivityTypeID:      in.ActivityTypeID,
		ActivityDescription: strings.TrimSpace(in.ActivityDescription),
		EstimatedMinutes:    in.EstimatedMinutes,
		Status:              model.StatusScheduled,
		ScheduledAt:         in.ScheduledAt.UTC().Truncate(time.Second),
		AuthorizedBy:        strings.TrimSpace(in.AuthorizedBy),
		AuthorizationReason: strings.TrimSpace(in.AuthorizationReason),
		EquipmentIn:         strings.TrimSpace(in.EquipmentIn),
		Notes:               strings.TrimSpace(in.Notes),
		CreatedBy:           actor.UserID,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	for attempt := 1; attempt <= createAttempts; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return model.Visit{}, err
		}
		v.Code = code

		out, err := s.mutate(ctx, "create_visit", func(tx *sql.Tx) (outcome, error) {
			id, err := s.visits.CreateTx(ctx, tx, &v)
			if err != nil {
				return outcome{}, err
			}
			v.ID = id
			return outcome{
				entry: visitEntry("create_visit", actor, v, map[string]any{
					"persona_id":       v.VisitorID,
					"centro_datos_id":  v.CenterID,
					"fecha_programada": v.ScheduledAt,
				}),
				event: queue.EventScheduled,
				visit: v,
			}, nil
		})
		if errors.Is(err, repository.ErrConflict) {
			observability.VisitCodeCollisionsTotal.Inc()
			s.logger.Warn("visit code taken at insert; drawing again",
				slog.String("code", code), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			var pe *PersistenceError
			if !errors.As(err, &pe) {
				err = persistence("create visit", err)
			}
			return model.Visit{}, err
		}
		return out.visit, nil
	}
	return model.Visit{}, persistence("create visit", fmt.Errorf("no unique code after %d attempts", createAttempts))
}

// transition moves a visit from one status to another. apply may edit the
// visit and reject the change with a ValidationError.
func (s *VisitService) transition(ctx context.Context, actor audit.Actor, id uint64, req rbac.Requirement,
	from, to model.VisitStatus, action, event string, apply func(v *model.Visit, now time.Time) (map[string]any, error),
) (model.Visit, error) {
	if err := rbac.Check(actor.Role, req); err != nil {
		return model.Visit{}, err
	}
	out, err := s.mutate(ctx, action, func(tx *sql.Tx) (outcome, error) {
		v, err := s.load(ctx, tx, id)
		if err != nil {
			return outcome{}, err
		}
		if v.Status != from {
			return outcome{}, &IllegalTransition{From: v.Status, To: to}
		}
		now := s.clock()
		details, err := apply(&v, now)
		if err != nil {
			return outcome{}, err
		}
		v.Status = to
		v.UpdatedAt = now
		if err := s.update(ctx, tx, v, from, to); err != nil {
			return outcome{}, err
		}
		if details == nil {
			details = map[string]any{}
		}
		details["estado_anterior"] = from
		details["estado_nuevo"] = to
		return outcome{entry: visitEntry(action, actor, v, details), event: event, visit: v}, nil
	})
	return out.visit, err
}

func (s *VisitService) load(ctx context.Context, tx *sql.Tx, id uint64) (model.Visit, error) {
	v, err := s.visits.GetByIDTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Visit{}, ErrVisitNotFound
	}
	if err != nil {
		return model.Visit{}, persistence("load visit", err)
	}
	return v, nil
}

// update writes v if its stored status is still expected. On a lost race it
// re-reads to tell a missing visit from a moved one.
func (s *VisitService) update(ctx context.Context, tx *sql.Tx, v model.Visit, expected, to model.VisitStatus) error {
	ok, err := s.visits.UpdateTx(ctx, tx, v, expected)
	if err != nil {
		return persistence("update visit", err)
	}
	if ok {
		return nil
	}
	cur, err := s.load(ctx, tx, v.ID)
	if err != nil {
		return err
	}
	return &IllegalTransition{From: cur.Status, To: to}
}

// CheckInInput is the optional data recorded at arrival.
type CheckInInput struct {
	At          *time.Time
	EquipmentIn *string
	Notes       *string
}

// CheckIn moves a Scheduled visit to InProgress.
func (s *VisitService) CheckIn(ctx context.Context, actor audit.Actor, id uint64, in CheckInInput) (model.Visit, error) {
	return s.transition(ctx, actor, id, rbac.CheckInVisit, model.StatusScheduled, model.StatusInProgress,
		"check_in_visit", queue.EventCheckedIn,
		func(v *model.Visit, now time.Time) (map[string]any, error) {
			at := now
			if in.At != nil {
				at = in.At.UTC().Truncate(time.Second)
			}
			v.CheckedInAt = &at
			if in.EquipmentIn != nil {
				v.EquipmentIn = strings.TrimSpace(*in.EquipmentIn)
			}
			if in.Notes != nil {
				v.AppendNote("CHECK-IN", *in.Notes)
			}
			return map[string]any{"fecha_ingreso": at}, nil
		})
}

// CheckOutInput is the optional data recorded at departure.
type CheckOutInput struct {
	At           *time.Time
	EquipmentOut *string
	FinalNotes   *string
	Notes        *string
}

// CheckOut moves an InProgress visit to Completed.
func (s *VisitService) CheckOut(ctx context.Context, actor audit.Actor, id uint64, in CheckOutInput) (model.Visit, error) {
	return s.transition(ctx, actor, id, rbac.CheckOutVisit, model.StatusInProgress, model.StatusCompleted,
		"check_out_visit", queue.EventCheckedOut,
		func(v *model.Visit, now time.Time) (map[string]any, error) {
			at := now
			if in.At != nil {
				at = in.At.UTC().Truncate(time.Second)
			}
			if v.CheckedInAt != nil && at.Before(*v.CheckedInAt) {
				return nil, invalid("fecha_salida", "must not be earlier than fecha_ingreso")
			}
			v.CheckedOutAt = &at
			if in.EquipmentOut != nil {
				v.EquipmentOut = strings.TrimSpace(*in.EquipmentOut)
			}
			if in.FinalNotes != nil {
				v.FinalNotes = strings.TrimSpace(*in.FinalNotes)
			}
			if in.Notes != nil {
				v.AppendNote("CHECK-OUT", *in.Notes)
			}
			details := map[string]any{"fecha_salida": at}
			if v.CheckedInAt != nil {
				details["duracion_minutos"] = int(at.Sub(*v.CheckedInAt).Minutes())
			}
			return details, nil
		})
}

// Cancel moves a Scheduled visit to Cancelled. The reason is required.
func (s *VisitService) Cancel(ctx context.Context, actor audit.Actor, id uint64, reason string) (model.Visit, error) {
	if err := rbac.Check(actor.Role, rbac.CancelVisit); err != nil {
		return model.Visit{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Visit{}, invalid("motivo", "is required")
	}
	return s.transition(ctx, actor, id, rbac.CancelVisit, model.StatusScheduled, model.StatusCancelled,
		"cancel_visit", queue.EventCancelled,
		func(v *model.Visit, _ time.Time) (map[string]any, error) {
			v.AppendNote("CANCELLED", reason)
			return map[string]any{"motivo": reason}, nil
		})
}

// VisitPatch lists the fields Update may change. Nil means unchanged.
// AreaIDs replaces the whole area list; its first element becomes the
// primary area.
type VisitPatch struct {
	VisitorID           *uint64
	CenterID            *uint64
	ActivityTypeID      *uint64
	AreaIDs             *[]uint64
	ActivityDescription *string
	EstimatedMinutes    *int
	ScheduledAt         *time.Time
	AuthorizedBy        *string
	AuthorizationReason *string
	EquipmentIn         *string
	EquipmentOut        *string
	Notes               *string
	FinalNotes          *string
}

// Empty reports whether the patch changes nothing.
func (p VisitPatch) Empty() bool { return len(p.fields()) == 0 }

func (p VisitPatch) fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(p.VisitorID != nil, "persona_id")
	add(p.CenterID != nil, "centro_datos_id")
	add(p.ActivityTypeID != nil, "tipo_actividad_id")
	add(p.AreaIDs != nil, "area_ids")
	add(p.ActivityDescription != nil, "descripcion_actividad")
	add(p.EstimatedMinutes != nil, "duracion_estimada")
	add(p.ScheduledAt != nil, "fecha_programada")
	add(p.AuthorizedBy != nil, "autorizado_por")
	add(p.AuthorizationReason != nil, "motivo_autorizacion")
	add(p.EquipmentIn != nil, "equipos_ingresados")
	add(p.EquipmentOut != nil, "equipos_retirados")
	add(p.Notes != nil, "observaciones")
	add(p.FinalNotes != nil, "notas_finales")
	return f
}

func (p VisitPatch) validate(now time.Time) error {
	if p.VisitorID != nil && *p.VisitorID == 0 {
		return invalid("persona_id", "must be positive")
	}
	if p.CenterID != nil && *p.CenterID == 0 {
		return invalid("centro_datos_id", "must be positive")
	}
	if p.ActivityTypeID != nil && *p.ActivityTypeID == 0 {
		return invalid("tipo_actividad_id", "must be positive")
	}
	if p.ActivityDescription != nil {
		if err := validateDescription("descripcion_actividad", *p.ActivityDescription); err != nil {
			return err
		}
	}
	if p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
		return invalid("fecha_programada", "must be in the future")
	}
	return validateEstimated(p.EstimatedMinutes)
}

// Apply merges the non-nil fields into v.
func (p VisitPatch) Apply(v *model.Visit) {
	if p.VisitorID != nil {
		v.VisitorID = *p.VisitorID
	}
	if p.CenterID != nil {
		v.CenterID = *p.CenterID
	}
	if p.ActivityTypeID != nil {
		v.ActivityTypeID = *p.ActivityTypeID
	}
	if p.AreaIDs != nil {
		v.AreaID, v.AreaIDs = mergeAreas(nil, *p.AreaIDs)
	}
	if p.ActivityDescription != nil {
		v.ActivityDescription = strings.TrimSpace(*p.ActivityDescription)
	}
	if p.EstimatedMinutes != nil {
		m := *p.EstimatedMinutes
		v.EstimatedMinutes = &m
	}
	if p.ScheduledAt != nil {
		v.ScheduledAt = p.ScheduledAt.UTC().Truncate(time.Second)
	}
	str := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	str(&v.AuthorizedBy, p.AuthorizedBy)
	str(&v.AuthorizationReason, p.AuthorizationReason)
	str(&v.EquipmentIn, p.EquipmentIn)
	str(&v.EquipmentOut, p.EquipmentOut)
	str(&v.Notes, p.Notes)
	str(&v.FinalNotes, p.FinalNotes)
}

// Update edits a Scheduled or InProgress visit without changing its status.
func (s *VisitService) Update(ctx context.Context, actor audit.Actor, id uint64, p VisitPatch) (model.Visit, error) {
	if err := rbac.Check(actor.Role, rbac.UpdateVisit); err != nil {
		return model.Visit{}, err
	}
	if p.Empty() {
		return model.Visit{}, invalid("", "no fields to update")
	}
	if err := p.validate(s.clock()); err != nil {
		return model.Visit{}, err
	}

	out, err := s.mutate(ctx, "update_visit", func(tx *sql.Tx) (outcome, error) {
		v, err := s.load(ctx, tx, id)
		if err != nil {
			return outcome{}, err
		}
		if v.Status.Terminal() {
			return outcome{}, &IllegalTransition{From: v.Status, To: v.Status,
				Msg: fmt.Sprintf("%s visits cannot be modified", v.Status)}
		}
		p.Apply(&v)

		var visitorID, activityID uint64
		if p.VisitorID != nil {
			visitorID = v.VisitorID
		}
		if p.ActivityTypeID != nil {
			activityID = v.ActivityTypeID
		}
		var centerID uint64
		var areas []uint64
		if p.CenterID != nil || p.AreaIDs != nil {
			// the area list must fit the resulting center
			centerID, areas = v.CenterID, v.AreaIDs
		}
		if err := checkReferences(ctx, s.refs.WithTx(tx), visitorID, centerID, activityID, areas); err != nil {
			return outcome{}, err
		}

		v.UpdatedAt = s.clock()
		if err := s.update(ctx, tx, v, v.Status, v.Status); err != nil {
			return outcome{}, err
		}
		if p.AreaIDs != nil {
			if err := s.visits.ReplaceAreasTx(ctx, tx, v.ID, v.AreaIDs); err != nil {
				return outcome{}, persistence("update visit areas", err)
			}
		}
		return outcome{
			entry: visitEntry("update_visit", actor, v, map[string]any{"campos": p.fields()}),
			visit: v,
		}, nil
	})
	return out.visit, err
}

// Delete purges a visit that never started. Anything past Scheduled is
// history and can only be archived.
func (s *VisitService) Delete(ctx context.Context, actor audit.Actor, id uint64) error {
	if err := rbac.Check(actor.Role, rbac.DeleteVisit); err != nil {
		return err
	}
	_, err := s.mutate(ctx, "delete_visit", func(tx *sql.Tx) (outcome, error) {
		v, err := s.load(ctx, tx, id)
		if err != nil {
			return outcome{}, err
		}
		if v.Status != model.StatusScheduled {
			return outcome{}, deleteRefused(v.Status)
		}
		ok, err := s.visits.DeleteTx(ctx, tx, id, model.StatusScheduled)
		if err != nil {
			return outcome{}, persistence("delete visit", err)
		}
		if !ok {
			cur, err := s.load(ctx, tx, id)
			if err != nil {
				return outcome{}, err
			}
			return outcome{}, deleteRefused(cur.Status)
		}
		return outcome{
			entry: visitEntry("delete_visit", actor, v, map[string]any{
				"estado":           v.Status,
				"persona_id":       v.VisitorID,
				"fecha_programada": v.ScheduledAt,
			}),
			visit: v,
		}, nil
	})
	return err
}

func deleteRefused(from model.VisitStatus) error {
	return &IllegalTransition{From: from, Msg: "only Scheduled visits can be deleted"}
}

// Archive hides a completed or cancelled visit from listings.
func (s *VisitService) Archive(ctx context.Context, actor audit.Actor, id uint64) (model.Visit, error) {
	if err := rbac.Check(actor.Role, rbac.ArchiveVisit); err != nil {
		return model.Visit{}, err
	}
	out, err := s.mutate(ctx, "archive_visit", func(tx *sql.Tx) (outcome, error) {
		v, err := s.load(ctx, tx, id)
		if err != nil {
			return outcome{}, err
		}
		if !v.Status.Terminal() {
			return outcome{}, &IllegalTransition{From: v.Status, To: v.Status,
				Msg: "only completed or cancelled visits can be archived"}
		}
		if !v.Active {
			return outcome{}, &IllegalTransition{From: v.Status, To: v.Status, Msg: "visit is already archived"}
		}
		v.Active = false
		v.UpdatedAt = s.clock()
		if err := s.update(ctx, tx, v, v.Status, v.Status); err != nil {
			return outcome{}, err
		}
		return outcome{entry: visitEntry("archive_visit", actor, v, map[string]any{"estado": v.Status}), visit: v}, nil
	})
	return out.visit, err
}

// consulted records a read. Failures are logged only; a read never fails
// because its audit entry could not be written.
func (s *VisitService) consulted(ctx context.Context, e audit.Entry) {
	if err := s.trail.Record(ctx, e); err != nil {
		s.logger.Error("audit write failed", slog.String("action", e.Action), slog.Any("err", err))
	}
}

// Get returns a visit with its visitor, center, activity type and areas.
func (s *VisitService) Get(ctx context.Context, actor audit.Actor, id uint64) (model.VisitDetail, error) {
	if err := rbac.Check(actor.Role, rbac.ReadVisits); err != nil {
		return model.VisitDetail{}, err
	}
	d, err := s.visits.GetDetail(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.VisitDetail{}, ErrVisitNotFound
	}
	if err != nil {
		return model.VisitDetail{}, persistence("get visit", err)
	}
	s.consulted(ctx, visitEntry("consult_visit", actor, d.Visit, nil))
	return d, nil
}

// GetByCode looks up an active visit by its 9-digit code.
func (s *VisitService) GetByCode(ctx context.Context, actor audit.Actor, code string) (model.Visit, error) {
	if err := rbac.Check(actor.Role, rbac.ReadVisits); err != nil {
		return model.Visit{}, err
	}
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return model.Visit{}, invalid("codigo_visita", "must be 9 digits")
	}
	v, err := s.visits.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Visit{}, ErrVisitNotFound
	}
	if err != nil {
		return model.Visit{}, persistence("get visit by code", err)
	}
	s.consulted(ctx, visitEntry("consult_visit", actor, v, map[string]any{"por_codigo": true}))
	return v, nil
}

// List returns a page of active visits and the number of matches.
func (s *VisitService) List(ctx context.Context, actor audit.Actor, f repository.VisitFilter) ([]model.Visit, int, error) {
	if err := rbac.Check(actor.Role, rbac.ReadVisits); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("estado", "unknown status %q", f.Status)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, invalid("fecha_hasta", "must be after fecha_desde")
	}
	items, total, err := s.visits.List(ctx, f)
	if err != nil {
		return nil, 0, persistence("list visits", err)
	}
	s.consulted(ctx, audit.Entry{
		Action:        "consult_visits",
		Actor:         actor,
		AffectedTable: visitsTable,
		Details:       filterDetails(f, total),
	})
	return items, total, nil
}

func filterDetails(f repository.VisitFilter, total int) map[string]any {
	d := map[string]any{"resultados": total}
	if f.Status != "" {
		d["estado"] = f.Status
	}
	if f.VisitorID != 0 {
		d["persona_id"] = f.VisitorID
	}
	if f.CenterID != 0 {
		d["centro_datos_id"] = f.CenterID
	}
	if f.From != nil {
		d["fecha_desde"] = f.From
	}
	if f.To != nil {
		d["fecha_hasta"] = f.To
	}
	return d
}

// Stats aggregates active visits scheduled in [from, to). Either bound may
// be nil.
func (s *VisitService) Stats(ctx context.Context, actor audit.Actor, from, to *time.Time) (model.VisitStats, error) {
	if err := rbac.Check(actor.Role, rbac.ReadVisits); err != nil {
		return model.VisitStats{}, err
	}
	byStatus, err := s.visits.CountByStatus(ctx, from, to)
	if err != nil {
		return model.VisitStats{}, persistence("visit stats", err)
	}
	byActivity, err := s.visits.CountByActivity(ctx, from, to)
	if err != nil {
		return model.VisitStats{}, persistence("visit stats", err)
	}
	durations, err := s.visits.CompletedDurations(ctx, from, to)
	if err != nil {
		return model.VisitStats{}, persistence("visit stats", err)
	}

	st := model.VisitStats{ByStatus: map[string]int{}, ByActivity: byActivity}
	for _, status := range []model.VisitStatus{model.StatusScheduled, model.StatusInProgress, model.StatusCompleted, model.StatusCancelled} {
		st.ByStatus[string(status)] = byStatus[status]
		st.Total += byStatus[status]
	}
	st.Completed = byStatus[model.StatusCompleted]
	st.Cancelled = byStatus[model.StatusCancelled]
	if st.Total > 0 {
		st.CompletionRate = round2(float64(st.Completed) / float64(st.Total) * 100)
	}
	if len(durations) > 0 {
		var sum time.Duration
		for _, d := range durations {
			sum += d
		}
		avg := round2(sum.Minutes() / float64(len(durations)))
		st.AvgDurationMinutes = &avg
	}

	details := map[string]any{"total": st.Total}
	if from != nil {
		details["fecha_desde"] = from
	}
	if to != nil {
		details["fecha_hasta"] = to
	}
	s.consulted(ctx, audit.Entry{Action: "consult_visit_stats", Actor: actor, AffectedTable: visitsTable, Details: details})
	return st, nil
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
