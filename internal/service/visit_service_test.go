package service_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/config"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database/dbtest"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/queue"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/service"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []queue.VisitEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, ev queue.VisitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Event
	}
	return out
}

// brokenLog fails every write.
type brokenLog struct{ *repository.ControlLogRepo }

func (brokenLog) Create(context.Context, *model.ControlLogEntry) error {
	return errors.New("control_log unavailable")
}

func (brokenLog) CreateTx(context.Context, repository.Querier, *model.ControlLogEntry) error {
	return errors.New("control_log unavailable")
}

type env struct {
	svc    *service.VisitService
	db     *sql.DB
	f      dbtest.Fixtures
	events *recorder
}

func newEnv(t *testing.T, policy string, brokenAudit bool) env {
	t.Helper()
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)

	visits := repository.NewVisitRepo(db)
	var store audit.LogStore = repository.NewControlLogRepo(db)
	if brokenAudit {
		store = brokenLog{repository.NewControlLogRepo(db)}
	}
	rec := &recorder{}
	svc := service.NewVisitService(service.VisitDeps{
		DB:          db,
		Visits:      visits,
		Refs:        repository.NewReferenceRepo(db),
		Codes:       service.NewCodeGenerator(visits, nil),
		Trail:       audit.NewTrail(store, repository.NewUserRepo(db), nil).WithClock(func() time.Time { return now }),
		Notifier:    rec,
		AuditPolicy: policy,
	}).WithClock(func() time.Time { return now })
	return env{svc: svc, db: db, f: f, events: rec}
}

func (e env) operator() audit.Actor { return audit.Actor{UserID: e.f.OperatorID, Role: rbac.Operator} }
func (e env) supervisor() audit.Actor {
	return audit.Actor{UserID: e.f.SupervisorID, Role: rbac.Supervisor}
}
func (e env) admin() audit.Actor   { return audit.Actor{UserID: e.f.AdminID, Role: rbac.Administrator} }
func (e env) auditor() audit.Actor { return audit.Actor{UserID: e.f.AuditorID, Role: rbac.Auditor} }

func (e env) input() service.CreateVisitInput {
	mins := 90
	return service.CreateVisitInput{
		VisitorID:           e.f.PersonID,
		CenterID:            e.f.CenterID,
		ActivityTypeID:      e.f.ActivityTypeID,
		AreaIDs:             []uint64{e.f.AreaID, e.f.SecondAreaID},
		ActivityDescription: "Install two new top-of-rack switches",
		EstimatedMinutes:    &mins,
		ScheduledAt:         now.Add(24 * time.Hour),
		AuthorizedBy:        "Jefe de turno",
	}
}

func (e env) create(t *testing.T) model.Visit {
	t.Helper()
	v, err := e.svc.Create(context.Background(), e.operator(), e.input())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

func (e env) status(t *testing.T, id uint64) model.VisitStatus {
	t.Helper()
	var s string
	if err := e.db.QueryRow("SELECT status FROM visits WHERE id=?", id).Scan(&s); err != nil {
		t.Fatalf("status: %v", err)
	}
	return model.VisitStatus(s)
}

func (e env) actions(t *testing.T) map[string]int {
	t.Helper()
	rows, err := e.db.Query("SELECT action, COUNT(*) FROM control_log GROUP BY action")
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			a string
			n int
		)
		if err := rows.Scan(&a, &n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out[a] = n
	}
	return out
}

func (e env) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return n
}

func TestVisitLifecycle(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()

	v := e.create(t)
	if len(v.Code) != 9 || v.Status != model.StatusScheduled || v.ID == 0 {
		t.Fatalf("created visit = %+v", v)
	}
	if v.AreaID == nil || *v.AreaID != e.f.AreaID {
		t.Fatalf("primary area = %v", v.AreaID)
	}

	equipment := "Laptop Dell S/N 123"
	v, err := e.svc.CheckIn(ctx, e.operator(), v.ID, service.CheckInInput{EquipmentIn: &equipment, Notes: strptr("badge 42")})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if v.Status != model.StatusInProgress || v.CheckedInAt == nil || !v.CheckedInAt.Equal(now) {
		t.Fatalf("after check-in: %+v", v)
	}
	if !strings.Contains(v.Notes, "[CHECK-IN] badge 42") {
		t.Fatalf("notes = %q", v.Notes)
	}

	out := now.Add(2 * time.Hour)
	v, err = e.svc.CheckOut(ctx, e.operator(), v.ID, service.CheckOutInput{At: &out, FinalNotes: strptr("Work done")})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if v.Status != model.StatusCompleted || v.CheckedOutAt == nil || !v.CheckedOutAt.Equal(out) {
		t.Fatalf("after check-out: %+v", v)
	}
	if e.status(t, v.ID) != model.StatusCompleted {
		t.Fatal("stored status not completed")
	}

	a := e.actions(t)
	if a["create_visit"] != 1 || a["check_in_visit"] != 1 || a["check_out_visit"] != 1 {
		t.Fatalf("audit actions = %v", a)
	}
	got := strings.Join(e.events.names(), ",")
	if got != "visit.scheduled,visit.checked_in,visit.checked_out" {
		t.Fatalf("events = %s", got)
	}

	st, err := e.svc.Stats(ctx, e.operator(), nil, nil)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 1 || st.Completed != 1 || st.CompletionRate != 100 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AvgDurationMinutes == nil || *st.AvgDurationMinutes != 120 {
		t.Fatalf("avg duration = %v", st.AvgDurationMinutes)
	}
}

func TestIllegalTransitionsLeaveStatusUnchanged(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)

	_, err := e.svc.CheckOut(ctx, e.operator(), v.ID, service.CheckOutInput{})
	var it *service.IllegalTransition
	if !errors.As(err, &it) || it.From != model.StatusScheduled || it.To != model.StatusCompleted {
		t.Fatalf("check-out of scheduled: %v", err)
	}
	if e.status(t, v.ID) != model.StatusScheduled {
		t.Fatal("status changed by rejected check-out")
	}

	if _, err := e.svc.Cancel(ctx, e.operator(), v.ID, "Visitor rescheduled"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	for name, op := range map[string]func() error{
		"check-in": func() error { _, err := e.svc.CheckIn(ctx, e.operator(), v.ID, service.CheckInInput{}); return err },
		"cancel":   func() error { _, err := e.svc.Cancel(ctx, e.operator(), v.ID, "again"); return err },
		"update": func() error {
			_, err := e.svc.Update(ctx, e.operator(), v.ID, service.VisitPatch{Notes: strptr("late note")})
			return err
		},
	} {
		if err := op(); !errors.As(err, &it) {
			t.Fatalf("%s on cancelled visit: %v", name, err)
		}
	}
	if e.status(t, v.ID) != model.StatusCancelled {
		t.Fatal("cancelled visit moved")
	}

	a := e.actions(t)
	if a["create_visit"] != 1 || a["cancel_visit"] != 1 || len(a) != 2 {
		t.Fatalf("rejected operations were audited: %v", a)
	}
}

func TestDoubleCheckInRejected(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)

	if _, err := e.svc.CheckIn(ctx, e.operator(), v.ID, service.CheckInInput{}); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	_, err := e.svc.CheckIn(ctx, e.operator(), v.ID, service.CheckInInput{})
	var it *service.IllegalTransition
	if !errors.As(err, &it) || it.From != model.StatusInProgress {
		t.Fatalf("second check-in: %v", err)
	}
	if n := e.actions(t)["check_in_visit"]; n != 1 {
		t.Fatalf("check_in_visit entries = %d", n)
	}
}

func TestCheckOutBeforeCheckInRejected(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)
	if _, err := e.svc.CheckIn(ctx, e.operator(), v.ID, service.CheckInInput{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	early := now.Add(-time.Minute)
	_, err := e.svc.CheckOut(ctx, e.operator(), v.ID, service.CheckOutInput{At: &early})
	var ve *service.ValidationError
	if !errors.As(err, &ve) || ve.Field != "fecha_salida" {
		t.Fatalf("err = %v", err)
	}
	if e.status(t, v.ID) != model.StatusInProgress {
		t.Fatal("visit completed despite invalid time")
	}
}

func TestCancelRequiresReason(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	v := e.create(t)
	_, err := e.svc.Cancel(context.Background(), e.operator(), v.ID, "   ")
	var ve *service.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteOnlyScheduled(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()

	v := e.create(t)
	if err := e.svc.Delete(ctx, e.admin(), v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.svc.Get(ctx, e.operator(), v.ID); !errors.Is(err, service.ErrVisitNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if !errors.Is(service.ErrVisitNotFound, repository.ErrNotFound) {
		t.Fatal("ErrVisitNotFound must wrap repository.ErrNotFound")
	}

	started := e.create(t)
	if _, err := e.svc.CheckIn(ctx, e.operator(), started.ID, service.CheckInInput{}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	err := e.svc.Delete(ctx, e.admin(), started.ID)
	var it *service.IllegalTransition
	if !errors.As(err, &it) || err.Error() != "only Scheduled visits can be deleted" {
		t.Fatalf("delete in-progress: %v", err)
	}
	if e.status(t, started.ID) != model.StatusInProgress {
		t.Fatal("in-progress visit touched")
	}

	if err := e.svc.Delete(ctx, e.admin(), 987654); !errors.Is(err, service.ErrVisitNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
	if n := e.actions(t)["delete_visit"]; n != 1 {
		t.Fatalf("delete_visit entries = %d", n)
	}
}

func TestPermissionDeniedHasNoSideEffects(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	var denied *rbac.PermissionDenied

	if _, err := e.svc.Create(ctx, e.auditor(), e.input()); !errors.As(err, &denied) {
		t.Fatalf("auditor create: %v", err)
	}
	if n := e.count(t, "SELECT COUNT(*) FROM visits"); n != 0 {
		t.Fatalf("visits after denied create = %d", n)
	}

	v := e.create(t)
	if err := e.svc.Delete(ctx, e.operator(), v.ID); !errors.As(err, &denied) {
		t.Fatalf("operator delete: %v", err)
	}
	if err := e.svc.Delete(ctx, e.supervisor(), v.ID); !errors.As(err, &denied) {
		t.Fatalf("supervisor delete: %v", err)
	}
	if _, err := e.svc.CheckIn(ctx, audit.Actor{UserID: 99, Role: rbac.Unknown}, v.ID, service.CheckInInput{}); !errors.As(err, &denied) {
		t.Fatalf("unknown role check-in: %v", err)
	}
	if _, err := e.svc.Archive(ctx, e.operator(), v.ID); !errors.As(err, &denied) {
		t.Fatalf("operator archive: %v", err)
	}
	if e.status(t, v.ID) != model.StatusScheduled {
		t.Fatal("denied operation changed the visit")
	}
	if n := e.count(t, "SELECT COUNT(*) FROM control_log"); n != 1 {
		t.Fatalf("control_log rows = %d, want only the create", n)
	}
	if got := len(e.events.names()); got != 1 {
		t.Fatalf("events = %d, want only the create", got)
	}
	if !strings.Contains(denied.Error(), "Operator (rank 3)") {
		t.Fatalf("message does not name the actor rank: %q", denied.Error())
	}
}

func TestAuditorReadsAreNotLogged(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)

	if _, _, err := e.svc.List(ctx, e.auditor(), repository.VisitFilter{}); err != nil {
		t.Fatalf("auditor List: %v", err)
	}
	if _, err := e.svc.Get(ctx, e.auditor(), v.ID); err != nil {
		t.Fatalf("auditor Get: %v", err)
	}
	if _, err := e.svc.Stats(ctx, e.auditor(), nil, nil); err != nil {
		t.Fatalf("auditor Stats: %v", err)
	}
	if n := e.count(t, "SELECT COUNT(*) FROM control_log WHERE action LIKE 'consult%'"); n != 0 {
		t.Fatalf("auditor consults logged: %d", n)
	}

	items, total, err := e.svc.List(ctx, e.operator(), repository.VisitFilter{CenterID: e.f.CenterID})
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("operator List = %d, %v", total, err)
	}
	if _, err := e.svc.GetByCode(ctx, e.operator(), v.Code); err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	a := e.actions(t)
	if a["consult_visits"] != 1 || a["consult_visit"] != 1 {
		t.Fatalf("operator consults = %v", a)
	}
}

func TestTransactionalAuditFailureRollsBack(t *testing.T) {
	e := newEnv(t, config.AuditTransactional, true)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, e.operator(), e.input())
	var pe *service.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if n := e.count(t, "SELECT COUNT(*) FROM visits"); n != 0 {
		t.Fatalf("visit persisted despite audit failure: %d", n)
	}
	if len(e.events.names()) != 0 {
		t.Fatal("event published for a rolled back visit")
	}
}

func TestAfterCommitAuditFailureKeepsMutation(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, true)
	v := e.create(t)
	if e.status(t, v.ID) != model.StatusScheduled {
		t.Fatal("visit missing")
	}
	if len(e.events.names()) != 1 {
		t.Fatal("event not published")
	}
}

func TestNotifierFailureIsIgnored(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	e.events.err = errors.New("broker down")
	v := e.create(t)
	if v.ID == 0 || e.actions(t)["create_visit"] != 1 {
		t.Fatal("create must succeed and be audited when publishing fails")
	}
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*service.CreateVisitInput)
		field  string
	}{
		"past date":         {func(in *service.CreateVisitInput) { in.ScheduledAt = now.Add(-time.Hour) }, "fecha_programada"},
		"short description": {func(in *service.CreateVisitInput) { in.ActivityDescription = "fix" }, "descripcion_actividad"},
		"duration too long": {func(in *service.CreateVisitInput) { m := 600; in.EstimatedMinutes = &m }, "duracion_estimada"},
		"missing visitor":   {func(in *service.CreateVisitInput) { in.VisitorID = 0 }, "persona_id"},
		"unknown visitor":   {func(in *service.CreateVisitInput) { in.VisitorID = 5000 }, "persona_id"},
		"foreign area": {func(in *service.CreateVisitInput) {
			in.AreaIDs = []uint64{e.f.OtherCenterAreaID}
		}, "area_ids"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := e.input()
			tc.mutate(&in)
			_, err := e.svc.Create(ctx, e.operator(), in)
			var ve *service.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("err = %v, want field %s", err, tc.field)
			}
		})
	}
	if n := e.count(t, "SELECT COUNT(*) FROM visits"); n != 0 {
		t.Fatalf("invalid creates persisted %d visits", n)
	}
}

func TestUpdatePatchesFields(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)

	areas := []uint64{e.f.SecondAreaID}
	got, err := e.svc.Update(ctx, e.operator(), v.ID, service.VisitPatch{
		ActivityDescription: strptr("Install one switch and patch panel"),
		AreaIDs:             &areas,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ActivityDescription != "Install one switch and patch panel" || got.AuthorizedBy != "Jefe de turno" {
		t.Fatalf("patched visit = %+v", got)
	}
	d, err := e.svc.Get(ctx, e.operator(), v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Areas) != 1 || d.Areas[0].ID != e.f.SecondAreaID || *d.AreaID != e.f.SecondAreaID {
		t.Fatalf("areas = %+v", d.Areas)
	}

	// moving to another center keeps the old areas, which no longer fit
	other := e.f.OtherCenterID
	_, err = e.svc.Update(ctx, e.operator(), v.ID, service.VisitPatch{CenterID: &other})
	var ve *service.ValidationError
	if !errors.As(err, &ve) || ve.Field != "area_ids" {
		t.Fatalf("center change: %v", err)
	}

	if _, err := e.svc.Update(ctx, e.operator(), v.ID, service.VisitPatch{}); !errors.As(err, &ve) {
		t.Fatalf("empty patch: %v", err)
	}
	if n := e.actions(t)["update_visit"]; n != 1 {
		t.Fatalf("update_visit entries = %d", n)
	}
}

func TestArchiveTerminalOnly(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	ctx := context.Background()
	v := e.create(t)

	_, err := e.svc.Archive(ctx, e.supervisor(), v.ID)
	var it *service.IllegalTransition
	if !errors.As(err, &it) {
		t.Fatalf("archive scheduled: %v", err)
	}

	if _, err := e.svc.Cancel(ctx, e.operator(), v.ID, "Client postponed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	archived, err := e.svc.Archive(ctx, e.supervisor(), v.ID)
	if err != nil || archived.Active {
		t.Fatalf("Archive = %+v, %v", archived, err)
	}
	if _, err := e.svc.Archive(ctx, e.supervisor(), v.ID); !errors.As(err, &it) {
		t.Fatalf("second archive: %v", err)
	}

	_, total, err := e.svc.List(ctx, e.operator(), repository.VisitFilter{})
	if err != nil || total != 0 {
		t.Fatalf("archived visit listed: total=%d err=%v", total, err)
	}
	if _, err := e.svc.GetByCode(ctx, e.operator(), v.Code); !errors.Is(err, service.ErrVisitNotFound) {
		t.Fatalf("GetByCode archived: %v", err)
	}
}

func TestGetByCodeValidatesFormat(t *testing.T) {
	e := newEnv(t, config.AuditAfterCommit, false)
	_, err := e.svc.GetByCode(context.Background(), e.operator(), "12AB")
	var ve *service.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v", err)
	}
}

func strptr(s string) *string { return &s }
