package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database/dbtest"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

func newVisit(f dbtest.Fixtures, code string) *model.Visit {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Visit{
		Code:                code,
		VisitorID:           f.PersonID,
		CenterID:            f.CenterID,
		AreaID:              &f.AreaID,
		AreaIDs:             []uint64{f.AreaID, f.SecondAreaID},
		ActivityTypeID:      f.ActivityTypeID,
		ActivityDescription: "Replace failed PSU in rack 12",
		Status:              model.StatusScheduled,
		ScheduledAt:         now.Add(24 * time.Hour),
		CreatedBy:           f.OperatorID,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func insertVisit(t *testing.T, db *sql.DB, repo *repository.VisitRepo, v *model.Visit) uint64 {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := repo.CreateTx(ctx, tx, v)
	if err != nil {
		_ = tx.Rollback()
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestVisitCreateAndDetail(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewVisitRepo(db)
	ctx := context.Background()

	id := insertVisit(t, db, repo, newVisit(f, "000000001"))

	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Code != "000000001" || got.Status != model.StatusScheduled || got.CheckedInAt != nil {
		t.Fatalf("unexpected visit: %+v", got)
	}
	if len(got.AreaIDs) != 2 || got.AreaIDs[0] != f.AreaID || got.AreaIDs[1] != f.SecondAreaID {
		t.Fatalf("area ids = %v", got.AreaIDs)
	}

	d, err := repo.GetDetail(ctx, id)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if d.Visitor.LastName != "Perez" || d.Center.Code != "CN-01" || len(d.Areas) != 2 {
		t.Fatalf("detail not populated: %+v", d)
	}

	exists, err := repo.CodeExists(ctx, "000000001")
	if err != nil || !exists {
		t.Fatalf("CodeExists = %v, %v", exists, err)
	}
}

func TestVisitDuplicateCodeIsConflict(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewVisitRepo(db)
	ctx := context.Background()

	insertVisit(t, db, repo, newVisit(f, "123456789"))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	_, err = repo.CreateTx(ctx, tx, newVisit(f, "123456789"))
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestVisitUpdateIsCompareAndSet(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewVisitRepo(db)
	ctx := context.Background()

	id := insertVisit(t, db, repo, newVisit(f, "000000002"))
	v, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	v.Status = model.StatusInProgress
	v.CheckedInAt = &now

	tx, _ := db.BeginTx(ctx, nil)
	ok, err := repo.UpdateTx(ctx, tx, v, model.StatusScheduled)
	if err != nil || !ok {
		t.Fatalf("first update = %v, %v", ok, err)
	}
	// stale expectation: the row is no longer scheduled
	ok, err = repo.UpdateTx(ctx, tx, v, model.StatusScheduled)
	if err != nil || ok {
		t.Fatalf("second update = %v, %v; want no row", ok, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := repo.GetByID(ctx, id)
	if got.Status != model.StatusInProgress || got.CheckedInAt == nil || !got.CheckedInAt.Equal(now) {
		t.Fatalf("after update: %+v", got)
	}
}

func TestVisitDeleteOnlyMatchingStatus(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewVisitRepo(db)
	ctx := context.Background()

	id := insertVisit(t, db, repo, newVisit(f, "000000003"))

	tx, _ := db.BeginTx(ctx, nil)
	ok, err := repo.DeleteTx(ctx, tx, id, model.StatusInProgress)
	if err != nil || ok {
		t.Fatalf("delete with wrong status = %v, %v", ok, err)
	}
	ok, err = repo.DeleteTx(ctx, tx, id, model.StatusScheduled)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := repo.GetByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVisitListFiltersAndStats(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewVisitRepo(db)
	ctx := context.Background()

	a := newVisit(f, "000000010")
	b := newVisit(f, "000000011")
	b.Status = model.StatusCancelled
	c := newVisit(f, "000000012")
	c.CenterID = f.OtherCenterID
	c.AreaID = nil
	c.AreaIDs = nil
	c.ScheduledAt = c.ScheduledAt.Add(72 * time.Hour)
	for _, v := range []*model.Visit{a, b, c} {
		insertVisit(t, db, repo, v)
	}

	items, total, err := repo.List(ctx, repository.VisitFilter{CenterID: f.CenterID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("center filter: total=%d len=%d", total, len(items))
	}

	_, total, _ = repo.List(ctx, repository.VisitFilter{Status: model.StatusCancelled})
	if total != 1 {
		t.Fatalf("status filter total = %d", total)
	}

	to := time.Now().UTC().Add(48 * time.Hour)
	_, total, _ = repo.List(ctx, repository.VisitFilter{To: &to})
	if total != 2 {
		t.Fatalf("date filter total = %d", total)
	}

	page, total, _ := repo.List(ctx, repository.VisitFilter{Page: 2, Size: 2})
	if total != 3 || len(page) != 1 {
		t.Fatalf("pagination: total=%d len=%d", total, len(page))
	}

	byStatus, err := repo.CountByStatus(ctx, nil, nil)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if byStatus[model.StatusScheduled] != 2 || byStatus[model.StatusCancelled] != 1 {
		t.Fatalf("by status = %v", byStatus)
	}
	byActivity, err := repo.CountByActivity(ctx, nil, nil)
	if err != nil || len(byActivity) != 1 || byActivity[0].Count != 3 {
		t.Fatalf("by activity = %+v, %v", byActivity, err)
	}
}

func TestReferenceChecks(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	refs := repository.NewReferenceRepo(db)
	ctx := context.Background()

	if ok, _ := refs.PersonExists(ctx, f.PersonID); !ok {
		t.Fatal("person should exist")
	}
	if ok, _ := refs.PersonExists(ctx, 9999); ok {
		t.Fatal("person 9999 should not exist")
	}
	if ok, _ := refs.AreaInCenter(ctx, f.OtherCenterAreaID, f.CenterID); ok {
		t.Fatal("area of another center accepted")
	}
	if ok, _ := refs.AreaInCenter(ctx, f.AreaID, f.CenterID); !ok {
		t.Fatal("own area rejected")
	}
	areas, err := refs.ListAreas(ctx, f.CenterID)
	if err != nil || len(areas) != 2 {
		t.Fatalf("ListAreas = %v, %v", areas, err)
	}
}
