package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database/dbtest"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

func TestControlLogListAndStats(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	repo := repository.NewControlLogRepo(db)
	ctx := context.Background()

	rec := uint64(7)
	entries := []model.ControlLogEntry{
		{Action: "create_visit", Date: "2026-01-10", Time: "09:00:00", ActorID: f.OperatorID, AffectedTable: "visits", AffectedRecordID: &rec},
		{Action: "check_in_visit", Date: "2026-01-11", Time: "10:00:00", ActorID: f.OperatorID, AffectedTable: "visits", AffectedRecordID: &rec},
		{Action: "login", Date: "2026-01-11", Time: "08:00:00", ActorID: f.AdminID},
		{Action: "delete_visit", Date: "2026-01-12", Time: "12:00:00", ActorID: 424242, AffectedTable: "visits"},
	}
	for i := range entries {
		entries[i].Details = "{}"
		entries[i].CreatedAt = time.Now().UTC()
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if entries[i].ID == 0 {
			t.Fatal("Create must set the id")
		}
	}

	all, total, err := repo.List(ctx, repository.LogFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 || all[0].Action != "delete_visit" {
		t.Fatalf("newest first expected, got total=%d first=%q", total, all[0].Action)
	}
	if all[0].ActorName != "" {
		t.Fatalf("unknown actor should have empty name, got %q", all[0].ActorName)
	}

	_, total, _ = repo.List(ctx, repository.LogFilter{Action: "VISIT"})
	if total != 3 {
		t.Fatalf("action substring total = %d", total)
	}
	_, total, _ = repo.List(ctx, repository.LogFilter{ActorID: f.OperatorID, DateFrom: "2026-01-11", DateTo: "2026-01-11"})
	if total != 1 {
		t.Fatalf("actor+date total = %d", total)
	}
	_, total, _ = repo.List(ctx, repository.LogFilter{Table: "visits", RecordID: rec})
	if total != 2 {
		t.Fatalf("table+record total = %d", total)
	}

	st, err := repo.Stats(ctx, repository.LogFilter{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || len(st.ByActor) != 3 || len(st.ByAction) != 4 || len(st.ByTable) != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByActor[0].ID != f.OperatorID || st.ByActor[0].Count != 2 {
		t.Fatalf("top actor = %+v", st.ByActor[0])
	}
	if st.ByTable[0].Name != "visits" || st.ByTable[0].Count != 3 {
		t.Fatalf("by table = %+v", st.ByTable)
	}
}
