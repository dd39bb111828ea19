package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/audit"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/config"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database/dbtest"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/rbac"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

type fakeChecker struct {
	taken map[string]bool
	calls int
	err   error
}

func (f *fakeChecker) CodeExists(_ context.Context, code string) (bool, error) {
	f.calls++
	return f.taken[code], f.err
}

// draws encodes values as the big-endian words draw reads.
func draws(values ...uint32) *bytes.Reader {
	var b []byte
	for _, v := range values {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return bytes.NewReader(b)
}

func TestGenerateFormatsNineDigits(t *testing.T) {
	g := NewCodeGenerator(&fakeChecker{}, nil)
	for i := 0; i < 50; i++ {
		code, err := g.Generate(context.Background())
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !codePattern.MatchString(code) {
			t.Fatalf("code %q is not 9 digits", code)
		}
	}

	g.rand = draws(42)
	code, _ := g.Generate(context.Background())
	if code != "000000042" {
		t.Fatalf("code = %q, want zero padded", code)
	}
}

func TestGenerateSkipsTakenCodes(t *testing.T) {
	c := &fakeChecker{taken: map[string]bool{"000000001": true, "000000002": true}}
	g := NewCodeGenerator(c, nil)
	g.rand = draws(1, 2, 3)

	code, err := g.Generate(context.Background())
	if err != nil || code != "000000003" || c.calls != 3 {
		t.Fatalf("code=%q err=%v calls=%d", code, err, c.calls)
	}
}

func TestGenerateGivesUpAfterTenAttempts(t *testing.T) {
	c := &fakeChecker{taken: map[string]bool{}}
	vals := make([]uint32, 0, 10)
	for i := uint32(1); i <= 10; i++ {
		vals = append(vals, i)
		c.taken[fmt.Sprintf("%09d", i)] = true
	}
	g := NewCodeGenerator(c, nil)
	g.rand = draws(vals...)

	code, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("saturated space must not fail: %v", err)
	}
	if c.calls != codeAttempts || code != "000000010" {
		t.Fatalf("code=%q calls=%d", code, c.calls)
	}
}

func TestGenerateCheckerError(t *testing.T) {
	g := NewCodeGenerator(&fakeChecker{err: errors.New("db down")}, nil)
	_, err := g.Generate(context.Background())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

// blindChecker never sees existing codes, so only the UNIQUE index catches
// a repeat.
type blindChecker struct{}

func (blindChecker) CodeExists(context.Context, string) (bool, error) { return false, nil }

func TestCreateRedrawsOnDuplicateCode(t *testing.T) {
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	codes := NewCodeGenerator(blindChecker{}, nil)
	codes.rand = draws(7, 7, 8)
	svc := NewVisitService(VisitDeps{
		DB:          db,
		Visits:      repository.NewVisitRepo(db),
		Refs:        repository.NewReferenceRepo(db),
		Codes:       codes,
		Trail:       audit.NewTrail(repository.NewControlLogRepo(db), repository.NewUserRepo(db), nil),
		AuditPolicy: config.AuditAfterCommit,
	}).WithClock(func() time.Time { return now })

	actor := audit.Actor{UserID: f.OperatorID, Role: rbac.Operator}
	in := CreateVisitInput{
		VisitorID:           f.PersonID,
		CenterID:            f.CenterID,
		ActivityTypeID:      f.ActivityTypeID,
		ActivityDescription: "Quarterly generator inspection",
		ScheduledAt:         now.Add(time.Hour),
	}

	first, err := svc.Create(context.Background(), actor, in)
	if err != nil || first.Code != "000000007" {
		t.Fatalf("first = %q, %v", first.Code, err)
	}
	second, err := svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Code != "000000008" {
		t.Fatalf("second code = %q, want redraw", second.Code)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM control_log WHERE action='create_visit'").Scan(&n); err != nil || n != 2 {
		t.Fatalf("create entries = %d, %v", n, err)
	}
}
