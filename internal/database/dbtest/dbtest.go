// Package dbtest provides a migrated in-memory SQLite database and a small
// set of reference rows for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/database"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/utils"
)

// Password is the plain password of every fixture user.
const Password = "correct-horse"

// Fixtures holds the ids inserted by Seed.
type Fixtures struct {
	AdminID, SupervisorID, OperatorID, AuditorID uint64
	PersonID                                     uint64
	CenterID, OtherCenterID                      uint64
	AreaID, SecondAreaID, OtherCenterAreaID      uint64
	ActivityTypeID                               uint64
}

// Open returns an in-memory database with the production schema. It is
// closed when the test finishes.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()

	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLiteMemory(ctx, name)
	if err != nil {
		t.Fatalf("dbtest.Open: %v", err)
	}
	if err := database.Migrate(ctx, db, database.SQLite); err != nil {
		_ = db.Close()
		t.Fatalf("dbtest.Open: migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Seed inserts one user per role, a visitor, two data centers with areas,
// and picks a seeded activity type.
func Seed(t testing.TB, db *sql.DB) Fixtures {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	hash, err := utils.HashPassword(Password, utils.MinCost)
	if err != nil {
		t.Fatalf("dbtest.Seed: hash: %v", err)
	}

	insert := func(query string, args ...any) uint64 {
		t.Helper()
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			t.Fatalf("dbtest.Seed: %s: %v", query, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			t.Fatalf("dbtest.Seed: last insert id: %v", err)
		}
		return uint64(id)
	}
	user := func(username string, role uint8) uint64 {
		return insert(`INSERT INTO users (username, email, first_name, last_name, password_hash, role_id, is_active, created_at, updated_at)
VALUES (?,?,?,?,?,?,1,?,?)`, username, username+"@example.test", strings.ToUpper(username[:1])+username[1:], "Tester", hash, role, now, now)
	}

	var f Fixtures
	f.AdminID = user("admin", 1)
	f.SupervisorID = user("supervisor", 2)
	f.OperatorID = user("operator", 3)
	f.AuditorID = user("auditor", 4)

	f.PersonID = insert(`INSERT INTO persons (first_name, last_name, document_id, email, company, created_at)
VALUES ('Ana','Perez','V-12345678','ana@contractor.test','Contractor SA',?)`, now)

	f.CenterID = insert(`INSERT INTO data_centers (name, code, city, active) VALUES ('Centro Norte','CN-01','Caracas',1)`)
	f.OtherCenterID = insert(`INSERT INTO data_centers (name, code, city, active) VALUES ('Centro Sur','CS-01','Valencia',1)`)
	f.AreaID = insert(`INSERT INTO areas (name, center_id) VALUES ('Sala de servidores', ?)`, f.CenterID)
	f.SecondAreaID = insert(`INSERT INTO areas (name, center_id) VALUES ('Sala electrica', ?)`, f.CenterID)
	f.OtherCenterAreaID = insert(`INSERT INTO areas (name, center_id) VALUES ('Sala UPS', ?)`, f.OtherCenterID)

	if err := db.QueryRowContext(ctx, `SELECT id FROM activity_types ORDER BY id LIMIT 1`).Scan(&f.ActivityTypeID); err != nil {
		t.Fatalf("dbtest.Seed: activity type: %v", err)
	}
	return f
}
