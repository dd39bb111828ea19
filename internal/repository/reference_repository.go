package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
)

// ReferenceRepo reads the catalogue tables a visit points to (persons,
// data centers, areas, activity types). Those tables are maintained by the
// admin back office; this service only checks and lists them.
type ReferenceRepo struct{ DB Querier }

func NewReferenceRepo(db Querier) *ReferenceRepo { return &ReferenceRepo{DB: db} }

// WithTx returns a copy bound to tx.
func (r *ReferenceRepo) WithTx(tx *sql.Tx) *ReferenceRepo { return &ReferenceRepo{DB: tx} }

func (r *ReferenceRepo) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ReferenceRepo) PersonExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM persons WHERE id=? LIMIT 1", id)
}

// CenterExists only accepts active data centers.
func (r *ReferenceRepo) CenterExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM data_centers WHERE id=? AND active=1 LIMIT 1", id)
}

func (r *ReferenceRepo) ActivityTypeExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM activity_types WHERE id=? LIMIT 1", id)
}

// AreaInCenter reports whether the area exists and belongs to centerID.
func (r *ReferenceRepo) AreaInCenter(ctx context.Context, areaID, centerID uint64) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM areas WHERE id=? AND center_id=? LIMIT 1", areaID, centerID)
}

// ListCenters returns active data centers ordered by name.
func (r *ReferenceRepo) ListCenters(ctx context.Context) ([]model.DataCenter, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, name, code, city, active FROM data_centers WHERE active=1 ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DataCenter{}
	for rows.Next() {
		var c model.DataCenter
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.City, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAreas returns the areas of one data center.
func (r *ReferenceRepo) ListAreas(ctx context.Context, centerID uint64) ([]model.Area, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, name, center_id FROM areas WHERE center_id=? ORDER BY name", centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Area{}
	for rows.Next() {
		var a model.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.CenterID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ReferenceRepo) ListActivityTypes(ctx context.Context) ([]model.ActivityType, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id, name FROM activity_types ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ActivityType{}
	for rows.Next() {
		var a model.ActivityType
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
