package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
)

// VisitRepo persists visits and their area list. Status changes go through
// UpdateTx, whose WHERE clause carries the expected current status so two
// racing transitions cannot both succeed.
type VisitRepo struct{ DB *sql.DB }

func NewVisitRepo(db *sql.DB) *VisitRepo { return &VisitRepo{DB: db} }

const visitColumns = `v.id, v.code, v.visitor_id, v.center_id, v.area_id, v.activity_type_id,
 v.activity_description, v.estimated_minutes, v.status, v.scheduled_at, v.checked_in_at, v.checked_out_at,
 v.authorized_by, v.authorization_reason, v.equipment_in, v.equipment_out, v.notes, v.final_notes,
 v.created_by, v.active, v.created_at, v.updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanVisit(s rowScanner, extra ...any) (model.Visit, error) {
	var (
		v         model.Visit
		areaID    sql.NullInt64
		estimated sql.NullInt64
		status    string
		inAt      sql.NullTime
		outAt     sql.NullTime
	)
	dest := []any{&v.ID, &v.Code, &v.VisitorID, &v.CenterID, &areaID, &v.ActivityTypeID,
		&v.ActivityDescription, &estimated, &status, &v.ScheduledAt, &inAt, &outAt,
		&v.AuthorizedBy, &v.AuthorizationReason, &v.EquipmentIn, &v.EquipmentOut, &v.Notes, &v.FinalNotes,
		&v.CreatedBy, &v.Active, &v.CreatedAt, &v.UpdatedAt}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return model.Visit{}, err
	}
	v.Status = model.VisitStatus(status)
	if areaID.Valid {
		id := uint64(areaID.Int64)
		v.AreaID = &id
	}
	if estimated.Valid {
		m := int(estimated.Int64)
		v.EstimatedMinutes = &m
	}
	if inAt.Valid {
		t := inAt.Time.UTC()
		v.CheckedInAt = &t
	}
	if outAt.Valid {
		t := outAt.Time.UTC()
		v.CheckedOutAt = &t
	}
	v.ScheduledAt = v.ScheduledAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// CodeExists reports whether any visit, archived or not, already uses code.
func (r *VisitRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM visits WHERE code=? LIMIT 1", code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateTx inserts v and its area list inside tx and returns the new id.
// A duplicate code surfaces as ErrConflict so the caller can redraw.
func (r *VisitRepo) CreateTx(ctx context.Context, tx *sql.Tx, v *model.Visit) (uint64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO visits (code, visitor_id, center_id, area_id, activity_type_id, activity_description,
		  estimated_minutes, status, scheduled_at, checked_in_at, checked_out_at, authorized_by,
		  authorization_reason, equipment_in, equipment_out, notes, final_notes, created_by, active,
		  created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.Code, v.VisitorID, v.CenterID, nullUint(v.AreaID), v.ActivityTypeID, v.ActivityDescription,
		nullInt(v.EstimatedMinutes), string(v.Status), v.ScheduledAt.UTC(), nullTime(v.CheckedInAt), nullTime(v.CheckedOutAt),
		v.AuthorizedBy, v.AuthorizationReason, v.EquipmentIn, v.EquipmentOut, v.Notes, v.FinalNotes,
		v.CreatedBy, boolInt(v.Active), v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	if err != nil {
		if IsDuplicateKey(err) {
			return 0, fmt.Errorf("visit code %s: %w", v.Code, ErrConflict)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.ReplaceAreasTx(ctx, tx, uint64(id), v.AreaIDs); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ReplaceAreasTx rewrites the visit_areas rows of a visit, keeping order.
func (r *VisitRepo) ReplaceAreasTx(ctx context.Context, tx *sql.Tx, visitID uint64, areaIDs []uint64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM visit_areas WHERE visit_id=?", visitID); err != nil {
		return err
	}
	for i, a := range areaIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO visit_areas (visit_id, area_id, position) VALUES (?,?,?)", visitID, a, i); err != nil {
			return err
		}
	}
	return nil
}

// GetByID loads a visit (archived ones included) or returns ErrNotFound.
func (r *VisitRepo) GetByID(ctx context.Context, id uint64) (model.Visit, error) {
	return r.getByID(ctx, r.DB, id)
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *VisitRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Visit, error) {
	return r.getByID(ctx, tx, id)
}

func (r *VisitRepo) getByID(ctx context.Context, q Querier, id uint64) (model.Visit, error) {
	v, err := scanVisit(q.QueryRowContext(ctx, "SELECT "+visitColumns+" FROM visits v WHERE v.id=?", id))
	if err != nil {
		return model.Visit{}, notFound(err)
	}
	if v.AreaIDs, err = areaIDs(ctx, q, v.ID); err != nil {
		return model.Visit{}, err
	}
	return v, nil
}

// GetByCode loads an active visit by its code.
func (r *VisitRepo) GetByCode(ctx context.Context, code string) (model.Visit, error) {
	v, err := scanVisit(r.DB.QueryRowContext(ctx,
		"SELECT "+visitColumns+" FROM visits v WHERE v.code=? AND v.active=1", code))
	if err != nil {
		return model.Visit{}, notFound(err)
	}
	if v.AreaIDs, err = areaIDs(ctx, r.DB, v.ID); err != nil {
		return model.Visit{}, err
	}
	return v, nil
}

func areaIDs(ctx context.Context, q Querier, visitID uint64) ([]uint64, error) {
	rows, err := q.QueryContext(ctx, "SELECT area_id FROM visit_areas WHERE visit_id=? ORDER BY position", visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDetail loads a visit with its visitor, data center, activity type and
// areas in explicit joins.
func (r *VisitRepo) GetDetail(ctx context.Context, id uint64) (model.VisitDetail, error) {
	var d model.VisitDetail
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+visitColumns+`,
		  p.id, p.first_name, p.last_name, p.document_id, p.company,
		  c.id, c.name, c.code, c.city,
		  t.id, t.name
		FROM visits v
		JOIN persons p ON p.id = v.visitor_id
		JOIN data_centers c ON c.id = v.center_id
		JOIN activity_types t ON t.id = v.activity_type_id
		WHERE v.id=?`, id)
	v, err := scanVisit(row,
		&d.Visitor.ID, &d.Visitor.FirstName, &d.Visitor.LastName, &d.Visitor.DocumentID, &d.Visitor.Company,
		&d.Center.ID, &d.Center.Name, &d.Center.Code, &d.Center.City,
		&d.ActivityType.ID, &d.ActivityType.Name)
	if err != nil {
		return model.VisitDetail{}, notFound(err)
	}
	d.Visit = v

	rows, err := r.DB.QueryContext(ctx, `
		SELECT a.id, a.name, a.center_id
		FROM visit_areas va JOIN areas a ON a.id = va.area_id
		WHERE va.visit_id=? ORDER BY va.position`, id)
	if err != nil {
		return model.VisitDetail{}, err
	}
	defer rows.Close()
	d.Areas = []model.Area{}
	for rows.Next() {
		var a model.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.CenterID); err != nil {
			return model.VisitDetail{}, err
		}
		d.Areas = append(d.Areas, a)
		d.Visit.AreaIDs = append(d.Visit.AreaIDs, a.ID)
	}
	return d, rows.Err()
}

// UpdateTx writes every mutable column of v, but only if the stored status
// still equals expected. It reports whether a row was updated.
func (r *VisitRepo) UpdateTx(ctx context.Context, tx *sql.Tx, v model.Visit, expected model.VisitStatus) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE visits SET
		  visitor_id=?, center_id=?, area_id=?, activity_type_id=?, activity_description=?,
		  estimated_minutes=?, status=?, scheduled_at=?, checked_in_at=?, checked_out_at=?,
		  authorized_by=?, authorization_reason=?, equipment_in=?, equipment_out=?, notes=?,
		  final_notes=?, active=?, updated_at=?
		WHERE id=? AND status=?`,
		v.VisitorID, v.CenterID, nullUint(v.AreaID), v.ActivityTypeID, v.ActivityDescription,
		nullInt(v.EstimatedMinutes), string(v.Status), v.ScheduledAt.UTC(), nullTime(v.CheckedInAt), nullTime(v.CheckedOutAt),
		v.AuthorizedBy, v.AuthorizationReason, v.EquipmentIn, v.EquipmentOut, v.Notes,
		v.FinalNotes, boolInt(v.Active), v.UpdatedAt.UTC(),
		v.ID, string(expected))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteTx removes a visit whose status still equals expected.
func (r *VisitRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64, expected model.VisitStatus) (bool, error) {
	if _, err := tx.ExecContext(ctx, "DELETE FROM visit_areas WHERE visit_id=?", id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM visits WHERE id=? AND status=?", id, string(expected))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// VisitFilter narrows List. Zero values mean "any". From/To bound
// scheduled_at (From inclusive, To exclusive).
type VisitFilter struct {
	Status    model.VisitStatus
	VisitorID uint64
	CenterID  uint64
	From      *time.Time
	To        *time.Time
	Page      int
	Size      int
}

func (f VisitFilter) where() (string, []any) {
	conds := []string{"v.active=1"}
	var args []any
	if f.Status != "" {
		conds = append(conds, "v.status=?")
		args = append(args, string(f.Status))
	}
	if f.VisitorID != 0 {
		conds = append(conds, "v.visitor_id=?")
		args = append(args, f.VisitorID)
	}
	if f.CenterID != 0 {
		conds = append(conds, "v.center_id=?")
		args = append(args, f.CenterID)
	}
	if f.From != nil {
		conds = append(conds, "v.scheduled_at>=?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		conds = append(conds, "v.scheduled_at<?")
		args = append(args, f.To.UTC())
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of active visits, most recently scheduled first,
// together with the total number of matches.
func (r *VisitRepo) List(ctx context.Context, f VisitFilter) ([]model.Visit, int, error) {
	where, args := f.where()

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits v"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(f.Page, f.Size)
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+visitColumns+" FROM visits v"+where+" ORDER BY v.scheduled_at DESC, v.id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// CountByStatus groups active visits scheduled in [from, to) by status.
func (r *VisitRepo) CountByStatus(ctx context.Context, from, to *time.Time) (map[model.VisitStatus]int, error) {
	where, args := VisitFilter{From: from, To: to}.where()
	rows, err := r.DB.QueryContext(ctx, "SELECT v.status, COUNT(*) FROM visits v"+where+" GROUP BY v.status", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.VisitStatus]int{}
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[model.VisitStatus(s)] = n
	}
	return out, rows.Err()
}

// CountByActivity groups active visits scheduled in [from, to) by activity type.
func (r *VisitRepo) CountByActivity(ctx context.Context, from, to *time.Time) ([]model.NamedCount, error) {
	where, args := VisitFilter{From: from, To: to}.where()
	rows, err := r.DB.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(*)
		FROM visits v JOIN activity_types t ON t.id = v.activity_type_id`+where+`
		GROUP BY t.id, t.name ORDER BY COUNT(*) DESC, t.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.NamedCount{}
	for rows.Next() {
		var c model.NamedCount
		if err := rows.Scan(&c.ID, &c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompletedDurations returns checked_out_at - checked_in_at for completed
// active visits scheduled in [from, to).
func (r *VisitRepo) CompletedDurations(ctx context.Context, from, to *time.Time) ([]time.Duration, error) {
	where, args := VisitFilter{Status: model.StatusCompleted, From: from, To: to}.where()
	rows, err := r.DB.QueryContext(ctx, "SELECT v.checked_in_at, v.checked_out_at FROM visits v"+where+
		" AND v.checked_in_at IS NOT NULL AND v.checked_out_at IS NOT NULL", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Duration
	for rows.Next() {
		var in, outAt time.Time
		if err := rows.Scan(&in, &outAt); err != nil {
			return nil, err
		}
		out = append(out, outAt.Sub(in))
	}
	return out, rows.Err()
}

// NormalizePage applies the listing defaults (page 1, size 20) and the
// ceiling of 100 rows per page.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// pageBounds turns 1-based page/size into LIMIT/OFFSET.
func pageBounds(page, size int) (limit, offset int) {
	page, size = NormalizePage(page, size)
	return size, (page - 1) * size
}
