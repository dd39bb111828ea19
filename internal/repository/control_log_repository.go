package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
)

// ControlLogRepo appends to and reads the control_log table. It has no
// update or delete methods: the log is append-only.
type ControlLogRepo struct{ DB *sql.DB }

func NewControlLogRepo(db *sql.DB) *ControlLogRepo { return &ControlLogRepo{DB: db} }

// Create appends e and sets e.ID.
func (r *ControlLogRepo) Create(ctx context.Context, e *model.ControlLogEntry) error {
	return r.CreateTx(ctx, r.DB, e)
}

// CreateTx appends e through q, which may be the business transaction.
func (r *ControlLogRepo) CreateTx(ctx context.Context, q Querier, e *model.ControlLogEntry) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO control_log (action, log_date, log_time, actor_id, affected_table, affected_record_id,
		  details, source_ip, user_agent, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.Action, e.Date, e.Time, e.ActorID, e.AffectedTable, nullUint(e.AffectedRecordID),
		e.Details, e.SourceIP, e.UserAgent, e.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// LogFilter narrows List. Dates are YYYY-MM-DD strings compared against
// log_date (both bounds inclusive); Action matches as a substring.
type LogFilter struct {
	ActorID  uint64
	DateFrom string
	DateTo   string
	Action   string
	Table    string
	RecordID uint64
	Page     int
	Size     int
}

func (f LogFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ActorID != 0 {
		conds = append(conds, "l.actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.DateFrom != "" {
		conds = append(conds, "l.log_date>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conds = append(conds, "l.log_date<=?")
		args = append(args, f.DateTo)
	}
	if f.Action != "" {
		conds = append(conds, "LOWER(l.action) LIKE ?")
		args = append(args, "%"+escapeLike(strings.ToLower(f.Action))+"%")
	}
	if f.Table != "" {
		conds = append(conds, "l.affected_table=?")
		args = append(args, f.Table)
	}
	if f.RecordID != 0 {
		conds = append(conds, "l.affected_record_id=?")
		args = append(args, f.RecordID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike drops LIKE wildcards from user input; the two dialects do not
// share a default escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}

// List returns one page of entries, newest first, with the actor's display
// name joined in (empty when the user row is gone), plus the total count.
func (r *ControlLogRepo) List(ctx context.Context, f LogFilter) ([]model.ControlLogEntry, int, error) {
	where, args := f.where()

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM control_log l"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(f.Page, f.Size)
	rows, err := r.DB.QueryContext(ctx, `
		SELECT l.id, l.action, l.log_date, l.log_time, l.actor_id,
		  COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
		  l.affected_table, l.affected_record_id, l.details, l.source_ip, l.user_agent, l.created_at
		FROM control_log l LEFT JOIN users u ON u.id = l.actor_id`+where+`
		ORDER BY l.log_date DESC, l.log_time DESC, l.id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.ControlLogEntry{}
	for rows.Next() {
		var (
			e        model.ControlLogEntry
			first    string
			last     string
			recordID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Date, &e.Time, &e.ActorID, &first, &last,
			&e.AffectedTable, &recordID, &e.Details, &e.SourceIP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ActorName = strings.TrimSpace(first + " " + last)
		if recordID.Valid {
			id := uint64(recordID.Int64)
			e.AffectedRecordID = &id
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Stats totals the entries in [DateFrom, DateTo] by actor, action and table.
// Only the date bounds of f are used.
func (r *ControlLogRepo) Stats(ctx context.Context, f LogFilter) (model.ControlLogStats, error) {
	where, args := LogFilter{DateFrom: f.DateFrom, DateTo: f.DateTo}.where()
	var st model.ControlLogStats

	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM control_log l"+where, args...).Scan(&st.Total); err != nil {
		return st, err
	}

	var err error
	st.ByActor, err = r.namedCounts(ctx, `
		SELECT l.actor_id, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COUNT(*)
		FROM control_log l LEFT JOIN users u ON u.id = l.actor_id`+where+`
		GROUP BY l.actor_id, u.first_name, u.last_name ORDER BY COUNT(*) DESC, l.actor_id`, true, args...)
	if err != nil {
		return st, err
	}
	st.ByAction, err = r.namedCounts(ctx, `
		SELECT 0, l.action, '', COUNT(*) FROM control_log l`+where+`
		GROUP BY l.action ORDER BY COUNT(*) DESC, l.action`, false, args...)
	if err != nil {
		return st, err
	}

	tableWhere := where
	if tableWhere == "" {
		tableWhere = " WHERE l.affected_table<>''"
	} else {
		tableWhere += " AND l.affected_table<>''"
	}
	st.ByTable, err = r.namedCounts(ctx, `
		SELECT 0, l.affected_table, '', COUNT(*) FROM control_log l`+tableWhere+`
		GROUP BY l.affected_table ORDER BY COUNT(*) DESC, l.affected_table`, false, args...)
	return st, err
}

func (r *ControlLogRepo) namedCounts(ctx context.Context, query string, withID bool, args ...any) ([]model.NamedCount, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.NamedCount{}
	for rows.Next() {
		var (
			c     model.NamedCount
			first string
			last  string
		)
		if err := rows.Scan(&c.ID, &first, &last, &c.Count); err != nil {
			return nil, err
		}
		c.Name = strings.TrimSpace(first + " " + last)
		switch {
		case !withID:
			c.ID = 0
		case c.Name == "":
			c.Name = fmt.Sprintf("user #%d", c.ID)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
