package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrUserExists = errors.New("username or email already exists")

// NewUser is the input of Create.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
	RoleID    uint8
}

const userColumns = "id,username,email,first_name,last_name,password_hash,role_id,is_active,created_at,updated_at"

// Create hashes the password, inserts the user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, u NewUser, cost int) (uint64, error) {
	username := strings.ToLower(strings.TrimSpace(u.Username))
	email := strings.ToLower(strings.TrimSpace(u.Email))
	hash, err := utils.HashPassword(u.Password, cost)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, password_hash, role_id, is_active, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,1,?,?)`,
		username, email, u.FirstName, u.LastName, hash, u.RoleID, now, now)
	if err != nil {
		if IsDuplicateKey(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Count returns the number of user rows; main uses it to decide whether to
// create the bootstrap administrator.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// GetByLogin fetches a user by username or email (case-insensitive).
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (model.User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? OR email=? LIMIT 1", login, login))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.GetByIDTx(ctx, r.DB, id)
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *UserRepo) GetByIDTx(ctx context.Context, q Querier, id uint64) (model.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// Deactivate disables an account. Users are never hard-deleted so control
// log entries keep a resolvable actor.
func (r *UserRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=0, updated_at=? WHERE id=?", time.Now().UTC().Truncate(time.Second), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.RoleID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	return u, nil
}
