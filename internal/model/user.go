package model

import (
	"strings"
	"time"
)

// User represents an application user record as stored in the `users`
// table. Accounts are deactivated (IsActive=false) instead of deleted so
// control log rows keep pointing at a resolvable actor.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique login name.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	RoleID       – foreign key into the roles table.
//	IsActive     – whether the account may log in.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	FirstName    string    // users.first_name
	LastName     string    // users.last_name
	PasswordHash string    // users.password_hash
	RoleID       uint8     // users.role_id (references roles.id)
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// FullName joins first and last name, tolerating an empty last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Role represents a row in the `roles` table. Lower ids carry more
// privilege; id 4 (Auditor) is a read-only branch outside that order.
type Role struct {
	ID   uint8  // roles.id
	Name string // roles.name
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
