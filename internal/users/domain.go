package users

import "time"

// User is a staff account. RoleID points at the normalized roles table while
// Role keeps the legacy role name string still present on older rows.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	RoleID       *int64
	Role         string
	IsSuperAdmin bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
