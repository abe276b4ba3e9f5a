package auth

import "time"

// User carries the account fields authentication needs.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsSuperAdmin bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
