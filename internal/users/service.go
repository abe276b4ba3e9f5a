package users

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-hms/meridian-hms/internal/roles"
)

// ErrRoleNotFound indicates the role targeted by an assignment is missing.
var ErrRoleNotFound = errors.New("users: role not found")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u User) (*User, error)
	AssignRole(ctx context.Context, userID, roleID int64, roleName string) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

// RolePort exposes the role lookups the service needs.
type RolePort interface {
	GetRole(ctx context.Context, id int64) (*roles.Role, error)
}

// Service handles user account business logic.
type Service struct {
	repo  RepositoryPort
	roles RolePort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roleSvc RolePort) *Service {
	return &Service{repo: repo, roles: roleSvc}
}

// ListUsers returns one page of users plus the total count.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	list, err := s.repo.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser hashes the password and inserts a new account. When a role id is
// given the legacy role name column is kept in sync with it.
func (s *Service) CreateUser(ctx context.Context, u User, password string) (*User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Email == "" || u.Name == "" {
		return nil, errors.New("users: email and name required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = string(hash)
	if u.RoleID != nil {
		role, err := s.roles.GetRole(ctx, *u.RoleID)
		if err != nil {
			return nil, ErrRoleNotFound
		}
		u.Role = role.Name
	}
	u.IsActive = true
	return s.repo.CreateUser(ctx, u)
}

// AssignRole points the user at a new role. Escalation checks run in the
// authorization middleware before this is reached.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return ErrRoleNotFound
	}
	return s.repo.AssignRole(ctx, userID, roleID, role.Name)
}

// SetActive toggles a user's account.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) error {
	return s.repo.SetActive(ctx, userID, active)
}
