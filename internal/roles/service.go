package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// maxChainDepth caps parent-chain walks so a corrupted tree cannot spin.
const maxChainDepth = 32

var (
	// ErrParentNotFound indicates the referenced parent role does not exist.
	ErrParentNotFound = errors.New("roles: parent role not found")
	// ErrCircularChain indicates the parent chain revisits a role.
	ErrCircularChain = errors.New("roles: circular parent chain")
	// ErrPriorityInversion indicates a parent with priority <= the child's.
	ErrPriorityInversion = errors.New("roles: parent priority must exceed child priority")
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, role Role) (*Role, error)
	UpdateRole(ctx context.Context, role Role) (*Role, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRoleByName fetches a role by its legacy name key.
func (s *Service) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// CreateRole validates the parent chain and inserts a new role.
func (s *Service) CreateRole(ctx context.Context, role Role) (*Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, errors.New("roles: role name required")
	}
	if role.Slug == "" {
		role.Slug = Slugify(role.Name)
	}
	if err := s.checkParentChain(ctx, role.ID, role.ParentRoleID, role.Priority); err != nil {
		return nil, err
	}
	return s.repo.CreateRole(ctx, role)
}

// UpdateRole validates the parent chain and updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, role Role) (*Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return nil, errors.New("roles: role name required")
	}
	if err := s.checkParentChain(ctx, role.ID, role.ParentRoleID, role.Priority); err != nil {
		return nil, err
	}
	return s.repo.UpdateRole(ctx, role)
}

// DeleteRole removes a role by ID.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.DeleteRole(ctx, id)
}

// checkParentChain rejects writes that would produce a missing parent, a
// priority inversion, or a cycle anywhere up the chain from parentID.
func (s *Service) checkParentChain(ctx context.Context, roleID int64, parentID *int64, priority int) error {
	if parentID == nil {
		return nil
	}
	visited := map[int64]struct{}{}
	if roleID != 0 {
		visited[roleID] = struct{}{}
	}
	currentID := *parentID
	for depth := 0; depth < maxChainDepth; depth++ {
		if _, seen := visited[currentID]; seen {
			return ErrCircularChain
		}
		visited[currentID] = struct{}{}
		parent, err := s.repo.GetRole(ctx, currentID)
		if err != nil {
			return fmt.Errorf("%w: id %d", ErrParentNotFound, currentID)
		}
		if depth == 0 && parent.Priority <= priority {
			return ErrPriorityInversion
		}
		if parent.ParentRoleID == nil {
			return nil
		}
		currentID = *parent.ParentRoleID
	}
	return ErrCircularChain
}

// Slugify lowercases a name and replaces runs of non-alphanumerics with dashes.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
