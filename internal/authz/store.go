package authz

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Store is the PostgreSQL read model for the pipeline: principals, roles,
// the permission catalog and both permission mapping tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetPrincipal loads the acting user's authorization attributes.
func (s *Store) GetPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	var (
		p      Principal
		roleID pgtype.Int8
		legacy pgtype.Text
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, role_id, role, is_super_admin FROM users WHERE id = $1 AND is_active`, userID,
	).Scan(&p.UserID, &roleID, &legacy, &p.SuperAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if roleID.Valid {
		v := roleID.Int64
		p.RoleID = &v
	}
	p.LegacyRole = legacy.String
	return &p, nil
}

// GetRole loads a role row as the pipeline's read view.
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	var (
		role   Role
		parent pgtype.Int8
		limit  pgtype.Int4
		scope  pgtype.Text
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, parent_role_id, priority, module_access, data_visibility_scope::text, concurrent_session_limit, assignable_role_ids
		 FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.Slug, &parent, &role.Priority, &role.ModuleAccess, &scope, &limit, &role.AssignableRoleIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if parent.Valid {
		v := parent.Int64
		role.ParentRoleID = &v
	}
	if limit.Valid {
		v := int(limit.Int32)
		role.ConcurrentSessionLimit = &v
	}
	if scope.Valid && scope.String != "" {
		role.DataVisibilityScope = parseScope(scope.String)
	}
	return &role, nil
}

// ListPermissions returns the full catalog ordered by module and name.
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, module, risk_level FROM permissions ORDER BY module, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Module, &p.RiskLevel); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// SetOverride upserts a per-user override for the named permission.
func (s *Store) SetOverride(ctx context.Context, userID int64, permission string, allowed bool) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO user_permission_overrides (user_id, permission_id, allowed)
		 SELECT $1, p.id, $3 FROM permissions p WHERE p.name = $2
		 ON CONFLICT (user_id, permission_id) DO UPDATE SET allowed = EXCLUDED.allowed`,
		userID, permission, allowed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteOverride removes a per-user override for the named permission.
func (s *Store) DeleteOverride(ctx context.Context, userID int64, permission string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_permission_overrides o
		 USING permissions p
		 WHERE o.permission_id = p.id AND o.user_id = $1 AND p.name = $2`,
		userID, permission)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AllPermissionNames lists the full permission catalog.
func (s *Store) AllPermissionNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Overrides lists per-user permission overrides.
func (s *Store) Overrides(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.name, o.allowed
		 FROM user_permission_overrides o
		 JOIN permissions p ON p.id = o.permission_id
		 WHERE o.user_id = $1
		 ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Permission, &o.Allowed); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// NormalizedSource resolves permissions through the normalized
// role_permission_mappings table keyed by role id.
type NormalizedSource struct {
	pool *pgxpool.Pool
}

// NewNormalizedSource constructs the normalized mapping source.
func NewNormalizedSource(pool *pgxpool.Pool) *NormalizedSource {
	return &NormalizedSource{pool: pool}
}

// Resolve returns permission names granted to the principal's role id.
func (s *NormalizedSource) Resolve(ctx context.Context, p *Principal) (map[string]struct{}, error) {
	if p.RoleID == nil {
		return map[string]struct{}{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.name
		 FROM role_permission_mappings m
		 JOIN permissions p ON p.id = m.permission_id
		 WHERE m.role_id = $1`, *p.RoleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNames(rows)
}

// LegacySource resolves permissions through the deprecated
// legacy_role_permissions table keyed by role name string. Kept for
// backward compatibility; the resolver unions it with the normalized source
// so either table can grant.
type LegacySource struct {
	pool *pgxpool.Pool
}

// NewLegacySource constructs the legacy mapping source.
func NewLegacySource(pool *pgxpool.Pool) *LegacySource {
	return &LegacySource{pool: pool}
}

// Resolve returns permission names granted to the principal's legacy role name.
func (s *LegacySource) Resolve(ctx context.Context, p *Principal) (map[string]struct{}, error) {
	if p.LegacyRole == "" {
		return map[string]struct{}{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT permission_name FROM legacy_role_permissions WHERE role_name = $1`, p.LegacyRole)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNames(rows)
}

func collectNames(rows pgx.Rows) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = struct{}{}
	}
	return set, rows.Err()
}

// parseScope decodes the jsonb scope column into a flat string map;
// malformed values degrade to nil rather than failing the request.
func parseScope(raw string) map[string]string {
	scope := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &scope); err != nil {
		return nil
	}
	return scope
}
