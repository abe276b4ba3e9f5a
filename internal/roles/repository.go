package roles

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/platform/db"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

const roleColumns = `id, name, slug, parent_role_id, priority, module_access, data_visibility_scope, concurrent_session_limit, assignable_role_ids, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by priority descending.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// GetRoleByName fetches a role by its legacy name key.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (*Role, error) {
	scopeJSON, err := json.Marshal(role.DataVisibilityScope)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, slug, parent_role_id, priority, module_access, data_visibility_scope, concurrent_session_limit, assignable_role_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+roleColumns,
		role.Name, role.Slug, toPgInt8(role.ParentRoleID), role.Priority, role.ModuleAccess, scopeJSON, toPgInt4(role.ConcurrentSessionLimit), role.AssignableRoleIDs,
	)
	created, err := scanRole(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicateSlug
		}
		return nil, err
	}
	return &created, nil
}

// UpdateRole updates an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (*Role, error) {
	scopeJSON, err := json.Marshal(role.DataVisibilityScope)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE roles
		 SET name = $2, slug = $3, parent_role_id = $4, priority = $5, module_access = $6, data_visibility_scope = $7, concurrent_session_limit = $8, assignable_role_ids = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Slug, toPgInt8(role.ParentRoleID), role.Priority, role.ModuleAccess, scopeJSON, toPgInt4(role.ConcurrentSessionLimit), role.AssignableRoleIDs,
	)
	updated, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrDuplicateSlug
		}
		return nil, err
	}
	return &updated, nil
}

// DeleteRole removes a role by ID together with its permission mappings and
// unassigns any users still pointing at it. Returns shared.ErrNotFound if the
// role does not exist.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permission_mappings WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET role_id = NULL, updated_at = now() WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role      Role
		parent    pgtype.Int8
		limit     pgtype.Int4
		scopeJSON []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Slug, &parent, &role.Priority, &role.ModuleAccess, &scopeJSON, &limit, &role.AssignableRoleIDs, &createdAt, &updatedAt); err != nil {
		return Role{}, err
	}
	if parent.Valid {
		v := parent.Int64
		role.ParentRoleID = &v
	}
	if limit.Valid {
		v := int(limit.Int32)
		role.ConcurrentSessionLimit = &v
	}
	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, &role.DataVisibilityScope); err != nil {
			return Role{}, err
		}
	}
	role.CreatedAt = createdAt.Time
	role.UpdatedAt = updatedAt.Time
	return role, nil
}

func toPgInt8(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func toPgInt4(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}
