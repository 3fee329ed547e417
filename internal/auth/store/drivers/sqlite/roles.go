package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
)

type rolesRepo struct {
	db  dbtx
	now func() time.Time
}

func (r *rolesRepo) CreateRole(ctx context.Context, name string) (domain.Role, error) {
	createdAt := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (name, created_at) VALUES (?, ?)`,
		name, toMillis(createdAt),
	)
	if err != nil {
		return domain.Role{}, mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Role{}, err
	}
	return domain.Role{ID: int(id), Name: name, CreatedAt: fromMillis(toMillis(createdAt))}, nil
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	var (
		role      domain.Role
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM roles WHERE name = ?`, name,
	).Scan(&role.ID, &role.Name, &createdAt)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.CreatedAt = fromMillis(createdAt)
	return role, nil
}

func (r *rolesRepo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []domain.Role{}
	for rows.Next() {
		var (
			role      domain.Role
			createdAt int64
		)
		if err := rows.Scan(&role.ID, &role.Name, &createdAt); err != nil {
			return nil, err
		}
		role.CreatedAt = fromMillis(createdAt)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
