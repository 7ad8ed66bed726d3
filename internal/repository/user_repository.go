package repository

import (
	"context"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/database"
)

// UserRepository reads the platform user directory. Account management lives
// in the identity service; this service only needs role lookups.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByRole returns all active users holding the given role, in directory
// order. Department filtering happens in the resolution logic, not here.
func (r *UserRepository) GetByRole(ctx context.Context, role ApproverRole) ([]*User, error) {
	query := `
		SELECT id, name, role, department, is_active
		FROM users
		WHERE role = $1::approver_role AND is_active
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get users by role")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Department, &u.IsActive); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, nil
}
