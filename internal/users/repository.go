package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// ErrUserExists is returned when an insert collides with an existing email.
var ErrUserExists = errors.New("users: email already exists in organization")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, organization_id, email, name, password_hash, status, is_system, created_at, updated_at`

// FindSystemUser returns the org's system user, matching either the system
// flag or the reserved email. found is false when neither exists.
func (r *Repository) FindSystemUser(ctx context.Context, orgID uuid.UUID, email string) (User, bool, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users
WHERE organization_id=$1 AND (is_system OR lower(email)=lower($2))
ORDER BY is_system DESC, created_at ASC
LIMIT 1`, orgID, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// PromoteSystemUser marks an existing user as the active system user.
func (r *Repository) PromoteSystemUser(ctx context.Context, orgID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET status='active', is_system=TRUE, updated_at=NOW()
WHERE id=$1 AND organization_id=$2`, userID, orgID)
	return err
}

// InsertUser stores a user. A duplicate email maps to ErrUserExists.
func (r *Repository) InsertUser(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (id, organization_id, email, name, password_hash, status, is_system, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		user.ID, user.OrganizationID, user.Email, user.Name, user.PasswordHash, user.Status, user.IsSystem, user.CreatedAt)
	if _, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok {
		return ErrUserExists
	}
	return err
}

// ListOrganizations returns every tenant ordered by creation.
func (r *Repository) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM organizations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Organization])
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.PasswordHash, &u.Status, &u.IsSystem, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
