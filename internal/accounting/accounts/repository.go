package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type Repository interface {
	List(ctx context.Context, orgID uuid.UUID) ([]Account, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (Account, error)
	Insert(ctx context.Context, account Account) error
	Update(ctx context.Context, account Account) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, organization_id, code, name, type, parent_id, is_postable, status, created_at, updated_at`

func (r *repository) List(ctx context.Context, orgID uuid.UUID) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE organization_id=$1 ORDER BY code`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) Get(ctx context.Context, orgID, id uuid.UUID) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE organization_id=$1 AND id=$2`, orgID, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrAccountNotFound
	}
	return a, err
}

func (r *repository) Insert(ctx context.Context, a Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (id, organization_id, code, name, type, parent_id, is_postable, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`, a.ID, a.OrganizationID, a.Code, a.Name, a.Type, a.ParentID, a.IsPostable, a.Status, a.CreatedAt)
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == "uq_accounts_org_code" {
		return shared.ErrAccountCodeTaken
	}
	return err
}

func (r *repository) Update(ctx context.Context, a Account) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET name=$3, parent_id=$4, is_postable=$5, status=$6, updated_at=$7
WHERE organization_id=$1 AND id=$2`, a.OrganizationID, a.ID, a.Name, a.ParentID, a.IsPostable, a.Status, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsPostable, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
