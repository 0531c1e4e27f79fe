package periods

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type Repository interface {
	List(ctx context.Context, orgID uuid.UUID) ([]Period, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	FindOpenPeriodForDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error)
	ListOpenEndingOn(ctx context.Context, orgID uuid.UUID, date time.Time) ([]Period, error)
	Insert(ctx context.Context, period Period) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the queries the close guards run under the period lock.
type TxRepository interface {
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	GetPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	CountDraftJournals(ctx context.Context, orgID, periodID uuid.UUID) (int, error)
	ListMissingRequiredAccruals(ctx context.Context, orgID, periodID uuid.UUID) ([]MissingAccrual, error)
	CountFailedAccrualRuns(ctx context.Context, orgID, periodID uuid.UUID) (int, error)
	UpdateStatus(ctx context.Context, period Period) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, organization_id, code, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func (r *repository) List(ctx context.Context, orgID uuid.UUID) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE organization_id=$1 ORDER BY start_date`, orgID)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (r *repository) Get(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return getPeriod(ctx, r.db, orgID, id, false)
}

func (r *repository) FindOpenPeriodForDate(ctx context.Context, orgID uuid.UUID, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE organization_id=$1 AND status='open' AND start_date <= $2 AND end_date >= $2
ORDER BY start_date LIMIT 1`, orgID, date)
	p, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNoOpenPeriod
	}
	return p, err
}

func (r *repository) ListOpenEndingOn(ctx context.Context, orgID uuid.UUID, date time.Time) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM periods
WHERE organization_id=$1 AND status='open' AND end_date=$2 ORDER BY start_date`, orgID, date)
	if err != nil {
		return nil, err
	}
	return collectPeriods(rows)
}

func (r *repository) Insert(ctx context.Context, p Period) error {
	_, err := r.db.Exec(ctx, `INSERT INTO periods (id, organization_id, code, start_date, end_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`, p.ID, p.OrganizationID, p.Code, p.StartDate, p.EndDate, p.Status, p.CreatedAt)
	if _, ok := db.ConstraintViolation(err, db.CodeExclusionViolation); ok {
		return shared.ErrPeriodOverlap
	}
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == "uq_periods_org_code" {
		return shared.ErrPeriodCodeTaken
	}
	return err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithPostingTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return getPeriod(ctx, r.tx, orgID, id, false)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return getPeriod(ctx, r.tx, orgID, id, true)
}

func (r *txRepository) CountDraftJournals(ctx context.Context, orgID, periodID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE organization_id=$1 AND period_id=$2 AND status='draft'`, orgID, periodID).Scan(&n)
	return n, err
}

func (r *txRepository) ListMissingRequiredAccruals(ctx context.Context, orgID, periodID uuid.UUID) ([]MissingAccrual, error) {
	rows, err := r.tx.Query(ctx, `SELECT r.id, r.code, r.name
FROM accrual_rules r
WHERE r.organization_id=$1
  AND r.status='active'
  AND r.is_required
  AND r.frequency='PERIOD_END'
  AND NOT EXISTS (
    SELECT 1 FROM accrual_runs ar
    WHERE ar.organization_id=r.organization_id
      AND ar.rule_id=r.id
      AND ar.period_id=$2
      AND ar.status IN ('posted','reversed')
  )
ORDER BY r.code`, orgID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MissingAccrual
	for rows.Next() {
		var m MissingAccrual
		if err := rows.Scan(&m.RuleID, &m.Code, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepository) CountFailedAccrualRuns(ctx context.Context, orgID, periodID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accrual_runs WHERE organization_id=$1 AND period_id=$2 AND status='failed'`, orgID, periodID).Scan(&n)
	return n, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, p Period) error {
	_, err := r.tx.Exec(ctx, `UPDATE periods SET status=$3, closed_at=$4, closed_by=$5, updated_at=$6 WHERE organization_id=$1 AND id=$2`,
		p.OrganizationID, p.ID, p.Status, p.ClosedAt, p.ClosedBy, p.UpdatedAt)
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPeriod(ctx context.Context, q querier, orgID, id uuid.UUID, forUpdate bool) (Period, error) {
	query := `SELECT ` + periodColumns + ` FROM periods WHERE organization_id=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPeriod(q.QueryRow(ctx, query, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrPeriodNotFound
	}
	return p, err
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
