package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger balances and posted lines.
type Repository interface {
	AccountBalances(ctx context.Context, orgID, periodID uuid.UUID) ([]AccountBalance, error)
	GLBalances(ctx context.Context, orgID, periodID uuid.UUID) ([]GLBalance, error)
	AccountActivity(ctx context.Context, filter ActivityFilter) ([]ActivityLine, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) AccountBalances(ctx context.Context, orgID, periodID uuid.UUID) ([]AccountBalance, error) {
	rows, err := r.db.Query(ctx, `
SELECT a.id, a.code, a.name, a.type,
       COALESCE(b.debit_total, 0), COALESCE(b.credit_total, 0)
FROM accounts a
LEFT JOIN ledger_balances b
  ON b.organization_id = a.organization_id
 AND b.account_id = a.id
 AND b.period_id = $2
WHERE a.organization_id = $1
ORDER BY a.code`, orgID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Code, &b.Name, &b.Type, &b.DebitTotal, &b.CreditTotal); err != nil {
			return nil, err
		}
		b.NormalBalance = b.Type.NormalBalance()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) GLBalances(ctx context.Context, orgID, periodID uuid.UUID) ([]GLBalance, error) {
	rows, err := r.db.Query(ctx, `
SELECT a.id, a.code, a.name, b.debit_total, b.credit_total
FROM ledger_balances b
JOIN accounts a ON a.id = b.account_id AND a.organization_id = b.organization_id
WHERE b.organization_id = $1 AND b.period_id = $2
ORDER BY a.code`, orgID, periodID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (GLBalance, error) {
		var b GLBalance
		err := row.Scan(&b.AccountID, &b.Code, &b.Name, &b.DebitTotal, &b.CreditTotal)
		return b, err
	})
}

func (r *repository) AccountActivity(ctx context.Context, filter ActivityFilter) ([]ActivityLine, error) {
	rows, err := r.db.Query(ctx, `
SELECT je.id, je.number, je.entry_date, je.status, jl.line_no, jl.description, jl.debit, jl.credit
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.journal_entry_id
WHERE je.organization_id = $1
  AND jl.account_id = $2
  AND je.entry_date BETWEEN $3 AND $4
  AND je.status IN ('posted', 'voided')
ORDER BY je.entry_date, je.number, jl.line_no`, filter.OrganizationID, filter.AccountID, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ActivityLine, error) {
		var l ActivityLine
		err := row.Scan(&l.JournalID, &l.Number, &l.EntryDate, &l.Status, &l.LineNo, &l.Description, &l.Debit, &l.Credit)
		return l, err
	})
}
