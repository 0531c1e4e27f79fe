package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// errIdempotencyRace reports that a concurrent create won the idempotency key.
var errIdempotencyRace = errors.New("accounting: idempotency key claimed concurrently")

// Repository encapsulates DB operations for journals.
type Repository interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error)
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. Period and
// account reads live here so checks and writes share one snapshot.
type TxRepository interface {
	FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (JournalEntry, bool, error)
	GetPeriodForShare(ctx context.Context, orgID, periodID uuid.UUID) (periods.Period, error)
	GetAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, lines []JournalLine) error
	GetEntryForUpdate(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error)
	GetLines(ctx context.Context, entryID uuid.UUID) ([]JournalLine, error)
	MergeBalance(ctx context.Context, orgID, periodID uuid.UUID, delta BalanceDelta) error
	UpdateStatus(ctx context.Context, entry JournalEntry) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, organization_id, number, type, period_id, entry_date, memo, status, idempotency_key,
reversal_of_id, reversed_by_id, void_reason, created_by, posted_by, posted_at, voided_by, voided_at, created_at, updated_at`

func (r *repository) Get(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE organization_id=$1 AND id=$2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = selectLines(ctx, r.db, entry.ID)
	return entry, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	where := []string{"organization_id=$1"}
	args := []any{filter.OrganizationID}
	if filter.PeriodID != nil {
		args = append(args, *filter.PeriodID)
		where = append(where, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM journal_entries WHERE %s ORDER BY number DESC LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// WithTx runs at ReadCommitted: a poster blocked on FOR UPDATE must observe
// the status written by the transaction it waited for.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithPostingTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (JournalEntry, bool, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE organization_id=$1 AND idempotency_key=$2`, orgID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, false, nil
	}
	if err != nil {
		return JournalEntry{}, false, err
	}
	return entry, true, nil
}

// GetPeriodForShare blocks a concurrent close until this posting commits.
func (r *txRepository) GetPeriodForShare(ctx context.Context, orgID, periodID uuid.UUID) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, organization_id, code, start_date, end_date, status, created_at, updated_at
FROM periods WHERE organization_id=$1 AND id=$2 FOR SHARE`, orgID, periodID).
		Scan(&p.ID, &p.OrganizationID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return p, err
}

func (r *txRepository) GetAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, organization_id, code, name, type, is_postable, status
FROM accounts WHERE organization_id=$1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]accounts.Account, len(ids))
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.Type, &a.IsPostable, &a.Status); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (id, organization_id, type, period_id, entry_date, memo, status, idempotency_key,
reversal_of_id, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11) RETURNING number`,
		e.ID, e.OrganizationID, e.Type, e.PeriodID, e.EntryDate, e.Memo, e.Status, e.IdempotencyKey,
		e.ReversalOfID, e.CreatedBy, e.CreatedAt).Scan(&e.Number)
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == "uq_journal_entries_idempotency" {
		return JournalEntry{}, errIdempotencyRace
	}
	if err != nil {
		return JournalEntry{}, err
	}
	e.UpdatedAt = e.CreatedAt
	return e, nil
}

func (r *txRepository) InsertLines(ctx context.Context, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO journal_lines (id, journal_entry_id, line_no, account_id, description, debit, credit)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, l.ID, l.JournalID, l.LineNo, l.AccountID, l.Description, l.Debit, l.Credit)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE organization_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return entry, err
}

func (r *txRepository) GetLines(ctx context.Context, entryID uuid.UUID) ([]JournalLine, error) {
	return selectLines(ctx, r.tx, entryID)
}

// MergeBalance adds to the running totals; existing totals are never overwritten.
func (r *txRepository) MergeBalance(ctx context.Context, orgID, periodID uuid.UUID, d BalanceDelta) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_balances (organization_id, period_id, account_id, debit_total, credit_total, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (organization_id, period_id, account_id)
DO UPDATE SET debit_total = ledger_balances.debit_total + EXCLUDED.debit_total,
              credit_total = ledger_balances.credit_total + EXCLUDED.credit_total,
              updated_at = NOW()`, orgID, periodID, d.AccountID, d.Debit, d.Credit)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, e JournalEntry) error {
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status=$3, posted_by=$4, posted_at=$5, voided_by=$6, voided_at=$7, void_reason=$8, reversed_by_id=$9, updated_at=$10
WHERE organization_id=$1 AND id=$2`,
		e.OrganizationID, e.ID, e.Status, e.PostedBy, e.PostedAt, e.VoidedBy, e.VoidedAt, e.VoidReason, e.ReversedByID, e.UpdatedAt)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func selectLines(ctx context.Context, q queryer, entryID uuid.UUID) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, journal_entry_id, line_no, account_id, description, debit, credit
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY line_no`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.JournalID, &l.LineNo, &l.AccountID, &l.Description, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.OrganizationID, &e.Number, &e.Type, &e.PeriodID, &e.EntryDate, &e.Memo, &e.Status, &e.IdempotencyKey,
		&e.ReversalOfID, &e.ReversedByID, &e.VoidReason, &e.CreatedBy, &e.PostedBy, &e.PostedAt, &e.VoidedBy, &e.VoidedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
