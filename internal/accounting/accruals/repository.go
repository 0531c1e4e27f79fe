package accruals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
)

// Repository persists rules, runs and run postings.
type Repository interface {
	ListRules(ctx context.Context, orgID uuid.UUID) ([]Rule, error)
	ListActiveRules(ctx context.Context, orgID uuid.UUID, frequencies ...Frequency) ([]Rule, error)
	GetRule(ctx context.Context, orgID, id uuid.UUID) (Rule, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	GetRun(ctx context.Context, orgID, id uuid.UUID) (Run, error)
	ListReversalCandidates(ctx context.Context, orgID uuid.UUID, before time.Time) ([]ReversalCandidate, error)
	LinkPosting(ctx context.Context, runID, journalID uuid.UUID, at time.Time) error
	CompleteRun(ctx context.Context, orgID, runID uuid.UUID, status RunStatus, errText *string, at time.Time) error
	RecordReversal(ctx context.Context, orgID, runID, reversalID uuid.UUID, at time.Time) (bool, error)
	RecordReversalFailure(ctx context.Context, runID uuid.UUID, reason string, at time.Time) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error)
	InsertRule(ctx context.Context, rule Rule) error
	// LockRunKey takes a transaction-scoped advisory lock on key.
	LockRunKey(ctx context.Context, key string) error
	FindRun(ctx context.Context, orgID, ruleID, periodID uuid.UUID, asOf time.Time) (Run, bool, error)
	InsertRun(ctx context.Context, run Run) error
	RestartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const ruleColumns = `id, organization_id, code, name, rule_type, frequency, auto_reverse, reverse_timing,
start_date, end_date, status, is_required, created_by, created_at, updated_at`

func (r *repository) ListRules(ctx context.Context, orgID uuid.UUID) ([]Rule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM accrual_rules WHERE organization_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rule, error) { return scanRule(row) })
}

func (r *repository) ListActiveRules(ctx context.Context, orgID uuid.UUID, frequencies ...Frequency) ([]Rule, error) {
	freqs := make([]string, len(frequencies))
	for i, f := range frequencies {
		freqs[i] = string(f)
	}
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM accrual_rules
WHERE organization_id=$1 AND status='active' AND frequency = ANY($2)
ORDER BY created_at ASC`, orgID, freqs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rule, error) { return scanRule(row) })
}

func (r *repository) GetRule(ctx context.Context, orgID, id uuid.UUID) (Rule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM accrual_rules WHERE organization_id=$1 AND id=$2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, shared.ErrRuleNotFound
	}
	if err != nil {
		return Rule{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, rule_id, line_no, account_id, side, amount, description
FROM accrual_rule_lines WHERE rule_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Rule{}, err
	}
	rule.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RuleLine, error) {
		var l RuleLine
		err := row.Scan(&l.ID, &l.RuleID, &l.LineNo, &l.AccountID, &l.Side, &l.Amount, &l.Description)
		return l, err
	})
	return rule, err
}

const runSelect = `SELECT ar.id, ar.organization_id, ar.rule_id, ar.period_id, ar.as_of_date, ar.status, ar.error,
       ar.started_at, ar.completed_at, ar.created_by, ar.created_at,
       r.code, r.name, r.rule_type, r.frequency,
       ap.journal_entry_id, ap.reversal_journal_entry_id, ap.reversal_failure_reason, COALESCE(ap.reversal_failure_count, 0)
FROM accrual_runs ar
JOIN accrual_rules r ON r.id = ar.rule_id
LEFT JOIN accrual_run_postings ap ON ap.run_id = ar.id`

func (r *repository) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	where := []string{"ar.organization_id=$1"}
	args := []any{filter.OrganizationID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.RuleID != nil {
		add("ar.rule_id=$%d", *filter.RuleID)
	}
	if filter.PeriodID != nil {
		add("ar.period_id=$%d", *filter.PeriodID)
	}
	if filter.Status != "" {
		add("ar.status=$%d", filter.Status)
	}
	if filter.From != nil {
		add("ar.as_of_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ar.as_of_date <= $%d", *filter.To)
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`%s WHERE %s ORDER BY ar.as_of_date DESC, ar.created_at DESC LIMIT $%d OFFSET $%d`,
		runSelect, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) { return scanRun(row) })
}

func (r *repository) GetRun(ctx context.Context, orgID, id uuid.UUID) (Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, runSelect+` WHERE ar.organization_id=$1 AND ar.id=$2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, shared.ErrRunNotFound
	}
	return run, err
}

// ListReversalCandidates returns posted runs of auto-reversing rules with no
// reversal yet, limited to runs whose period starts before the given date.
func (r *repository) ListReversalCandidates(ctx context.Context, orgID uuid.UUID, before time.Time) ([]ReversalCandidate, error) {
	rows, err := r.db.Query(ctx, `
SELECT ar.id, ar.as_of_date, ar.period_id, r.code, ap.journal_entry_id
FROM accrual_runs ar
JOIN accrual_rules r ON r.id = ar.rule_id
JOIN accrual_run_postings ap ON ap.run_id = ar.id
JOIN periods p ON p.id = ar.period_id
WHERE ar.organization_id=$1
  AND ar.status='posted'
  AND r.rule_type='REVERSING'
  AND r.auto_reverse
  AND (r.reverse_timing IS NULL OR r.reverse_timing='NEXT_PERIOD_START')
  AND ap.reversal_journal_entry_id IS NULL
  AND p.start_date < $2
ORDER BY ar.as_of_date ASC`, orgID, before)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReversalCandidate, error) {
		var c ReversalCandidate
		err := row.Scan(&c.RunID, &c.AsOfDate, &c.PeriodID, &c.RuleCode, &c.JournalEntryID)
		return c, err
	})
}

func (r *repository) LinkPosting(ctx context.Context, runID, journalID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accrual_run_postings (id, run_id, journal_entry_id, posted_at)
VALUES ($1,$2,$3,$4) ON CONFLICT (run_id) DO NOTHING`, uuid.New(), runID, journalID, at)
	return err
}

func (r *repository) CompleteRun(ctx context.Context, orgID, runID uuid.UUID, status RunStatus, errText *string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE accrual_runs SET status=$3, error=$4, completed_at=$5 WHERE organization_id=$1 AND id=$2`,
		orgID, runID, status, errText, at)
	return err
}

// RecordReversal links the reversal once and flips the run to reversed. It
// reports false when another worker linked a reversal first.
func (r *repository) RecordReversal(ctx context.Context, orgID, runID, reversalID uuid.UUID, at time.Time) (bool, error) {
	var linked bool
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE accrual_run_postings
SET reversal_journal_entry_id=$2, reversed_at=$3, reversal_failed_at=NULL, reversal_failure_reason=NULL
WHERE run_id=$1 AND reversal_journal_entry_id IS NULL`, runID, reversalID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		linked = true
		_, err = tx.Exec(ctx, `UPDATE accrual_runs SET status='reversed', completed_at=$3
WHERE organization_id=$1 AND id=$2 AND status='posted'`, orgID, runID, at)
		return err
	})
	return linked, err
}

func (r *repository) RecordReversalFailure(ctx context.Context, runID uuid.UUID, reason string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE accrual_run_postings
SET reversal_failed_at=$2, reversal_failure_reason=$3, reversal_failure_count=reversal_failure_count+1
WHERE run_id=$1`, runID, at, reason)
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

func (r *txRepository) GetAccounts(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, organization_id, code, name, type, is_postable, status
FROM accounts WHERE organization_id=$1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (accounts.Account, error) {
		var a accounts.Account
		err := row.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.Type, &a.IsPostable, &a.Status)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]accounts.Account, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}

func (r *txRepository) InsertRule(ctx context.Context, rule Rule) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accrual_rules (`+ruleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rule.ID, rule.OrganizationID, rule.Code, rule.Name, rule.RuleType, rule.Frequency, rule.AutoReverse, rule.ReverseTiming,
		rule.StartDate, rule.EndDate, rule.Status, rule.IsRequired, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == "uq_accrual_rules_org_code" {
		return shared.ErrRuleCodeTaken
	}
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range rule.Lines {
		batch.Queue(`INSERT INTO accrual_rule_lines (id, rule_id, line_no, account_id, side, amount, description)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, l.ID, rule.ID, l.LineNo, l.AccountID, l.Side, l.Amount, l.Description)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

// lockRunKeySQL takes the run lock in the ClassAccrualRun advisory class.
const lockRunKeySQL = `SELECT pg_advisory_xact_lock($1::int, hashtext($2))`

func (r *txRepository) LockRunKey(ctx context.Context, key string) error {
	_, err := r.tx.Exec(ctx, lockRunKeySQL, lock.ClassAccrualRun, key)
	return err
}

func (r *txRepository) FindRun(ctx context.Context, orgID, ruleID, periodID uuid.UUID, asOf time.Time) (Run, bool, error) {
	var run Run
	err := r.tx.QueryRow(ctx, `SELECT id, organization_id, rule_id, period_id, as_of_date, status, error, started_at, completed_at, created_by, created_at
FROM accrual_runs WHERE organization_id=$1 AND rule_id=$2 AND period_id=$3 AND as_of_date=$4
ORDER BY created_at LIMIT 1`, orgID, ruleID, periodID, asOf).
		Scan(&run.ID, &run.OrganizationID, &run.RuleID, &run.PeriodID, &run.AsOfDate, &run.Status, &run.Error,
			&run.StartedAt, &run.CompletedAt, &run.CreatedBy, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (r *txRepository) InsertRun(ctx context.Context, run Run) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accrual_runs (id, organization_id, rule_id, period_id, as_of_date, status, started_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.OrganizationID, run.RuleID, run.PeriodID, run.AsOfDate, run.Status, run.StartedAt, run.CreatedBy, run.CreatedAt)
	return err
}

func (r *txRepository) RestartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE accrual_runs SET status='running', error=NULL, started_at=$2, completed_at=NULL WHERE id=$1`, runID, startedAt)
	return err
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	err := row.Scan(&rule.ID, &rule.OrganizationID, &rule.Code, &rule.Name, &rule.RuleType, &rule.Frequency, &rule.AutoReverse,
		&rule.ReverseTiming, &rule.StartDate, &rule.EndDate, &rule.Status, &rule.IsRequired, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	return rule, err
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.OrganizationID, &run.RuleID, &run.PeriodID, &run.AsOfDate, &run.Status, &run.Error,
		&run.StartedAt, &run.CompletedAt, &run.CreatedBy, &run.CreatedAt,
		&run.RuleCode, &run.RuleName, &run.RuleType, &run.Frequency,
		&run.JournalEntryID, &run.ReversalJournalEntryID, &run.ReversalFailureReason, &run.ReversalFailureCount)
	return run, err
}
