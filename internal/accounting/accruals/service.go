package accruals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 200
)

// JournalPoster is the slice of the journal engine used to post accruals.
type JournalPoster interface {
	CreateDraftJournal(ctx context.Context, in journals.CreateDraftInput) (journals.CreateDraftResult, error)
	PostDraftJournal(ctx context.Context, orgID, journalID, actorID uuid.UUID) (journals.PostResult, error)
	ReversePostedJournal(ctx context.Context, in journals.ReverseInput) (journals.ReverseResult, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (journals.JournalEntry, error)
}

// PeriodLookup resolves target periods.
type PeriodLookup interface {
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (periods.Period, error)
	FindOpenPeriodForDate(ctx context.Context, orgID uuid.UUID, date time.Time) (periods.Period, error)
}

// RunRecorder observes run outcomes, typically as metrics.
type RunRecorder interface {
	RecordAccrualRun(outcome string)
	RecordAccrualReversal(outcome string)
}

type Service struct {
	repo     Repository
	journals JournalPoster
	periods  PeriodLookup
	recorder RunRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, journals JournalPoster, periods PeriodLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		journals: journals,
		periods:  periods,
		logger:   logger.With(slog.String("component", "accruals")),
		now:      time.Now,
	}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) WithRecorder(recorder RunRecorder) {
	s.recorder = recorder
}

// CreateRule validates a template and persists it with its lines atomically.
func (s *Service) CreateRule(ctx context.Context, in CreateRuleInput) (Rule, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return Rule{}, shared.Invalid("accruals: code and name required")
	}
	if !in.RuleType.Valid() {
		return Rule{}, shared.Invalid(fmt.Sprintf("accruals: unknown rule type %q", in.RuleType))
	}
	if !in.Frequency.Valid() {
		return Rule{}, shared.Invalid(fmt.Sprintf("accruals: unknown frequency %q", in.Frequency))
	}
	if in.Status == "" {
		in.Status = RuleStatusActive
	}
	if in.Status != RuleStatusActive && in.Status != RuleStatusInactive {
		return Rule{}, shared.Invalid(fmt.Sprintf("accruals: unknown status %q", in.Status))
	}
	var start, end *time.Time
	if in.StartDate != nil {
		d := shared.DateOnly(*in.StartDate)
		start = &d
	}
	if in.EndDate != nil {
		d := shared.DateOnly(*in.EndDate)
		end = &d
	}
	if start != nil && end != nil && end.Before(*start) {
		return Rule{}, shared.Invalid("accruals: end date must be on or after start date")
	}
	if in.ReverseTiming != nil && *in.ReverseTiming != ReverseTimingNextPeriodStart {
		return Rule{}, shared.Invalid("accruals: reverse timing must be NEXT_PERIOD_START")
	}
	if in.RuleType == RuleTypeReversing && !in.AutoReverse {
		return Rule{}, shared.Invalid("accruals: REVERSING rules must auto-reverse")
	}
	if len(in.Lines) == 0 {
		return Rule{}, shared.Invalid("accruals: rule lines required")
	}

	now := s.now().UTC()
	actor := in.ActorID
	rule := Rule{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		Code:           code,
		Name:           name,
		RuleType:       in.RuleType,
		Frequency:      in.Frequency,
		AutoReverse:    in.AutoReverse,
		ReverseTiming:  in.ReverseTiming,
		StartDate:      start,
		EndDate:        end,
		Status:         in.Status,
		IsRequired:     in.IsRequired,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if actor != uuid.Nil {
		rule.CreatedBy = &actor
	}
	ids := make([]uuid.UUID, 0, len(in.Lines))
	for idx, l := range in.Lines {
		lineNo := l.LineNo
		if lineNo <= 0 {
			lineNo = idx + 1
		}
		if l.AccountID == uuid.Nil {
			return Rule{}, fmt.Errorf("%w: line %d missing account", shared.ErrInvalidLine, lineNo)
		}
		if l.Side != accounts.SideDebit && l.Side != accounts.SideCredit {
			return Rule{}, fmt.Errorf("%w: line %d side must be debit or credit", shared.ErrInvalidLine, lineNo)
		}
		if !l.Amount.IsPositive() || !l.Amount.Equal(shared.Round(l.Amount)) {
			return Rule{}, fmt.Errorf("%w: line %d amount must be positive with at most %d decimals", shared.ErrInvalidLine, lineNo, shared.Places)
		}
		rule.Lines = append(rule.Lines, RuleLine{
			ID:          uuid.New(),
			RuleID:      rule.ID,
			LineNo:      lineNo,
			AccountID:   l.AccountID,
			Side:        l.Side,
			Amount:      l.Amount,
			Description: strings.TrimSpace(l.Description),
		})
		ids = append(ids, l.AccountID)
	}
	if debit, credit := ruleTotals(rule.Lines); !debit.Equal(credit) {
		return Rule{}, fmt.Errorf("%w: rule lines debit %s credit %s", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		found, err := tx.GetAccounts(ctx, in.OrganizationID, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			account, ok := found[id]
			if !ok {
				return fmt.Errorf("%w: %s not found", shared.ErrInvalidAccount, id)
			}
			if !account.Postable() {
				return fmt.Errorf("%w: %s", shared.ErrInvalidAccount, account.Code)
			}
		}
		return tx.InsertRule(ctx, rule)
	})
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, orgID uuid.UUID) ([]Rule, error) {
	return s.repo.ListRules(ctx, orgID)
}

// GetRule returns a rule with its ordered lines.
func (s *Service) GetRule(ctx context.Context, orgID, id uuid.UUID) (Rule, error) {
	return s.repo.GetRule(ctx, orgID, id)
}

func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultRunLimit
	}
	if filter.Limit > maxRunLimit {
		filter.Limit = maxRunLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListRuns(ctx, filter)
}

func (s *Service) GetRun(ctx context.Context, orgID, id uuid.UUID) (Run, error) {
	return s.repo.GetRun(ctx, orgID, id)
}

// RunOne posts a rule for one date. Skips never create a run row. The run row
// is created under a transaction-scoped lock on (org, rule, period, date) and
// committed before journal work starts; posting failures mark the run failed
// and are returned.
func (s *Service) RunOne(ctx context.Context, in RunOneInput) (RunResult, error) {
	asOf := shared.DateOnly(in.AsOfDate)
	result := RunResult{RuleID: in.RuleID, AsOfDate: asOf}
	if in.AsOfDate.IsZero() {
		return result, shared.Invalid("accruals: as-of date required")
	}
	rule, err := s.repo.GetRule(ctx, in.OrganizationID, in.RuleID)
	if err != nil {
		return result, err
	}
	if rule.StartDate != nil && asOf.Before(shared.DateOnly(*rule.StartDate)) {
		return s.skip(result, "Before rule start_date"), nil
	}
	if rule.EndDate != nil && asOf.After(shared.DateOnly(*rule.EndDate)) {
		return s.skip(result, "After rule end_date"), nil
	}

	var period periods.Period
	if in.PeriodIDOverride != nil {
		period, err = s.periods.GetPeriod(ctx, in.OrganizationID, *in.PeriodIDOverride)
		if errors.Is(err, shared.ErrNotFound) {
			return result, shared.Invalid(fmt.Sprintf("accruals: invalid period id %s", *in.PeriodIDOverride))
		}
		if err != nil {
			return result, err
		}
		if !period.IsOpen() {
			return s.skip(result, "Target period not open"), nil
		}
	} else {
		period, err = s.periods.FindOpenPeriodForDate(ctx, in.OrganizationID, asOf)
		if errors.Is(err, shared.ErrNotFound) {
			return s.skip(result, "No open period for date"), nil
		}
		if err != nil {
			return result, err
		}
	}

	if debit, credit := ruleTotals(rule.Lines); len(rule.Lines) == 0 || !debit.Equal(credit) {
		return result, shared.Inconsistent(fmt.Sprintf("accruals: rule %s lines do not balance", rule.Code))
	}
	lines := make([]journals.LineInput, len(rule.Lines))
	for i, l := range rule.Lines {
		line := journals.LineInput{AccountID: l.AccountID, Description: l.Description}
		if line.Description == "" {
			line.Description = rule.Name
		}
		if l.Side == accounts.SideDebit {
			line.Debit = l.Amount
		} else {
			line.Credit = l.Amount
		}
		lines[i] = line
	}

	run, terminal, err := s.claimRun(ctx, in, rule, period, asOf)
	if err != nil {
		return result, err
	}
	result.RunID = &run.ID
	if terminal {
		result.Skipped = true
		result.Status = run.Status
		result.Reason = fmt.Sprintf("Already %s", run.Status)
		s.observe(string(RunStatusSkipped))
		return result, nil
	}

	journalID, postErr := s.postRun(ctx, in, rule, period, asOf, lines)
	completedAt := s.now().UTC()
	if postErr != nil {
		msg := postErr.Error()
		if err := s.repo.CompleteRun(ctx, in.OrganizationID, run.ID, RunStatusFailed, &msg, completedAt); err != nil {
			s.logger.Error("mark accrual run failed", slog.String("run_id", run.ID.String()), slog.Any("error", err))
		}
		s.logger.Warn("accrual run failed",
			slog.String("rule", rule.Code),
			slog.String("as_of", asOf.Format("2006-01-02")),
			slog.Any("error", postErr))
		s.observe(string(RunStatusFailed))
		result.Status = RunStatusFailed
		result.Error = msg
		return result, postErr
	}
	if err := s.repo.LinkPosting(ctx, run.ID, journalID, completedAt); err != nil {
		return result, err
	}
	if err := s.repo.CompleteRun(ctx, in.OrganizationID, run.ID, RunStatusPosted, nil, completedAt); err != nil {
		return result, err
	}
	s.observe(string(RunStatusPosted))
	result.Status = RunStatusPosted
	result.JournalID = &journalID
	return result, nil
}

// claimRun is the serialization gate. It reports terminal=true when a run for
// the tuple already finished.
func (s *Service) claimRun(ctx context.Context, in RunOneInput, rule Rule, period periods.Period, asOf time.Time) (Run, bool, error) {
	var (
		run      Run
		terminal bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		key := internalShared.AccrualRunLockKey(in.OrganizationID, rule.ID, period.ID, asOf)
		if err := tx.LockRunKey(ctx, key); err != nil {
			return err
		}
		existing, found, err := tx.FindRun(ctx, in.OrganizationID, rule.ID, period.ID, asOf)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if found {
			run = existing
			if existing.Status.Terminal() {
				terminal = true
				return nil
			}
			run.Status = RunStatusRunning
			return tx.RestartRun(ctx, existing.ID, now)
		}
		run = Run{
			ID:             uuid.New(),
			OrganizationID: in.OrganizationID,
			RuleID:         rule.ID,
			PeriodID:       period.ID,
			AsOfDate:       asOf,
			Status:         RunStatusRunning,
			StartedAt:      now,
			CreatedAt:      now,
		}
		if in.ActorID != uuid.Nil {
			actor := in.ActorID
			run.CreatedBy = &actor
		}
		return tx.InsertRun(ctx, run)
	})
	return run, terminal, err
}

func (s *Service) postRun(ctx context.Context, in RunOneInput, rule Rule, period periods.Period, asOf time.Time, lines []journals.LineInput) (uuid.UUID, error) {
	draft, err := s.journals.CreateDraftJournal(ctx, journals.CreateDraftInput{
		OrganizationID: in.OrganizationID,
		ActorID:        in.ActorID,
		PeriodID:       period.ID,
		EntryDate:      asOf,
		Type:           journals.JournalTypeAdjustment,
		Memo:           fmt.Sprintf("%s: %s (%s)", rule.Code, rule.Name, asOf.Format("2006-01-02")),
		IdempotencyKey: internalShared.AccrualPostingKey(rule.ID, period.ID, asOf),
		Lines:          lines,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if draft.Status == journals.JournalStatusPosted {
		return draft.JournalID, nil
	}
	posted, err := s.journals.PostDraftJournal(ctx, in.OrganizationID, draft.JournalID, in.ActorID)
	if errors.Is(err, shared.ErrNotDraft) && draft.Idempotent {
		// A concurrent runner reusing the same run posted it first.
		entry, gerr := s.journals.Get(ctx, in.OrganizationID, draft.JournalID)
		if gerr == nil && entry.Status == journals.JournalStatusPosted {
			return entry.ID, nil
		}
	}
	if err != nil {
		return uuid.Nil, err
	}
	return posted.JournalID, nil
}

// RunDue runs every active DAILY, WEEKLY and MONTHLY rule due on asOf.
// Failures are isolated per rule and reported in the results; the error is
// only set when the rules cannot be listed.
func (s *Service) RunDue(ctx context.Context, orgID, actorID uuid.UUID, asOf time.Time) ([]RunResult, error) {
	asOf = shared.DateOnly(asOf)
	rules, err := s.repo.ListActiveRules(ctx, orgID, FrequencyDaily, FrequencyWeekly, FrequencyMonthly)
	if err != nil {
		return nil, err
	}
	results := make([]RunResult, 0, len(rules))
	for _, rule := range rules {
		if !IsDue(rule, asOf) {
			continue
		}
		results = append(results, s.runIsolated(ctx, RunOneInput{
			OrganizationID: orgID,
			ActorID:        actorID,
			RuleID:         rule.ID,
			AsOfDate:       asOf,
		}))
	}
	return results, nil
}

// RunPeriodEnd runs every active PERIOD_END rule pinned to an open period,
// dated at the period end unless overridden.
func (s *Service) RunPeriodEnd(ctx context.Context, in PeriodEndInput) ([]RunResult, error) {
	period, err := s.periods.GetPeriod(ctx, in.OrganizationID, in.PeriodID)
	if err != nil {
		return nil, err
	}
	if !period.IsOpen() {
		return nil, fmt.Errorf("%w: %s", shared.ErrPeriodNotOpen, period.Code)
	}
	asOf := period.EndDate
	if in.AsOfDateOverride != nil {
		asOf = *in.AsOfDateOverride
	}
	rules, err := s.repo.ListActiveRules(ctx, in.OrganizationID, FrequencyPeriodEnd)
	if err != nil {
		return nil, err
	}
	periodID := period.ID
	results := make([]RunResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, s.runIsolated(ctx, RunOneInput{
			OrganizationID:   in.OrganizationID,
			ActorID:          in.ActorID,
			RuleID:           rule.ID,
			AsOfDate:         asOf,
			PeriodIDOverride: &periodID,
		}))
	}
	return results, nil
}

// RunPeriodEndAccruals lets the period manager trigger period-end accruals
// before closing. Failed runs are left for the close guard to report.
func (s *Service) RunPeriodEndAccruals(ctx context.Context, orgID, actorID, periodID uuid.UUID) error {
	_, err := s.RunPeriodEnd(ctx, PeriodEndInput{OrganizationID: orgID, ActorID: actorID, PeriodID: periodID})
	return err
}

func (s *Service) runIsolated(ctx context.Context, in RunOneInput) RunResult {
	result, err := s.RunOne(ctx, in)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
		if result.Status == "" {
			result.Status = RunStatusFailed
		}
	}
	return result
}

// RunReversals reverses posted runs of auto-reversing rules into the target
// period, dated at its start. Only runs from periods starting before the
// target are eligible. Each item succeeds or fails on its own.
func (s *Service) RunReversals(ctx context.Context, orgID, actorID, periodID uuid.UUID) (ReversalResult, error) {
	target, err := s.periods.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return ReversalResult{}, err
	}
	if !target.IsOpen() {
		return ReversalResult{}, fmt.Errorf("%w: %s", shared.ErrPeriodNotOpen, target.Code)
	}
	candidates, err := s.repo.ListReversalCandidates(ctx, orgID, target.StartDate)
	if err != nil {
		return ReversalResult{}, err
	}
	var result ReversalResult
	for _, c := range candidates {
		out, err := s.journals.ReversePostedJournal(ctx, journals.ReverseInput{
			OrganizationID: orgID,
			JournalID:      c.JournalEntryID,
			ActorID:        actorID,
			TargetPeriodID: target.ID,
			EntryDate:      target.StartDate,
			Reason:         fmt.Sprintf("Auto-reversal for accrual %s", c.RuleCode),
			IdempotencyKey: internalShared.AccrualReversalKey(c.RunID, target.ID),
		})
		if err == nil {
			var linked bool
			linked, err = s.repo.RecordReversal(ctx, orgID, c.RunID, out.ReversalJournalID, s.now().UTC())
			if err == nil {
				if linked {
					result.ReversedCount++
					s.observeReversal("reversed")
				}
				continue
			}
		}
		result.FailedCount++
		s.observeReversal("failed")
		s.logger.Warn("accrual reversal failed",
			slog.String("run_id", c.RunID.String()),
			slog.String("rule", c.RuleCode),
			slog.Any("error", err))
		if ferr := s.repo.RecordReversalFailure(ctx, c.RunID, err.Error(), s.now().UTC()); ferr != nil {
			s.logger.Error("record reversal failure", slog.String("run_id", c.RunID.String()), slog.Any("error", ferr))
		}
	}
	return result, nil
}

// FailureError joins the errors of failed results under ErrTaskExecution.
func FailureError(results []RunResult) error {
	var errs []error
	for _, r := range results {
		if r.Status == RunStatusFailed {
			errs = append(errs, fmt.Errorf("rule %s on %s: %s", r.RuleID, r.AsOfDate.Format("2006-01-02"), r.Error))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", shared.ErrTaskExecution, errors.Join(errs...))
}

func (s *Service) skip(result RunResult, reason string) RunResult {
	result.Skipped = true
	result.Reason = reason
	s.logger.Debug("accrual run skipped",
		slog.String("rule_id", result.RuleID.String()),
		slog.String("as_of", result.AsOfDate.Format("2006-01-02")),
		slog.String("reason", reason))
	s.observe(string(RunStatusSkipped))
	return result
}

func (s *Service) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAccrualRun(outcome)
	}
}

func (s *Service) observeReversal(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAccrualReversal(outcome)
	}
}

func ruleTotals(lines []RuleLine) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		if l.Side == accounts.SideDebit {
			debit = debit.Add(l.Amount)
		} else {
			credit = credit.Add(l.Amount)
		}
	}
	return shared.Round(debit), shared.Round(credit)
}
