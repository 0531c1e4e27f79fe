package accruals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type fakePosting struct {
	journalID     uuid.UUID
	reversalID    *uuid.UUID
	failureCount  int
	failureReason string
}

type fakeRepo struct {
	mu           sync.Mutex
	rules        map[uuid.UUID]Rule
	order        []uuid.UUID
	runs         []*Run
	postings     map[uuid.UUID]*fakePosting
	accounts     map[uuid.UUID]accounts.Account
	periodStarts map[uuid.UUID]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rules:        make(map[uuid.UUID]Rule),
		postings:     make(map[uuid.UUID]*fakePosting),
		accounts:     make(map[uuid.UUID]accounts.Account),
		periodStarts: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeRepo) ListRules(_ context.Context, orgID uuid.UUID) ([]Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Rule
	for _, id := range f.order {
		if r := f.rules[id]; r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveRules(_ context.Context, orgID uuid.UUID, frequencies ...Frequency) ([]Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Rule
	for _, id := range f.order {
		r := f.rules[id]
		if r.OrganizationID != orgID || r.Status != RuleStatusActive {
			continue
		}
		for _, freq := range frequencies {
			if r.Frequency == freq {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetRule(_ context.Context, orgID, id uuid.UUID) (Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok || r.OrganizationID != orgID {
		return Rule{}, shared.ErrRuleNotFound
	}
	return r, nil
}

func (f *fakeRepo) ListRuns(_ context.Context, filter RunFilter) ([]Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Run
	for _, r := range f.runs {
		if r.OrganizationID == filter.OrganizationID && (filter.Status == "" || r.Status == filter.Status) {
			out = append(out, *r)
		}
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRepo) GetRun(_ context.Context, orgID, id uuid.UUID) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id && r.OrganizationID == orgID {
			out := *r
			if p, ok := f.postings[r.ID]; ok {
				out.JournalEntryID = &p.journalID
				out.ReversalJournalEntryID = p.reversalID
				out.ReversalFailureCount = p.failureCount
			}
			return out, nil
		}
	}
	return Run{}, shared.ErrRunNotFound
}

func (f *fakeRepo) ListReversalCandidates(_ context.Context, orgID uuid.UUID, before time.Time) ([]ReversalCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ReversalCandidate
	for _, r := range f.runs {
		rule := f.rules[r.RuleID]
		p, ok := f.postings[r.ID]
		if r.OrganizationID != orgID || r.Status != RunStatusPosted || !ok || p.reversalID != nil {
			continue
		}
		if rule.RuleType != RuleTypeReversing || !rule.AutoReverse {
			continue
		}
		if !f.periodStarts[r.PeriodID].Before(before) {
			continue
		}
		out = append(out, ReversalCandidate{RunID: r.ID, AsOfDate: r.AsOfDate, PeriodID: r.PeriodID, RuleCode: rule.Code, JournalEntryID: p.journalID})
	}
	return out, nil
}

func (f *fakeRepo) LinkPosting(_ context.Context, runID, journalID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.postings[runID]; !ok {
		f.postings[runID] = &fakePosting{journalID: journalID}
	}
	return nil
}

func (f *fakeRepo) CompleteRun(_ context.Context, _ uuid.UUID, runID uuid.UUID, status RunStatus, errText *string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == runID {
			r.Status = status
			r.Error = errText
			r.CompletedAt = &at
		}
	}
	return nil
}

func (f *fakeRepo) RecordReversal(_ context.Context, _ uuid.UUID, runID, reversalID uuid.UUID, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.postings[runID]
	if p == nil || p.reversalID != nil {
		return false, nil
	}
	p.reversalID = &reversalID
	p.failureReason = ""
	for _, r := range f.runs {
		if r.ID == runID && r.Status == RunStatusPosted {
			r.Status = RunStatusReversed
		}
	}
	return true, nil
}

func (f *fakeRepo) RecordReversalFailure(_ context.Context, runID uuid.UUID, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.postings[runID]; p != nil {
		p.failureCount++
		p.failureReason = reason
	}
	return nil
}

// WithTx holds the repo mutex for the whole transaction, which stands in for
// the advisory lock.
func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx, &fakeTx{repo: f})
}

type fakeTx struct {
	repo *fakeRepo
}

func (t *fakeTx) GetAccounts(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	out := make(map[uuid.UUID]accounts.Account)
	for _, id := range ids {
		if a, ok := t.repo.accounts[id]; ok && a.OrganizationID == orgID {
			out[id] = a
		}
	}
	return out, nil
}

func (t *fakeTx) InsertRule(_ context.Context, rule Rule) error {
	for _, r := range t.repo.rules {
		if r.OrganizationID == rule.OrganizationID && r.Code == rule.Code {
			return shared.ErrRuleCodeTaken
		}
	}
	t.repo.rules[rule.ID] = rule
	t.repo.order = append(t.repo.order, rule.ID)
	return nil
}

func (t *fakeTx) LockRunKey(context.Context, string) error { return nil }

func (t *fakeTx) FindRun(_ context.Context, orgID, ruleID, periodID uuid.UUID, asOf time.Time) (Run, bool, error) {
	for _, r := range t.repo.runs {
		if r.OrganizationID == orgID && r.RuleID == ruleID && r.PeriodID == periodID && r.AsOfDate.Equal(asOf) {
			return *r, true, nil
		}
	}
	return Run{}, false, nil
}

func (t *fakeTx) InsertRun(_ context.Context, run Run) error {
	t.repo.runs = append(t.repo.runs, &run)
	return nil
}

func (t *fakeTx) RestartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	for _, r := range t.repo.runs {
		if r.ID == runID {
			r.Status = RunStatusRunning
			r.Error = nil
			r.StartedAt = startedAt
		}
	}
	return nil
}

type fakeEntry struct {
	entry journals.JournalEntry
	input journals.CreateDraftInput
}

type fakeJournals struct {
	mu          sync.Mutex
	byKey       map[string]uuid.UUID
	entries     map[uuid.UUID]*fakeEntry
	failPost    error
	failReverse error
	reversals   []journals.ReverseInput
}

func newFakeJournals() *fakeJournals {
	return &fakeJournals{byKey: make(map[string]uuid.UUID), entries: make(map[uuid.UUID]*fakeEntry)}
}

func (f *fakeJournals) CreateDraftJournal(_ context.Context, in journals.CreateDraftInput) (journals.CreateDraftResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byKey[in.IdempotencyKey]; ok {
		return journals.CreateDraftResult{JournalID: id, Status: f.entries[id].entry.Status, Idempotent: true}, nil
	}
	id := uuid.New()
	f.byKey[in.IdempotencyKey] = id
	f.entries[id] = &fakeEntry{entry: journals.JournalEntry{ID: id, Status: journals.JournalStatusDraft, PeriodID: in.PeriodID}, input: in}
	return journals.CreateDraftResult{JournalID: id, Status: journals.JournalStatusDraft}, nil
}

func (f *fakeJournals) PostDraftJournal(_ context.Context, _, journalID, _ uuid.UUID) (journals.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPost != nil {
		return journals.PostResult{}, f.failPost
	}
	e := f.entries[journalID]
	if e.entry.Status != journals.JournalStatusDraft {
		return journals.PostResult{}, shared.ErrNotDraft
	}
	e.entry.Status = journals.JournalStatusPosted
	return journals.PostResult{JournalID: journalID, Status: journals.JournalStatusPosted}, nil
}

func (f *fakeJournals) ReversePostedJournal(_ context.Context, in journals.ReverseInput) (journals.ReverseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReverse != nil {
		return journals.ReverseResult{}, f.failReverse
	}
	if id, ok := f.byKey[in.IdempotencyKey]; ok {
		return journals.ReverseResult{JournalID: in.JournalID, ReversalJournalID: id, Idempotent: true}, nil
	}
	id := uuid.New()
	f.byKey[in.IdempotencyKey] = id
	f.entries[id] = &fakeEntry{entry: journals.JournalEntry{ID: id, Status: journals.JournalStatusPosted, PeriodID: in.TargetPeriodID, EntryDate: in.EntryDate}}
	f.reversals = append(f.reversals, in)
	return journals.ReverseResult{JournalID: in.JournalID, ReversalJournalID: id}, nil
}

func (f *fakeJournals) Get(_ context.Context, _, id uuid.UUID) (journals.JournalEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return journals.JournalEntry{}, shared.ErrJournalNotFound
	}
	return e.entry, nil
}

func (f *fakeJournals) posted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.entry.Status == journals.JournalStatusPosted && e.input.IdempotencyKey != "" {
			n++
		}
	}
	return n
}

type fakePeriods map[uuid.UUID]periods.Period

func (f fakePeriods) GetPeriod(_ context.Context, orgID, id uuid.UUID) (periods.Period, error) {
	p, ok := f[id]
	if !ok || p.OrganizationID != orgID {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return p, nil
}

func (f fakePeriods) FindOpenPeriodForDate(_ context.Context, orgID uuid.UUID, d time.Time) (periods.Period, error) {
	for _, p := range f {
		if p.OrganizationID == orgID && p.IsOpen() && p.Contains(d) {
			return p, nil
		}
	}
	return periods.Period{}, shared.ErrNoOpenPeriod
}

type countingRecorder struct {
	mu        sync.Mutex
	runs      map[string]int
	reversals map[string]int
}

func (c *countingRecorder) RecordAccrualRun(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[outcome]++
}

func (c *countingRecorder) RecordAccrualReversal(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reversals[outcome]++
}

type fixture struct {
	repo     *fakeRepo
	journals *fakeJournals
	periods  fakePeriods
	recorder *countingRecorder
	svc      *Service
	org      uuid.UUID
	actor    uuid.UUID
	jan      periods.Period
	feb      periods.Period
	expense  accounts.Account
	accrued  accounts.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeRepo(),
		journals: newFakeJournals(),
		periods:  fakePeriods{},
		recorder: &countingRecorder{runs: map[string]int{}, reversals: map[string]int{}},
		org:      uuid.New(),
		actor:    uuid.New(),
	}
	f.jan = periods.Period{ID: uuid.New(), OrganizationID: f.org, Code: "2026-01", StartDate: date(2026, 1, 1), EndDate: date(2026, 1, 31), Status: periods.PeriodStatusOpen}
	f.feb = periods.Period{ID: uuid.New(), OrganizationID: f.org, Code: "2026-02", StartDate: date(2026, 2, 1), EndDate: date(2026, 2, 28), Status: periods.PeriodStatusOpen}
	f.periods[f.jan.ID] = f.jan
	f.periods[f.feb.ID] = f.feb
	f.repo.periodStarts[f.jan.ID] = f.jan.StartDate
	f.repo.periodStarts[f.feb.ID] = f.feb.StartDate
	f.expense = accounts.Account{ID: uuid.New(), OrganizationID: f.org, Code: "6100", Type: accounts.AccountTypeExpense, IsPostable: true, Status: accounts.StatusActive}
	f.accrued = accounts.Account{ID: uuid.New(), OrganizationID: f.org, Code: "2100", Type: accounts.AccountTypeLiability, IsPostable: true, Status: accounts.StatusActive}
	f.repo.accounts[f.expense.ID] = f.expense
	f.repo.accounts[f.accrued.ID] = f.accrued
	f.svc = NewService(f.repo, f.journals, f.periods, nil)
	f.svc.WithNow(func() time.Time { return time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC) })
	f.svc.WithRecorder(f.recorder)
	return f
}

func (f *fixture) ruleInput(code string, typ RuleType, freq Frequency) CreateRuleInput {
	return CreateRuleInput{
		OrganizationID: f.org,
		ActorID:        f.actor,
		Code:           code,
		Name:           "Accrued utilities",
		RuleType:       typ,
		Frequency:      freq,
		AutoReverse:    typ == RuleTypeReversing,
		Lines: []RuleLineInput{
			{AccountID: f.expense.ID, Side: accounts.SideDebit, Amount: decimal.RequireFromString("450.00")},
			{AccountID: f.accrued.ID, Side: accounts.SideCredit, Amount: decimal.RequireFromString("450.00")},
		},
	}
}

func (f *fixture) createRule(t *testing.T, code string, typ RuleType, freq Frequency) Rule {
	t.Helper()
	rule, err := f.svc.CreateRule(context.Background(), f.ruleInput(code, typ, freq))
	require.NoError(t, err)
	return rule
}

func TestCreateRuleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly)
	in.StartDate = datePtr(2026, 2, 1)
	in.EndDate = datePtr(2026, 1, 1)
	_, err := f.svc.CreateRule(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.ruleInput("UTIL", RuleTypeReversing, FrequencyPeriodEnd)
	in.AutoReverse = false
	_, err = f.svc.CreateRule(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.ruleInput("UTIL", RuleTypeReversing, FrequencyPeriodEnd)
	timing := ReverseTiming("END_OF_QUARTER")
	in.ReverseTiming = &timing
	_, err = f.svc.CreateRule(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly)
	in.Lines[1].Amount = decimal.RequireFromString("400.00")
	_, err = f.svc.CreateRule(ctx, in)
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	in = f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly)
	in.Lines[0].Amount = decimal.Zero
	_, err = f.svc.CreateRule(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidLine)

	inactive := f.accrued
	inactive.Status = accounts.StatusInactive
	f.repo.accounts[inactive.ID] = inactive
	_, err = f.svc.CreateRule(ctx, f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly))
	require.ErrorIs(t, err, shared.ErrInvalidAccount)
	f.repo.accounts[inactive.ID] = f.accrued

	require.Empty(t, f.repo.rules)

	rule, err := f.svc.CreateRule(ctx, f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly))
	require.NoError(t, err)
	require.Equal(t, RuleStatusActive, rule.Status)
	require.Len(t, rule.Lines, 2)
	require.Equal(t, 2, rule.Lines[1].LineNo)

	_, err = f.svc.CreateRule(ctx, f.ruleInput("UTIL", RuleTypeRecurring, FrequencyMonthly))
	require.ErrorIs(t, err, shared.ErrRuleCodeTaken)
}

func TestRunOneSkipsWithoutCreatingRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.ruleInput("UTIL", RuleTypeRecurring, FrequencyDaily)
	in.StartDate = datePtr(2026, 1, 10)
	in.EndDate = datePtr(2026, 3, 31)
	rule, err := f.svc.CreateRule(ctx, in)
	require.NoError(t, err)

	res, err := f.svc.RunOne(ctx, RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 9)})
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, "Before rule start_date", res.Reason)

	res, err = f.svc.RunOne(ctx, RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 4, 1)})
	require.NoError(t, err)
	require.Equal(t, "After rule end_date", res.Reason)

	res, err = f.svc.RunOne(ctx, RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 3, 2)})
	require.NoError(t, err)
	require.Equal(t, "No open period for date", res.Reason)

	closed := f.jan
	closed.Status = periods.PeriodStatusClosed
	f.periods[closed.ID] = closed
	res, err = f.svc.RunOne(ctx, RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 20), PeriodIDOverride: &closed.ID})
	require.NoError(t, err)
	require.Equal(t, "Target period not open", res.Reason)

	missing := uuid.New()
	_, err = f.svc.RunOne(ctx, RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 20), PeriodIDOverride: &missing})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.NotErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, err.Error(), "invalid period id")

	require.Empty(t, f.repo.runs)
	require.Equal(t, 4, f.recorder.runs["skipped"])
}

func TestRunOnePostsOnceAndReplaysAsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.createRule(t, "UTIL", RuleTypeRecurring, FrequencyMonthly)
	in := RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 31)}

	res, err := f.svc.RunOne(ctx, in)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, RunStatusPosted, res.Status)
	require.NotNil(t, res.JournalID)

	entry := f.journals.entries[*res.JournalID]
	require.Equal(t, journals.JournalTypeAdjustment, entry.input.Type)
	require.Equal(t, fmt.Sprintf("accrual:post:%s:%s:2026-01-31", rule.ID, f.jan.ID), entry.input.IdempotencyKey)
	require.Equal(t, "UTIL: Accrued utilities (2026-01-31)", entry.input.Memo)
	require.Equal(t, "Accrued utilities", entry.input.Lines[0].Description)
	require.True(t, entry.input.Lines[0].Debit.Equal(decimal.RequireFromString("450")))

	again, err := f.svc.RunOne(ctx, in)
	require.NoError(t, err)
	require.True(t, again.Skipped)
	require.Equal(t, "Already posted", again.Reason)
	require.Equal(t, *res.RunID, *again.RunID)

	require.Len(t, f.repo.runs, 1)
	require.Equal(t, 1, f.journals.posted())

	run, err := f.svc.GetRun(ctx, f.org, *res.RunID)
	require.NoError(t, err)
	require.Equal(t, *res.JournalID, *run.JournalEntryID)
}

func TestRunOneConcurrentCallsPostOneJournal(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "UTIL", RuleTypeRecurring, FrequencyDaily)
	in := RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 15)}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RunOne(context.Background(), in)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, f.repo.runs, 1)
	require.Equal(t, RunStatusPosted, f.repo.runs[0].Status)
	require.Equal(t, 1, f.journals.posted())
}

func TestRunOneFailureMarksRunAndRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.createRule(t, "UTIL", RuleTypeRecurring, FrequencyDaily)
	in := RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 15)}

	f.journals.failPost = fmt.Errorf("%w: 6100", shared.ErrInvalidAccount)
	res, err := f.svc.RunOne(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAccount)
	require.Equal(t, RunStatusFailed, res.Status)
	require.Equal(t, RunStatusFailed, f.repo.runs[0].Status)
	require.Contains(t, *f.repo.runs[0].Error, "6100")

	f.journals.failPost = nil
	res, err = f.svc.RunOne(ctx, in)
	require.NoError(t, err)
	require.Equal(t, RunStatusPosted, res.Status)
	require.Len(t, f.repo.runs, 1)
	require.Nil(t, f.repo.runs[0].Error)
	require.Equal(t, 1, f.journals.posted())
}

func TestRunOneRejectsCorruptTemplate(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "UTIL", RuleTypeRecurring, FrequencyDaily)
	corrupt := f.repo.rules[rule.ID]
	corrupt.Lines[1].Amount = decimal.RequireFromString("1.00")
	f.repo.rules[rule.ID] = corrupt

	_, err := f.svc.RunOne(context.Background(), RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, 15)})
	require.ErrorIs(t, err, shared.ErrInternalInconsistency)
	require.Empty(t, f.repo.runs)
}

func TestRunDueIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broken := f.createRule(t, "BROKEN", RuleTypeRecurring, FrequencyDaily)
	f.createRule(t, "WEEKLY", RuleTypeRecurring, FrequencyWeekly)
	in := f.ruleInput("MONTHLY", RuleTypeRecurring, FrequencyMonthly)
	in.StartDate = datePtr(2025, 12, 31)
	f.createRule(t, "ignored", RuleTypeRecurring, FrequencyPeriodEnd)
	_, err := f.svc.CreateRule(ctx, in)
	require.NoError(t, err)

	corrupt := f.repo.rules[broken.ID]
	corrupt.Lines = corrupt.Lines[:1]
	f.repo.rules[broken.ID] = corrupt

	// 2026-01-31 is a Saturday: daily and the month-end anchored rule are due.
	results, err := f.svc.RunDue(ctx, f.org, f.actor, date(2026, 1, 31))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, RunStatusFailed, results[0].Status)
	require.Equal(t, RunStatusPosted, results[1].Status)

	joined := FailureError(results)
	require.ErrorIs(t, joined, shared.ErrTaskExecution)
	require.Nil(t, FailureError(results[1:]))
}

func TestRunPeriodEndPinsPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.createRule(t, "ACCR", RuleTypeReversing, FrequencyPeriodEnd)

	results, err := f.svc.RunPeriodEnd(ctx, PeriodEndInput{OrganizationID: f.org, ActorID: f.actor, PeriodID: f.jan.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, RunStatusPosted, results[0].Status)
	require.Equal(t, rule.ID, results[0].RuleID)
	require.Equal(t, f.jan.EndDate, results[0].AsOfDate)
	require.Equal(t, f.jan.ID, f.repo.runs[0].PeriodID)

	require.NoError(t, f.svc.RunPeriodEndAccruals(ctx, f.org, f.actor, f.jan.ID))
	require.Len(t, f.repo.runs, 1)

	closed := f.feb
	closed.Status = periods.PeriodStatusClosed
	f.periods[closed.ID] = closed
	_, err = f.svc.RunPeriodEnd(ctx, PeriodEndInput{OrganizationID: f.org, ActorID: f.actor, PeriodID: closed.ID})
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
}

func TestRunReversalsIntoTargetPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createRule(t, "ACCR", RuleTypeReversing, FrequencyPeriodEnd)
	f.createRule(t, "RECUR", RuleTypeRecurring, FrequencyPeriodEnd)
	_, err := f.svc.RunPeriodEnd(ctx, PeriodEndInput{OrganizationID: f.org, ActorID: f.actor, PeriodID: f.jan.ID})
	require.NoError(t, err)

	// Reversing into the same period is not eligible.
	out, err := f.svc.RunReversals(ctx, f.org, f.actor, f.jan.ID)
	require.NoError(t, err)
	require.Equal(t, ReversalResult{}, out)

	f.journals.failReverse = errors.New("period locked")
	out, err = f.svc.RunReversals(ctx, f.org, f.actor, f.feb.ID)
	require.NoError(t, err)
	require.Equal(t, ReversalResult{FailedCount: 1}, out)
	var reversingRun *Run
	for _, r := range f.repo.runs {
		if f.repo.rules[r.RuleID].Code == "ACCR" {
			reversingRun = r
		}
	}
	require.NotNil(t, reversingRun)
	require.Equal(t, RunStatusPosted, reversingRun.Status)
	require.Equal(t, 1, f.repo.postings[reversingRun.ID].failureCount)
	require.Equal(t, "period locked", f.repo.postings[reversingRun.ID].failureReason)

	f.journals.failReverse = nil
	out, err = f.svc.RunReversals(ctx, f.org, f.actor, f.feb.ID)
	require.NoError(t, err)
	require.Equal(t, ReversalResult{ReversedCount: 1}, out)
	require.Equal(t, RunStatusReversed, reversingRun.Status)
	require.Len(t, f.journals.reversals, 1)
	rev := f.journals.reversals[0]
	require.Equal(t, f.feb.ID, rev.TargetPeriodID)
	require.Equal(t, f.feb.StartDate, rev.EntryDate)
	require.Equal(t, fmt.Sprintf("accrual:reverse:%s:%s", reversingRun.ID, f.feb.ID), rev.IdempotencyKey)
	require.Equal(t, "Auto-reversal for accrual ACCR", rev.Reason)

	out, err = f.svc.RunReversals(ctx, f.org, f.actor, f.feb.ID)
	require.NoError(t, err)
	require.Equal(t, ReversalResult{}, out)
	require.Equal(t, 1, f.recorder.reversals["reversed"])
	require.Equal(t, 1, f.recorder.reversals["failed"])
}

func TestListRunsClampsLimit(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, "UTIL", RuleTypeRecurring, FrequencyDaily)
	for d := 1; d <= 3; d++ {
		_, err := f.svc.RunOne(context.Background(), RunOneInput{OrganizationID: f.org, ActorID: f.actor, RuleID: rule.ID, AsOfDate: date(2026, 1, d)})
		require.NoError(t, err)
	}
	runs, err := f.svc.ListRuns(context.Background(), RunFilter{OrganizationID: f.org, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	runs, err = f.svc.ListRuns(context.Background(), RunFilter{OrganizationID: f.org, Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestAsyncJobValidate(t *testing.T) {
	org := uuid.New()
	rule := uuid.New()
	asOf := date(2026, 1, 31)
	require.NoError(t, AsyncJob{Kind: JobRunOne, OrganizationID: org, RuleID: &rule, AsOfDate: &asOf}.Validate())
	require.ErrorIs(t, AsyncJob{Kind: JobRunOne, OrganizationID: org}.Validate(), shared.ErrValidation)
	require.ErrorIs(t, AsyncJob{Kind: JobReversals, OrganizationID: org}.Validate(), shared.ErrValidation)
	require.ErrorIs(t, AsyncJob{Kind: "purge", OrganizationID: org}.Validate(), shared.ErrValidation)
}
