package journals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type balanceKey struct {
	period  uuid.UUID
	account uuid.UUID
}

type memoryState struct {
	entries  map[uuid.UUID]JournalEntry
	lines    map[uuid.UUID][]JournalLine
	balances map[balanceKey]BalanceDelta
	number   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		entries:  make(map[uuid.UUID]JournalEntry, len(s.entries)),
		lines:    make(map[uuid.UUID][]JournalLine, len(s.lines)),
		balances: make(map[balanceKey]BalanceDelta, len(s.balances)),
		number:   s.number,
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]JournalLine(nil), v...)
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	return out
}

type memoryRepo struct {
	state         memoryState
	periods       map[uuid.UUID]periods.Period
	accounts      map[uuid.UUID]accounts.Account
	failMerge     bool
	raceOnInsert  bool
	mergeAttempts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: memoryState{
			entries:  make(map[uuid.UUID]JournalEntry),
			lines:    make(map[uuid.UUID][]JournalLine),
			balances: make(map[balanceKey]BalanceDelta),
		},
		periods:  make(map[uuid.UUID]periods.Period),
		accounts: make(map[uuid.UUID]accounts.Account),
	}
}

func (r *memoryRepo) Get(_ context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	e, ok := r.state.entries[id]
	if !ok || e.OrganizationID != orgID {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	e.Lines = r.state.lines[id]
	return e, nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range r.state.entries {
		if e.OrganizationID == filter.OrganizationID && (filter.Status == "" || e.Status == filter.Status) {
			out = append(out, e)
		}
	}
	return out, nil
}

// WithTx works on a copy and only publishes it when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: &work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (t *memoryTx) FindByIdempotencyKey(_ context.Context, orgID uuid.UUID, key string) (JournalEntry, bool, error) {
	for _, e := range t.state.entries {
		if e.OrganizationID == orgID && e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return e, true, nil
		}
	}
	return JournalEntry{}, false, nil
}

func (t *memoryTx) GetPeriodForShare(_ context.Context, orgID, periodID uuid.UUID) (periods.Period, error) {
	p, ok := t.repo.periods[periodID]
	if !ok || p.OrganizationID != orgID {
		return periods.Period{}, shared.ErrPeriodNotFound
	}
	return p, nil
}

func (t *memoryTx) GetAccounts(_ context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error) {
	out := make(map[uuid.UUID]accounts.Account)
	for _, id := range ids {
		if a, ok := t.repo.accounts[id]; ok && a.OrganizationID == orgID {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e JournalEntry) (JournalEntry, error) {
	if e.IdempotencyKey != nil {
		if t.repo.raceOnInsert {
			t.repo.raceOnInsert = false
			winner := e
			winner.ID = uuid.New()
			t.repo.state.entries[winner.ID] = winner
			return JournalEntry{}, errIdempotencyRace
		}
		for _, existing := range t.state.entries {
			if existing.OrganizationID == e.OrganizationID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *e.IdempotencyKey {
				return JournalEntry{}, errIdempotencyRace
			}
		}
	}
	t.state.number++
	e.Number = t.state.number
	t.state.entries[e.ID] = e
	return e, nil
}

func (t *memoryTx) InsertLines(_ context.Context, lines []JournalLine) error {
	for _, l := range lines {
		t.state.lines[l.JournalID] = append(t.state.lines[l.JournalID], l)
	}
	return nil
}

func (t *memoryTx) GetEntryForUpdate(_ context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	e, ok := t.state.entries[id]
	if !ok || e.OrganizationID != orgID {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return e, nil
}

func (t *memoryTx) GetLines(_ context.Context, entryID uuid.UUID) ([]JournalLine, error) {
	return append([]JournalLine(nil), t.state.lines[entryID]...), nil
}

func (t *memoryTx) MergeBalance(_ context.Context, _, periodID uuid.UUID, d BalanceDelta) error {
	t.repo.mergeAttempts++
	if t.repo.failMerge && t.repo.mergeAttempts > 1 {
		return errors.New("disk full")
	}
	key := balanceKey{period: periodID, account: d.AccountID}
	cur, ok := t.state.balances[key]
	if !ok {
		cur = BalanceDelta{AccountID: d.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
	}
	cur.Debit = cur.Debit.Add(d.Debit)
	cur.Credit = cur.Credit.Add(d.Credit)
	t.state.balances[key] = cur
	return nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, e JournalEntry) error {
	t.state.entries[e.ID] = e
	return nil
}

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	org     uuid.UUID
	actor   uuid.UUID
	jan     periods.Period
	feb     periods.Period
	cash    accounts.Account
	revenue accounts.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC) })
	f := &fixture{repo: repo, svc: svc, org: uuid.New(), actor: uuid.New()}
	f.jan = periods.Period{ID: uuid.New(), OrganizationID: f.org, Code: "2026-01", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 31), Status: periods.PeriodStatusOpen}
	f.feb = periods.Period{ID: uuid.New(), OrganizationID: f.org, Code: "2026-02", StartDate: day(2026, 2, 1), EndDate: day(2026, 2, 28), Status: periods.PeriodStatusOpen}
	repo.periods[f.jan.ID] = f.jan
	repo.periods[f.feb.ID] = f.feb
	f.cash = accounts.Account{ID: uuid.New(), OrganizationID: f.org, Code: "1000", Type: accounts.AccountTypeAsset, IsPostable: true, Status: accounts.StatusActive}
	f.revenue = accounts.Account{ID: uuid.New(), OrganizationID: f.org, Code: "4000", Type: accounts.AccountTypeRevenue, IsPostable: true, Status: accounts.StatusActive}
	repo.accounts[f.cash.ID] = f.cash
	repo.accounts[f.revenue.ID] = f.revenue
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) saleInput(debit, credit string, date time.Time) CreateDraftInput {
	return CreateDraftInput{
		OrganizationID: f.org,
		ActorID:        f.actor,
		PeriodID:       f.jan.ID,
		EntryDate:      date,
		Memo:           "cash sale",
		Lines: []LineInput{
			{AccountID: f.cash.ID, Debit: amt(debit)},
			{AccountID: f.revenue.ID, Credit: amt(credit)},
		},
	}
}

func (f *fixture) balance(period, account uuid.UUID) BalanceDelta {
	return f.repo.state.balances[balanceKey{period: period, account: account}]
}

func TestCreateDraftRejectsUnbalancedLines(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateDraftJournal(context.Background(), f.saleInput("100.00", "90.00", day(2026, 1, 11)))
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.state.entries)

	_, err = f.svc.CreateDraftJournal(context.Background(), f.saleInput("100.001", "100.001", day(2026, 1, 11)))
	require.ErrorIs(t, err, shared.ErrInvalidLine)

	in := f.saleInput("100.00", "100.00", day(2026, 1, 11))
	in.Lines = in.Lines[:1]
	_, err = f.svc.CreateDraftJournal(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrTooFewLines)
}

func TestValidateLinesAcceptsBalancedSets(t *testing.T) {
	cases := [][]string{
		{"0.01", "-0.01"},
		{"100.00", "-33.33", "-33.33", "-33.34"},
		{"12345678.90", "-12345678.90"},
		{"5.55", "4.45", "-10.00"},
	}
	for _, amounts := range cases {
		lines := make([]LineInput, len(amounts))
		for i, a := range amounts {
			v := amt(a)
			if v.IsNegative() {
				lines[i] = LineInput{AccountID: uuid.New(), Credit: v.Neg()}
			} else {
				lines[i] = LineInput{AccountID: uuid.New(), Debit: v}
			}
		}
		totals, err := ValidateLines(lines)
		require.NoError(t, err, amounts)
		require.True(t, totals.Debit.Equal(totals.Credit))
	}
}

func TestCreateDraftEnforcesPeriodContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []time.Time{day(2025, 12, 31), day(2026, 2, 1)} {
		_, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", d))
		require.ErrorIs(t, err, shared.ErrDateOutOfRange, d.String())
	}
	for _, d := range []time.Time{day(2026, 1, 1), day(2026, 1, 31)} {
		_, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", d))
		require.NoError(t, err, d.String())
	}

	closed := f.jan
	closed.Status = periods.PeriodStatusClosed
	f.repo.periods[closed.ID] = closed
	_, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)
}

func TestCreateDraftRejectsUnpostableAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	header := f.cash
	header.IsPostable = false
	f.repo.accounts[header.ID] = header
	_, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.ErrorIs(t, err, shared.ErrInvalidAccount)

	f.repo.accounts[header.ID] = f.cash
	in := f.saleInput("100.00", "100.00", day(2026, 1, 11))
	in.Lines[1].AccountID = uuid.New()
	_, err = f.svc.CreateDraftJournal(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidAccount)
}

func TestCreateDraftIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.saleInput("100.00", "100.00", day(2026, 1, 11))
	in.IdempotencyKey = "invoice:42"

	first, err := f.svc.CreateDraftJournal(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	second, err := f.svc.CreateDraftJournal(ctx, in)
	require.NoError(t, err)
	require.True(t, second.Idempotent)
	require.Equal(t, first.JournalID, second.JournalID)
	require.Len(t, f.repo.state.entries, 1)
	require.Len(t, f.repo.state.lines[first.JournalID], 2)

	other := f.saleInput("5.00", "5.00", day(2026, 1, 11))
	other.OrganizationID = uuid.New()
	other.IdempotencyKey = "invoice:42"
	_, err = f.svc.CreateDraftJournal(ctx, other)
	require.ErrorIs(t, err, shared.ErrPeriodNotFound)
}

func TestCreateDraftReplaysConcurrentWinner(t *testing.T) {
	f := newFixture(t)
	f.repo.raceOnInsert = true
	in := f.saleInput("100.00", "100.00", day(2026, 1, 11))
	in.IdempotencyKey = "bill:7"

	result, err := f.svc.CreateDraftJournal(context.Background(), in)
	require.NoError(t, err)
	require.True(t, result.Idempotent)
	require.Len(t, f.repo.state.entries, 1)
}

func TestPostDraftIsOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.NoError(t, err)

	posted, err := f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)
	require.Equal(t, JournalStatusPosted, posted.Status)

	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.ErrorIs(t, err, shared.ErrNotDraft)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.True(t, f.balance(f.jan.ID, f.cash.ID).Debit.Equal(amt("100")))
	require.True(t, f.balance(f.jan.ID, f.revenue.ID).Credit.Equal(amt("100")))

	entry, err := f.svc.Get(ctx, f.org, draft.JournalID)
	require.NoError(t, err)
	require.Equal(t, f.actor, *entry.PostedBy)

	_, err = f.svc.PostDraftJournal(ctx, f.org, uuid.New(), f.actor)
	require.ErrorIs(t, err, shared.ErrJournalNotFound)
}

func TestPostDraftRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.NoError(t, err)

	inactive := f.revenue
	inactive.Status = accounts.StatusInactive
	f.repo.accounts[inactive.ID] = inactive
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.ErrorIs(t, err, shared.ErrInvalidAccount)

	f.repo.accounts[inactive.ID] = f.revenue
	closed := f.jan
	closed.Status = periods.PeriodStatusClosed
	f.repo.periods[closed.ID] = closed
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)

	require.Equal(t, JournalStatusDraft, f.repo.state.entries[draft.JournalID].Status)
	require.Empty(t, f.repo.state.balances)
}

func TestVoidByReversalNetsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.NoError(t, err)
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)

	voided, err := f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "duplicate"})
	require.NoError(t, err)
	require.Equal(t, JournalStatusVoided, voided.Status)

	original := f.repo.state.entries[draft.JournalID]
	require.Equal(t, JournalStatusVoided, original.Status)
	require.Equal(t, voided.ReversalJournalID, *original.ReversedByID)
	require.Equal(t, "duplicate", *original.VoidReason)

	reversal := f.repo.state.entries[voided.ReversalJournalID]
	require.Equal(t, JournalStatusPosted, reversal.Status)
	require.Equal(t, f.jan.ID, reversal.PeriodID)
	require.Equal(t, original.EntryDate, reversal.EntryDate)
	require.Equal(t, draft.JournalID, *reversal.ReversalOfID)

	net := map[uuid.UUID]decimal.Decimal{}
	for _, id := range []uuid.UUID{draft.JournalID, voided.ReversalJournalID} {
		for _, l := range f.repo.state.lines[id] {
			net[l.AccountID] = net[l.AccountID].Add(l.Debit).Sub(l.Credit)
		}
	}
	for account, v := range net {
		require.True(t, v.IsZero(), account.String())
	}
	for _, account := range []uuid.UUID{f.cash.ID, f.revenue.ID} {
		b := f.balance(f.jan.ID, account)
		require.True(t, b.Debit.Equal(b.Credit))
	}

	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "again"})
	require.ErrorIs(t, err, shared.ErrNotPosted)
}

func TestVoidRequiresPostedAndOpenPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("10.00", "10.00", day(2026, 1, 11)))
	require.NoError(t, err)

	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "x"})
	require.ErrorIs(t, err, shared.ErrNotPosted)

	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)
	closed := f.jan
	closed.Status = periods.PeriodStatusClosed
	f.repo.periods[closed.ID] = closed
	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "x"})
	require.ErrorIs(t, err, shared.ErrPeriodNotOpen)

	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestVoidRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("100.00", "100.00", day(2026, 1, 11)))
	require.NoError(t, err)
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)

	f.repo.failMerge = true
	f.repo.mergeAttempts = 0
	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "oops"})
	require.Error(t, err)

	require.Len(t, f.repo.state.entries, 1)
	require.Equal(t, JournalStatusPosted, f.repo.state.entries[draft.JournalID].Status)
	require.True(t, f.balance(f.jan.ID, f.cash.ID).Credit.IsZero())
}

func TestReversePostedJournalIntoTargetPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.saleInput("250.00", "250.00", day(2026, 1, 31))
	in.Type = JournalTypeAdjustment
	draft, err := f.svc.CreateDraftJournal(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)

	rin := ReverseInput{
		OrganizationID: f.org,
		JournalID:      draft.JournalID,
		ActorID:        f.actor,
		TargetPeriodID: f.feb.ID,
		EntryDate:      f.feb.StartDate,
		Reason:         "auto-reversal",
		IdempotencyKey: "accrual:reverse:run:feb",
	}
	first, err := f.svc.ReversePostedJournal(ctx, rin)
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	require.Equal(t, JournalStatusPosted, f.repo.state.entries[draft.JournalID].Status)
	reversal := f.repo.state.entries[first.ReversalJournalID]
	require.Equal(t, f.feb.ID, reversal.PeriodID)
	require.Equal(t, f.feb.StartDate, reversal.EntryDate)
	require.Equal(t, JournalTypeAdjustment, reversal.Type)
	require.True(t, f.balance(f.feb.ID, f.cash.ID).Credit.Equal(amt("250")))
	require.True(t, f.balance(f.jan.ID, f.cash.ID).Debit.Equal(amt("250")))

	again, err := f.svc.ReversePostedJournal(ctx, rin)
	require.NoError(t, err)
	require.True(t, again.Idempotent)
	require.Equal(t, first.ReversalJournalID, again.ReversalJournalID)

	rin.IdempotencyKey = "accrual:reverse:run:other"
	_, err = f.svc.ReversePostedJournal(ctx, rin)
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)

	_, err = f.svc.VoidByReversal(ctx, VoidInput{OrganizationID: f.org, JournalID: draft.JournalID, ActorID: f.actor, Reason: "x"})
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
}

func TestReversePostedJournalRejectsDateOutsideTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraftJournal(ctx, f.saleInput("1.00", "1.00", day(2026, 1, 5)))
	require.NoError(t, err)
	_, err = f.svc.PostDraftJournal(ctx, f.org, draft.JournalID, f.actor)
	require.NoError(t, err)

	_, err = f.svc.ReversePostedJournal(ctx, ReverseInput{
		OrganizationID: f.org,
		JournalID:      draft.JournalID,
		ActorID:        f.actor,
		TargetPeriodID: f.feb.ID,
		EntryDate:      day(2026, 3, 1),
		IdempotencyKey: "k",
	})
	require.ErrorIs(t, err, shared.ErrDateOutOfRange)
}
