package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (JournalEntry, error) {
	return s.repo.Get(ctx, orgID, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]JournalEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// CreateDraftJournal validates and stores a draft. A replayed idempotency key
// returns the existing entry without side effects; the key is looked up inside
// the same transaction that would insert.
func (s *Service) CreateDraftJournal(ctx context.Context, in CreateDraftInput) (CreateDraftResult, error) {
	if in.Type == "" {
		in.Type = JournalTypeGeneral
	}
	if !in.Type.Valid() {
		return CreateDraftResult{}, shared.Invalid(fmt.Sprintf("accounting: unknown journal type %q", in.Type))
	}
	if in.PeriodID == uuid.Nil || in.EntryDate.IsZero() {
		return CreateDraftResult{}, shared.Invalid("accounting: period and entry date required")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	entryDate := shared.DateOnly(in.EntryDate)

	var result CreateDraftResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			existing, found, err := tx.FindByIdempotencyKey(ctx, in.OrganizationID, key)
			if err != nil {
				return err
			}
			if found {
				result = CreateDraftResult{JournalID: existing.ID, Status: existing.Status, Idempotent: true}
				return nil
			}
		}
		period, err := tx.GetPeriodForShare(ctx, in.OrganizationID, in.PeriodID)
		if err != nil {
			return err
		}
		if err := checkPostable(period, entryDate); err != nil {
			return err
		}
		now := s.now().UTC()
		entry := JournalEntry{
			ID:             uuid.New(),
			OrganizationID: in.OrganizationID,
			Type:           in.Type,
			PeriodID:       period.ID,
			EntryDate:      entryDate,
			Memo:           strings.TrimSpace(in.Memo),
			Status:         JournalStatusDraft,
			CreatedBy:      in.ActorID,
			CreatedAt:      now,
		}
		if key != "" {
			entry.IdempotencyKey = &key
		}
		if err := checkLineShape(in.Lines); err != nil {
			return err
		}
		lines := make([]JournalLine, len(in.Lines))
		for i, l := range in.Lines {
			lines[i] = JournalLine{
				ID:          uuid.New(),
				JournalID:   entry.ID,
				LineNo:      i + 1,
				AccountID:   l.AccountID,
				Description: strings.TrimSpace(l.Description),
				Debit:       l.Debit,
				Credit:      l.Credit,
			}
		}
		if err := s.checkAccounts(ctx, tx, in.OrganizationID, lines); err != nil {
			return err
		}
		if _, err := checkBalance(in.Lines); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, lines); err != nil {
			return err
		}
		result = CreateDraftResult{JournalID: inserted.ID, Status: inserted.Status}
		return nil
	})
	if errors.Is(err, errIdempotencyRace) {
		return s.replayDraft(ctx, in.OrganizationID, key)
	}
	if err != nil {
		return CreateDraftResult{}, err
	}
	return result, nil
}

func (s *Service) replayDraft(ctx context.Context, orgID uuid.UUID, key string) (CreateDraftResult, error) {
	var result CreateDraftResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.FindByIdempotencyKey(ctx, orgID, key)
		if err != nil {
			return err
		}
		if !found {
			return shared.Inconsistent("accounting: idempotency key conflict without entry")
		}
		result = CreateDraftResult{JournalID: existing.ID, Status: existing.Status, Idempotent: true}
		return nil
	})
	return result, err
}

// PostDraftJournal re-validates the draft under a row lock and merges its
// lines into ledger balances atomically with the status flip.
func (s *Service) PostDraftJournal(ctx context.Context, orgID, journalID, actorID uuid.UUID) (PostResult, error) {
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, orgID, journalID)
		if err != nil {
			return err
		}
		if entry.Status != JournalStatusDraft {
			return fmt.Errorf("%w: status %s", shared.ErrNotDraft, entry.Status)
		}
		period, err := tx.GetPeriodForShare(ctx, orgID, entry.PeriodID)
		if err != nil {
			return err
		}
		if err := checkPostable(period, entry.EntryDate); err != nil {
			return err
		}
		lines, err := tx.GetLines(ctx, entry.ID)
		if err != nil {
			return err
		}
		if len(lines) < 2 {
			return shared.ErrJournalIncomplete
		}
		if err := s.checkAccounts(ctx, tx, orgID, lines); err != nil {
			return err
		}
		if totals := totalsOf(lines); !totals.Balanced() {
			return fmt.Errorf("%w: debit %s credit %s", shared.ErrUnbalanced, totals.Debit.StringFixed(2), totals.Credit.StringFixed(2))
		}
		if err := s.post(ctx, tx, &entry, lines, actorID); err != nil {
			return err
		}
		result = PostResult{JournalID: entry.ID, Status: entry.Status}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// VoidByReversal posts a mirror entry into the original's period and marks the
// original voided. Everything happens in one transaction.
func (s *Service) VoidByReversal(ctx context.Context, in VoidInput) (VoidResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return VoidResult{}, shared.Invalid("accounting: void reason required")
	}
	var result VoidResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, in.OrganizationID, in.JournalID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return fmt.Errorf("%w: status %s", shared.ErrNotPosted, original.Status)
		}
		if original.ReversedByID != nil {
			return shared.ErrAlreadyReversed
		}
		period, err := tx.GetPeriodForShare(ctx, in.OrganizationID, original.PeriodID)
		if err != nil {
			return err
		}
		if !period.IsOpen() {
			return shared.ErrPeriodNotOpen
		}
		memo := fmt.Sprintf("Reversal of JE-%d: %s", original.Number, reason)
		reversal, err := s.insertReversal(ctx, tx, original, original.PeriodID, original.EntryDate, memo, "", in.ActorID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		actor := in.ActorID
		original.Status = JournalStatusVoided
		original.ReversedByID = &reversal.ID
		original.VoidReason = &reason
		original.VoidedBy = &actor
		original.VoidedAt = &now
		original.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, original); err != nil {
			return err
		}
		result = VoidResult{JournalID: original.ID, Status: original.Status, ReversalJournalID: reversal.ID}
		return nil
	})
	if err != nil {
		return VoidResult{}, err
	}
	return result, nil
}

// VoidPostedJournal is the external name of VoidByReversal.
func (s *Service) VoidPostedJournal(ctx context.Context, in VoidInput) (VoidResult, error) {
	return s.VoidByReversal(ctx, in)
}

// ReversePostedJournal posts a reversal into an open target period dated
// in.EntryDate. The original stays posted. Replays of the idempotency key
// return the first reversal.
func (s *Service) ReversePostedJournal(ctx context.Context, in ReverseInput) (ReverseResult, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return ReverseResult{}, shared.Invalid("accounting: reversal idempotency key required")
	}
	entryDate := shared.DateOnly(in.EntryDate)
	var result ReverseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, found, err := tx.FindByIdempotencyKey(ctx, in.OrganizationID, key)
		if err != nil {
			return err
		}
		if found {
			if existing.ReversalOfID == nil || *existing.ReversalOfID != in.JournalID {
				return shared.Inconsistent("accounting: reversal idempotency key bound to another journal")
			}
			result = ReverseResult{JournalID: in.JournalID, ReversalJournalID: existing.ID, Idempotent: true}
			return nil
		}
		original, err := tx.GetEntryForUpdate(ctx, in.OrganizationID, in.JournalID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return fmt.Errorf("%w: status %s", shared.ErrNotPosted, original.Status)
		}
		if original.ReversedByID != nil {
			return shared.ErrAlreadyReversed
		}
		target, err := tx.GetPeriodForShare(ctx, in.OrganizationID, in.TargetPeriodID)
		if err != nil {
			return err
		}
		if err := checkPostable(target, entryDate); err != nil {
			return err
		}
		memo := fmt.Sprintf("Reversal of JE-%d", original.Number)
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			memo += ": " + reason
		}
		reversal, err := s.insertReversal(ctx, tx, original, target.ID, entryDate, memo, key, in.ActorID)
		if err != nil {
			return err
		}
		original.ReversedByID = &reversal.ID
		original.UpdatedAt = s.now().UTC()
		if err := tx.UpdateStatus(ctx, original); err != nil {
			return err
		}
		result = ReverseResult{JournalID: original.ID, ReversalJournalID: reversal.ID}
		return nil
	})
	if err != nil {
		return ReverseResult{}, err
	}
	return result, nil
}

func (s *Service) insertReversal(ctx context.Context, tx TxRepository, original JournalEntry, periodID uuid.UUID, entryDate time.Time, memo, key string, actorID uuid.UUID) (JournalEntry, error) {
	lines, err := tx.GetLines(ctx, original.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	if len(lines) == 0 {
		return JournalEntry{}, shared.ErrJournalIncomplete
	}
	originalID := original.ID
	reversal := JournalEntry{
		ID:             uuid.New(),
		OrganizationID: original.OrganizationID,
		Type:           original.Type,
		PeriodID:       periodID,
		EntryDate:      entryDate,
		Memo:           memo,
		Status:         JournalStatusDraft,
		ReversalOfID:   &originalID,
		CreatedBy:      actorID,
		CreatedAt:      s.now().UTC(),
	}
	if key != "" {
		reversal.IdempotencyKey = &key
	}
	reversal, err = tx.InsertEntry(ctx, reversal)
	if err != nil {
		return JournalEntry{}, err
	}
	reversed := swapSides(lines, reversal.ID)
	if err := tx.InsertLines(ctx, reversed); err != nil {
		return JournalEntry{}, err
	}
	if err := s.post(ctx, tx, &reversal, reversed, actorID); err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

// post is the single balance-merge primitive: every posting path adds its
// lines into (org, period, account) totals and flips the entry to posted.
func (s *Service) post(ctx context.Context, tx TxRepository, entry *JournalEntry, lines []JournalLine, actorID uuid.UUID) error {
	for _, delta := range balanceDeltas(lines) {
		if err := tx.MergeBalance(ctx, entry.OrganizationID, entry.PeriodID, delta); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	actor := actorID
	entry.Status = JournalStatusPosted
	entry.PostedBy = &actor
	entry.PostedAt = &now
	entry.UpdatedAt = now
	return tx.UpdateStatus(ctx, *entry)
}

func (s *Service) checkAccounts(ctx context.Context, tx TxRepository, orgID uuid.UUID, lines []JournalLine) error {
	ids := accountIDs(lines)
	found, err := tx.GetAccounts(ctx, orgID, ids)
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
	return nil
}

func checkPostable(period periods.Period, entryDate time.Time) error {
	if !period.IsOpen() {
		return fmt.Errorf("%w: %s", shared.ErrPeriodNotOpen, period.Code)
	}
	if !period.Contains(entryDate) {
		return fmt.Errorf("%w: %s not in %s", shared.ErrDateOutOfRange, entryDate.Format("2006-01-02"), period.Code)
	}
	return nil
}
