package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/models"
)

// Entry describes one balance movement. Amount must be positive.
type Entry struct {
	AccountID    uuid.UUID
	Amount       models.Credits
	Type         string
	GenerationID *uuid.UUID
	ImageID      *uuid.UUID
}

// Service moves credits. Every method runs inside the caller's transaction
// so the movement commits or rolls back together with the state change it pays for.
type Service interface {
	Reserve(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error)
	Debit(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error)
	Credit(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error)
	Balance(ctx context.Context, q database.DBTX, accountID uuid.UUID) (models.Credits, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

// Reserve debits the cost of a new generation up front.
func (s *service) Reserve(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error) {
	if e.Type == "" {
		e.Type = models.CreditEntryReserve
	}
	return s.withdraw(ctx, tx, e)
}

// Debit charges a fee such as a restore.
func (s *service) Debit(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error) {
	if e.Type == "" {
		e.Type = models.CreditEntryRestoreFee
	}
	return s.withdraw(ctx, tx, e)
}

// Credit returns credits to the account. There is no upper bound.
func (s *service) Credit(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error) {
	if e.Amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %s", e.Amount)
	}
	balance, err := s.repo.Deposit(ctx, tx, e.AccountID, e.Amount)
	if err != nil {
		return 0, err
	}
	return balance, s.record(ctx, tx, e, balance)
}

func (s *service) Balance(ctx context.Context, q database.DBTX, accountID uuid.UUID) (models.Credits, error) {
	return s.repo.GetBalance(ctx, q, accountID)
}

func (s *service) withdraw(ctx context.Context, tx pgx.Tx, e Entry) (models.Credits, error) {
	if e.Amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %s", e.Amount)
	}
	balance, err := s.repo.Withdraw(ctx, tx, e.AccountID, e.Amount)
	if err != nil {
		return 0, err
	}
	return balance, s.record(ctx, tx, e, balance)
}

func (s *service) record(ctx context.Context, tx pgx.Tx, e Entry, balanceAfter models.Credits) error {
	return s.repo.InsertEntry(ctx, tx, &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    e.AccountID,
		GenerationID: e.GenerationID,
		ImageID:      e.ImageID,
		EntryType:    e.Type,
		Amount:       e.Amount,
		BalanceAfter: balanceAfter,
	})
}

// CrossedLowBalance reports whether a debit of debited that left the account
// at after moved it from at-or-above threshold to below it.
func CrossedLowBalance(after, debited, threshold models.Credits) bool {
	return after < threshold && after+debited >= threshold
}
