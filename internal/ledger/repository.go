package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/models"
)

// Repository is the storage the ledger needs. Balance writes only happen here.
type Repository interface {
	Withdraw(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error)
	Deposit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.CreditEntry) error
	GetBalance(ctx context.Context, q database.DBTX, accountID uuid.UUID) (models.Credits, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// Withdraw deducts amount only if the balance covers it. The conditional
// UPDATE takes the row lock, so concurrent withdrawals on one account are
// serialized and re-check the balance after waiting.
func (r *PGRepository) Withdraw(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error) {
	var newBalance models.Credits
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance_cents = balance_cents - $1, updated_at = now()
		WHERE id = $2 AND balance_cents >= $1
		RETURNING balance_cents
	`, int64(amount), accountID).Scan(&newBalance)
	if err == nil {
		return newBalance, nil
	}
	if !database.IsNoRows(err) {
		return 0, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, models.ErrNotFound
	}
	return 0, models.ErrInsufficientFunds
}

func (r *PGRepository) Deposit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount models.Credits) (models.Credits, error) {
	var newBalance models.Credits
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance_cents
	`, int64(amount), accountID).Scan(&newBalance)
	if database.IsNoRows(err) {
		return 0, models.ErrNotFound
	}
	return newBalance, err
}

func (r *PGRepository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.CreditEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, generation_id, image_id, entry_type, amount_cents, balance_after_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.AccountID, e.GenerationID, e.ImageID, e.EntryType, int64(e.Amount), int64(e.BalanceAfter)).Scan(&e.CreatedAt)
}

func (r *PGRepository) GetBalance(ctx context.Context, q database.DBTX, accountID uuid.UUID) (models.Credits, error) {
	var balance models.Credits
	err := q.QueryRow(ctx, `SELECT balance_cents FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if database.IsNoRows(err) {
		return 0, models.ErrNotFound
	}
	return balance, err
}
