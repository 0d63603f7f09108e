package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/ledger"
	"github.com/inaiurai/studio/internal/metrics"
	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/notify"
)

// DefaultLowBalanceThreshold triggers the low balance notification.
const DefaultLowBalanceThreshold = 100 * models.Credit

// Options carries the optional collaborators shared by the services.
type Options struct {
	Notifier            notify.Notifier
	Metrics             *metrics.Metrics
	LowBalanceThreshold models.Credits
	Logger              *slog.Logger
	Now                 func() time.Time
}

type base struct {
	db         database.DB
	stores     Stores
	ledger     ledger.Service
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	lowBalance models.Credits
	logger     *slog.Logger
	now        func() time.Time
}

func newBase(db database.DB, stores Stores, l ledger.Service, opts Options) base {
	b := base{
		db:         db,
		stores:     stores,
		ledger:     l,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		lowBalance: opts.LowBalanceThreshold,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.notifier == nil {
		b.notifier = notify.LogNotifier{Logger: b.logger}
	}
	if b.lowBalance <= 0 {
		b.lowBalance = DefaultLowBalanceThreshold
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	return b
}

// ownedForUpdate locks the generation and hides generations of other accounts.
func (b *base) ownedForUpdate(ctx context.Context, tx pgx.Tx, accountID, id uuid.UUID) (*models.Generation, error) {
	g, err := b.stores.Generations.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if g.AccountID != accountID {
		return nil, models.ErrNotFound
	}
	return g, nil
}

func (b *base) owned(ctx context.Context, accountID, id uuid.UUID) (*models.Generation, error) {
	g, err := b.stores.Generations.GetByID(ctx, b.db, id)
	if err != nil {
		return nil, err
	}
	if g.AccountID != accountID {
		return nil, models.ErrNotFound
	}
	return g, nil
}

// afterDebit runs once a debit has committed.
func (b *base) afterDebit(ctx context.Context, accountID uuid.UUID, balance, debited models.Credits) {
	if !ledger.CrossedLowBalance(balance, debited, b.lowBalance) {
		return
	}
	b.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventLowBalance,
		AccountID:  accountID,
		Balance:    &balance,
		OccurredAt: b.now(),
	})
}
