package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/ledger"
	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/storage"
)

// Purge sources for metrics.
const (
	SourceUser    = "user"
	SourceSweeper = "sweeper"
)

// PurgeResult counts what a permanent delete removed.
type PurgeResult struct {
	Generations int `json:"generations"`
	Images      int `json:"images"`
}

// LifecycleService handles discard, trash, restore and permanent deletion.
// Every call that moves credits does so in the transaction that changes state.
type LifecycleService struct {
	base
	objects storage.ObjectStore
}

func NewLifecycleService(db database.DB, stores Stores, l ledger.Service, objects storage.ObjectStore, opts Options) *LifecycleService {
	return &LifecycleService{base: newBase(db, stores, l, opts), objects: objects}
}

// DiscardImage hides one photo and refunds a quarter credit. The last live
// image of a generation cannot be discarded.
func (s *LifecycleService) DiscardImage(ctx context.Context, accountID, imageID uuid.UUID) (*models.Image, error) {
	img, err := s.stores.Images.GetByID(ctx, s.db, imageID)
	if err != nil {
		return nil, err
	}
	var out *models.Image
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		g, err := s.ownedForUpdate(ctx, tx, accountID, img.GenerationID)
		if err != nil {
			return err
		}
		if g.Kind != models.KindPhoto || g.Lifecycle != models.LifecycleActive {
			return models.ErrInvalidState
		}
		cur, err := s.stores.Images.GetByIDForUpdate(ctx, tx, imageID)
		if err != nil {
			return err
		}
		if cur.Lifecycle != models.LifecycleActive {
			return models.ErrInvalidState
		}
		live, err := s.stores.Images.CountByLifecycle(ctx, tx, g.ID, models.LifecycleActive)
		if err != nil {
			return err
		}
		if live <= 1 {
			return models.ErrLastImageProtected
		}
		now := s.now()
		if err := s.stores.Images.SetLifecycle(ctx, tx, cur.ID, models.LifecycleDiscarded, &now); err != nil {
			return err
		}
		if _, err := s.ledger.Credit(ctx, tx, ledger.Entry{
			AccountID:    accountID,
			Amount:       DiscardRefund,
			Type:         models.CreditEntryRefundDiscard,
			GenerationID: &g.ID,
			ImageID:      &cur.ID,
		}); err != nil {
			return err
		}
		cur.Lifecycle = models.LifecycleDiscarded
		cur.DiscardedAt = &now
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("image discarded", "image_id", imageID, "generation_id", out.GenerationID, "account_id", accountID)
	return out, nil
}

// RestoreImage un-discards a photo for half a credit. If the generation is in
// the trash, restoring the image also takes the generation out of it.
func (s *LifecycleService) RestoreImage(ctx context.Context, accountID, imageID uuid.UUID) (*models.Image, error) {
	img, err := s.stores.Images.GetByID(ctx, s.db, imageID)
	if err != nil {
		return nil, err
	}
	var (
		out     *models.Image
		balance models.Credits
	)
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		g, err := s.ownedForUpdate(ctx, tx, accountID, img.GenerationID)
		if err != nil {
			return err
		}
		cur, err := s.stores.Images.GetByIDForUpdate(ctx, tx, imageID)
		if err != nil {
			return err
		}
		if cur.Lifecycle != models.LifecycleDiscarded {
			return models.ErrInvalidState
		}
		balance, err = s.ledger.Debit(ctx, tx, ledger.Entry{
			AccountID:    accountID,
			Amount:       RestoreImageFee,
			Type:         models.CreditEntryRestoreFee,
			GenerationID: &g.ID,
			ImageID:      &cur.ID,
		})
		if err != nil {
			return err
		}
		if err := s.stores.Images.SetLifecycle(ctx, tx, cur.ID, models.LifecycleActive, nil); err != nil {
			return err
		}
		if g.Lifecycle == models.LifecycleSoftDeleted {
			if err := s.stores.Generations.SetLifecycle(ctx, tx, g.ID, models.LifecycleActive, nil); err != nil {
				return err
			}
		}
		cur.Lifecycle = models.LifecycleActive
		cur.DiscardedAt = nil
		out = cur
		return nil
	})
	if errors.Is(err, models.ErrInsufficientFunds) {
		s.metrics.LedgerRejected("debit")
	}
	if err != nil {
		return nil, err
	}
	s.afterDebit(ctx, accountID, balance, RestoreImageFee)
	return out, nil
}

// SoftDeleteGeneration moves a generation to the trash. No refund.
func (s *LifecycleService) SoftDeleteGeneration(ctx context.Context, accountID, id uuid.UUID) error {
	return database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		g, err := s.ownedForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if g.Lifecycle == models.LifecycleSoftDeleted {
			return nil
		}
		now := s.now()
		return s.stores.Generations.SetLifecycle(ctx, tx, g.ID, models.LifecycleSoftDeleted, &now)
	})
}

// RestoreGeneration takes a generation out of the trash and un-discards all of
// its photos, charging half a credit per restored photo. Either everything is
// restored and charged or nothing changes.
func (s *LifecycleService) RestoreGeneration(ctx context.Context, accountID, id uuid.UUID) (*models.Generation, error) {
	var (
		out     *models.Generation
		fee     models.Credits
		balance models.Credits
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		fee = 0
		g, err := s.ownedForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		discarded := 0
		if g.Kind == models.KindPhoto {
			discarded, err = s.stores.Images.CountByLifecycle(ctx, tx, g.ID, models.LifecycleDiscarded)
			if err != nil {
				return err
			}
		}
		if g.Lifecycle != models.LifecycleSoftDeleted && discarded == 0 {
			return models.ErrInvalidState
		}
		fee = RestoreGenerationFee(g.Kind, discarded)
		if fee > 0 {
			balance, err = s.ledger.Debit(ctx, tx, ledger.Entry{
				AccountID:    accountID,
				Amount:       fee,
				Type:         models.CreditEntryRestoreFee,
				GenerationID: &g.ID,
			})
			if err != nil {
				return err
			}
			if _, err := s.stores.Images.RestoreDiscarded(ctx, tx, g.ID); err != nil {
				return err
			}
		}
		if g.Lifecycle == models.LifecycleSoftDeleted {
			if err := s.stores.Generations.SetLifecycle(ctx, tx, g.ID, models.LifecycleActive, nil); err != nil {
				return err
			}
		}
		out, err = s.stores.Generations.GetByID(ctx, tx, g.ID)
		return err
	})
	if errors.Is(err, models.ErrInsufficientFunds) {
		s.metrics.LedgerRejected("debit")
	}
	if err != nil {
		return nil, err
	}
	if fee > 0 {
		s.afterDebit(ctx, accountID, balance, fee)
	}
	s.logger.Info("generation restored", "generation_id", id, "account_id", accountID, "fee", fee.String())
	return out, nil
}

// PermanentlyDelete purges a trashed generation with all its images. For a
// live generation it deletes only the individually discarded images.
func (s *LifecycleService) PermanentlyDelete(ctx context.Context, accountID, id uuid.UUID) (PurgeResult, error) {
	var (
		res   PurgeResult
		blobs blobCleanup
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		res, blobs = PurgeResult{}, blobCleanup{}
		g, err := s.ownedForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		return s.deleteLocked(ctx, tx, g, &res, &blobs)
	})
	if err != nil {
		return PurgeResult{}, err
	}
	s.finishPurge(ctx, SourceUser, res, blobs)
	return res, nil
}

// EmptyTrash permanently deletes every trashed generation of the account and
// every discarded image of its live generations. Other images are untouched.
func (s *LifecycleService) EmptyTrash(ctx context.Context, accountID uuid.UUID) (PurgeResult, error) {
	var (
		res   PurgeResult
		blobs blobCleanup
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		res, blobs = PurgeResult{}, blobCleanup{}
		trashed, err := s.stores.Generations.ListTrashIDs(ctx, tx, accountID)
		if err != nil {
			return err
		}
		live, err := s.stores.Images.ListLiveGenerationsWithDiscarded(ctx, tx, accountID)
		if err != nil {
			return err
		}
		ids := append(trashed, live...)
		// Lock in a stable order so concurrent bulk deletes cannot deadlock.
		slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
		ids = slices.Compact(ids)
		for _, id := range ids {
			g, err := s.ownedForUpdate(ctx, tx, accountID, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := s.deleteLocked(ctx, tx, g, &res, &blobs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}
	s.finishPurge(ctx, SourceUser, res, blobs)
	s.logger.Info("trash emptied", "account_id", accountID, "generations", res.Generations, "images", res.Images)
	return res, nil
}

// PurgeExpired purges up to limit trashed generations soft-deleted at or
// before cutoff. Candidates locked by a concurrent restore are skipped.
func (s *LifecycleService) PurgeExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrPurgeLimit
	}
	var (
		res   PurgeResult
		blobs blobCleanup
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		res, blobs = PurgeResult{}, blobCleanup{}
		ids, err := s.stores.Generations.ListExpiredTrash(ctx, tx, cutoff, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			g, err := s.stores.Generations.GetByIDForUpdate(ctx, tx, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if g.Lifecycle != models.LifecycleSoftDeleted {
				continue
			}
			if err := s.deleteLocked(ctx, tx, g, &res, &blobs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.finishPurge(ctx, SourceSweeper, res, blobs)
	return res.Generations, nil
}

// deleteLocked applies permanent delete to a generation whose row is locked.
func (s *LifecycleService) deleteLocked(ctx context.Context, tx pgx.Tx, g *models.Generation, res *PurgeResult, blobs *blobCleanup) error {
	if g.Lifecycle != models.LifecycleSoftDeleted {
		removed, err := s.stores.Images.DeleteByGeneration(ctx, tx, g.ID, true)
		if err != nil {
			return err
		}
		for _, img := range removed {
			blobs.keys = append(blobs.keys, img.StorageKey)
		}
		res.Images += len(removed)
		return nil
	}
	removed, err := s.stores.Images.DeleteByGeneration(ctx, tx, g.ID, false)
	if err != nil {
		return err
	}
	if err := s.stores.Generations.MarkPurged(ctx, tx, g.ID, s.now()); err != nil {
		return err
	}
	blobs.prefixes = append(blobs.prefixes, storage.GenerationPrefix(g.ID))
	res.Generations++
	res.Images += len(removed)
	return nil
}

type blobCleanup struct {
	keys     []string
	prefixes []string
}

// finishPurge removes stored assets after the purge committed. Failures are
// logged only; the records are already gone.
func (s *LifecycleService) finishPurge(ctx context.Context, source string, res PurgeResult, blobs blobCleanup) {
	s.metrics.Purged(source, res.Generations+res.Images)
	if s.objects == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, k := range blobs.keys {
		if k == "" {
			continue
		}
		if err := s.objects.Delete(ctx, k); err != nil {
			s.logger.Warn("delete asset", "key", k, "error", err)
		}
	}
	for _, p := range blobs.prefixes {
		if err := s.objects.DeletePrefix(ctx, p); err != nil {
			s.logger.Warn("delete generation assets", "prefix", p, "error", err)
		}
	}
}

// ErrPurgeLimit is returned for a non-positive sweep batch size.
var ErrPurgeLimit = fmt.Errorf("%w: purge batch size must be positive", ErrValidation)
