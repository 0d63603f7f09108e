package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/execution"
	"github.com/inaiurai/studio/internal/ledger"
	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/notify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// List views.
const (
	ViewLive  = "live"
	ViewTrash = "trash"
)

// GenerationService starts generations, serves their status, and records
// worker progress.
type GenerationService struct {
	base
	queue     Enqueuer
	validator *Validator
}

func NewGenerationService(db database.DB, stores Stores, l ledger.Service, q Enqueuer, v *Validator, opts Options) *GenerationService {
	return &GenerationService{base: newBase(db, stores, l, opts), queue: q, validator: v}
}

var _ execution.Recorder = (*GenerationService)(nil)

// Start validates the request, then in one transaction reserves the cost,
// creates the QUEUED generation with one unit per output, and enqueues one
// job per unit. Nothing is written when the reserve fails.
func (s *GenerationService) Start(ctx context.Context, accountID uuid.UUID, kind models.Kind, raw json.RawMessage) (*models.Generation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	params, err := s.validator.Validate(kind, raw)
	if err != nil {
		return nil, err
	}
	quote := Price(kind, params)
	canonical, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	gen := &models.Generation{
		ID:             uuid.New(),
		AccountID:      accountID,
		Kind:           kind,
		Status:         models.StatusQueued,
		Lifecycle:      models.LifecycleActive,
		RequestedCount: quote.Units,
		Params:         canonical,
		Cost:           quote.Total,
		UnitCost:       quote.UnitCost,
		MediaURLs:      []string{},
	}
	jobs := make([]execution.GenerateJobArgs, quote.Units)
	for i := range jobs {
		jobs[i] = execution.GenerateJobArgs{
			GenerationID: gen.ID,
			AccountID:    accountID,
			MediaKind:    kind,
			Index:        i,
			Total:        quote.Units,
			Params:       canonical,
		}
	}

	var balance models.Credits
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.stores.Generations.Create(ctx, tx, gen); err != nil {
			return fmt.Errorf("create generation: %w", err)
		}
		if err := s.stores.Units.CreateBatch(ctx, tx, gen.ID, quote.Units); err != nil {
			return fmt.Errorf("create units: %w", err)
		}
		b, err := s.ledger.Reserve(ctx, tx, ledger.Entry{
			AccountID:    accountID,
			Amount:       quote.Total,
			GenerationID: &gen.ID,
		})
		if err != nil {
			return err
		}
		balance = b
		return s.queue.EnqueueGenerationTx(ctx, tx, jobs)
	})
	if errors.Is(err, models.ErrInsufficientFunds) {
		s.metrics.LedgerRejected("reserve")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.metrics.GenerationStarted(string(kind))
	s.logger.Info("generation started", "generation_id", gen.ID, "account_id", accountID, "kind", kind, "units", quote.Units, "cost", quote.Total.String())
	s.afterDebit(ctx, accountID, balance, quote.Total)
	return gen, nil
}

// Status is the polling read path.
func (s *GenerationService) Status(ctx context.Context, accountID, id uuid.UUID) (*models.GenerationView, error) {
	g, err := s.owned(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, g)
}

// List returns the account's generations in the live or trash view.
func (s *GenerationService) List(ctx context.Context, accountID uuid.UUID, view string, limit int) ([]*models.GenerationView, error) {
	lc := models.LifecycleActive
	switch view {
	case "", ViewLive:
	case ViewTrash:
		lc = models.LifecycleSoftDeleted
	default:
		return nil, fmt.Errorf("%w: unknown view %q", ErrValidation, view)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	gens, err := s.stores.Generations.ListByAccount(ctx, s.db, accountID, lc, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.GenerationView, 0, len(gens))
	for _, g := range gens {
		v, err := s.view(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *GenerationService) view(ctx context.Context, g *models.Generation) (*models.GenerationView, error) {
	v := &models.GenerationView{
		ID:             g.ID,
		Kind:           g.Kind,
		Status:         g.Status,
		Lifecycle:      g.Lifecycle,
		RequestedCount: g.RequestedCount,
		CompletedCount: g.CompletedCount,
		Media:          []models.MediaItem{},
		Error:          g.ErrorMessage,
		SoftDeletedAt:  g.SoftDeletedAt,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
	if g.Kind != models.KindPhoto {
		for i, u := range g.MediaURLs {
			v.Media = append(v.Media, models.MediaItem{Index: i, URL: u})
		}
		return v, nil
	}
	images, err := s.stores.Images.ListByGeneration(ctx, s.db, g.ID)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		id := img.ID
		item := models.MediaItem{ImageID: &id, Index: img.Index, URL: img.MediaURL}
		if img.Lifecycle == models.LifecycleDiscarded {
			item.Watermarked = true
			v.Discarded = append(v.Discarded, item)
			continue
		}
		v.Media = append(v.Media, item)
	}
	return v, nil
}

// UnitDone reports whether the unit already has an outcome. It returns
// models.ErrNotFound once the generation has been purged.
func (s *GenerationService) UnitDone(ctx context.Context, generationID uuid.UUID, index int) (bool, error) {
	if _, err := s.stores.Generations.GetByID(ctx, s.db, generationID); err != nil {
		return false, err
	}
	u, err := s.stores.Units.Get(ctx, s.db, generationID, index)
	if err != nil {
		return false, err
	}
	return u.Status != models.UnitPending, nil
}

func (s *GenerationService) MarkRunning(ctx context.Context, generationID uuid.UUID) error {
	_, err := s.stores.Generations.AdvanceStatus(ctx, s.db, generationID, models.StatusRunning)
	return err
}

func (s *GenerationService) MarkDownloading(ctx context.Context, generationID uuid.UUID) error {
	_, err := s.stores.Generations.AdvanceStatus(ctx, s.db, generationID, models.StatusDownloading)
	return err
}

type finalized struct {
	accountID    uuid.UUID
	generationID uuid.UUID
	status       models.GenerationStatus
}

// RecordUnitSuccess attaches one output. A unit that is already resolved is
// left alone, so a replayed job neither duplicates media nor touches credits.
func (s *GenerationService) RecordUnitSuccess(ctx context.Context, out execution.UnitOutput) error {
	var (
		fin      *finalized
		resolved bool
		kind     models.Kind
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		fin, resolved = nil, false
		g, err := s.stores.Generations.GetByIDForUpdate(ctx, tx, out.GenerationID)
		if err != nil {
			return err
		}
		kind = g.Kind
		if _, err := s.stores.Generations.AdvanceStatus(ctx, tx, g.ID, models.StatusDownloading); err != nil {
			return err
		}
		ok, err := s.stores.Units.Resolve(ctx, tx, g.ID, out.Index, models.UnitSucceeded, nil)
		if err != nil || !ok {
			return err
		}
		resolved = true
		if g.Kind == models.KindPhoto {
			if _, err := s.stores.Images.Insert(ctx, tx, &models.Image{
				GenerationID: g.ID,
				Index:        out.Index,
				MediaURL:     out.URL,
				StorageKey:   out.StorageKey,
				Lifecycle:    models.LifecycleActive,
			}); err != nil {
				return fmt.Errorf("insert image: %w", err)
			}
		} else if err := s.stores.Generations.AppendMedia(ctx, tx, g.ID, out.URL); err != nil {
			return fmt.Errorf("append media: %w", err)
		}
		fin, err = s.finalize(ctx, tx, g, "")
		return err
	})
	if err != nil {
		return err
	}
	if resolved {
		s.metrics.UnitResolved(string(kind), models.UnitSucceeded)
	}
	s.announce(ctx, fin)
	return nil
}

// RecordUnitFailure marks a unit failed and refunds its cost in the same
// transaction. Repeated calls for the same unit refund once.
func (s *GenerationService) RecordUnitFailure(ctx context.Context, generationID uuid.UUID, index int, reason string) error {
	var (
		fin      *finalized
		resolved bool
		kind     models.Kind
	)
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		fin, resolved = nil, false
		g, err := s.stores.Generations.GetByIDForUpdate(ctx, tx, generationID)
		if err != nil {
			return err
		}
		kind = g.Kind
		ok, err := s.stores.Units.Resolve(ctx, tx, g.ID, index, models.UnitFailed, &reason)
		if err != nil || !ok {
			return err
		}
		resolved = true
		if g.UnitCost > 0 {
			if _, err := s.ledger.Credit(ctx, tx, ledger.Entry{
				AccountID:    g.AccountID,
				Amount:       g.UnitCost,
				Type:         models.CreditEntryRefundUnitFailure,
				GenerationID: &g.ID,
			}); err != nil {
				return fmt.Errorf("refund unit: %w", err)
			}
		}
		fin, err = s.finalize(ctx, tx, g, reason)
		return err
	})
	if err != nil {
		return err
	}
	if resolved {
		s.metrics.UnitResolved(string(kind), models.UnitFailed)
		s.logger.Warn("generation unit failed", "generation_id", generationID, "item_index", index, "error", reason)
	}
	s.announce(ctx, fin)
	return nil
}

// finalize moves the generation to its terminal status once every unit is resolved.
func (s *GenerationService) finalize(ctx context.Context, tx pgx.Tx, g *models.Generation, lastReason string) (*finalized, error) {
	tally, err := s.stores.Units.Tally(ctx, tx, g.ID)
	if err != nil {
		return nil, err
	}
	if !tally.Resolved() {
		return nil, nil
	}
	status := tally.Outcome()
	var msg *string
	if status == models.StatusFailed {
		m := fmt.Sprintf("%d of %d outputs failed", tally.Failed, tally.Total)
		if lastReason != "" {
			m += ": " + lastReason
		}
		msg = &m
	}
	if err := s.stores.Generations.Finalize(ctx, tx, g.ID, status, tally.Succeeded, msg); err != nil {
		return nil, fmt.Errorf("finalize generation: %w", err)
	}
	return &finalized{accountID: g.AccountID, generationID: g.ID, status: status}, nil
}

func (s *GenerationService) announce(ctx context.Context, fin *finalized) {
	if fin == nil {
		return
	}
	typ := notify.EventGenerationCompleted
	if fin.status == models.StatusFailed {
		typ = notify.EventGenerationFailed
	}
	id := fin.generationID
	s.logger.Info("generation finished", "generation_id", id, "account_id", fin.accountID, "status", fin.status)
	s.notifier.Notify(ctx, notify.Event{
		Type:         typ,
		AccountID:    fin.accountID,
		GenerationID: &id,
		Status:       fin.status,
		OccurredAt:   s.now(),
	})
}
