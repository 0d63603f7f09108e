package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/execution"
	"github.com/inaiurai/studio/internal/models"
)

// GenerationStore is implemented by repository.GenerationRepo.
type GenerationStore interface {
	Create(ctx context.Context, q database.DBTX, g *models.Generation) error
	GetByID(ctx context.Context, q database.DBTX, id uuid.UUID) (*models.Generation, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Generation, error)
	ListByAccount(ctx context.Context, q database.DBTX, accountID uuid.UUID, lc models.Lifecycle, limit int) ([]*models.Generation, error)
	AdvanceStatus(ctx context.Context, q database.DBTX, id uuid.UUID, to models.GenerationStatus) (bool, error)
	Finalize(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.GenerationStatus, completedCount int, errMsg *string) error
	AppendMedia(ctx context.Context, tx pgx.Tx, id uuid.UUID, url string) error
	SetLifecycle(ctx context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, softDeletedAt *time.Time) error
	MarkPurged(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	ListExpiredTrash(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListTrashIDs(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error)
}

// ImageStore is implemented by repository.ImageRepo.
type ImageStore interface {
	Insert(ctx context.Context, tx pgx.Tx, img *models.Image) (bool, error)
	GetByID(ctx context.Context, q database.DBTX, id uuid.UUID) (*models.Image, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Image, error)
	ListByGeneration(ctx context.Context, q database.DBTX, generationID uuid.UUID) ([]*models.Image, error)
	CountByLifecycle(ctx context.Context, q database.DBTX, generationID uuid.UUID, lc models.Lifecycle) (int, error)
	SetLifecycle(ctx context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, discardedAt *time.Time) error
	RestoreDiscarded(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (int, error)
	DeleteByGeneration(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, onlyDiscarded bool) ([]*models.Image, error)
	ListLiveGenerationsWithDiscarded(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error)
}

// UnitStore is implemented by repository.UnitRepo.
type UnitStore interface {
	CreateBatch(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, total int) error
	Get(ctx context.Context, q database.DBTX, generationID uuid.UUID, index int) (*models.Unit, error)
	Resolve(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, index int, status string, errMsg *string) (bool, error)
	Tally(ctx context.Context, q database.DBTX, generationID uuid.UUID) (models.UnitTally, error)
	ListAbandoned(ctx context.Context, q database.DBTX, olderThan time.Time, limit int) ([]*models.Unit, error)
}

// Stores groups the record stores the services share.
type Stores struct {
	Generations GenerationStore
	Images      ImageStore
	Units       UnitStore
}

// Enqueuer inserts generation jobs inside the caller's transaction so they
// exist only if the reserve commits. Implemented by queue.Queue.
type Enqueuer interface {
	EnqueueGenerationTx(ctx context.Context, tx pgx.Tx, jobs []execution.GenerateJobArgs) error
}
