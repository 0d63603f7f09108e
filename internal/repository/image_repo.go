package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/models"
)

const imageColumns = `id, generation_id, image_index, media_url, storage_key, lifecycle, discarded_at, created_at`

type ImageRepo struct{}

func NewImageRepo() *ImageRepo {
	return &ImageRepo{}
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.GenerationID, &img.Index, &img.MediaURL, &img.StorageKey, &img.Lifecycle, &img.DiscardedAt, &img.CreatedAt)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func scanImages(rows pgx.Rows) ([]*models.Image, error) {
	defer rows.Close()
	var list []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, img)
	}
	return list, rows.Err()
}

// Insert stores an image keyed by (generation_id, image_index). It reports
// false when that slot was already filled, which makes job replays no-ops.
func (r *ImageRepo) Insert(ctx context.Context, tx pgx.Tx, img *models.Image) (bool, error) {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO generated_images (id, generation_id, image_index, media_url, storage_key, lifecycle)
		VALUES ($1, $2, $3, $4, $5, 'active')
		ON CONFLICT (generation_id, image_index) DO NOTHING
	`, img.ID, img.GenerationID, img.Index, img.MediaURL, img.StorageKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ImageRepo) GetByID(ctx context.Context, q database.DBTX, id uuid.UUID) (*models.Image, error) {
	return scanImage(q.QueryRow(ctx, `SELECT `+imageColumns+` FROM generated_images WHERE id = $1`, id))
}

// GetByIDForUpdate locks the image row. Lock the parent generation first.
func (r *ImageRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Image, error) {
	return scanImage(tx.QueryRow(ctx, `SELECT `+imageColumns+` FROM generated_images WHERE id = $1 FOR UPDATE`, id))
}

func (r *ImageRepo) ListByGeneration(ctx context.Context, q database.DBTX, generationID uuid.UUID) ([]*models.Image, error) {
	rows, err := q.Query(ctx, `
		SELECT `+imageColumns+` FROM generated_images WHERE generation_id = $1 ORDER BY image_index
	`, generationID)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

func (r *ImageRepo) CountByLifecycle(ctx context.Context, q database.DBTX, generationID uuid.UUID, lc models.Lifecycle) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM generated_images WHERE generation_id = $1 AND lifecycle = $2
	`, generationID, lc).Scan(&n)
	return n, err
}

func (r *ImageRepo) SetLifecycle(ctx context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, discardedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE generated_images SET lifecycle = $2, discarded_at = $3 WHERE id = $1
	`, id, lc, discardedAt)
	return err
}

// RestoreDiscarded un-discards every discarded image of the generation.
func (r *ImageRepo) RestoreDiscarded(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generated_images SET lifecycle = 'active', discarded_at = NULL
		WHERE generation_id = $1 AND lifecycle = 'discarded'
	`, generationID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByGeneration removes the generation's images, or only its discarded
// ones, and returns the deleted rows so their blobs can be removed.
func (r *ImageRepo) DeleteByGeneration(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, onlyDiscarded bool) ([]*models.Image, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM generated_images
		WHERE generation_id = $1 AND (NOT $2 OR lifecycle = 'discarded')
		RETURNING `+imageColumns+`
	`, generationID, onlyDiscarded)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

// ListLiveGenerationsWithDiscarded returns active generations of the account
// that hold at least one individually discarded image.
func (r *ImageRepo) ListLiveGenerationsWithDiscarded(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT g.id
		FROM generations g
		JOIN generated_images i ON i.generation_id = g.id
		WHERE g.account_id = $1 AND g.lifecycle = 'active' AND i.lifecycle = 'discarded'
	`, accountID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}
