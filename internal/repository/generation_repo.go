package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/models"
)

const generationColumns = `id, account_id, kind, status, lifecycle, requested_count, completed_count, params,
	cost_cents, unit_cost_cents, media_urls, error_message, soft_deleted_at, completed_at, created_at, updated_at`

type GenerationRepo struct{}

func NewGenerationRepo() *GenerationRepo {
	return &GenerationRepo{}
}

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(&g.ID, &g.AccountID, &g.Kind, &g.Status, &g.Lifecycle, &g.RequestedCount, &g.CompletedCount, &g.Params,
		&g.Cost, &g.UnitCost, &g.MediaURLs, &g.ErrorMessage, &g.SoftDeletedAt, &g.CompletedAt, &g.CreatedAt, &g.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GenerationRepo) Create(ctx context.Context, q database.DBTX, g *models.Generation) error {
	if g.MediaURLs == nil {
		g.MediaURLs = []string{}
	}
	return q.QueryRow(ctx, `
		INSERT INTO generations (id, account_id, kind, status, lifecycle, requested_count, params, cost_cents, unit_cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, g.ID, g.AccountID, g.Kind, g.Status, g.Lifecycle, g.RequestedCount, g.Params, int64(g.Cost), int64(g.UnitCost)).
		Scan(&g.CreatedAt, &g.UpdatedAt)
}

// GetByID returns a generation that has not been purged.
func (r *GenerationRepo) GetByID(ctx context.Context, q database.DBTX, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(q.QueryRow(ctx, `
		SELECT `+generationColumns+`
		FROM generations WHERE id = $1 AND lifecycle <> 'purged'
	`, id))
}

// GetByIDForUpdate locks the generation row. A concurrent purge that commits
// first makes this return models.ErrNotFound.
func (r *GenerationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(tx.QueryRow(ctx, `
		SELECT `+generationColumns+`
		FROM generations WHERE id = $1 AND lifecycle <> 'purged'
		FOR UPDATE
	`, id))
}

func (r *GenerationRepo) ListByAccount(ctx context.Context, q database.DBTX, accountID uuid.UUID, lc models.Lifecycle, limit int) ([]*models.Generation, error) {
	rows, err := q.Query(ctx, `
		SELECT `+generationColumns+`
		FROM generations WHERE account_id = $1 AND lifecycle = $2
		ORDER BY created_at DESC LIMIT $3
	`, accountID, lc, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// AdvanceStatus moves the generation forward to `to` if its current status
// allows it. It reports false when the row was already at or past `to`.
func (r *GenerationRepo) AdvanceStatus(ctx context.Context, q database.DBTX, id uuid.UUID, to models.GenerationStatus) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE generations SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, statusStrings(models.PredecessorsOf(to)))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize records the terminal outcome of a generation.
func (r *GenerationRepo) Finalize(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.GenerationStatus, completedCount int, errMsg *string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE generations
		SET status = $2, completed_count = $3, error_message = $4, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = ANY($5)
	`, id, status, completedCount, errMsg, statusStrings(models.PredecessorsOf(status)))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidState
	}
	return nil
}

// AppendMedia adds a media URL to a non-photo generation; replays are no-ops.
func (r *GenerationRepo) AppendMedia(ctx context.Context, tx pgx.Tx, id uuid.UUID, url string) error {
	_, err := tx.Exec(ctx, `
		UPDATE generations SET media_urls = array_append(media_urls, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(media_urls))
	`, id, url)
	return err
}

func (r *GenerationRepo) SetLifecycle(ctx context.Context, tx pgx.Tx, id uuid.UUID, lc models.Lifecycle, softDeletedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE generations SET lifecycle = $2, soft_deleted_at = $3, updated_at = now()
		WHERE id = $1 AND lifecycle <> 'purged'
	`, id, lc, softDeletedAt)
	return err
}

// MarkPurged tombstones the generation. Its images must be deleted separately.
func (r *GenerationRepo) MarkPurged(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE generations SET lifecycle = 'purged', purged_at = $2, media_urls = '{}', updated_at = now()
		WHERE id = $1
	`, id, at)
	return err
}

// ListExpiredTrash locks up to limit soft-deleted generations whose retention
// window ended at or before cutoff. Rows held by other transactions are skipped.
func (r *GenerationRepo) ListExpiredTrash(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM generations
		WHERE lifecycle = 'soft_deleted' AND soft_deleted_at <= $1
		ORDER BY soft_deleted_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *GenerationRepo) ListTrashIDs(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM generations WHERE account_id = $1 AND lifecycle = 'soft_deleted'
	`, accountID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func statusStrings(in []models.GenerationStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
