package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/models"
)

// UnitRepo tracks the per-output outcome of each job in a batch.
type UnitRepo struct{}

func NewUnitRepo() *UnitRepo {
	return &UnitRepo{}
}

func (r *UnitRepo) CreateBatch(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, total int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO generation_units (generation_id, item_index)
		SELECT $1, i FROM generate_series(0, $2 - 1) AS i
	`, generationID, total)
	return err
}

func (r *UnitRepo) Get(ctx context.Context, q database.DBTX, generationID uuid.UUID, index int) (*models.Unit, error) {
	var u models.Unit
	err := q.QueryRow(ctx, `
		SELECT generation_id, item_index, status, error_message, updated_at
		FROM generation_units WHERE generation_id = $1 AND item_index = $2
	`, generationID, index).Scan(&u.GenerationID, &u.Index, &u.Status, &u.ErrorMessage, &u.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Resolve moves a pending unit to its outcome. It reports false when the unit
// was already resolved, so a replayed job changes nothing.
func (r *UnitRepo) Resolve(ctx context.Context, tx pgx.Tx, generationID uuid.UUID, index int, status string, errMsg *string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_units SET status = $3, error_message = $4, updated_at = now()
		WHERE generation_id = $1 AND item_index = $2 AND status = 'pending'
	`, generationID, index, status, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UnitRepo) Tally(ctx context.Context, q database.DBTX, generationID uuid.UUID) (models.UnitTally, error) {
	var t models.UnitTally
	err := q.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'succeeded'),
			count(*) FILTER (WHERE status = 'failed')
		FROM generation_units WHERE generation_id = $1
	`, generationID).Scan(&t.Total, &t.Succeeded, &t.Failed)
	return t, err
}

// ListAbandoned returns pending units last touched at or before olderThan
// whose generate job is no longer live in river_job (discarded, cancelled,
// completed or removed). Purged generations are skipped.
func (r *UnitRepo) ListAbandoned(ctx context.Context, q database.DBTX, olderThan time.Time, limit int) ([]*models.Unit, error) {
	rows, err := q.Query(ctx, `
		SELECT u.generation_id, u.item_index, u.status, u.error_message, u.updated_at
		FROM generation_units u
		JOIN generations g ON g.id = u.generation_id
		WHERE u.status = 'pending'
		  AND g.lifecycle <> 'purged'
		  AND u.updated_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM river_job j
			WHERE j.kind = 'generate_media'
			  AND j.args->>'generation_id' = u.generation_id::text
			  AND (j.args->>'item_index')::int = u.item_index
			  AND j.state IN ('available', 'pending', 'retryable', 'running', 'scheduled')
		  )
		ORDER BY u.updated_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Unit
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.GenerationID, &u.Index, &u.Status, &u.ErrorMessage, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
