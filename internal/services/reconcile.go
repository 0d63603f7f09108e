package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inaiurai/studio/internal/execution"
	"github.com/inaiurai/studio/internal/models"
)

// AbandonedUnitGrace is how long a pending unit without a live job is left
// before it is failed.
const AbandonedUnitGrace = time.Minute

// AbandonedReason is recorded on units failed by reconciliation.
const AbandonedReason = "job ended without recording an outcome"

var _ execution.Reconciler = (*GenerationService)(nil)

// ReconcileAbandoned fails pending units whose job no longer exists, refunding
// each through RecordUnitFailure. It returns how many units it resolved.
func (s *GenerationService) ReconcileAbandoned(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("%w: reconcile batch size must be positive", ErrValidation)
	}
	units, err := s.stores.Units.ListAbandoned(ctx, s.db, s.now().Add(-AbandonedUnitGrace), limit)
	if err != nil {
		return 0, fmt.Errorf("list abandoned units: %w", err)
	}
	failed := 0
	for _, u := range units {
		err := s.RecordUnitFailure(ctx, u.GenerationID, u.Index, AbandonedReason)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return failed, fmt.Errorf("fail abandoned unit %s/%d: %w", u.GenerationID, u.Index, err)
		}
		failed++
	}
	return failed, nil
}
