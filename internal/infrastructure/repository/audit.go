package repository

import (
	"context"

	"coffee-location-dedup/internal/domain"
)

// GetAuditLogsByReviewerCtx returns a reviewer's decision history with pagination.
func (r *SQLRepository) GetAuditLogsByReviewerCtx(ctx context.Context, reviewer string, limit, offset int) ([]domain.FlagReviewAuditLog, int, error) {
	return r.db.GetAuditLogsByReviewerCtx(ctx, reviewer, limit, offset)
}
