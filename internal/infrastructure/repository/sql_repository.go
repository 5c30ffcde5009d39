package repository

import (
	"context"

	"coffee-location-dedup/internal/domain"
	"coffee-location-dedup/internal/domain/specs"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/database"
)

// SQLRepository is a thin adapter over pkg/database.DB to satisfy domain repositories.
// It keeps business logic decoupled from the SQL layer.
type SQLRepository struct {
	db *database.DB
}

func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Ensure interface compliance at compile time
var _ domain.Repository = (*SQLRepository)(nil)

// LocationRepository methods
func (r *SQLRepository) InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error) {
	return r.db.InsertLocationsCtx(ctx, locations)
}

func (r *SQLRepository) GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error) {
	return r.db.GetActiveLocationsCtx(ctx)
}

func (r *SQLRepository) GetLocationByIDCtx(ctx context.Context, id int64) (*models.StoredLocation, error) {
	return r.db.GetLocationByIDCtx(ctx, id)
}

func (r *SQLRepository) GetLocationsFilteredCtx(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]models.StoredLocation, int, error) {
	return r.db.GetLocationsFilteredCtx(ctx, search, activeOnly, limit, offset)
}

func (r *SQLRepository) MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	return r.db.MarkMergedCtx(ctx, canonicalID, discardedIDs)
}

func (r *SQLRepository) GetLocationStatisticsCtx(ctx context.Context) (*models.LocationStats, error) {
	return r.db.GetLocationStatisticsCtx(ctx)
}

// DuplicateLogRepository methods
func (r *SQLRepository) CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error {
	return r.db.CreateLogEntriesCtx(ctx, entries)
}

func (r *SQLRepository) GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	return r.db.GetLogEntriesByRunCtx(ctx, runID)
}

func (r *SQLRepository) GetFlaggedEntriesCtx(ctx context.Context, limit, offset int) ([]models.DuplicateLogEntry, int, error) {
	return r.db.GetFlaggedEntriesCtx(ctx, limit, offset)
}

func (r *SQLRepository) GetLogEntryByIDCtx(ctx context.Context, id string) (*models.DuplicateLogEntry, error) {
	return r.db.GetLogEntryByIDCtx(ctx, id)
}

func (r *SQLRepository) ResolveFlagCtx(ctx context.Context, id string, action string, reviewer string) error {
	return r.db.ResolveFlagCtx(ctx, id, action, reviewer)
}

// RunRepository methods
func (r *SQLRepository) CreateRunCtx(ctx context.Context, run *models.Run) error {
	return r.db.CreateRunCtx(ctx, run)
}

func (r *SQLRepository) UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error {
	return r.db.UpdateRunStatusCtx(ctx, id, status, errMsg)
}

func (r *SQLRepository) FinishRunCtx(ctx context.Context, run *models.Run) error {
	return r.db.FinishRunCtx(ctx, run)
}

func (r *SQLRepository) GetRunByIDCtx(ctx context.Context, id string) (*models.Run, error) {
	return r.db.GetRunByIDCtx(ctx, id)
}

func (r *SQLRepository) GetRecentRunsCtx(ctx context.Context, limit int) ([]models.Run, error) {
	return r.db.GetRecentRunsCtx(ctx, limit)
}

// AuditLogRepository methods
func (r *SQLRepository) CreateAuditLogCtx(ctx context.Context, log *domain.FlagReviewAuditLog) error {
	return r.db.CreateAuditLogCtx(ctx, log)
}

func (r *SQLRepository) GetAuditLogsByEntryCtx(ctx context.Context, entryID string) ([]domain.FlagReviewAuditLog, error) {
	return r.db.GetAuditLogsByEntryCtx(ctx, entryID)
}

// FilterActiveBySpecCtx fetches active locations and filters them using a Specification.
// Note: This applies the spec in-memory. For large datasets, consider adding SQL translations.
func (r *SQLRepository) FilterActiveBySpecCtx(ctx context.Context, s specs.Specification[models.Location]) ([]models.Location, error) {
	items, err := r.GetActiveLocationsCtx(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Location, 0, len(items))
	for _, l := range items {
		if s.IsSatisfiedBy(ctx, l) {
			out = append(out, l)
		}
	}
	return out, nil
}
