package domain

import (
	"context"

	"coffee-location-dedup/internal/models"
)

// LocationRepository defines data access for coffee-shop location records.
type LocationRepository interface {
	// InsertLocationsCtx stores a batch, skipping rows whose data hash is
	// already present. Returns the number of rows actually inserted.
	InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error)
	GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error)
	GetLocationByIDCtx(ctx context.Context, id int64) (*models.StoredLocation, error)
	GetLocationsFilteredCtx(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]models.StoredLocation, int, error)
	// MarkMergedCtx deactivates the discarded rows and points them at the
	// record that survived.
	MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error
	GetLocationStatisticsCtx(ctx context.Context) (*models.LocationStats, error)
}

// DuplicateLogRepository defines access to the merge and flag decision trail.
type DuplicateLogRepository interface {
	CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error
	GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error)
	GetFlaggedEntriesCtx(ctx context.Context, limit, offset int) ([]models.DuplicateLogEntry, int, error)
	GetLogEntryByIDCtx(ctx context.Context, id string) (*models.DuplicateLogEntry, error)
	// ResolveFlagCtx closes a flagged entry with the reviewer's verdict:
	// merged or ignored.
	ResolveFlagCtx(ctx context.Context, id string, action string, reviewer string) error
}

// RunRepository defines access to detection run bookkeeping.
type RunRepository interface {
	CreateRunCtx(ctx context.Context, run *models.Run) error
	UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error
	// FinishRunCtx writes the final counters and the finished timestamp.
	FinishRunCtx(ctx context.Context, run *models.Run) error
	GetRunByIDCtx(ctx context.Context, id string) (*models.Run, error)
	GetRecentRunsCtx(ctx context.Context, limit int) ([]models.Run, error)
}

// AuditLogRepository records who resolved which flagged pair, and how.
type AuditLogRepository interface {
	CreateAuditLogCtx(ctx context.Context, log *FlagReviewAuditLog) error
	GetAuditLogsByEntryCtx(ctx context.Context, entryID string) ([]FlagReviewAuditLog, error)
}

// Repository aggregates the repos commonly required by services.
type Repository interface {
	LocationRepository
	DuplicateLogRepository
	RunRepository
	AuditLogRepository
}
