package repository

import (
	"context"
	"database/sql"
	"fmt"

	"coffee-location-dedup/internal/domain"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/database"
)

// SQLUnitOfWorkFactory starts SQL-backed UnitOfWork transactions.
type SQLUnitOfWorkFactory struct {
	db *database.DB
}

func NewSQLUnitOfWorkFactory(db *database.DB) *SQLUnitOfWorkFactory {
	return &SQLUnitOfWorkFactory{db: db}
}

// Ensure interface conformance
var _ domain.UnitOfWorkFactory = (*SQLUnitOfWorkFactory)(nil)

func (f *SQLUnitOfWorkFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := f.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("uow: begin tx: %w", err)
	}
	return &SQLUnitOfWork{db: f.db, tx: tx}, nil
}

// SQLUnitOfWork coordinates operations using a single *sql.Tx.
type SQLUnitOfWork struct {
	db *database.DB
	tx *sql.Tx
	// simple guard to avoid double commit/rollback
	closed bool
}

// compile-time checks: SQLUnitOfWork implements UnitOfWork and repo methods
var _ domain.UnitOfWork = (*SQLUnitOfWork)(nil)

func (u *SQLUnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return nil
	}
	tx, err := u.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("uow: begin: %w", err)
	}
	u.tx = tx
	return nil
}

func (u *SQLUnitOfWork) Commit() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.tx == nil {
		return nil
	}
	return u.tx.Commit()
}

func (u *SQLUnitOfWork) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.tx == nil {
		return nil
	}
	return u.tx.Rollback()
}

// LocationRepository methods (writes go through the transaction)
func (u *SQLUnitOfWork) InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error) {
	if u.tx == nil {
		return 0, fmt.Errorf("uow: no active transaction for InsertLocationsCtx")
	}
	return u.db.InsertLocationsTx(ctx, u.tx, locations)
}

func (u *SQLUnitOfWork) MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for MarkMergedCtx")
	}
	return u.db.MarkMergedTx(ctx, u.tx, canonicalID, discardedIDs)
}

// Reads can be served outside the tx as needed
func (u *SQLUnitOfWork) GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error) {
	return u.db.GetActiveLocationsCtx(ctx)
}
func (u *SQLUnitOfWork) GetLocationByIDCtx(ctx context.Context, id int64) (*models.StoredLocation, error) {
	return u.db.GetLocationByIDCtx(ctx, id)
}
func (u *SQLUnitOfWork) GetLocationsFilteredCtx(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]models.StoredLocation, int, error) {
	return u.db.GetLocationsFilteredCtx(ctx, search, activeOnly, limit, offset)
}
func (u *SQLUnitOfWork) GetLocationStatisticsCtx(ctx context.Context) (*models.LocationStats, error) {
	return u.db.GetLocationStatisticsCtx(ctx)
}

// DuplicateLogRepository methods (writes via tx)
func (u *SQLUnitOfWork) CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for CreateLogEntriesCtx")
	}
	return u.db.CreateLogEntriesTx(ctx, u.tx, entries)
}

func (u *SQLUnitOfWork) ResolveFlagCtx(ctx context.Context, id string, action string, reviewer string) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for ResolveFlagCtx")
	}
	return u.db.ResolveFlagTx(ctx, u.tx, id, action, reviewer)
}

func (u *SQLUnitOfWork) GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	return u.db.GetLogEntriesByRunCtx(ctx, runID)
}
func (u *SQLUnitOfWork) GetFlaggedEntriesCtx(ctx context.Context, limit, offset int) ([]models.DuplicateLogEntry, int, error) {
	return u.db.GetFlaggedEntriesCtx(ctx, limit, offset)
}
func (u *SQLUnitOfWork) GetLogEntryByIDCtx(ctx context.Context, id string) (*models.DuplicateLogEntry, error) {
	return u.db.GetLogEntryByIDCtx(ctx, id)
}

// RunRepository methods
func (u *SQLUnitOfWork) CreateRunCtx(ctx context.Context, run *models.Run) error {
	// NOTE: run rows are created before the pipeline transaction so the run is
	// visible to pollers while it executes; we keep the non-tx method here.
	return u.db.CreateRunCtx(ctx, run)
}

func (u *SQLUnitOfWork) UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for UpdateRunStatusCtx")
	}
	return u.db.UpdateRunStatusTx(ctx, u.tx, id, status, errMsg)
}

func (u *SQLUnitOfWork) FinishRunCtx(ctx context.Context, run *models.Run) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for FinishRunCtx")
	}
	return u.db.FinishRunTx(ctx, u.tx, run)
}

func (u *SQLUnitOfWork) GetRunByIDCtx(ctx context.Context, id string) (*models.Run, error) {
	return u.db.GetRunByIDCtx(ctx, id)
}
func (u *SQLUnitOfWork) GetRecentRunsCtx(ctx context.Context, limit int) ([]models.Run, error) {
	return u.db.GetRecentRunsCtx(ctx, limit)
}

// AuditLogRepository methods (writes via tx)
func (u *SQLUnitOfWork) CreateAuditLogCtx(ctx context.Context, log *domain.FlagReviewAuditLog) error {
	if u.tx == nil {
		return fmt.Errorf("uow: no active transaction for CreateAuditLogCtx")
	}
	return u.db.CreateAuditLogTx(ctx, u.tx, log)
}

func (u *SQLUnitOfWork) GetAuditLogsByEntryCtx(ctx context.Context, entryID string) ([]domain.FlagReviewAuditLog, error) {
	return u.db.GetAuditLogsByEntryCtx(ctx, entryID)
}
