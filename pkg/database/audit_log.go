package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coffee-location-dedup/internal/domain"
	errs "coffee-location-dedup/pkg/errors"
)

// CreateAuditLogCtx inserts a new flag review audit entry
func (db *DB) CreateAuditLogCtx(ctx context.Context, log *domain.FlagReviewAuditLog) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO flag_audit_log
	          (entry_id, reviewer, action, reason, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	result, err := db.conn.ExecContext(ctx, query,
		log.EntryID,
		log.Reviewer,
		log.Action,
		log.Reason,
		log.CreatedAt,
	)

	if err != nil {
		return errs.NewDB("CreateAuditLogCtx", "failed to insert audit log", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errs.NewDB("CreateAuditLogCtx", "failed to get last insert ID", err)
	}

	log.ID = id
	return nil
}

// CreateAuditLogTx inserts a flag review audit entry within an existing transaction.
func (db *DB) CreateAuditLogTx(ctx context.Context, tx *sql.Tx, log *domain.FlagReviewAuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO flag_audit_log
	          (entry_id, reviewer, action, reason, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		log.EntryID,
		log.Reviewer,
		log.Action,
		log.Reason,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log (tx): %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID (tx): %w", err)
	}

	log.ID = id
	return nil
}

// GetAuditLogsByEntryCtx retrieves all audit entries for a flagged pair
func (db *DB) GetAuditLogsByEntryCtx(ctx context.Context, entryID string) ([]domain.FlagReviewAuditLog, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, entry_id, reviewer, action, reason, created_at
	          FROM flag_audit_log
	          WHERE entry_id = ?
	          ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, entryID)
	if err != nil {
		return nil, errs.NewDB("GetAuditLogsByEntryCtx", "failed to query audit logs", err)
	}
	defer rows.Close()

	var logs []domain.FlagReviewAuditLog
	for rows.Next() {
		var log domain.FlagReviewAuditLog
		var reviewer sql.NullString
		var reason sql.NullString

		if err := rows.Scan(
			&log.ID,
			&log.EntryID,
			&reviewer,
			&log.Action,
			&reason,
			&log.CreatedAt,
		); err != nil {
			return nil, errs.NewDB("GetAuditLogsByEntryCtx", "failed to scan audit log", err)
		}

		if reviewer.Valid {
			log.Reviewer = &reviewer.String
		}

		if reason.Valid {
			log.Reason = &reason.String
		}

		logs = append(logs, log)
	}

	if err = rows.Err(); err != nil {
		return nil, errs.NewDB("GetAuditLogsByEntryCtx", "row iteration error", err)
	}

	return logs, nil
}

// GetAuditLogsByReviewerCtx retrieves audit entries for a specific reviewer with pagination
func (db *DB) GetAuditLogsByReviewerCtx(ctx context.Context, reviewer string, limit int, offset int) ([]domain.FlagReviewAuditLog, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	// Get total count
	var total int
	countQuery := `SELECT COUNT(*) FROM flag_audit_log WHERE reviewer = ?`
	if err := db.conn.QueryRowContext(ctx, countQuery, reviewer).Scan(&total); err != nil {
		return nil, 0, errs.NewDB("GetAuditLogsByReviewerCtx", "failed to count audit logs", err)
	}

	// Get logs
	query := `SELECT id, entry_id, reviewer, action, reason, created_at
	          FROM flag_audit_log
	          WHERE reviewer = ?
	          ORDER BY created_at DESC
	          LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, reviewer, limit, offset)
	if err != nil {
		return nil, 0, errs.NewDB("GetAuditLogsByReviewerCtx", "failed to query audit logs", err)
	}
	defer rows.Close()

	var logs []domain.FlagReviewAuditLog
	for rows.Next() {
		var log domain.FlagReviewAuditLog
		var reviewerVal sql.NullString
		var reason sql.NullString

		if err := rows.Scan(
			&log.ID,
			&log.EntryID,
			&reviewerVal,
			&log.Action,
			&reason,
			&log.CreatedAt,
		); err != nil {
			return nil, 0, errs.NewDB("GetAuditLogsByReviewerCtx", "failed to scan audit log", err)
		}

		if reviewerVal.Valid {
			log.Reviewer = &reviewerVal.String
		}

		if reason.Valid {
			log.Reason = &reason.String
		}

		logs = append(logs, log)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, errs.NewDB("GetAuditLogsByReviewerCtx", "row iteration error", err)
	}

	return logs, total, nil
}
