package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/config"
	errs "coffee-location-dedup/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

type DB struct {
	conn         *sql.DB
	stmts        map[string]*sql.Stmt
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	// Use configurable or default settings
	conn.SetMaxOpenConns(50) // Default optimized settings
	conn.SetMaxIdleConns(15)
	conn.SetConnMaxLifetime(10 * time.Minute)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{
		conn:         conn,
		stmts:        make(map[string]*sql.Stmt),
		readTimeout:  constants.DBReadTimeoutDefault,
		writeTimeout: constants.DBWriteTimeoutDefault,
	}

	// Schema must exist before preparing; MySQL validates statements
	// server-side at prepare time.
	if err := db.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	if err := db.prepareStatements(); err != nil {
		return nil, errs.NewDB("database.New", "failed to prepare statements", err)
	}

	return db, nil
}

// NewWithConfig creates a database connection with custom configuration settings
func NewWithConfig(databaseURL string, cfg *config.Config) (*DB, error) {
	conn, err := sql.Open("mysql", databaseURL)
	if err != nil {
		return nil, err
	}

	// Use configuration values for connection pool settings
	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)
	conn.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	rt := cfg.DBReadTimeout
	if rt == 0 {
		rt = constants.DBReadTimeoutDefault
	}
	wt := cfg.DBWriteTimeout
	if wt == 0 {
		wt = constants.DBWriteTimeoutDefault
	}

	db := &DB{
		conn:         conn,
		stmts:        make(map[string]*sql.Stmt),
		readTimeout:  rt,
		writeTimeout: wt,
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	if err := db.prepareStatements(); err != nil {
		return nil, errs.NewDB("database.NewWithConfig", "failed to prepare statements", err)
	}

	return db, nil
}

// prepareStatements prepares frequently used SQL statements
func (db *DB) prepareStatements() error {
	statements := map[string]string{
		"insertLocation": `INSERT IGNORE INTO locations
                          (id, name, latitude, longitude, address, area_sqm, rating, followers,
                           price_per_sqm, monthly_rent, data_hash, created_at)
                          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, NOW()))`,
		"insertLogEntry": `INSERT INTO duplicate_log
                          (id, run_id, location_id_1, location_id_2, similarity_score,
                           distance_meters, action_taken, reviewer, created_at)
                          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"resolveFlag": `UPDATE duplicate_log SET action_taken = ?, reviewer = ?
                       WHERE id = ? AND action_taken = ?`,
	}

	for name, query := range statements {
		stmt, err := db.conn.Prepare(query)
		if err != nil {
			return errs.NewDB("database.prepareStatements", fmt.Sprintf("failed to prepare statement %s", name), err)
		}
		db.stmts[name] = stmt
	}

	return nil
}

// Close closes database connection and prepared statements
func (db *DB) Close() error {
	for _, stmt := range db.stmts {
		stmt.Close()
	}
	return db.conn.Close()
}

// withReadTimeout creates a context with standard read timeout.
func (db *DB) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.readTimeout)
}

// withWriteTimeout creates a context with standard write timeout.
func (db *DB) withWriteTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, db.writeTimeout)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS locations (
        id BIGINT NOT NULL AUTO_INCREMENT,
        name VARCHAR(255) NOT NULL,
        latitude DOUBLE NOT NULL,
        longitude DOUBLE NOT NULL,
        address VARCHAR(512) NULL,
        area_sqm DOUBLE NULL,
        rating DOUBLE NULL,
        followers INT NULL,
        price_per_sqm DOUBLE NULL,
        monthly_rent DOUBLE NULL,
        data_hash CHAR(32) NOT NULL,
        active TINYINT(1) NOT NULL DEFAULT 1,
        canonical_id BIGINT NULL,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        UNIQUE KEY uq_locations_data_hash (data_hash),
        KEY idx_locations_active (active),
        KEY idx_locations_coords (latitude, longitude)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS duplicate_log (
        id CHAR(36) NOT NULL,
        run_id CHAR(36) NOT NULL,
        location_id_1 BIGINT NOT NULL,
        location_id_2 BIGINT NOT NULL,
        similarity_score DOUBLE NOT NULL,
        distance_meters DOUBLE NOT NULL,
        action_taken VARCHAR(16) NOT NULL,
        reviewer VARCHAR(128) NULL,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        KEY idx_duplicate_log_run (run_id),
        KEY idx_duplicate_log_action (action_taken)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS dedup_runs (
        id CHAR(36) NOT NULL,
        status VARCHAR(16) NOT NULL,
        source VARCHAR(32) NOT NULL,
        text_threshold DOUBLE NOT NULL,
        distance_threshold_m DOUBLE NOT NULL,
        total_records INT NOT NULL DEFAULT 0,
        skipped_records INT NOT NULL DEFAULT 0,
        clusters INT NOT NULL DEFAULT 0,
        merged INT NOT NULL DEFAULT 0,
        flagged INT NOT NULL DEFAULT 0,
        error TEXT NULL,
        started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        finished_at TIMESTAMP NULL,
        PRIMARY KEY (id),
        KEY idx_dedup_runs_started (started_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS flag_audit_log (
        id BIGINT NOT NULL AUTO_INCREMENT,
        entry_id CHAR(36) NOT NULL,
        reviewer VARCHAR(128) NULL,
        action VARCHAR(16) NOT NULL,
        reason TEXT NULL,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (id),
        KEY idx_flag_audit_entry (entry_id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the tables the engine writes to. Statements are
// idempotent so it is safe to run on every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return errs.NewDB("database.EnsureSchema", "failed to apply schema statement", err)
		}
	}
	return nil
}

// --- Location operations ---

// InsertLocationsCtx stores a batch of locations, skipping rows whose data
// hash already exists. Returns the number of rows actually inserted.
func (db *DB) InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error) {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.NewDB("database.InsertLocationsCtx", "failed to begin transaction", err)
	}

	inserted, err := db.InsertLocationsTx(ctx, tx, locations)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.NewDB("database.InsertLocationsCtx", "failed to commit transaction", err)
	}
	return inserted, nil
}

// GetActiveLocationsCtx returns every active location ordered by id.
func (db *DB) GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, name, latitude, longitude, address, area_sqm, rating, followers,
        price_per_sqm, monthly_rent, created_at
        FROM locations
        WHERE active = 1
        ORDER BY id ASC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.NewDB("database.GetActiveLocationsCtx", "failed to query active locations", err)
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		l, err := db.scanLocationRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetActiveLocationsCtx", "failed to scan location row", err)
		}
		locations = append(locations, *l)
	}

	if err = rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetActiveLocationsCtx", "row iteration error", err)
	}

	return locations, nil
}

// GetLocationByIDCtx fetches a single stored location, merged or active.
func (db *DB) GetLocationByIDCtx(ctx context.Context, id int64) (*models.StoredLocation, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, name, latitude, longitude, address, area_sqm, rating, followers,
        price_per_sqm, monthly_rent, created_at, data_hash, active, canonical_id, updated_at
        FROM locations
        WHERE id = ?`

	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, errs.NewDB("database.GetLocationByIDCtx", "failed to query location", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errs.NewDB("database.GetLocationByIDCtx", "row iteration error", err)
		}
		return nil, errs.ErrNotFound
	}

	sl, err := db.scanStoredLocationRow(rows)
	if err != nil {
		return nil, errs.NewDB("database.GetLocationByIDCtx", "failed to scan location row", err)
	}
	return sl, nil
}

// GetLocationsFilteredCtx returns a page of stored locations plus the total
// count matching the filter. Search matches name or address.
func (db *DB) GetLocationsFilteredCtx(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]models.StoredLocation, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	if activeOnly {
		whereClause += " AND active = 1"
	}
	if search != "" {
		whereClause += " AND (name LIKE ? OR address LIKE ?)"
		searchPattern := "%" + search + "%"
		args = append(args, searchPattern, searchPattern)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM locations %s`, whereClause)
	var total int
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to get filtered locations count: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, name, latitude, longitude, address, area_sqm, rating,
        followers, price_per_sqm, monthly_rent, created_at, data_hash, active, canonical_id, updated_at
        FROM locations
        %s
        ORDER BY id ASC
        LIMIT ? OFFSET ?`, whereClause)
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query filtered locations: %w", err)
	}
	defer rows.Close()

	var locations []models.StoredLocation
	for rows.Next() {
		sl, err := db.scanStoredLocationRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan location row: %w", err)
		}
		locations = append(locations, *sl)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return locations, total, nil
}

// MarkMergedCtx deactivates the discarded rows and points them at the
// cluster canonical.
func (db *DB) MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.MarkMergedCtx", "failed to begin transaction", err)
	}
	if err := db.MarkMergedTx(ctx, tx, canonicalID, discardedIDs); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.MarkMergedCtx", "failed to commit transaction", err)
	}
	return nil
}

// GetLocationStatisticsCtx returns store-level counters for the stats endpoint.
func (db *DB) GetLocationStatisticsCtx(ctx context.Context) (*models.LocationStats, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var stats models.LocationStats
	locQuery := `SELECT COUNT(*),
        COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END), 0)
        FROM locations`
	if err := db.conn.QueryRowContext(ctx, locQuery).Scan(&stats.Total, &stats.Active, &stats.Merged); err != nil {
		return nil, errs.NewDB("database.GetLocationStatisticsCtx", "failed to count locations", err)
	}

	flagQuery := `SELECT COUNT(*) FROM duplicate_log WHERE action_taken = ?`
	if err := db.conn.QueryRowContext(ctx, flagQuery, constants.ActionFlagged).Scan(&stats.Flagged); err != nil {
		return nil, errs.NewDB("database.GetLocationStatisticsCtx", "failed to count flagged entries", err)
	}

	return &stats, nil
}

// scanLocationRow scans a location row without the storage bookkeeping columns.
func (db *DB) scanLocationRow(rows *sql.Rows) (*models.Location, error) {
	var l models.Location
	var address sql.NullString
	var areaSqm, rating, pricePerSqm, monthlyRent sql.NullFloat64
	var followers sql.NullInt64
	var createdAt sql.NullTime

	err := rows.Scan(
		&l.ID, &l.Name, &l.Latitude, &l.Longitude, &address, &areaSqm,
		&rating, &followers, &pricePerSqm, &monthlyRent, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if address.Valid {
		l.Address = &address.String
	}
	if areaSqm.Valid {
		l.AreaSqm = &areaSqm.Float64
	}
	if rating.Valid {
		l.Rating = &rating.Float64
	}
	if followers.Valid {
		f := int(followers.Int64)
		l.Followers = &f
	}
	if pricePerSqm.Valid {
		l.PricePerSqm = &pricePerSqm.Float64
	}
	if monthlyRent.Valid {
		l.MonthlyRent = &monthlyRent.Float64
	}
	if createdAt.Valid {
		l.CreatedAt = &createdAt.Time
	}

	return &l, nil
}

// scanStoredLocationRow scans a full location row including hash, active
// flag, canonical pointer and update timestamp.
func (db *DB) scanStoredLocationRow(rows *sql.Rows) (*models.StoredLocation, error) {
	var sl models.StoredLocation
	var address sql.NullString
	var areaSqm, rating, pricePerSqm, monthlyRent sql.NullFloat64
	var followers sql.NullInt64
	var createdAt, updatedAt sql.NullTime
	var canonicalID sql.NullInt64

	err := rows.Scan(
		&sl.ID, &sl.Name, &sl.Latitude, &sl.Longitude, &address, &areaSqm,
		&rating, &followers, &pricePerSqm, &monthlyRent, &createdAt,
		&sl.DataHash, &sl.Active, &canonicalID, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if address.Valid {
		sl.Address = &address.String
	}
	if areaSqm.Valid {
		sl.AreaSqm = &areaSqm.Float64
	}
	if rating.Valid {
		sl.Rating = &rating.Float64
	}
	if followers.Valid {
		f := int(followers.Int64)
		sl.Followers = &f
	}
	if pricePerSqm.Valid {
		sl.PricePerSqm = &pricePerSqm.Float64
	}
	if monthlyRent.Valid {
		sl.MonthlyRent = &monthlyRent.Float64
	}
	if createdAt.Valid {
		sl.CreatedAt = &createdAt.Time
	}
	if canonicalID.Valid {
		sl.CanonicalID = &canonicalID.Int64
	}
	if updatedAt.Valid {
		sl.UpdatedAt = &updatedAt.Time
	}

	return &sl, nil
}

// --- Duplicate log operations ---

// CreateLogEntriesCtx appends audit rows for one run. Entries without an id
// get one assigned, visible to the caller after return.
func (db *DB) CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.CreateLogEntriesCtx", "failed to begin transaction", err)
	}
	if err := db.CreateLogEntriesTx(ctx, tx, entries); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.CreateLogEntriesCtx", "failed to commit transaction", err)
	}
	return nil
}

// GetLogEntriesByRunCtx returns every log entry written by one run.
func (db *DB) GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, run_id, location_id_1, location_id_2, similarity_score,
        distance_meters, action_taken, reviewer, created_at
        FROM duplicate_log
        WHERE run_id = ?
        ORDER BY created_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errs.NewDB("database.GetLogEntriesByRunCtx", "failed to query log entries", err)
	}
	defer rows.Close()

	var entries []models.DuplicateLogEntry
	for rows.Next() {
		e, err := db.scanLogEntryRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetLogEntriesByRunCtx", "failed to scan log entry row", err)
		}
		entries = append(entries, *e)
	}

	if err = rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetLogEntriesByRunCtx", "row iteration error", err)
	}

	return entries, nil
}

// GetFlaggedEntriesCtx returns the open review queue, newest first, plus the
// total queue size.
func (db *DB) GetFlaggedEntriesCtx(ctx context.Context, limit, offset int) ([]models.DuplicateLogEntry, int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var total int
	countQuery := `SELECT COUNT(*) FROM duplicate_log WHERE action_taken = ?`
	if err := db.conn.QueryRowContext(ctx, countQuery, constants.ActionFlagged).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to get flagged entries count: %w", err)
	}

	query := `SELECT id, run_id, location_id_1, location_id_2, similarity_score,
        distance_meters, action_taken, reviewer, created_at
        FROM duplicate_log
        WHERE action_taken = ?
        ORDER BY created_at DESC, id ASC
        LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, constants.ActionFlagged, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query flagged entries: %w", err)
	}
	defer rows.Close()

	var entries []models.DuplicateLogEntry
	for rows.Next() {
		e, err := db.scanLogEntryRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan log entry row: %w", err)
		}
		entries = append(entries, *e)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, total, nil
}

// GetLogEntryByIDCtx fetches one log entry by its id.
func (db *DB) GetLogEntryByIDCtx(ctx context.Context, id string) (*models.DuplicateLogEntry, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, run_id, location_id_1, location_id_2, similarity_score,
        distance_meters, action_taken, reviewer, created_at
        FROM duplicate_log
        WHERE id = ?`

	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, errs.NewDB("database.GetLogEntryByIDCtx", "failed to query log entry", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errs.NewDB("database.GetLogEntryByIDCtx", "row iteration error", err)
		}
		return nil, errs.ErrNotFound
	}

	e, err := db.scanLogEntryRow(rows)
	if err != nil {
		return nil, errs.NewDB("database.GetLogEntryByIDCtx", "failed to scan log entry row", err)
	}
	return e, nil
}

// ResolveFlagCtx closes a flagged entry with the reviewer's verdict. Only
// entries still flagged can be resolved; anything else reports not found.
func (db *DB) ResolveFlagCtx(ctx context.Context, id string, action string, reviewer string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	stmt := db.stmts["resolveFlag"]
	if stmt == nil {
		return errs.NewDB("database.ResolveFlagCtx", "prepared statement resolveFlag not initialized", nil)
	}

	res, err := stmt.ExecContext(ctx, action, reviewer, id, constants.ActionFlagged)
	if err != nil {
		return errs.NewDB("database.ResolveFlagCtx", "failed to resolve flag", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.NewDB("database.ResolveFlagCtx", "failed to read rows affected", err)
	}
	if affected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// scanLogEntryRow scans a duplicate log row.
func (db *DB) scanLogEntryRow(rows *sql.Rows) (*models.DuplicateLogEntry, error) {
	var e models.DuplicateLogEntry
	var reviewer sql.NullString

	err := rows.Scan(
		&e.ID, &e.RunID, &e.LocationID1, &e.LocationID2, &e.SimilarityScore,
		&e.DistanceMeters, &e.ActionTaken, &reviewer, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reviewer.Valid {
		e.Reviewer = &reviewer.String
	}

	return &e, nil
}

// --- Run operations ---

// CreateRunCtx records a new run. A zero StartedAt is stamped with now.
func (db *DB) CreateRunCtx(ctx context.Context, run *models.Run) error {
	if run == nil {
		return errs.NewDB("database.CreateRunCtx", "nil run", nil)
	}
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `INSERT INTO dedup_runs
        (id, status, source, text_threshold, distance_threshold_m, total_records,
         skipped_records, clusters, merged, flagged, error, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		run.ID, run.Status, run.Source, run.TextThreshold, run.DistanceThresholdM,
		run.TotalRecords, run.SkippedRecords, run.Clusters, run.Merged, run.Flagged,
		run.Error, run.StartedAt,
	)
	if err != nil {
		return errs.NewDB("database.CreateRunCtx", "failed to insert run", err)
	}
	return nil
}

// UpdateRunStatusCtx moves a run through its lifecycle states.
func (db *DB) UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	query := `UPDATE dedup_runs SET status = ?, error = ? WHERE id = ?`
	if _, err := db.conn.ExecContext(ctx, query, status, errMsg, id); err != nil {
		return errs.NewDB("database.UpdateRunStatusCtx", "failed to update run status", err)
	}
	return nil
}

// FinishRunCtx writes the final counters and the finished timestamp.
func (db *DB) FinishRunCtx(ctx context.Context, run *models.Run) error {
	if run == nil {
		return errs.NewDB("database.FinishRunCtx", "nil run", nil)
	}
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewDB("database.FinishRunCtx", "failed to begin transaction", err)
	}
	if err := db.FinishRunTx(ctx, tx, run); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewDB("database.FinishRunCtx", "failed to commit transaction", err)
	}
	return nil
}

// GetRunByIDCtx fetches one run by its id.
func (db *DB) GetRunByIDCtx(ctx context.Context, id string) (*models.Run, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, status, source, text_threshold, distance_threshold_m, total_records,
        skipped_records, clusters, merged, flagged, error, started_at, finished_at
        FROM dedup_runs
        WHERE id = ?`

	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, errs.NewDB("database.GetRunByIDCtx", "failed to query run", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errs.NewDB("database.GetRunByIDCtx", "row iteration error", err)
		}
		return nil, errs.ErrNotFound
	}

	r, err := db.scanRunRow(rows)
	if err != nil {
		return nil, errs.NewDB("database.GetRunByIDCtx", "failed to scan run row", err)
	}
	return r, nil
}

// GetRecentRunsCtx returns the latest runs, newest first.
func (db *DB) GetRecentRunsCtx(ctx context.Context, limit int) ([]models.Run, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, status, source, text_threshold, distance_threshold_m, total_records,
        skipped_records, clusters, merged, flagged, error, started_at, finished_at
        FROM dedup_runs
        ORDER BY started_at DESC, id ASC
        LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errs.NewDB("database.GetRecentRunsCtx", "failed to query runs", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		r, err := db.scanRunRow(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetRecentRunsCtx", "failed to scan run row", err)
		}
		runs = append(runs, *r)
	}

	if err = rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetRecentRunsCtx", "row iteration error", err)
	}

	return runs, nil
}

// scanRunRow scans a dedup run row.
func (db *DB) scanRunRow(rows *sql.Rows) (*models.Run, error) {
	var r models.Run
	var errMsg sql.NullString
	var finishedAt sql.NullTime

	err := rows.Scan(
		&r.ID, &r.Status, &r.Source, &r.TextThreshold, &r.DistanceThresholdM,
		&r.TotalRecords, &r.SkippedRecords, &r.Clusters, &r.Merged, &r.Flagged,
		&errMsg, &r.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if errMsg.Valid {
		r.Error = &errMsg.String
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}

	return &r, nil
}

// Conn exposes the raw connection for unit-of-work transaction management.
func (db *DB) Conn() *sql.DB { return db.conn }

// --- Transaction variants used by the unit of work ---

// InsertLocationsTx stores a batch within an existing transaction.
func (db *DB) InsertLocationsTx(ctx context.Context, tx *sql.Tx, locations []models.Location) (int, error) {
	stmt := db.stmts["insertLocation"]
	if stmt == nil {
		return 0, fmt.Errorf("prepared statement insertLocation not initialized")
	}

	txStmt := tx.StmtContext(ctx, stmt)
	inserted := 0
	for i := range locations {
		l := &locations[i]
		var idArg interface{}
		if l.ID > 0 {
			idArg = l.ID
		}
		res, err := txStmt.ExecContext(ctx,
			idArg, l.Name, l.Latitude, l.Longitude, l.Address, l.AreaSqm,
			l.Rating, l.Followers, l.PricePerSqm, l.MonthlyRent,
			l.ComputeHash(), l.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert location %q (tx): %w", l.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read rows affected (tx): %w", err)
		}
		if n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// MarkMergedTx deactivates discarded rows within an existing transaction.
func (db *DB) MarkMergedTx(ctx context.Context, tx *sql.Tx, canonicalID int64, discardedIDs []int64) error {
	if len(discardedIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(discardedIDs)), ",")
	query := fmt.Sprintf(`UPDATE locations SET active = 0, canonical_id = ? WHERE id IN (%s)`, placeholders)

	args := make([]interface{}, 0, len(discardedIDs)+1)
	args = append(args, canonicalID)
	for _, id := range discardedIDs {
		args = append(args, id)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark locations merged (tx): %w", err)
	}
	return nil
}

// CreateLogEntriesTx appends audit rows within an existing transaction.
func (db *DB) CreateLogEntriesTx(ctx context.Context, tx *sql.Tx, entries []models.DuplicateLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt := db.stmts["insertLogEntry"]
	if stmt == nil {
		return fmt.Errorf("prepared statement insertLogEntry not initialized")
	}

	txStmt := tx.StmtContext(ctx, stmt)
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := txStmt.ExecContext(ctx,
			e.ID, e.RunID, e.LocationID1, e.LocationID2, e.SimilarityScore,
			e.DistanceMeters, e.ActionTaken, e.Reviewer, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert log entry (tx): %w", err)
		}
	}
	return nil
}

// UpdateRunStatusTx updates run state within an existing transaction.
func (db *DB) UpdateRunStatusTx(ctx context.Context, tx *sql.Tx, id string, status string, errMsg *string) error {
	query := `UPDATE dedup_runs SET status = ?, error = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, status, errMsg, id); err != nil {
		return fmt.Errorf("failed to update run status (tx): %w", err)
	}
	return nil
}

// FinishRunTx writes final run counters within an existing transaction.
func (db *DB) FinishRunTx(ctx context.Context, tx *sql.Tx, run *models.Run) error {
	if run == nil {
		return fmt.Errorf("nil run")
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	query := `UPDATE dedup_runs SET status = ?, total_records = ?, skipped_records = ?,
        clusters = ?, merged = ?, flagged = ?, error = ?, finished_at = ?
        WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query,
		run.Status, run.TotalRecords, run.SkippedRecords, run.Clusters,
		run.Merged, run.Flagged, run.Error, run.FinishedAt, run.ID,
	); err != nil {
		return fmt.Errorf("failed to finish run (tx): %w", err)
	}
	return nil
}

// ResolveFlagTx closes a flagged entry within an existing transaction.
func (db *DB) ResolveFlagTx(ctx context.Context, tx *sql.Tx, id string, action string, reviewer string) error {
	stmt := db.stmts["resolveFlag"]
	if stmt == nil {
		return fmt.Errorf("prepared statement resolveFlag not initialized")
	}

	res, err := tx.StmtContext(ctx, stmt).ExecContext(ctx, action, reviewer, id, constants.ActionFlagged)
	if err != nil {
		return fmt.Errorf("failed to resolve flag (tx): %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected (tx): %w", err)
	}
	if affected == 0 {
		return errs.ErrNotFound
	}
	return nil
}
