package storage

import (
	"context"
	"database/sql"
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for CLI runs that work against a local file
// instead of the shared MySQL instance.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS locations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            latitude REAL NOT NULL,
            longitude REAL NOT NULL,
            address TEXT,
            area_sqm REAL,
            rating REAL,
            followers INTEGER,
            price_per_sqm REAL,
            monthly_rent REAL,
            data_hash TEXT NOT NULL,
            active INTEGER NOT NULL DEFAULT 1,
            canonical_id INTEGER,
            created_at TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_hash ON locations(data_hash);`,
		`CREATE TABLE IF NOT EXISTS duplicate_log (
            id TEXT PRIMARY KEY,
            run_id TEXT NOT NULL,
            location_id_1 INTEGER NOT NULL,
            location_id_2 INTEGER NOT NULL,
            similarity_score REAL NOT NULL,
            distance_meters REAL NOT NULL,
            action_taken TEXT NOT NULL,
            reviewer TEXT,
            created_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_duplicate_log_run ON duplicate_log(run_id);`,
		`CREATE TABLE IF NOT EXISTS dedup_runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            source TEXT NOT NULL,
            text_threshold REAL NOT NULL,
            distance_threshold_m REAL NOT NULL,
            total_records INTEGER NOT NULL DEFAULT 0,
            skipped_records INTEGER NOT NULL DEFAULT 0,
            clusters INTEGER NOT NULL DEFAULT 0,
            merged INTEGER NOT NULL DEFAULT 0,
            flagged INTEGER NOT NULL DEFAULT 0,
            error TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveLocations inserts a batch, skipping rows whose data hash already
// exists. Returns the number of rows actually inserted.
func (s *Store) SaveLocations(ctx context.Context, locations []models.Location) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for i := range locations {
		l := &locations[i]
		var idArg interface{}
		if l.ID > 0 {
			idArg = l.ID
		}
		createdAt := l.CreatedAt
		if createdAt == nil {
			now := time.Now().UTC()
			createdAt = &now
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO locations
            (id, name, latitude, longitude, address, area_sqm, rating, followers, price_per_sqm, monthly_rent, data_hash, created_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			idArg, l.Name, l.Latitude, l.Longitude, l.Address, l.AreaSqm,
			l.Rating, l.Followers, l.PricePerSqm, l.MonthlyRent, l.ComputeHash(), createdAt)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// ActiveLocations returns every active row ordered by id.
func (s *Store) ActiveLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, latitude, longitude, address, area_sqm, rating, followers, price_per_sqm, monthly_rent, created_at
        FROM locations WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		var l models.Location
		var address sql.NullString
		var areaSqm, rating, pricePerSqm, monthlyRent sql.NullFloat64
		var followers sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &address, &areaSqm,
			&rating, &followers, &pricePerSqm, &monthlyRent, &createdAt); err != nil {
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
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// MarkMerged deactivates the discarded rows and points them at the canonical.
func (s *Store) MarkMerged(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	if len(discardedIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range discardedIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE locations SET active = 0, canonical_id = ? WHERE id = ?`, canonicalID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendLogEntries writes audit rows for a run, assigning ids where missing.
func (s *Store) AppendLogEntries(ctx context.Context, entries []models.DuplicateLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO duplicate_log
            (id, run_id, location_id_1, location_id_2, similarity_score, distance_meters, action_taken, reviewer, created_at)
            VALUES(?,?,?,?,?,?,?,?,?)`,
			e.ID, e.RunID, e.LocationID1, e.LocationID2, e.SimilarityScore,
			e.DistanceMeters, e.ActionTaken, e.Reviewer, e.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EntriesByRun returns the audit rows one run produced, oldest first.
func (s *Store) EntriesByRun(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, location_id_1, location_id_2, similarity_score, distance_meters, action_taken, reviewer, created_at
        FROM duplicate_log WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DuplicateLogEntry
	for rows.Next() {
		var e models.DuplicateLogEntry
		var reviewer sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.LocationID1, &e.LocationID2, &e.SimilarityScore,
			&e.DistanceMeters, &e.ActionTaken, &reviewer, &e.CreatedAt); err != nil {
			return nil, err
		}
		if reviewer.Valid {
			e.Reviewer = &reviewer.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FlaggedEntries returns the open review queue, newest first.
func (s *Store) FlaggedEntries(ctx context.Context, limit int) ([]models.DuplicateLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, location_id_1, location_id_2, similarity_score, distance_meters, action_taken, reviewer, created_at
        FROM duplicate_log WHERE action_taken = ? ORDER BY created_at DESC, id ASC LIMIT ?`, constants.ActionFlagged, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DuplicateLogEntry
	for rows.Next() {
		var e models.DuplicateLogEntry
		var reviewer sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.LocationID1, &e.LocationID2, &e.SimilarityScore,
			&e.DistanceMeters, &e.ActionTaken, &reviewer, &e.CreatedAt); err != nil {
			return nil, err
		}
		if reviewer.Valid {
			e.Reviewer = &reviewer.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordRun inserts a run row, stamping id and start time when absent.
func (s *Store) RecordRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO dedup_runs
        (id, status, source, text_threshold, distance_threshold_m, total_records, skipped_records, clusters, merged, flagged, error, started_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Status, run.Source, run.TextThreshold, run.DistanceThresholdM,
		run.TotalRecords, run.SkippedRecords, run.Clusters, run.Merged, run.Flagged,
		run.Error, run.StartedAt)
	return err
}

// FinishRun writes the final counters and finished timestamp.
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	_, err := s.db.ExecContext(ctx, `UPDATE dedup_runs SET status=?, total_records=?, skipped_records=?, clusters=?, merged=?, flagged=?, error=?, finished_at=? WHERE id=?`,
		run.Status, run.TotalRecords, run.SkippedRecords, run.Clusters,
		run.Merged, run.Flagged, run.Error, run.FinishedAt, run.ID)
	return err
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, source, text_threshold, distance_threshold_m, total_records, skipped_records, clusters, merged, flagged, error, started_at, finished_at
        FROM dedup_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Status, &r.Source, &r.TextThreshold, &r.DistanceThresholdM,
			&r.TotalRecords, &r.SkippedRecords, &r.Clusters, &r.Merged, &r.Flagged,
			&errMsg, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			r.Error = &errMsg.String
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all rows so a fresh detection can start from scratch.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"duplicate_log", "dedup_runs", "locations"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}
