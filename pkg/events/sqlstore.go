package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coffee-location-dedup/pkg/database"
)

// SQLEventStore stores events in a SQL table with ordered IDs
// Table schema:
// CREATE TABLE IF NOT EXISTS dedup_events (
//   id BIGINT AUTO_INCREMENT PRIMARY KEY,
//   run_id CHAR(36) NOT NULL,
//   type VARCHAR(64) NOT NULL,
//   at DATETIME(6) NOT NULL,
//   actor VARCHAR(255) NULL,
//   data JSON NOT NULL,
//   KEY idx_run_id (run_id),
//   KEY idx_run_time (run_id, id)
// );
// NOTE: JSON may be emulated as LONGTEXT on older MySQL variants.

type SQLEventStore struct {
	db *database.DB
}

func NewSQLEventStore(db *database.DB) *SQLEventStore {
	s := &SQLEventStore{db: db}
	if err := s.ensureTable(); err != nil {
		// Best effort; don't crash app start
		fmt.Printf("[events] ensure table error: %v\n", err)
	}
	return s
}

// Ensure interface conformance
var _ EventStore = (*SQLEventStore)(nil)

func (s *SQLEventStore) ensureTable() error {
	qry := `CREATE TABLE IF NOT EXISTS dedup_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id CHAR(36) NOT NULL,
		type VARCHAR(64) NOT NULL,
		at DATETIME(6) NOT NULL,
		actor VARCHAR(255) NULL,
		data JSON NOT NULL,
		KEY idx_run_id (run_id),
		KEY idx_run_time (run_id, id)
	)`
	_, err := s.db.Conn().Exec(qry)
	return err
}

func (s *SQLEventStore) Append(ctx context.Context, ev ...Event) error {
	if len(ev) == 0 {
		return nil
	}
	tx, err := s.db.Conn().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO dedup_events (run_id, type, at, actor, data) VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range ev {
		b, err := e.MarshalData()
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		at := e.Timestamp()
		if at.IsZero() {
			at = time.Now()
		}

		if _, err := stmt.ExecContext(ctx, e.RunID(), e.Type(), at, e.Actor(), string(b)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLEventStore) ListByRun(ctx context.Context, runID string) ([]StoredEvent, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT id, run_id, type, at, actor, data FROM dedup_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var actor sql.NullString
		var dataStr string
		if err := rows.Scan(&se.Seq, &se.RunID, &se.Type, &se.Ts, &actor, &dataStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if actor.Valid {
			v := actor.String
			se.Actor = &v
		}
		se.Payload = []byte(dataStr)
		out = append(out, se)
	}
	return out, rows.Err()
}

func (s *SQLEventStore) ReplayRun(ctx context.Context, runID string) (*RunState, error) {
	events, err := s.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Replay(events), nil
}
