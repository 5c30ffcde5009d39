//go:build integration

package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/pkg/database"
)

func pint(i int) *int { return &i }

// startMySQL runs an isolated MySQL container and connects through the
// package under test, which also provisions the schema.
func startMySQL(t *testing.T) *database.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=dedup",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/dedup?parseTime=true&loc=UTC",
		resource.GetPort("3306/tcp"))

	var db *database.DB
	pool.MaxWait = 2 * time.Minute
	if err := pool.Retry(func() error {
		var e error
		db, e = database.New(dsn)
		return e
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_RunPersistenceLifecycle(t *testing.T) {
	db := startMySQL(t)
	ctx := context.Background()

	batch := []models.Location{
		{ID: 1, Name: "Kopi Kenangan Sudirman", Latitude: -6.2088, Longitude: 106.8456, Followers: pint(500)},
		{ID: 2, Name: "Kopi Kenangan Sudirman ", Latitude: -6.20885, Longitude: 106.84565, Followers: pint(300)},
		{ID: 3, Name: "Fore Coffee Senopati", Latitude: -6.2300, Longitude: 106.8100},
	}

	inserted, err := db.InsertLocationsCtx(ctx, batch)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("expected 3 inserts, got %d", inserted)
	}

	// Re-inserting the same batch is a no-op via the data hash.
	inserted, err = db.InsertLocationsCtx(ctx, batch)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("duplicate batch must not insert, got %d", inserted)
	}

	run := &models.Run{
		ID:                 "11111111-1111-1111-1111-111111111111",
		Status:             constants.RunStatusRunning,
		Source:             constants.SourceDatabase,
		TextThreshold:      constants.DefaultTextThreshold,
		DistanceThresholdM: constants.DefaultDistanceThresholdM,
		TotalRecords:       3,
		StartedAt:          time.Now().UTC(),
	}
	if err := db.CreateRunCtx(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Persist the outcome the way a run does: one transaction.
	tx, err := db.Conn().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := db.MarkMergedTx(ctx, tx, 1, []int64{2}); err != nil {
		t.Fatalf("mark merged: %v", err)
	}
	entries := []models.DuplicateLogEntry{
		{RunID: run.ID, LocationID1: 1, LocationID2: 2, SimilarityScore: 0.97, DistanceMeters: 7.2, ActionTaken: constants.ActionMerged},
		{RunID: run.ID, LocationID1: 1, LocationID2: 3, SimilarityScore: 0.82, DistanceMeters: 12.0, ActionTaken: constants.ActionFlagged},
	}
	if err := db.CreateLogEntriesTx(ctx, tx, entries); err != nil {
		t.Fatalf("log entries: %v", err)
	}
	run.Status = constants.RunStatusCompleted
	run.Clusters, run.Merged, run.Flagged = 1, 1, 1
	if err := db.FinishRunTx(ctx, tx, run); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	active, err := db.GetActiveLocationsCtx(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active records after merge, got %d", len(active))
	}

	merged, err := db.GetLocationByIDCtx(ctx, 2)
	if err != nil {
		t.Fatalf("get merged: %v", err)
	}
	if merged == nil || merged.Active || merged.CanonicalID == nil || *merged.CanonicalID != 1 {
		t.Fatalf("record 2 must be inactive pointing at 1: %+v", merged)
	}

	got, err := db.GetLogEntriesByRunCtx(ctx, run.ID)
	if err != nil {
		t.Fatalf("entries by run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(got))
	}
	for _, e := range got {
		if e.ID == "" {
			t.Fatalf("log entry must carry a generated id: %+v", e)
		}
	}

	stored, err := db.GetRunByIDCtx(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored == nil || stored.Status != constants.RunStatusCompleted || stored.FinishedAt == nil {
		t.Fatalf("run must be completed with a finish time: %+v", stored)
	}
}

func TestDB_ResolveFlag(t *testing.T) {
	db := startMySQL(t)
	ctx := context.Background()

	if _, err := db.InsertLocationsCtx(ctx, []models.Location{
		{ID: 10, Name: "Tuku Cipete", Latitude: -6.26, Longitude: 106.80},
		{ID: 11, Name: "Toko Kopi Tuku Cipete", Latitude: -6.2601, Longitude: 106.8001},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	run := &models.Run{Status: constants.RunStatusCompleted, Source: constants.SourceDatabase, StartedAt: time.Now().UTC()}
	if err := db.CreateRunCtx(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	entries := []models.DuplicateLogEntry{
		{RunID: run.ID, LocationID1: 10, LocationID2: 11, SimilarityScore: 0.83, DistanceMeters: 15, ActionTaken: constants.ActionFlagged},
	}
	if err := db.CreateLogEntriesCtx(ctx, entries); err != nil {
		t.Fatalf("log entries: %v", err)
	}

	flagged, total, err := db.GetFlaggedEntriesCtx(ctx, 10, 0)
	if err != nil {
		t.Fatalf("flagged: %v", err)
	}
	if total != 1 || len(flagged) != 1 {
		t.Fatalf("expected one open flag, got total=%d len=%d", total, len(flagged))
	}

	if err := db.ResolveFlagCtx(ctx, flagged[0].ID, constants.ActionIgnored, "reviewer-a"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// A second resolution must not overwrite the verdict.
	if err := db.ResolveFlagCtx(ctx, flagged[0].ID, constants.ActionMerged, "reviewer-b"); err == nil {
		t.Fatal("expected an error resolving an already-resolved flag")
	}

	entry, err := db.GetLogEntryByIDCtx(ctx, flagged[0].ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.ActionTaken != constants.ActionIgnored || entry.Reviewer == nil || *entry.Reviewer != "reviewer-a" {
		t.Fatalf("unexpected resolved entry: %+v", entry)
	}

	stats, err := db.GetLocationStatisticsCtx(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Flagged != 0 {
		t.Fatalf("no flags should remain open: %+v", stats)
	}
}
