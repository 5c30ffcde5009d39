package processor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
	testutil "coffee-location-dedup/internal/testing"
)

func iptr(i int) *int { return &i }

func mkLoc(id int64, name string, lat, lon float64, followers *int) models.Location {
	return models.Location{ID: id, Name: name, Latitude: lat, Longitude: lon, Followers: followers}
}

// txFactory adapts the mock store to the engine's TxFactory contract.
type txFactory struct{ s *testutil.MockStore }

func (f txFactory) Begin(ctx context.Context) (RunTx, error) { return f.s.Begin(ctx) }

func testEngine(store *testutil.MockStore) *Engine {
	cfg := DefaultEngineConfig()
	cfg.WorkerCount = 1
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond
	cfg.Detector.Parallelism = 1
	if store == nil {
		return NewEngine(nil, nil, cfg, zerolog.Nop())
	}
	return NewEngine(store, txFactory{store}, cfg, zerolog.Nop())
}

func duplicatePair() []models.Location {
	return []models.Location{
		mkLoc(1, "Kopi Kenangan Sudirman", -6.2088, 106.8456, iptr(500)),
		mkLoc(2, "Kopi Kenangan Sudirman ", -6.20885, 106.84565, iptr(300)),
		mkLoc(3, "Fore Coffee Senopati", -6.2300, 106.8100, iptr(50)),
	}
}

func TestRunInline_ResolvesDuplicates(t *testing.T) {
	e := testEngine(nil)

	report, err := e.RunInline(context.Background(), "run-1", duplicatePair(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.RunID != "run-1" {
		t.Fatalf("report must carry the run id: %+v", report)
	}
	if len(report.Survivors) != 2 {
		t.Fatalf("expected two survivors, got %+v", report.Survivors)
	}
	if report.Survivors[0].ID != 1 {
		t.Fatalf("canonical 1 must survive first: %+v", report.Survivors)
	}
	if len(report.LogEntries) != 1 || report.LogEntries[0].ActionTaken != constants.ActionMerged {
		t.Fatalf("expected one merged entry: %+v", report.LogEntries)
	}
}

func TestRunInline_Overrides(t *testing.T) {
	e := testEngine(nil)

	// Push the distance threshold below the pair's separation; the merge
	// must disappear without touching engine config.
	dist := 1.0
	report, err := e.RunInline(context.Background(), "run-2", duplicatePair(), &Overrides{DistanceThresholdM: &dist})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Survivors) != 3 || len(report.LogEntries) != 0 {
		t.Fatalf("override should prevent the merge: %+v", report)
	}

	// The configured detector is untouched.
	report, err = e.RunInline(context.Background(), "run-3", duplicatePair(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Survivors) != 2 {
		t.Fatalf("engine config must be unchanged after an override run: %+v", report.Survivors)
	}
}

func TestProcessRun_PersistsWithinOneTransaction(t *testing.T) {
	store := testutil.NewMockStore()
	e := testEngine(store)

	result := e.processRun(RunRequest{
		RunID:   "run-db",
		Source:  constants.SourceInline,
		Records: duplicatePair(),
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if store.Commits != 1 {
		t.Fatalf("expected exactly one commit, got %d (rollbacks %d)", store.Commits, store.Rollbacks)
	}
	if got := store.Merged[2]; got != 1 {
		t.Fatalf("record 2 must be marked merged into 1: %v", store.Merged)
	}
	if len(store.Entries) != 1 || store.Entries[0].RunID != "run-db" {
		t.Fatalf("unexpected log entries: %+v", store.Entries)
	}
	run := store.Runs["run-db"]
	if run == nil || run.Status != constants.RunStatusCompleted || run.Merged != 1 {
		t.Fatalf("unexpected run row: %+v", run)
	}
}

func TestProcessRun_PersistFailureIsAllOrNothing(t *testing.T) {
	store := testutil.NewMockStore()
	store.Err["CreateLogEntries"] = contextDeadline{}
	e := testEngine(store)

	result := e.processRun(RunRequest{
		RunID:   "run-fail",
		Source:  constants.SourceInline,
		Records: duplicatePair(),
	})
	if result.Err == nil {
		t.Fatal("expected run failure")
	}
	if store.Commits != 0 {
		t.Fatalf("nothing may commit on failure, got %d commits", store.Commits)
	}
	if len(store.Merged) != 0 || len(store.Entries) != 0 {
		t.Fatalf("no partial merge state may leak: merged=%v entries=%+v", store.Merged, store.Entries)
	}
	run := store.Runs["run-fail"]
	if run == nil || run.Status != constants.RunStatusFailed {
		t.Fatalf("run row must be marked failed: %+v", run)
	}
}

type contextDeadline struct{}

func (contextDeadline) Error() string { return "log append rejected" }

func TestProcessRun_DatabaseSourceLoadsActiveRecords(t *testing.T) {
	store := testutil.NewMockStore()
	for _, loc := range duplicatePair() {
		store.Locations[loc.ID] = loc
	}
	e := testEngine(store)

	result := e.processRun(RunRequest{RunID: "run-src", Source: constants.SourceDatabase})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Report.Stats.TotalRecords != 3 {
		t.Fatalf("expected the stored batch to be loaded: %+v", result.Report.Stats)
	}
	if store.Merged[2] != 1 {
		t.Fatalf("duplicate must be merged: %v", store.Merged)
	}
}

func TestProcessRun_GeneratedSourceIsDeterministic(t *testing.T) {
	e := testEngine(nil)

	req := RunRequest{RunID: "run-gen", Source: constants.SourceGenerated, GeneratedCount: 40, GeneratedSeed: 11}
	a := e.processRun(req)
	b := e.processRun(req)
	if a.Err != nil || b.Err != nil {
		t.Fatalf("unexpected errors: %v %v", a.Err, b.Err)
	}
	if a.Report.Stats.Merged == 0 {
		t.Fatalf("generated batches plant duplicates; expected merges: %+v", a.Report.Stats)
	}
	if a.Report.Stats.Merged != b.Report.Stats.Merged || len(a.Report.Survivors) != len(b.Report.Survivors) {
		t.Fatalf("same seed must reproduce the outcome: %+v vs %+v", a.Report.Stats, b.Report.Stats)
	}
}

func TestSubmit_RequiresRunID(t *testing.T) {
	e := testEngine(nil)
	if err := e.Submit(RunRequest{Source: constants.SourceGenerated}); err == nil {
		t.Fatal("expected an error for a missing run id")
	}
}

func TestEngine_SubmitAndDrain(t *testing.T) {
	store := testutil.NewMockStore()
	e := testEngine(store)
	e.Start()

	if err := e.Submit(RunRequest{RunID: "run-q", Source: constants.SourceInline, Records: duplicatePair()}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		st := e.GetStats()
		if st.CompletedRuns >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run never completed: %+v", st)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := e.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if store.Commits != 1 {
		t.Fatalf("queued run must persist once: %d", store.Commits)
	}
	if err := e.Submit(RunRequest{RunID: "run-late", Source: constants.SourceInline}); err == nil {
		t.Fatal("submit after stop must fail")
	}
}

func TestApplyConfig_ChangesThresholds(t *testing.T) {
	e := testEngine(nil)

	e.ApplyConfig(0, 0.95, 5, constants.PolicyLowestID)

	report, err := e.RunInline(context.Background(), "run-cfg", duplicatePair(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 5m threshold splits the planted pair (~7m apart).
	if len(report.Survivors) != 3 {
		t.Fatalf("tightened thresholds must prevent the merge: %+v", report.Survivors)
	}

	e.ApplyConfig(0, 0.85, 100, constants.PolicyLowestID)
	report, err = e.RunInline(context.Background(), "run-cfg2", duplicatePair(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Survivors) != 2 || report.Survivors[0].ID != 1 {
		t.Fatalf("relaxed thresholds must merge again: %+v", report.Survivors)
	}
}

func TestEngine_CachesReport(t *testing.T) {
	store := testutil.NewMockStore()
	cache := testutil.NewMockCache()
	e := testEngine(store)
	e.SetCache(cache)

	result := e.processRun(RunRequest{RunID: "run-cache", Source: constants.SourceInline, Records: duplicatePair()})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	var got *models.DedupReport
	if ok, err := cache.Get(context.Background(), CacheKey("run-cache"), &got); err != nil || !ok {
		t.Fatalf("report must be cached: ok=%v err=%v", ok, err)
	}
	if got.RunID != "run-cache" {
		t.Fatalf("unexpected cached report: %+v", got)
	}
	if ok, _ := cache.Get(context.Background(), CacheKeyLatest, &got); !ok {
		t.Fatal("latest report key must be set")
	}
}
