package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/auth"
	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/domain"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/processor"
	"coffee-location-dedup/internal/review"
	"coffee-location-dedup/pkg/config"
	"coffee-location-dedup/pkg/events"
)

// fakeRepo is an in-memory domain.Repository for handler tests.
type fakeRepo struct {
	mu        sync.Mutex
	locations map[int64]models.StoredLocation
	entries   map[string]*models.DuplicateLogEntry
	runs      map[string]*models.Run
	audits    []domain.FlagReviewAuditLog
	merged    map[int64]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		locations: map[int64]models.StoredLocation{},
		entries:   map[string]*models.DuplicateLogEntry{},
		runs:      map[string]*models.Run{},
		merged:    map[int64]int64{},
	}
}

func (f *fakeRepo) InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, loc := range locations {
		f.locations[loc.ID] = models.StoredLocation{Location: loc, Active: true}
	}
	return len(locations), nil
}

func (f *fakeRepo) GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Location
	for _, sl := range f.locations {
		if sl.Active {
			out = append(out, sl.Location)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetLocationByIDCtx(ctx context.Context, id int64) (*models.StoredLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sl, ok := f.locations[id]; ok {
		return &sl, nil
	}
	return nil, nil
}

func (f *fakeRepo) GetLocationsFilteredCtx(ctx context.Context, search string, activeOnly bool, limit, offset int) ([]models.StoredLocation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StoredLocation
	for _, sl := range f.locations {
		if activeOnly && !sl.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(sl.Name), strings.ToLower(search)) {
			continue
		}
		out = append(out, sl)
	}
	return out, len(out), nil
}

func (f *fakeRepo) MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range discardedIDs {
		sl := f.locations[id]
		sl.Active = false
		sl.CanonicalID = &canonicalID
		f.locations[id] = sl
		f.merged[id] = canonicalID
	}
	return nil
}

func (f *fakeRepo) GetLocationStatisticsCtx(ctx context.Context) (*models.LocationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.LocationStats{Total: len(f.locations)}
	for _, sl := range f.locations {
		if sl.Active {
			stats.Active++
		} else {
			stats.Merged++
		}
	}
	for _, e := range f.entries {
		if e.ActionTaken == constants.ActionFlagged {
			stats.Flagged++
		}
	}
	return stats, nil
}

func (f *fakeRepo) CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range entries {
		cp := entries[i]
		f.entries[cp.ID] = &cp
	}
	return nil
}

func (f *fakeRepo) GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DuplicateLogEntry
	for _, e := range f.entries {
		if e.RunID == runID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetFlaggedEntriesCtx(ctx context.Context, limit, offset int) ([]models.DuplicateLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DuplicateLogEntry
	for _, e := range f.entries {
		if e.ActionTaken == constants.ActionFlagged {
			out = append(out, *e)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetLogEntryByIDCtx(ctx context.Context, id string) (*models.DuplicateLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) ResolveFlagCtx(ctx context.Context, id string, action string, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[id]
	e.ActionTaken = action
	e.Reviewer = &reviewer
	return nil
}

func (f *fakeRepo) CreateRunCtx(ctx context.Context, run *models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error {
	return nil
}

func (f *fakeRepo) FinishRunCtx(ctx context.Context, run *models.Run) error {
	return f.CreateRunCtx(ctx, run)
}

func (f *fakeRepo) GetRunByIDCtx(ctx context.Context, id string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) GetRecentRunsCtx(ctx context.Context, limit int) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Run
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRepo) CreateAuditLogCtx(ctx context.Context, log *domain.FlagReviewAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *log)
	return nil
}

func (f *fakeRepo) GetAuditLogsByEntryCtx(ctx context.Context, entryID string) ([]domain.FlagReviewAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FlagReviewAuditLog
	for _, a := range f.audits {
		if a.EntryID == entryID {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ domain.Repository = (*fakeRepo)(nil)

// fakeUow commits through the fakeRepo directly; enough for handler tests
// that assert on outcome, not isolation.
type fakeUow struct {
	*fakeRepo
	committed bool
}

func (u *fakeUow) Begin(ctx context.Context) error { return nil }
func (u *fakeUow) Commit() error                   { u.committed = true; return nil }
func (u *fakeUow) Rollback() error                 { return nil }

type fakeUowFactory struct{ repo *fakeRepo }

func (f fakeUowFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	return &fakeUow{fakeRepo: f.repo}, nil
}

// fakeEventStore buffers appended events in order.
type fakeEventStore struct {
	mu     sync.Mutex
	stored []events.StoredEvent
}

func (f *fakeEventStore) Append(ctx context.Context, evs ...events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range evs {
		data, err := ev.MarshalData()
		if err != nil {
			return err
		}
		f.stored = append(f.stored, events.StoredEvent{
			Seq:     int64(len(f.stored) + 1),
			RunID:   ev.RunID(),
			Type:    ev.Type(),
			Ts:      ev.Timestamp(),
			Actor:   ev.Actor(),
			Payload: data,
		})
	}
	return nil
}

func (f *fakeEventStore) ListByRun(ctx context.Context, runID string) ([]events.StoredEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.StoredEvent
	for _, se := range f.stored {
		if se.RunID == runID {
			out = append(out, se)
		}
	}
	return out, nil
}

func (f *fakeEventStore) ReplayRun(ctx context.Context, runID string) (*events.RunState, error) {
	evs, err := f.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return events.Replay(evs), nil
}

func testApp(repo *fakeRepo) *App {
	cfg := processor.DefaultEngineConfig()
	cfg.Detector.Parallelism = 1
	return &App{
		repo:     repo,
		uowf:     fakeUowFactory{repo},
		engine:   processor.NewEngine(repo, nil, cfg, zerolog.Nop()),
		es:       &fakeEventStore{},
		opinions: review.NewOpinionStore(),
		config:   config.Load(),
		log:      zerolog.Nop(),
	}
}

func TestDetectHandler_ResolvesInlineBatch(t *testing.T) {
	app := testApp(newFakeRepo())

	body := `{"records":[
		{"id":1,"name":"Kopi Kenangan Sudirman","latitude":-6.2088,"longitude":106.8456,"followers":500},
		{"id":2,"name":"Kopi Kenangan Sudirman ","latitude":-6.20885,"longitude":106.84565,"followers":300}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.detectHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report models.DedupReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Survivors) != 1 || report.Survivors[0].ID != 1 {
		t.Fatalf("expected the higher-follower record to survive: %+v", report.Survivors)
	}
}

func TestDetectHandler_RejectsEmptyBatch(t *testing.T) {
	app := testApp(newFakeRepo())
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(`{"records":[]}`))
	rec := httptest.NewRecorder()
	app.detectHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitRunHandler_QueuesAndValidates(t *testing.T) {
	app := testApp(newFakeRepo())
	app.engine.Start()
	defer app.engine.Stop(time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"source":"generated","generated_count":10}`))
	rec := httptest.NewRecorder()
	app.submitRunHandler(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["run_id"] == "" || resp["status"] != constants.RunStatusPending {
		t.Fatalf("unexpected response: %v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"source":"carrier-pigeon"}`))
	rec = httptest.NewRecorder()
	app.submitRunHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown source must 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"source":"inline"}`))
	rec = httptest.NewRecorder()
	app.submitRunHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inline without records must 400, got %d", rec.Code)
	}
}

func flagFixture(repo *fakeRepo) *models.DuplicateLogEntry {
	entry := &models.DuplicateLogEntry{
		ID:              "entry-1",
		RunID:           "run-1",
		LocationID1:     1,
		LocationID2:     2,
		SimilarityScore: 0.82,
		DistanceMeters:  14,
		ActionTaken:     constants.ActionFlagged,
		CreatedAt:       time.Now().UTC(),
	}
	repo.entries[entry.ID] = entry
	repo.locations[1] = models.StoredLocation{Location: models.Location{ID: 1, Name: "Tuku Cipete"}, Active: true}
	repo.locations[2] = models.StoredLocation{Location: models.Location{ID: 2, Name: "Toko Kopi Tuku"}, Active: true}
	return entry
}

func resolveRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/flags/entry-1/resolve", strings.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "entry-1"})
	return req.WithContext(context.WithValue(req.Context(), auth.OperatorKey, "reviewer-a"))
}

func TestResolveFlagHandler_MergeVerdict(t *testing.T) {
	repo := newFakeRepo()
	flagFixture(repo)
	app := testApp(repo)

	rec := httptest.NewRecorder()
	app.resolveFlagHandler(rec, resolveRequest(`{"action":"merged"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	entry := repo.entries["entry-1"]
	if entry.ActionTaken != constants.ActionMerged || entry.Reviewer == nil || *entry.Reviewer != "reviewer-a" {
		t.Fatalf("entry not resolved: %+v", entry)
	}
	if repo.merged[2] != 1 {
		t.Fatalf("merged verdict must deactivate the losing record: %v", repo.merged)
	}
	if len(repo.audits) != 1 || repo.audits[0].Action != constants.ActionMerged {
		t.Fatalf("audit trail missing: %+v", repo.audits)
	}

	es := app.es.(*fakeEventStore)
	if len(es.stored) != 1 || es.stored[0].Type != events.TypeFlagResolved {
		t.Fatalf("flag resolution event missing: %+v", es.stored)
	}
}

func TestResolveFlagHandler_Validation(t *testing.T) {
	repo := newFakeRepo()
	flagFixture(repo)
	app := testApp(repo)

	rec := httptest.NewRecorder()
	app.resolveFlagHandler(rec, resolveRequest(`{"action":"promote"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad action must 400, got %d", rec.Code)
	}

	// Already resolved entries conflict.
	repo.entries["entry-1"].ActionTaken = constants.ActionIgnored
	rec = httptest.NewRecorder()
	app.resolveFlagHandler(rec, resolveRequest(`{"action":"merged"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("resolved entry must 409, got %d", rec.Code)
	}

	// No operator in context.
	req := httptest.NewRequest(http.MethodPost, "/api/flags/entry-1/resolve", strings.NewReader(`{"action":"merged"}`))
	req = mux.SetURLVars(req, map[string]string{"id": "entry-1"})
	rec = httptest.NewRecorder()
	app.resolveFlagHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing operator must 401, got %d", rec.Code)
	}
}

func TestListFlagsHandler_AttachesOpinions(t *testing.T) {
	repo := newFakeRepo()
	flagFixture(repo)
	app := testApp(repo)
	app.opinions.Save(review.Opinion{EntryID: "entry-1", Verdict: review.VerdictMerge, Confidence: 0.9})

	req := httptest.NewRequest(http.MethodGet, "/api/flags", nil)
	rec := httptest.NewRecorder()
	app.listFlagsHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Flags []struct {
			Entry   models.DuplicateLogEntry `json:"entry"`
			Opinion *review.Opinion          `json:"opinion"`
		} `json:"flags"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Flags) != 1 {
		t.Fatalf("expected one flag: %+v", resp)
	}
	if resp.Flags[0].Opinion == nil || resp.Flags[0].Opinion.Verdict != review.VerdictMerge {
		t.Fatalf("opinion must ride along: %+v", resp.Flags[0])
	}
}

func TestRunReportHandler_FallsBackToEventReplay(t *testing.T) {
	repo := newFakeRepo()
	app := testApp(repo)

	es := app.es.(*fakeEventStore)
	_ = es.Append(context.Background(), events.RunCompleted{
		Base:  events.Base{Ts: time.Now().UTC(), RID: "run-gone"},
		Stats: models.RunStats{TotalRecords: 7},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-gone", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "run-gone"})
	rec := httptest.NewRecorder()
	app.runReportHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replayed state, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run-unknown", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "run-unknown"})
	rec = httptest.NewRecorder()
	app.runReportHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run must 404, got %d", rec.Code)
	}
}
