package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/enrich"
	"coffee-location-dedup/internal/models"
)

// MockStore implements processor.Persister and processor.TxFactory for
// tests: an in-memory stand-in for the SQL layer. Err entries force the
// named operation to fail.
type MockStore struct {
	Mu        sync.Mutex
	Locations map[int64]models.Location
	Runs      map[string]*models.Run
	Entries   []models.DuplicateLogEntry
	Merged    map[int64]int64 // discarded id -> canonical id
	Err       map[string]error

	Commits   int
	Rollbacks int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Locations: map[int64]models.Location{},
		Runs:      map[string]*models.Run{},
		Merged:    map[int64]int64{},
		Err:       map[string]error{},
	}
}

func (m *MockStore) fail(op string) error {
	if err, ok := m.Err[op]; ok {
		return err
	}
	return nil
}

func (m *MockStore) CreateRunCtx(ctx context.Context, run *models.Run) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.fail("CreateRun"); err != nil {
		return err
	}
	cp := *run
	m.Runs[run.ID] = &cp
	return nil
}

func (m *MockStore) UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.fail("UpdateRunStatus"); err != nil {
		return err
	}
	if r, ok := m.Runs[id]; ok {
		r.Status = status
		r.Error = errMsg
	}
	return nil
}

func (m *MockStore) GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.fail("GetActiveLocations"); err != nil {
		return nil, err
	}
	out := make([]models.Location, 0, len(m.Locations))
	for id, loc := range m.Locations {
		if _, gone := m.Merged[id]; !gone {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (m *MockStore) GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.fail("GetLogEntriesByRun"); err != nil {
		return nil, err
	}
	var out []models.DuplicateLogEntry
	for _, e := range m.Entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MockTx is the transaction view of a MockStore. Writes buffer until
// Commit so rollback tests see an untouched store.
type MockTx struct {
	store *MockStore

	locations []models.Location
	merged    map[int64]int64
	entries   []models.DuplicateLogEntry
	run       *models.Run
	closed    bool
}

// Begin satisfies processor.TxFactory.
func (m *MockStore) Begin(ctx context.Context) (*MockTx, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.fail("Begin"); err != nil {
		return nil, err
	}
	return &MockTx{store: m, merged: map[int64]int64{}}, nil
}

func (t *MockTx) InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error) {
	if err := t.store.fail("InsertLocations"); err != nil {
		return 0, err
	}
	t.locations = append(t.locations, locations...)
	return len(locations), nil
}

func (t *MockTx) MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error {
	if err := t.store.fail("MarkMerged"); err != nil {
		return err
	}
	for _, id := range discardedIDs {
		t.merged[id] = canonicalID
	}
	return nil
}

func (t *MockTx) CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error {
	if err := t.store.fail("CreateLogEntries"); err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = fmt.Sprintf("entry-%d", len(t.entries)+i+1)
		}
	}
	t.entries = append(t.entries, entries...)
	return nil
}

func (t *MockTx) FinishRunCtx(ctx context.Context, run *models.Run) error {
	if err := t.store.fail("FinishRun"); err != nil {
		return err
	}
	cp := *run
	now := time.Now().UTC()
	cp.FinishedAt = &now
	if cp.Status == "" {
		cp.Status = constants.RunStatusCompleted
	}
	t.run = &cp
	return nil
}

func (t *MockTx) Commit() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.store.fail("Commit"); err != nil {
		return err
	}

	t.store.Mu.Lock()
	defer t.store.Mu.Unlock()
	for _, loc := range t.locations {
		t.store.Locations[loc.ID] = loc
	}
	for id, canonical := range t.merged {
		t.store.Merged[id] = canonical
	}
	t.store.Entries = append(t.store.Entries, t.entries...)
	if t.run != nil {
		t.store.Runs[t.run.ID] = t.run
	}
	t.store.Commits++
	return nil
}

func (t *MockTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.store.Mu.Lock()
	t.store.Rollbacks++
	t.store.Mu.Unlock()
	return nil
}

// MockResolver implements enrich.CoordinateResolver for tests.
type MockResolver struct {
	Mu    sync.Mutex
	Resp  map[string]*enrich.Coordinates
	Err   map[string]error
	Calls []string
}

func NewMockResolver() *MockResolver {
	return &MockResolver{Resp: map[string]*enrich.Coordinates{}, Err: map[string]error{}}
}

func (m *MockResolver) Resolve(ctx context.Context, address string) (*enrich.Coordinates, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls = append(m.Calls, address)
	if err, ok := m.Err[address]; ok {
		return nil, err
	}
	if c, ok := m.Resp[address]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no geocode fixture for %q", address)
}

// MockCache implements processor.ReportCache for tests. Values are stored
// as-is; Get only fills *[]byte-free destinations via the stored pointer
// swap, so keep fixture and destination types aligned.
type MockCache struct {
	Mu     sync.Mutex
	Values map[string]any
	Sets   []string
}

func NewMockCache() *MockCache {
	return &MockCache{Values: map[string]any{}}
}

func (m *MockCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	v, ok := m.Values[key]
	if !ok {
		return false, nil
	}
	if r, ok := dst.(**models.DedupReport); ok {
		if report, ok := v.(*models.DedupReport); ok {
			*r = report
			return true, nil
		}
	}
	if r, ok := dst.(*models.DedupReport); ok {
		if report, ok := v.(*models.DedupReport); ok {
			*r = *report
			return true, nil
		}
	}
	return false, fmt.Errorf("unsupported destination type %T", dst)
}

func (m *MockCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Values[key] = v
	m.Sets = append(m.Sets, key)
	return nil
}
