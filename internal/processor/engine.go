package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/dedup"
	"coffee-location-dedup/internal/generator"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/review"
	"coffee-location-dedup/pkg/events"
	"coffee-location-dedup/pkg/metrics"
)

// RunRequest asks the engine for one detection run.
type RunRequest struct {
	RunID  string
	Source string // database | inline | generated

	// Records feeds an inline run. Ignored for other sources.
	Records []models.Location

	// GeneratedCount and GeneratedSeed configure a generated run.
	// Zero count falls back to the generator default.
	GeneratedCount int
	GeneratedSeed  int64

	// Overrides replace the configured thresholds for this run only.
	Overrides *Overrides

	Requested time.Time
	Retry     int
}

// Overrides are per-run threshold replacements. Nil fields keep the
// engine's configured value.
type Overrides struct {
	TextThreshold      *float64 `json:"text_threshold,omitempty"`
	DistanceThresholdM *float64 `json:"distance_threshold_m,omitempty"`
}

// RunResult is what one run produced, success or not.
type RunResult struct {
	RunID            string
	Report           *models.DedupReport
	Err              error
	ProcessingTimeMs int64
	Retries          int
}

// EngineStats tracks engine-level counters.
type EngineStats struct {
	TotalRuns     int64
	CompletedRuns int64
	FailedRuns    int64
	RecordsIn     int64
	RecordsOut    int64
	MergedRecords int64
	FlaggedPairs  int64
	SkippedInputs int64
	AverageTimeMs int64
	StartTime     time.Time
	LastActivity  time.Time
	WorkerCount   int
	QueueSize     int64
}

// EngineConfig holds configuration for the run engine.
type EngineConfig struct {
	WorkerCount int
	MaxRetries  int
	RetryDelay  time.Duration
	RunTimeout  time.Duration
	QueueSize   int

	Detector        dedup.Config
	CanonicalPolicy string
	CacheTTL        time.Duration
}

// DefaultEngineConfig returns defaults sized for batch workloads of a few
// thousand records.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerCount:     2,
		MaxRetries:      3,
		RetryDelay:      constants.ProcessorRetryDelayDefault,
		RunTimeout:      constants.RunTimeoutDefault,
		QueueSize:       64,
		Detector:        dedup.DefaultConfig(),
		CanonicalPolicy: constants.PolicyMostFollowers,
		CacheTTL:        12 * time.Hour,
	}
}

// ReportCache fronts report reads; the Redis adapter satisfies it.
type ReportCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// CacheKey addresses one run's cached report; CacheKeyLatest the most
// recent completed one. Mirrored by the cache package, duplicated here so
// the engine depends only on the ReportCache interface.
func CacheKey(runID string) string { return "report:" + runID }

const CacheKeyLatest = "report:latest"

// Enricher backfills coordinates before validation would skip the record.
type Enricher interface {
	Enrich(ctx context.Context, locations []models.Location) (int, error)
}

// FlagReviewer drafts second opinions on flagged pairs.
type FlagReviewer interface {
	ReviewFlagged(ctx context.Context, entries []models.DuplicateLogEntry, locations map[int64]models.Location) ([]review.Opinion, error)
}

// Persister is the slice of the domain repository and unit-of-work surface
// the engine writes through. Both are optional; without them a run still
// detects and reports, it just persists nothing.
type Persister interface {
	CreateRunCtx(ctx context.Context, run *models.Run) error
	UpdateRunStatusCtx(ctx context.Context, id string, status string, errMsg *string) error
	GetActiveLocationsCtx(ctx context.Context) ([]models.Location, error)
	GetLogEntriesByRunCtx(ctx context.Context, runID string) ([]models.DuplicateLogEntry, error)
}

// TxFactory begins the transaction one run commits through.
type TxFactory interface {
	Begin(ctx context.Context) (RunTx, error)
}

// RunTx is the write set of one run: upsert inputs, mark merges, append the
// log, finish the run row. Either all of it commits or none.
type RunTx interface {
	InsertLocationsCtx(ctx context.Context, locations []models.Location) (int, error)
	MarkMergedCtx(ctx context.Context, canonicalID int64, discardedIDs []int64) error
	CreateLogEntriesCtx(ctx context.Context, entries []models.DuplicateLogEntry) error
	FinishRunCtx(ctx context.Context, run *models.Run) error
	Commit() error
	Rollback() error
}

// Engine runs detection passes concurrently with retry and recovery.
// The scoring inside one run is already parallel; engine workers exist so
// several queued runs make progress while one is stuck on I/O.
type Engine struct {
	persister Persister
	txf       TxFactory
	enricher  Enricher
	cache     ReportCache
	es        events.EventStore
	assistant FlagReviewer
	opinions  *review.OpinionStore

	// Detector and resolver are rebuilt by ApplyConfig; cfgMu guards them.
	cfgMu    sync.RWMutex
	cfg      EngineConfig
	detector *dedup.Detector
	resolver *dedup.Resolver

	jobQueue   chan RunRequest
	resultChan chan RunResult
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	stats   EngineStats
	statsMu sync.RWMutex

	running      atomic.Bool
	startOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once

	log zerolog.Logger
}

// NewEngine creates a run engine. persister and txf may be nil for a
// detection-only deployment.
func NewEngine(persister Persister, txf TxFactory, cfg EngineConfig, log zerolog.Logger) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultEngineConfig().WorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultEngineConfig().QueueSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = constants.ProcessorRetryDelayDefault
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = constants.RunTimeoutDefault
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		persister:  persister,
		txf:        txf,
		cfg:        cfg,
		jobQueue:   make(chan RunRequest, cfg.QueueSize),
		resultChan: make(chan RunResult, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		shutdown:   make(chan struct{}),
		stats: EngineStats{
			StartTime:    time.Now(),
			LastActivity: time.Now(),
			WorkerCount:  cfg.WorkerCount,
		},
		log: log.With().Str("component", "engine").Logger(),
	}
	e.rebuildLocked()
	return e
}

// SetEnricher installs optional coordinate enrichment.
func (e *Engine) SetEnricher(en Enricher) { e.enricher = en }

// SetCache installs the optional report cache.
func (e *Engine) SetCache(c ReportCache) { e.cache = c }

// SetEventStore installs the optional run event trail.
func (e *Engine) SetEventStore(es events.EventStore) { e.es = es }

// SetAssistant installs the optional flagged-pair reviewer. Opinions land
// in store, keyed by log entry id.
func (e *Engine) SetAssistant(a FlagReviewer, store *review.OpinionStore) {
	e.assistant = a
	e.opinions = store
}

// rebuildLocked recreates the detector and resolver from e.cfg. Callers
// hold cfgMu or have exclusive access.
func (e *Engine) rebuildLocked() {
	e.detector = dedup.NewDetector(e.cfg.Detector, e.log)
	policy, err := dedup.PolicyByName(e.cfg.CanonicalPolicy)
	if err != nil {
		e.log.Warn().Err(err).Msg("unknown canonical policy, using default")
		policy, _ = dedup.PolicyByName(constants.PolicyMostFollowers)
	}
	e.resolver = dedup.NewResolver(policy, e.detector.Scorer())
}

// ApplyConfig hot-applies reloadable settings. Worker count takes effect on
// the next Start; thresholds and policy apply to the next run.
func (e *Engine) ApplyConfig(workers int, textThreshold, distanceThresholdM float64, canonicalPolicy string) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if workers > 0 {
		e.cfg.WorkerCount = workers
	}
	if textThreshold > 0 && textThreshold <= 1 {
		e.cfg.Detector.Policy.TextThreshold = textThreshold
	}
	if distanceThresholdM > 0 {
		e.cfg.Detector.Policy.DistanceThresholdM = distanceThresholdM
	}
	if canonicalPolicy != "" {
		e.cfg.CanonicalPolicy = canonicalPolicy
	}
	e.rebuildLocked()
	e.log.Info().
		Float64("text_threshold", e.cfg.Detector.Policy.TextThreshold).
		Float64("distance_threshold_m", e.cfg.Detector.Policy.DistanceThresholdM).
		Str("canonical_policy", e.cfg.CanonicalPolicy).
		Msg("engine config applied")
}

// Start launches the workers and the result processor. Safe to call more
// than once; only the first call does anything.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.cfgMu.RLock()
		workers := e.cfg.WorkerCount
		e.cfgMu.RUnlock()

		e.log.Info().Int("workers", workers).Msg("starting run engine")
		for i := 0; i < workers; i++ {
			e.wg.Add(1)
			go e.worker(i)
		}
		e.wg.Add(1)
		go e.resultProcessor()
		e.running.Store(true)
	})
}

// Running reports whether the engine accepts work; used by health checks.
func (e *Engine) Running() bool { return e.running.Load() }

// Stop drains the engine gracefully. Queued runs are abandoned once the
// timeout passes.
func (e *Engine) Stop(timeout time.Duration) error {
	var err error
	e.shutdownOnce.Do(func() {
		e.log.Info().Msg("initiating engine shutdown")
		e.running.Store(false)

		// The queue stays open; workers drain via ctx so a concurrent
		// Submit can never hit a closed channel.
		close(e.shutdown)
		e.cancel()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			e.log.Info().Msg("all workers shut down")
		case <-time.After(timeout):
			e.log.Warn().Msg("shutdown timeout reached")
			err = fmt.Errorf("engine shutdown timeout exceeded")
		}
		close(e.resultChan)
	})
	return err
}

// Submit enqueues one run request. Fails fast when the queue is full or
// the engine is shutting down.
func (e *Engine) Submit(req RunRequest) error {
	if req.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if req.Requested.IsZero() {
		req.Requested = time.Now().UTC()
	}
	select {
	case <-e.shutdown:
		return fmt.Errorf("engine is shutting down")
	default:
	}

	atomic.AddInt64(&e.stats.TotalRuns, 1)
	select {
	case e.jobQueue <- req:
		atomic.AddInt64(&e.stats.QueueSize, 1)
		return nil
	case <-e.ctx.Done():
		return fmt.Errorf("engine is shutting down")
	default:
		return fmt.Errorf("run queue is full")
	}
}

// RunInline detects and resolves a caller-supplied batch synchronously,
// without touching the store. Serves the synchronous API endpoint and
// resolves small batches in request scope.
func (e *Engine) RunInline(ctx context.Context, runID string, records []models.Location, ov *Overrides) (*models.DedupReport, error) {
	det, res := e.snapshot(ov)

	detection, err := det.Detect(ctx, records)
	if err != nil {
		return nil, err
	}
	resolution, err := res.Resolve(detection)
	if err != nil {
		return nil, err
	}
	return dedup.AssembleReport(dedup.AssembleInput{
		RunID:      runID,
		Detection:  detection,
		Resolution: resolution,
	})
}

// GetStats returns a copy of the current counters.
func (e *Engine) GetStats() EngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	stats := e.stats
	stats.QueueSize = atomic.LoadInt64(&e.stats.QueueSize)
	stats.TotalRuns = atomic.LoadInt64(&e.stats.TotalRuns)
	return stats
}

// snapshot returns the detector/resolver pair for one run, applying any
// per-run overrides on a copy so the configured pair is untouched.
func (e *Engine) snapshot(ov *Overrides) (*dedup.Detector, *dedup.Resolver) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	if ov == nil || (ov.TextThreshold == nil && ov.DistanceThresholdM == nil) {
		return e.detector, e.resolver
	}

	cfg := e.cfg.Detector
	if ov.TextThreshold != nil {
		cfg.Policy.TextThreshold = *ov.TextThreshold
	}
	if ov.DistanceThresholdM != nil {
		cfg.Policy.DistanceThresholdM = *ov.DistanceThresholdM
	}
	det := dedup.NewDetector(cfg, e.log)
	policy, _ := dedup.PolicyByName(e.cfg.CanonicalPolicy)
	return det, dedup.NewResolver(policy, det.Scorer())
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()

	e.log.Debug().Int("worker", id).Msg("worker started")
	defer e.log.Debug().Int("worker", id).Msg("worker stopped")

	for {
		select {
		case req, ok := <-e.jobQueue:
			if !ok {
				return
			}
			atomic.AddInt64(&e.stats.QueueSize, -1)
			result := e.processRun(req)

			select {
			case e.resultChan <- result:
			case <-e.ctx.Done():
				return
			}
		case <-e.ctx.Done():
			return
		}
	}
}

// processRun executes one run with exponential backoff on retryable errors.
func (e *Engine) processRun(req RunRequest) RunResult {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(e.ctx, e.runTimeout())
	defer cancel()

	result := RunResult{RunID: req.RunID, Retries: req.Retry}

	var report *models.DedupReport
	var err error
	maxRetries := e.maxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt*attempt) * e.retryDelay()
			e.log.Warn().Str("run_id", req.RunID).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying run")

			select {
			case <-time.After(delay):
			case <-runCtx.Done():
				result.Err = fmt.Errorf("run cancelled during retry delay: %w", runCtx.Err())
				result.ProcessingTimeMs = time.Since(start).Milliseconds()
				return result
			}
			result.Retries = attempt
		}

		report, err = e.runPipeline(runCtx, req)
		if err == nil {
			result.Report = report
			break
		}
		if !e.isRetryableError(err) {
			e.log.Error().Err(err).Str("run_id", req.RunID).Msg("non-retryable run failure")
			break
		}
		e.log.Warn().Err(err).Str("run_id", req.RunID).Int("attempt", attempt+1).Msg("retryable run failure")
	}

	result.Err = err
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result
}

// runPipeline is one full pass: load, enrich, detect, resolve, persist,
// cache, event out. Persistence happens in a single transaction; a failure
// there fails the whole run and leaves nothing half-merged.
func (e *Engine) runPipeline(ctx context.Context, req RunRequest) (*models.DedupReport, error) {
	records, err := e.loadRecords(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	atomic.AddInt64(&e.stats.RecordsIn, int64(len(records)))

	det, res := e.snapshot(req.Overrides)
	policyCfg := det.Policy().Config()

	run := &models.Run{
		ID:                 req.RunID,
		Status:             constants.RunStatusRunning,
		Source:             req.Source,
		TextThreshold:      policyCfg.TextThreshold,
		DistanceThresholdM: policyCfg.DistanceThresholdM,
		TotalRecords:       len(records),
		StartedAt:          time.Now().UTC(),
	}
	if e.persister != nil {
		if err := e.persister.CreateRunCtx(ctx, run); err != nil {
			return nil, fmt.Errorf("create run row: %w", err)
		}
	}
	e.appendEvent(ctx, events.RunStarted{
		Base:               events.Base{Ts: run.StartedAt, RID: req.RunID},
		Source:             req.Source,
		TotalRecords:       len(records),
		TextThreshold:      policyCfg.TextThreshold,
		DistanceThresholdM: policyCfg.DistanceThresholdM,
	})

	if e.enricher != nil {
		if n, err := e.enricher.Enrich(ctx, records); err != nil {
			e.markFailed(ctx, run, err)
			return nil, err
		} else if n > 0 {
			e.log.Info().Str("run_id", req.RunID).Int("geocoded", n).Msg("coordinates enriched")
		}
	}

	detection, err := det.Detect(ctx, records)
	if err != nil {
		e.markFailed(ctx, run, err)
		return nil, err
	}
	resolution, err := res.Resolve(detection)
	if err != nil {
		e.markFailed(ctx, run, err)
		return nil, err
	}
	report, err := dedup.AssembleReport(dedup.AssembleInput{
		RunID:      req.RunID,
		Detection:  detection,
		Resolution: resolution,
	})
	if err != nil {
		e.markFailed(ctx, run, err)
		return nil, err
	}

	run.Status = constants.RunStatusCompleted
	run.SkippedRecords = report.Stats.SkippedRecords
	run.Clusters = report.Stats.Clusters
	run.Merged = report.Stats.Merged
	run.Flagged = report.Stats.Flagged

	if e.txf != nil {
		if err := e.persist(ctx, run, detection, resolution, report); err != nil {
			e.markFailed(ctx, run, err)
			return nil, err
		}
	}

	e.emitRunEvents(ctx, req.RunID, detection, resolution, report)
	e.cacheReport(ctx, report)
	e.reviewFlagged(req.RunID, detection)

	metrics.AddPairOutcome(constants.ActionMerged, report.Stats.Merged)
	metrics.AddPairOutcome(constants.ActionFlagged, report.Stats.Flagged)
	for _, s := range report.Skipped {
		metrics.AddSkipped(s.Reason.Code, 1)
	}

	return report, nil
}

// loadRecords materializes the run's input batch from its source.
func (e *Engine) loadRecords(ctx context.Context, req RunRequest) ([]models.Location, error) {
	switch req.Source {
	case constants.SourceInline:
		return append([]models.Location(nil), req.Records...), nil
	case constants.SourceGenerated:
		cfg := generator.DefaultConfig()
		if req.GeneratedCount > 0 {
			cfg.Count = req.GeneratedCount
		}
		cfg.Seed = req.GeneratedSeed
		return generator.New(cfg).Generate(), nil
	case constants.SourceDatabase, "":
		if e.persister == nil {
			return nil, fmt.Errorf("database source requires a configured store")
		}
		return e.persister.GetActiveLocationsCtx(ctx)
	}
	return nil, fmt.Errorf("unknown record source %q", req.Source)
}

// persist writes the run outcome in one transaction: upsert accepted
// inputs, deactivate discarded records toward their canonical, append the
// duplicate log, finish the run row.
func (e *Engine) persist(ctx context.Context, run *models.Run, det *dedup.Detection, res *dedup.Resolution, report *models.DedupReport) error {
	tx, err := e.txf.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.InsertLocationsCtx(ctx, det.Records); err != nil {
		return fmt.Errorf("upsert locations: %w", err)
	}
	for _, c := range res.Clusters {
		if err := tx.MarkMergedCtx(ctx, c.CanonicalID, c.DiscardedIDs); err != nil {
			return fmt.Errorf("mark cluster merged: %w", err)
		}
	}
	if err := tx.CreateLogEntriesCtx(ctx, report.LogEntries); err != nil {
		return fmt.Errorf("append duplicate log: %w", err)
	}
	if err := tx.FinishRunCtx(ctx, run); err != nil {
		return fmt.Errorf("finish run row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run tx: %w", err)
	}
	return nil
}

// markFailed records the failure on the run row; best effort.
func (e *Engine) markFailed(ctx context.Context, run *models.Run, cause error) {
	msg := cause.Error()
	e.appendEvent(ctx, events.RunFailed{
		Base:   events.Base{Ts: time.Now().UTC(), RID: run.ID},
		Reason: msg,
	})
	if e.persister == nil {
		return
	}
	if err := e.persister.UpdateRunStatusCtx(ctx, run.ID, constants.RunStatusFailed, &msg); err != nil {
		e.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark run failed")
	}
}

func (e *Engine) emitRunEvents(ctx context.Context, runID string, det *dedup.Detection, res *dedup.Resolution, report *models.DedupReport) {
	now := time.Now().UTC()
	evs := make([]events.Event, 0, len(det.Skipped)+len(res.Clusters)+len(report.LogEntries)+1)

	for _, s := range det.Skipped {
		evs = append(evs, events.RecordSkipped{
			Base:       events.Base{Ts: now, RID: runID},
			LocationID: s.Location.ID,
			Name:       s.Location.Name,
			Field:      s.Reason.Code,
			Reason:     s.Reason.Description,
		})
	}
	for _, c := range res.Clusters {
		evs = append(evs, events.ClusterMerged{
			Base:         events.Base{Ts: now, RID: runID},
			CanonicalID:  c.CanonicalID,
			DiscardedIDs: c.DiscardedIDs,
			Policy:       e.canonicalPolicy(),
		})
	}
	for _, entry := range report.LogEntries {
		if entry.ActionTaken != constants.ActionFlagged {
			continue
		}
		evs = append(evs, events.PairFlagged{
			Base:           events.Base{Ts: now, RID: runID},
			EntryID:        entry.ID,
			LocationID1:    entry.LocationID1,
			LocationID2:    entry.LocationID2,
			Similarity:     entry.SimilarityScore,
			DistanceMeters: entry.DistanceMeters,
		})
	}
	evs = append(evs, events.RunCompleted{
		Base:  events.Base{Ts: now, RID: runID},
		Stats: report.Stats,
	})
	e.appendEvent(ctx, evs...)
}

func (e *Engine) appendEvent(ctx context.Context, evs ...events.Event) {
	if e.es == nil || len(evs) == 0 {
		return
	}
	if err := e.es.Append(ctx, evs...); err != nil {
		e.log.Warn().Err(err).Msg("event append failed")
	}
}

func (e *Engine) cacheReport(ctx context.Context, report *models.DedupReport) {
	if e.cache == nil {
		return
	}
	ttl := e.cacheTTL()
	if err := e.cache.Set(ctx, CacheKey(report.RunID), report, ttl); err != nil {
		e.log.Warn().Err(err).Str("run_id", report.RunID).Msg("report cache set failed")
		return
	}
	if err := e.cache.Set(ctx, CacheKeyLatest, report, ttl); err != nil {
		e.log.Warn().Err(err).Msg("latest report cache set failed")
	}
}

// reviewFlagged drafts assistant opinions for the run's flagged entries in
// the background. Advisory only, so failures never touch the run outcome.
func (e *Engine) reviewFlagged(runID string, det *dedup.Detection) {
	if e.assistant == nil || e.persister == nil {
		return
	}

	byID := make(map[int64]models.Location, len(det.Records))
	for _, rec := range det.Records {
		byID[rec.ID] = rec
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, constants.ReviewDefaultAPITimeout)
		defer cancel()

		entries, err := e.persister.GetLogEntriesByRunCtx(ctx, runID)
		if err != nil {
			e.log.Warn().Err(err).Str("run_id", runID).Msg("flagged entries fetch failed")
			return
		}
		flagged := entries[:0:0]
		for _, entry := range entries {
			if entry.ActionTaken == constants.ActionFlagged {
				flagged = append(flagged, entry)
			}
		}
		if len(flagged) == 0 {
			return
		}

		opinions, err := e.assistant.ReviewFlagged(ctx, flagged, byID)
		if err != nil {
			e.log.Warn().Err(err).Str("run_id", runID).Msg("flag review finished with errors")
		}
		if e.opinions != nil {
			for _, op := range opinions {
				e.opinions.Save(op)
			}
		}
		e.log.Info().Str("run_id", runID).Int("opinions", len(opinions)).Msg("flagged pairs reviewed")
	}()
}

// isRetryableError classifies transient failures worth another attempt.
func (e *Engine) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	retryable := []string{
		"timeout",
		"deadlock",
		"connection refused",
		"connection reset",
		"service unavailable",
		"temporary failure",
		"try again",
	}
	return containsAny(err.Error(), retryable)
}

func (e *Engine) resultProcessor() {
	defer e.wg.Done()

	e.log.Debug().Msg("result processor started")
	defer e.log.Debug().Msg("result processor stopped")

	for {
		select {
		case result, ok := <-e.resultChan:
			if !ok {
				return
			}
			e.handleResult(result)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleResult(result RunResult) {
	e.statsMu.Lock()
	e.stats.CompletedRuns++
	e.stats.LastActivity = time.Now()
	if e.stats.CompletedRuns == 1 {
		e.stats.AverageTimeMs = result.ProcessingTimeMs
	} else {
		e.stats.AverageTimeMs = (e.stats.AverageTimeMs + result.ProcessingTimeMs) / 2
	}
	e.statsMu.Unlock()

	dur := time.Duration(result.ProcessingTimeMs) * time.Millisecond
	if result.Err != nil || result.Report == nil {
		atomic.AddInt64(&e.stats.FailedRuns, 1)
		metrics.ObserveRun(constants.RunStatusFailed, dur)
		e.log.Error().Err(result.Err).Str("run_id", result.RunID).Int("retries", result.Retries).Msg("run failed")
		return
	}

	st := result.Report.Stats
	atomic.AddInt64(&e.stats.RecordsOut, int64(len(result.Report.Survivors)))
	atomic.AddInt64(&e.stats.MergedRecords, int64(st.Merged))
	atomic.AddInt64(&e.stats.FlaggedPairs, int64(st.Flagged))
	atomic.AddInt64(&e.stats.SkippedInputs, int64(st.SkippedRecords))
	metrics.ObserveRun(constants.RunStatusCompleted, dur)

	e.log.Info().
		Str("run_id", result.RunID).
		Int("records", st.TotalRecords).
		Int("survivors", len(result.Report.Survivors)).
		Int("clusters", st.Clusters).
		Int("merged", st.Merged).
		Int("flagged", st.Flagged).
		Int("skipped", st.SkippedRecords).
		Int64("duration_ms", result.ProcessingTimeMs).
		Msg("run completed")
}

func (e *Engine) runTimeout() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.RunTimeout
}

func (e *Engine) maxRetries() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.MaxRetries
}

func (e *Engine) retryDelay() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.RetryDelay
}

func (e *Engine) cacheTTL() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	if e.cfg.CacheTTL <= 0 {
		return 12 * time.Hour
	}
	return e.cfg.CacheTTL
}

func (e *Engine) canonicalPolicy() string {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.CanonicalPolicy
}

// containsAny checks if a string contains any of the given substrings.
func containsAny(s string, substrings []string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
