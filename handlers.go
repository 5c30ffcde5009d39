package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"coffee-location-dedup/internal/auth"
	"coffee-location-dedup/internal/cache"
	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/domain"
	"coffee-location-dedup/internal/models"
	"coffee-location-dedup/internal/pricing"
	"coffee-location-dedup/internal/processor"
	"coffee-location-dedup/internal/review"
	"coffee-location-dedup/pkg/config"
	"coffee-location-dedup/pkg/events"
)

var version = "dev"

// App carries the request handlers' dependencies.
type App struct {
	repo     domain.Repository
	uowf     domain.UnitOfWorkFactory
	engine   *processor.Engine
	es       events.EventStore
	cache    *cache.Cache
	opinions *review.OpinionStore
	log      zerolog.Logger

	cfgMu  sync.RWMutex
	config *config.Config
}

func (app *App) setConfig(cfg *config.Config) {
	app.cfgMu.Lock()
	app.config = cfg
	app.cfgMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func respondUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "valid operator token required")
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// submitRunHandler queues an asynchronous detection run.
func (app *App) submitRunHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source         string               `json:"source"`
		Records        []models.Location    `json:"records"`
		GeneratedCount int                  `json:"generated_count"`
		Seed           int64                `json:"seed"`
		Overrides      *processor.Overrides `json:"overrides"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	source := strings.ToLower(body.Source)
	switch source {
	case "":
		source = constants.SourceDatabase
		if len(body.Records) > 0 {
			source = constants.SourceInline
		}
	case constants.SourceDatabase, constants.SourceGenerated:
	case constants.SourceInline:
		if len(body.Records) == 0 {
			writeError(w, http.StatusBadRequest, "inline source requires records")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown source "+body.Source)
		return
	}

	runID := uuid.NewString()
	err := app.engine.Submit(processor.RunRequest{
		RunID:          runID,
		Source:         source,
		Records:        body.Records,
		GeneratedCount: body.GeneratedCount,
		GeneratedSeed:  body.Seed,
		Overrides:      body.Overrides,
		Requested:      time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": constants.RunStatusPending,
		"source": source,
	})
}

func (app *App) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	runs, err := app.repo.GetRecentRunsCtx(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// runReportHandler returns one run's outcome: cached report when present,
// otherwise the run row with its duplicate log.
func (app *App) runReportHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	if app.cache != nil {
		var report *models.DedupReport
		if ok, err := app.cache.Get(r.Context(), cache.ReportKey(runID), &report); err == nil && ok {
			writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "report": report, "cached": true})
			return
		}
	}

	run, err := app.repo.GetRunByIDCtx(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		// No run row; the event trail may still know the run.
		state, err := app.es.ReplayRun(r.Context(), runID)
		if err != nil || state == nil || state.RunID == "" {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "state": state})
		return
	}
	entries, err := app.repo.GetLogEntriesByRunCtx(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"run":         run,
		"log_entries": entries,
	})
}

// runEventsHandler lists the run's event trail plus the state replaying it
// yields.
func (app *App) runEventsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	evs, err := app.es.ListByRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(evs) == 0 {
		writeError(w, http.StatusNotFound, "no events for run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": evs,
		"state":  events.Replay(evs),
	})
}

// detectHandler resolves a caller-supplied batch synchronously without
// touching the store.
func (app *App) detectHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records   []models.Location    `json:"records"`
		Overrides *processor.Overrides `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Records) == 0 {
		writeError(w, http.StatusBadRequest, "no records provided")
		return
	}

	report, err := app.engine.RunInline(r.Context(), uuid.NewString(), body.Records, body.Overrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listFlagsHandler pages through open flagged pairs, attaching any
// assistant opinion drafted for them.
func (app *App) listFlagsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, total, err := app.repo.GetFlaggedEntriesCtx(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type flagView struct {
		Entry   models.DuplicateLogEntry `json:"entry"`
		Opinion *review.Opinion          `json:"opinion,omitempty"`
	}
	views := make([]flagView, 0, len(entries))
	for _, entry := range entries {
		v := flagView{Entry: entry}
		if op, ok := app.opinions.Get(entry.ID); ok {
			v.Opinion = op
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flags":  views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// resolveFlagHandler applies a reviewer verdict to a flagged pair. A merged
// verdict also deactivates the losing record, in the same transaction as
// the log update and the audit entry.
func (app *App) resolveFlagHandler(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["id"]

	var body struct {
		Action string  `json:"action"`
		Reason *string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action := strings.ToLower(body.Action)
	if action != constants.ActionMerged && action != constants.ActionIgnored {
		writeError(w, http.StatusBadRequest, "action must be merged or ignored")
		return
	}

	operator, ok := auth.GetOperatorFromContext(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}

	entry, err := app.repo.GetLogEntryByIDCtx(r.Context(), entryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "flag not found")
		return
	}
	if entry.ActionTaken != constants.ActionFlagged {
		writeError(w, http.StatusConflict, "flag already resolved as "+entry.ActionTaken)
		return
	}

	uow, err := app.uowf.Begin(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer uow.Rollback()

	if err := uow.ResolveFlagCtx(r.Context(), entryID, action, operator); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if action == constants.ActionMerged {
		// The earlier record wins a manual merge; ids are ordered at scoring.
		if err := uow.MarkMergedCtx(r.Context(), entry.LocationID1, []int64{entry.LocationID2}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := uow.CreateAuditLogCtx(r.Context(), domain.NewAuditLog(entryID, &operator, action, body.Reason)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := uow.Commit(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if app.es != nil {
		ev := events.FlagResolved{
			Base:    events.Base{Ts: time.Now().UTC(), RID: entry.RunID, Act: &operator},
			EntryID: entryID,
			Action:  action,
		}
		if err := app.es.Append(r.Context(), ev); err != nil {
			app.log.Warn().Err(err).Str("entry_id", entryID).Msg("flag resolution event append failed")
		}
	}
	app.opinions.Delete(entryID)

	app.log.Info().
		Str("entry_id", entryID).
		Str("action", action).
		Str("reviewer", operator).
		Msg("flag resolved")
	writeJSON(w, http.StatusOK, map[string]string{
		"entry_id": entryID,
		"action":   action,
		"reviewer": operator,
	})
}

func (app *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	locStats, err := app.repo.GetLocationStatisticsCtx(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	app.cfgMu.RLock()
	cfg := app.config
	app.cfgMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"locations":        locStats,
		"engine":           app.engine.GetStats(),
		"pending_opinions": app.opinions.Count(),
		"thresholds": map[string]any{
			"text_threshold":       cfg.TextThreshold,
			"distance_threshold_m": cfg.DistanceThresholdM,
			"flag_margin":          cfg.FlagMargin,
			"canonical_policy":     cfg.CanonicalPolicy,
		},
	})
}

func (app *App) listLocationsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeOnly := q.Get("active") != "false"
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	locations, total, err := app.repo.GetLocationsFilteredCtx(r.Context(), q.Get("search"), activeOnly, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": locations,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (app *App) locationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	loc, err := app.repo.GetLocationByIDCtx(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// similarLocationsHandler ranks stored locations nearest to the target in
// feature space and predicts its rent per square meter from them.
func (app *App) similarLocationsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}
	target, err := app.repo.GetLocationByIDCtx(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}

	active, err := app.repo.GetActiveLocationsCtx(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Keep the target out of its own neighbor set.
	training := make([]models.Location, 0, len(active))
	for _, loc := range active {
		if loc.ID != id {
			training = append(training, loc)
		}
	}

	n := queryInt(r, "n", 5)
	cfg := pricing.DefaultConfig()
	if n > 0 {
		cfg.K = n
	}
	predictor := pricing.New(cfg)
	if err := predictor.Fit(training); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	neighbors, err := predictor.FindSimilar(target.Location, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"location_id": id,
		"neighbors":   neighbors,
	}
	if predicted, err := predictor.Predict(target.Location); err == nil {
		resp["predicted_price_per_sqm"] = predicted
	}
	writeJSON(w, http.StatusOK, resp)
}
